package engine_test

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/openfroyo/pabawi/pkg/engine"
)

// Example_graphOrdering shows rule edges overriding declaration order.
func Example_graphOrdering() {
	reg := engine.NewRegistry()
	reg.MustRegister(engine.ComponentSpec{Name: "pabawi::integrations::bolt", Kind: engine.ComponentKindIntegration})
	reg.MustRegister(engine.ComponentSpec{Name: "pabawi::install::npm", Kind: engine.ComponentKindInstaller})
	reg.MustRegister(engine.ComponentSpec{Name: "pabawi::proxy::nginx", Kind: engine.ComponentKindProxy})

	var instances []*engine.ComponentInstance
	for i, name := range reg.List() {
		spec, _ := reg.Resolve(name)
		instances = append(instances, &engine.ComponentInstance{Spec: spec, Index: i})
	}

	graph, err := engine.NewGraphBuilder(engine.DefaultOrderingRules()).Build(instances)
	if err != nil {
		fmt.Println(err)
		return
	}

	for i, name := range graph.Order() {
		fmt.Printf("%d. %s\n", i+1, name)
	}

	// Output:
	// 1. pabawi::proxy::nginx
	// 2. pabawi::install::npm
	// 3. pabawi::integrations::bolt
}

// Example_cycleDetection shows the closed path reported for a cycle.
func Example_cycleDetection() {
	a := &engine.ComponentSpec{Name: "alpha", Kind: engine.ComponentKindIntegration,
		DependsOn: []engine.ComponentRef{{Name: "beta"}}}
	b := &engine.ComponentSpec{Name: "beta", Kind: engine.ComponentKindIntegration,
		DependsOn: []engine.ComponentRef{{Name: "alpha"}}}

	_, err := engine.NewGraphBuilder(nil).Build([]*engine.ComponentInstance{
		{Spec: a, Index: 0},
		{Spec: b, Index: 1},
	})
	fmt.Println(engine.HasCode(err, engine.ErrCodeCycleDetected))

	// Output:
	// true
}

// Example_compileCatalog compiles two components into one ordered catalog.
func Example_compileCatalog() {
	proxy := &engine.ComponentSpec{
		Name: "pabawi::proxy::nginx",
		Kind: engine.ComponentKindProxy,
		Build: func(engine.Params) (*engine.BuildResult, error) {
			pkg := engine.Declare(&engine.PackageSpec{Name: "nginx"})
			return &engine.BuildResult{Resources: []engine.ResourceDecl{
				engine.Declare(&engine.ServiceSpec{Name: "nginx", Running: true}).Following(pkg.ID),
				pkg,
			}}, nil
		},
	}
	base := &engine.ComponentSpec{
		Name: "pabawi",
		Kind: engine.ComponentKindBase,
		Build: func(engine.Params) (*engine.BuildResult, error) {
			return &engine.BuildResult{Resources: []engine.ResourceDecl{
				engine.Declare(&engine.DirectorySpec{Path: "/etc/pabawi", Mode: 0o755}),
			}}, nil
		},
	}

	graph, err := engine.NewGraphBuilder(engine.DefaultOrderingRules()).Build([]*engine.ComponentInstance{
		{Spec: proxy, Index: 0},
		{Spec: base, Index: 1},
	})
	if err != nil {
		fmt.Println(err)
		return
	}

	catalog, err := engine.NewCompiler(zerolog.Nop(), nil).Compile(context.Background(), graph)
	if err != nil {
		fmt.Println(err)
		return
	}
	for _, r := range catalog.Resources {
		fmt.Printf("%s (fatal=%t)\n", r.ID, r.Fatal)
	}

	// Output:
	// directory:/etc/pabawi (fatal=true)
	// package:nginx (fatal=true)
	// service:nginx (fatal=false)
}
