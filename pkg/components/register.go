package components

import (
	"github.com/openfroyo/pabawi/pkg/engine"
)

// Specs returns every built-in component in registration order: the base
// component, proxies, installers, then integrations.
func Specs() []engine.ComponentSpec {
	specs := []engine.ComponentSpec{
		baseSpec(),
		nginxSpec(),
		npmSpec(),
		dockerSpec(),
	}
	for _, in := range builtinIntegrations {
		specs = append(specs, in.spec())
	}
	return specs
}

// Register adds the built-in components to reg.
func Register(reg *engine.Registry) error {
	for _, spec := range Specs() {
		if err := reg.Register(spec); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding the built-in components.
func NewRegistry() *engine.Registry {
	reg := engine.NewRegistry()
	if err := Register(reg); err != nil {
		// Built-in names are constants; a failure here is a programming
		// error.
		panic(err)
	}
	return reg
}
