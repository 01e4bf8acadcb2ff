package engine

import (
	"fmt"
	"strings"
)

// OrderingRule is an orchestrator-level constraint: every instance of kind
// Before converges before every instance of kind After.
type OrderingRule struct {
	Before ComponentKind
	After  ComponentKind
}

// DefaultOrderingRules puts the base component first, the proxy before the
// installer and the installer before integrations.
func DefaultOrderingRules() []OrderingRule {
	return []OrderingRule{
		{Before: ComponentKindBase, After: ComponentKindProxy},
		{Before: ComponentKindBase, After: ComponentKindInstaller},
		{Before: ComponentKindBase, After: ComponentKindIntegration},
		{Before: ComponentKindProxy, After: ComponentKindInstaller},
		{Before: ComponentKindInstaller, After: ComponentKindIntegration},
	}
}

// EdgeSource records why an edge exists, in precedence order.
type EdgeSource string

const (
	EdgeSourceRule      EdgeSource = "rule"
	EdgeSourceDependsOn EdgeSource = "depends_on"
	EdgeSourceResource  EdgeSource = "resource"
)

// Edge means From must converge before To.
type Edge struct {
	From   string     `json:"from"`
	To     string     `json:"to"`
	Source EdgeSource `json:"source"`
}

// DependencyGraph orders the component instances of one run. It is
// immutable once built.
type DependencyGraph struct {
	instances []*ComponentInstance
	index     map[string]*ComponentInstance
	edges     []Edge
	edgeIndex map[[2]string]int
	// successors keeps insertion order so traversal is deterministic.
	successors map[string][]string
	order      []string

	// Warnings are carried from instantiation into the catalog.
	Warnings []UnresolvedReference
}

// GraphBuilder assembles a DependencyGraph from instances and rules.
type GraphBuilder struct {
	rules []OrderingRule
}

// NewGraphBuilder creates a builder with the given orchestrator rules.
func NewGraphBuilder(rules []OrderingRule) *GraphBuilder {
	return &GraphBuilder{rules: rules}
}

// BuildGraph is a convenience wrapper around GraphBuilder.Build that
// carries the instantiation warnings into the graph.
func BuildGraph(inst *Instantiation, rules []OrderingRule) (*DependencyGraph, error) {
	g, err := NewGraphBuilder(rules).Build(inst.Instances)
	if err != nil {
		return nil, err
	}
	g.Warnings = append(g.Warnings, inst.Warnings...)
	return g, nil
}

// Build adds edges from the explicit rules, then each instance's dependsOn,
// then cross-component resource hints. It fails with a CycleError before
// any resource is touched.
func (b *GraphBuilder) Build(instances []*ComponentInstance) (*DependencyGraph, error) {
	g := &DependencyGraph{
		instances:  instances,
		index:      make(map[string]*ComponentInstance, len(instances)),
		edgeIndex:  make(map[[2]string]int),
		successors: make(map[string][]string, len(instances)),
	}

	for _, ci := range instances {
		if _, exists := g.index[ci.Name()]; exists {
			return nil, NewPermanentError(fmt.Sprintf("component %s instantiated twice", ci.Name()), nil).
				WithCode(ErrCodeValidation).
				WithResource(ci.Name())
		}
		g.index[ci.Name()] = ci
	}

	// Explicit orchestrator rules.
	for _, rule := range b.rules {
		for _, before := range instances {
			if before.Kind() != rule.Before {
				continue
			}
			for _, after := range instances {
				if after.Kind() == rule.After && after != before {
					g.addEdge(before.Name(), after.Name(), EdgeSourceRule)
				}
			}
		}
	}

	// Declared dependsOn.
	for _, ci := range instances {
		refs, err := ci.DependsOn()
		if err != nil {
			return nil, err
		}
		for _, ref := range refs {
			if _, ok := g.index[ref.Name]; !ok {
				if ref.Optional {
					continue
				}
				return nil, NewPermanentError("unsatisfied component dependency",
					&MissingDependencyError{Component: ci.Name(), Requires: ref.Name}).
					WithCode(ErrCodeDependencyFailed).
					WithResource(ci.Name())
			}
			g.addEdge(ref.Name, ci.Name(), EdgeSourceDependsOn)
		}
	}

	// Resource hints that cross component boundaries.
	owners := make(map[string]string)
	for _, ci := range instances {
		res, _ := ci.Expand()
		for _, r := range res.Resources {
			if _, taken := owners[r.ID]; !taken {
				owners[r.ID] = ci.Name()
			}
		}
	}
	for _, ci := range instances {
		res, _ := ci.Expand()
		for _, r := range res.Resources {
			for _, ref := range r.After {
				owner, ok := owners[ref]
				if !ok || owner == ci.Name() {
					continue
				}
				g.addEdge(owner, ci.Name(), EdgeSourceResource)
			}
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, NewPermanentError("dependency cycle detected", &CycleError{Path: cycle}).
			WithCode(ErrCodeCycleDetected)
	}

	g.order = g.topologicalOrder()
	return g, nil
}

// addEdge keeps the first, higher-precedence source of a duplicate edge.
func (g *DependencyGraph) addEdge(from, to string, source EdgeSource) {
	key := [2]string{from, to}
	if _, exists := g.edgeIndex[key]; exists {
		return
	}
	g.edgeIndex[key] = len(g.edges)
	g.edges = append(g.edges, Edge{From: from, To: to, Source: source})
	g.successors[from] = append(g.successors[from], to)
}

type visitState int

const (
	white visitState = iota
	grey
	black
)

// findCycle runs a three-color depth-first search in declaration order and
// returns the first closed cycle path found, or nil.
func (g *DependencyGraph) findCycle() []string {
	state := make(map[string]visitState, len(g.instances))
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		state[name] = grey
		stack = append(stack, name)

		for _, next := range g.successors[name] {
			switch state[next] {
			case grey:
				start := 0
				for i, n := range stack {
					if n == next {
						start = i
						break
					}
				}
				path := make([]string, 0, len(stack)-start+1)
				path = append(path, stack[start:]...)
				return append(path, next)
			case white:
				if cycle := visit(next); cycle != nil {
					return cycle
				}
			}
		}

		stack = stack[:len(stack)-1]
		state[name] = black
		return nil
	}

	for _, ci := range g.instances {
		if state[ci.Name()] == white {
			if cycle := visit(ci.Name()); cycle != nil {
				return cycle
			}
		}
	}
	return nil
}

// topologicalOrder is Kahn's algorithm where, among ready nodes, the one
// declared first always wins.
func (g *DependencyGraph) topologicalOrder() []string {
	inDegree := make(map[string]int, len(g.instances))
	for _, e := range g.edges {
		inDegree[e.To]++
	}

	done := make(map[string]bool, len(g.instances))
	order := make([]string, 0, len(g.instances))
	for len(order) < len(g.instances) {
		var next *ComponentInstance
		for _, ci := range g.instances {
			if !done[ci.Name()] && inDegree[ci.Name()] == 0 {
				next = ci
				break
			}
		}
		if next == nil {
			// Unreachable after findCycle.
			break
		}
		done[next.Name()] = true
		order = append(order, next.Name())
		for _, succ := range g.successors[next.Name()] {
			inDegree[succ]--
		}
	}
	return order
}

// Order returns instance names in convergence order.
func (g *DependencyGraph) Order() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Instance returns the instance named name.
func (g *DependencyGraph) Instance(name string) (*ComponentInstance, bool) {
	ci, ok := g.index[name]
	return ci, ok
}

// Instances returns instances in declaration order.
func (g *DependencyGraph) Instances() []*ComponentInstance {
	out := make([]*ComponentInstance, len(g.instances))
	copy(out, g.instances)
	return out
}

// Edges returns edges in insertion order.
func (g *DependencyGraph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// HasEdge reports whether from must converge before to directly.
func (g *DependencyGraph) HasEdge(from, to string) bool {
	_, ok := g.edgeIndex[[2]string{from, to}]
	return ok
}

// ToDOT generates a DOT format representation of the graph for
// visualization. The output can be rendered with Graphviz tools.
func (g *DependencyGraph) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph Components {\n")
	sb.WriteString("  rankdir=LR;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for i, name := range g.order {
		ci := g.index[name]
		sb.WriteString(fmt.Sprintf("  \"%s\" [label=\"%d. %s\\n(%s)\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
			name, i+1, name, ci.Kind(), getKindColor(ci.Kind())))
	}
	sb.WriteString("\n")

	for _, e := range g.edges {
		sb.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\" [%s];\n", e.From, e.To, getEdgeStyle(e.Source)))
	}

	sb.WriteString("}\n")
	return sb.String()
}

// getKindColor returns a color for visualizing component kinds.
func getKindColor(kind ComponentKind) string {
	switch kind {
	case ComponentKindBase:
		return "lightgray"
	case ComponentKindProxy:
		return "lightblue"
	case ComponentKindInstaller:
		return "lightgreen"
	case ComponentKindIntegration:
		return "lightyellow"
	default:
		return "white"
	}
}

// getEdgeStyle returns a DOT style string for edge sources.
func getEdgeStyle(source EdgeSource) string {
	switch source {
	case EdgeSourceRule:
		return "style=solid, color=black"
	case EdgeSourceDependsOn:
		return "style=dashed, color=blue"
	case EdgeSourceResource:
		return "style=dotted, color=gray"
	default:
		return "style=solid, color=black"
	}
}
