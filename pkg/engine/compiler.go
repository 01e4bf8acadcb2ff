package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Catalog is the ordered, duplicate-free list of resources for one run.
// It is immutable after compilation.
type Catalog struct {
	Resources []ResourceDecl `json:"resources"`

	// Components lists the instances in the order their resources appear.
	Components []string `json:"components"`

	// Warnings are unresolved dynamic references.
	Warnings []UnresolvedReference `json:"warnings,omitempty"`

	CompiledAt time.Time `json:"compiled_at"`

	index map[string]int
}

// Len returns the number of resources.
func (c *Catalog) Len() int {
	return len(c.Resources)
}

// Get returns the resource with the given id.
func (c *Catalog) Get(id string) (ResourceDecl, bool) {
	i, ok := c.index[id]
	if !ok {
		return ResourceDecl{}, false
	}
	return c.Resources[i], true
}

// Position returns the index of id in the catalog, or -1.
func (c *Catalog) Position(id string) int {
	i, ok := c.index[id]
	if !ok {
		return -1
	}
	return i
}

// OwnedBy returns the resources declared by the component name.
func (c *Catalog) OwnedBy(name string) []ResourceDecl {
	var out []ResourceDecl
	for _, r := range c.Resources {
		if r.Owner == name {
			out = append(out, r)
		}
	}
	return out
}

// Compiler flattens a dependency graph into a catalog.
type Compiler struct {
	logger zerolog.Logger
	tracer Tracer
}

// NewCompiler creates a compiler.
func NewCompiler(logger zerolog.Logger, tracer Tracer) *Compiler {
	if tracer == nil {
		tracer = noopTracer()
	}
	return &Compiler{
		logger: logger.With().Str("component", "compiler").Logger(),
		tracer: tracer,
	}
}

// Compile walks graph in topological order, expanding each instance once.
// It rejects invalid payloads, duplicate identifiers and ordering hints
// that name undeclared resources.
func (c *Compiler) Compile(ctx context.Context, graph *DependencyGraph) (*Catalog, error) {
	_, span := c.tracer.Start(ctx, "catalog.compile")
	defer span.End()

	catalog, err := c.compile(graph)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("catalog.resources", catalog.Len()),
		attribute.Int("catalog.components", len(catalog.Components)),
		attribute.Int("catalog.warnings", len(catalog.Warnings)),
	)
	c.logger.Debug().
		Int("resources", catalog.Len()).
		Int("components", len(catalog.Components)).
		Msg("Catalog compiled")
	return catalog, nil
}

func (c *Compiler) compile(graph *DependencyGraph) (*Catalog, error) {
	catalog := &Catalog{
		Resources:  make([]ResourceDecl, 0),
		Components: graph.Order(),
		Warnings:   append([]UnresolvedReference(nil), graph.Warnings...),
		CompiledAt: time.Now(),
		index:      make(map[string]int),
	}

	for _, name := range graph.Order() {
		ci, _ := graph.Instance(name)
		res, err := ci.Expand()
		if err != nil {
			return nil, err
		}

		ordered, err := orderWithinComponent(name, res.Resources)
		if err != nil {
			return nil, err
		}

		for _, r := range ordered {
			r.Owner = name
			if r.Payload == nil {
				return nil, NewPermanentError("invalid resource",
					&InvalidResourceError{ID: r.ID, Owner: name, Err: fmt.Errorf("no payload")}).
					WithCode(ErrCodeValidation).
					WithResource(r.ID)
			}
			if err := r.Payload.Validate(); err != nil {
				return nil, NewPermanentError("invalid resource",
					&InvalidResourceError{ID: r.ID, Owner: name, Err: err}).
					WithCode(ErrCodeValidation).
					WithResource(r.ID)
			}
			if first, dup := catalog.index[r.ID]; dup {
				return nil, NewPermanentError("duplicate resource",
					&DuplicateResourceError{ID: r.ID, FirstOwner: catalog.Resources[first].Owner, SecondOwner: name}).
					WithCode(ErrCodeDuplicateResource).
					WithResource(r.ID)
			}
			catalog.index[r.ID] = len(catalog.Resources)
			catalog.Resources = append(catalog.Resources, r)
		}
	}

	for _, r := range catalog.Resources {
		for _, ref := range r.After {
			pos, ok := catalog.index[ref]
			if !ok {
				return nil, NewPermanentError("unknown resource reference",
					&UnknownResourceReferenceError{ID: r.ID, Ref: ref}).
					WithCode(ErrCodeNotFound).
					WithResource(r.ID)
			}
			if pos > catalog.index[r.ID] {
				return nil, NewPermanentError(fmt.Sprintf("resource %s is ordered before %s", r.ID, ref), nil).
					WithCode(ErrCodeInternal).
					WithResource(r.ID)
			}
		}
	}

	return catalog, nil
}

// orderWithinComponent stably sorts one component's resources so that each
// follows its intra-component After hints. Declaration order breaks ties.
func orderWithinComponent(owner string, resources []ResourceDecl) ([]ResourceDecl, error) {
	local := make(map[string]int, len(resources))
	for i, r := range resources {
		if _, exists := local[r.ID]; exists {
			return nil, NewPermanentError("duplicate resource",
				&DuplicateResourceError{ID: r.ID, FirstOwner: owner, SecondOwner: owner}).
				WithCode(ErrCodeDuplicateResource).
				WithResource(r.ID)
		}
		local[r.ID] = i
	}

	inDegree := make([]int, len(resources))
	successors := make([][]int, len(resources))
	for i, r := range resources {
		for _, ref := range r.After {
			j, ok := local[ref]
			if !ok {
				continue
			}
			inDegree[i]++
			successors[j] = append(successors[j], i)
		}
	}

	out := make([]ResourceDecl, 0, len(resources))
	done := make([]bool, len(resources))
	for len(out) < len(resources) {
		next := -1
		for i := range resources {
			if !done[i] && inDegree[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			var path []string
			for i, r := range resources {
				if !done[i] {
					path = append(path, r.ID)
				}
			}
			return nil, NewPermanentError(fmt.Sprintf("resource cycle in %s", owner),
				&CycleError{Path: append(path, path[0])}).
				WithCode(ErrCodeCycleDetected).
				WithResource(owner)
		}
		done[next] = true
		out = append(out, resources[next])
		for _, succ := range successors[next] {
			inDegree[succ]--
		}
	}
	return out, nil
}

// Tracer is the subset of an OpenTelemetry tracer the engine uses.
type Tracer interface {
	Start(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span)
}
