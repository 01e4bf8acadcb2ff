package engine

import (
	"fmt"
	"sync"

	"github.com/openfroyo/pabawi/pkg/config"
)

// Registry maps component names to their specs. Built-in components are
// registered once at process start; lookups happen while instantiating a run.
type Registry struct {
	mu    sync.RWMutex
	specs map[string]*ComponentSpec
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		specs: make(map[string]*ComponentSpec),
	}
}

// Register adds spec. The name must be a valid identifier and unique.
func (r *Registry) Register(spec ComponentSpec) error {
	if !config.IsValidIdentifier(spec.Name) {
		return NewPermanentError("cannot register component",
			&config.InvalidIdentifierError{Field: "name", Value: spec.Name}).
			WithCode(ErrCodeValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.specs[spec.Name]; exists {
		return NewPermanentError(fmt.Sprintf("component %s is already registered", spec.Name), nil).
			WithCode(ErrCodeAlreadyExists).
			WithResource(spec.Name)
	}

	s := spec
	s.Params = append([]ParamSpec(nil), spec.Params...)
	s.DependsOn = append([]ComponentRef(nil), spec.DependsOn...)
	r.specs[spec.Name] = &s
	r.order = append(r.order, spec.Name)
	return nil
}

// MustRegister is Register for static definitions; it panics on error.
func (r *Registry) MustRegister(spec ComponentSpec) {
	if err := r.Register(spec); err != nil {
		panic(err)
	}
}

// Resolve returns the spec registered under name.
func (r *Registry) Resolve(name string) (*ComponentSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	spec, ok := r.specs[name]
	if !ok {
		return nil, &UnknownComponentError{Name: name}
	}
	return spec, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.specs[name]
	return ok
}

// List returns registered names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}
