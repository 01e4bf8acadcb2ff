package engine

import (
	"errors"
	"fmt"

	"github.com/openfroyo/pabawi/pkg/config"
)

// BaseComponent is always instantiated first. It owns the shared
// configuration directories the other components write into.
const BaseComponent = "pabawi"

// Instantiation is the set of component instances for one run, in
// first-declaration order.
type Instantiation struct {
	Instances []*ComponentInstance

	// Warnings are dynamic references that did not resolve.
	Warnings []UnresolvedReference
}

// Names returns the instance names in declaration order.
func (in *Instantiation) Names() []string {
	names := make([]string, len(in.Instances))
	for i, ci := range in.Instances {
		names[i] = ci.Name()
	}
	return names
}

// Instantiate resolves the components cfg names and binds their parameters.
// Explicit references that fail to resolve abort the run; dynamic references
// are recorded as warnings and skipped.
func Instantiate(cfg *config.Config, registry *Registry) (*Instantiation, error) {
	if cfg == nil {
		return nil, NewPermanentError("configuration is nil", nil).WithCode(ErrCodeValidation)
	}

	b := &instantiator{
		registry: registry,
		shared:   map[string]any{ParamConfigDir: cfg.ConfigDir},
		byName:   make(map[string]*ComponentInstance),
		result:   &Instantiation{},
	}

	if err := b.addExplicit(BaseComponent, "", ComponentKindBase, config.Settings{}, RefImplicit); err != nil {
		return nil, err
	}
	if cfg.Proxy.Manage {
		if err := b.addExplicit(cfg.Proxy.Class, cfg.Proxy.Field, ComponentKindProxy, cfg.Proxy.Settings, RefExplicit); err != nil {
			return nil, err
		}
	}
	if cfg.Install.Manage {
		if err := b.addExplicit(cfg.Install.Class, cfg.Install.Field, ComponentKindInstaller, cfg.Install.Settings, RefExplicit); err != nil {
			return nil, err
		}
	}
	for _, integration := range cfg.Integrations {
		b.addDynamic(integration)
	}

	if len(b.problems) > 0 {
		return nil, NewPermanentError("invalid component parameters",
			&config.ValidationError{Source: cfg.Source, Problems: b.problems}).
			WithCode(ErrCodeValidation)
	}
	return b.result, nil
}

type instantiator struct {
	registry *Registry
	shared   map[string]any
	byName   map[string]*ComponentInstance
	result   *Instantiation
	problems []error
}

func (b *instantiator) addExplicit(name, field string, kind ComponentKind, settings config.Settings, ref RefKind) error {
	spec, err := b.registry.Resolve(name)
	if err != nil {
		return NewPermanentError(fmt.Sprintf("cannot resolve component for %s", describeField(field)), err).
			WithCode(ErrCodeNotFound).
			WithResource(name)
	}
	if spec.Kind != kind {
		return NewPermanentError(
			fmt.Sprintf("%s names %s, which is a %s component, not a %s", describeField(field), name, spec.Kind, kind),
			nil,
		).WithCode(ErrCodeValidation).WithResource(name)
	}
	b.add(spec, field, settings, ref)
	return nil
}

func (b *instantiator) addDynamic(in config.Integration) {
	spec, err := b.registry.Resolve(in.Component)
	if err != nil {
		var unknown *UnknownComponentError
		if !errors.As(err, &unknown) {
			b.problems = append(b.problems, err)
			return
		}
		b.result.Warnings = append(b.result.Warnings, UnresolvedReference{
			Field:     in.Field,
			Name:      in.Name,
			Component: in.Component,
		})
		return
	}
	if spec.Kind != ComponentKindIntegration {
		b.problems = append(b.problems, &config.InvalidValueError{
			Field:  in.Field,
			Value:  in.Name,
			Reason: fmt.Sprintf("%s is a %s component", spec.Name, spec.Kind),
		})
		return
	}
	b.add(spec, in.Field, in.Settings, RefDynamic)
}

func (b *instantiator) add(spec *ComponentSpec, field string, settings config.Settings, ref RefKind) {
	if _, exists := b.byName[spec.Name]; exists {
		// Identity is the resolved name; validation already collapsed
		// identical duplicates, so a second reference is a conflict.
		b.problems = append(b.problems, &config.ConflictingDeclarationError{Field: field, Name: spec.Name})
		return
	}

	settingsField := field
	if settingsField == "" {
		settingsField = spec.Name
	}
	switch field {
	case config.KeyProxyClass:
		settingsField = config.KeyProxySettings
	case config.KeyInstallClass:
		settingsField = config.KeyInstallSettings
	}

	params, problems := BindParams(spec, settings, settingsField, b.shared)
	if len(problems) > 0 {
		b.problems = append(b.problems, problems...)
		return
	}

	ci := &ComponentInstance{
		Spec:   spec,
		Params: params,
		Index:  len(b.result.Instances),
		Ref:    ref,
		Field:  field,
	}
	b.byName[spec.Name] = ci
	b.result.Instances = append(b.result.Instances, ci)
}

func describeField(field string) string {
	if field == "" {
		return "the base component"
	}
	return field
}
