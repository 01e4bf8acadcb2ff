package engine

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/openfroyo/pabawi/pkg/config"
)

// ComponentKind groups components for orchestrator-level ordering rules.
type ComponentKind string

const (
	// ComponentKindBase is the always-present component owning shared state.
	ComponentKindBase ComponentKind = "base"

	// ComponentKindProxy is a reverse proxy implementation.
	ComponentKindProxy ComponentKind = "proxy"

	// ComponentKindInstaller is an application installer implementation.
	ComponentKindInstaller ComponentKind = "installer"

	// ComponentKindIntegration links the application to an external tool.
	ComponentKindIntegration ComponentKind = "integration"
)

// ParamType is the declared type of a component parameter.
type ParamType string

const (
	ParamBool   ParamType = "bool"
	ParamString ParamType = "string"
	ParamInt    ParamType = "int"
	ParamList   ParamType = "list"
	ParamMap    ParamType = "map"
)

// ParamSpec declares one component parameter.
type ParamSpec struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Default     any       `json:"default,omitempty"`
	Required    bool      `json:"required,omitempty"`
	Description string    `json:"description,omitempty"`
}

// ComponentRef names another component this one must converge after.
type ComponentRef struct {
	Name string `json:"name"`
	// Optional refs are ignored when the target is not part of the run.
	Optional bool `json:"optional,omitempty"`
}

// BuildResult is what a component expands into.
type BuildResult struct {
	Resources []ResourceDecl
	DependsOn []ComponentRef
}

// BuildFunc expands bound parameters into resources and dependencies. It
// must be pure: the same params always produce the same result.
type BuildFunc func(params Params) (*BuildResult, error)

// ComponentSpec is the immutable description of a component kind.
type ComponentSpec struct {
	Name        string
	Kind        ComponentKind
	Description string
	Params      []ParamSpec
	DependsOn   []ComponentRef
	Build       BuildFunc
}

// Param returns the parameter named name.
func (s *ComponentSpec) Param(name string) (ParamSpec, bool) {
	for _, p := range s.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// RefKind records how an instance entered the run.
type RefKind string

const (
	// RefImplicit is the always-included base component.
	RefImplicit RefKind = "implicit"

	// RefExplicit is a single-valued configuration field such as proxy_class.
	RefExplicit RefKind = "explicit"

	// RefDynamic is an entry of an open-ended list such as integrations.
	RefDynamic RefKind = "dynamic"
)

// ComponentInstance is a ComponentSpec bound to parameters for one run.
type ComponentInstance struct {
	Spec   *ComponentSpec
	Params Params
	// Index is the first-declaration position used to break ordering ties.
	Index int
	Ref   RefKind
	// Field is the configuration key that brought the instance in.
	Field string

	once   sync.Once
	result *BuildResult
	err    error
	builds int
}

// Name returns the instance identity.
func (ci *ComponentInstance) Name() string {
	return ci.Spec.Name
}

// Kind returns the component kind.
func (ci *ComponentInstance) Kind() ComponentKind {
	return ci.Spec.Kind
}

// Expand runs the build function once and memoizes the result, so the
// graph builder and the compiler share a single invocation.
func (ci *ComponentInstance) Expand() (*BuildResult, error) {
	ci.once.Do(func() {
		ci.builds++
		if ci.Spec.Build == nil {
			ci.result = &BuildResult{}
			return
		}
		res, err := ci.Spec.Build(ci.Params)
		if err != nil {
			ci.err = NewPermanentError(fmt.Sprintf("component %s failed to build", ci.Name()), err).
				WithCode(ErrCodeValidation).
				WithResource(ci.Name())
			return
		}
		if res == nil {
			res = &BuildResult{}
		}
		ci.result = res
	})
	return ci.result, ci.err
}

// DependsOn returns the spec-level and build-level dependencies in that
// order. It expands the instance if needed.
func (ci *ComponentInstance) DependsOn() ([]ComponentRef, error) {
	res, err := ci.Expand()
	if err != nil {
		return nil, err
	}
	refs := make([]ComponentRef, 0, len(ci.Spec.DependsOn)+len(res.DependsOn))
	refs = append(refs, ci.Spec.DependsOn...)
	refs = append(refs, res.DependsOn...)
	return refs, nil
}

// Params holds bound component parameter values.
type Params map[string]any

// String returns the string parameter name, or "".
func (p Params) String(name string) string {
	s, _ := p[name].(string)
	return s
}

// Bool returns the bool parameter name, or false.
func (p Params) Bool(name string) bool {
	b, _ := p[name].(bool)
	return b
}

// Int returns the int parameter name, or 0.
func (p Params) Int(name string) int {
	switch v := p[name].(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		return 0
	}
}

// Strings returns the list parameter name as strings. Non-string items are
// formatted with %v.
func (p Params) Strings(name string) []string {
	list, _ := p[name].([]any)
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
			continue
		}
		out = append(out, fmt.Sprint(item))
	}
	return out
}

// Map returns the map parameter name.
func (p Params) Map(name string) map[string]any {
	m, _ := p[name].(map[string]any)
	if m == nil {
		return map[string]any{}
	}
	return m
}

// SortedKeys returns the keys of the map parameter name in lexical order.
func (p Params) SortedKeys(name string) []string {
	m := p.Map(name)
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ParamConfigDir is filled from the run's config_dir when a component
// declares it. Like every shared value it cannot be set per component.
const ParamConfigDir = "config_dir"

// BindParams applies defaults and checks types of settings against spec.
// field prefixes reported problem paths.
func BindParams(spec *ComponentSpec, settings config.Settings, field string, shared map[string]any) (Params, []error) {
	var problems []error
	params := make(Params, len(spec.Params))

	keys := make([]string, 0, len(settings))
	for key := range settings {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		_, isShared := shared[key]
		if _, ok := spec.Param(key); !ok || isShared {
			problems = append(problems, &config.UnknownFieldError{Field: field + "." + key})
		}
	}

	for _, ps := range spec.Params {
		if v, found := shared[ps.Name]; found {
			params[ps.Name] = v
			continue
		}
		raw, ok := settings[ps.Name]
		if !ok || raw == nil {
			if ps.Required {
				problems = append(problems, &config.MissingRequiredFieldError{Field: field + "." + ps.Name})
				continue
			}
			params[ps.Name] = ps.Default
			continue
		}

		value, ok := coerceParam(ps.Type, raw)
		if !ok {
			problems = append(problems, &config.TypeMismatchError{
				Field:        field + "." + ps.Name,
				ExpectedType: string(ps.Type),
				ActualType:   describeType(raw),
			})
			continue
		}
		params[ps.Name] = value
	}

	return params, problems
}

func coerceParam(t ParamType, raw any) (any, bool) {
	switch t {
	case ParamBool:
		b, ok := raw.(bool)
		return b, ok
	case ParamString:
		s, ok := raw.(string)
		return s, ok
	case ParamInt:
		switch v := raw.(type) {
		case int:
			return v, true
		case int64:
			return int(v), true
		case float64:
			if v == float64(int(v)) {
				return int(v), true
			}
		}
		return nil, false
	case ParamList:
		l, ok := raw.([]any)
		return l, ok
	case ParamMap:
		m, ok := raw.(map[string]any)
		return m, ok
	default:
		return nil, false
	}
}

func describeType(v any) string {
	switch v.(type) {
	case bool:
		return "bool"
	case string:
		return "string"
	case int, int64, float64:
		return "number"
	case []any:
		return "list"
	case map[string]any:
		return "map"
	default:
		return reflect.TypeOf(v).String()
	}
}
