package config

import (
	"fmt"
	"time"
)

// Format identifies the syntax a configuration document was written in.
type Format string

const (
	// FormatYAML is YAML or JSON input decoded with yaml.v3.
	FormatYAML Format = "yaml"

	// FormatCUE is a CUE document unified with the built-in #Config schema.
	FormatCUE Format = "cue"

	// FormatStarlark is a Starlark script that binds a top-level config dict.
	FormatStarlark Format = "starlark"
)

// Default values applied by Validate when the raw tree omits a key.
const (
	DefaultProxyClass   = "pabawi::proxy::nginx"
	DefaultInstallClass = "pabawi::install::npm"
	DefaultConfigDir    = "/etc/pabawi"
)

// Top-level keys recognized in a configuration document.
const (
	KeyProxyManage     = "proxy_manage"
	KeyProxyClass      = "proxy_class"
	KeyProxySettings   = "proxy_settings"
	KeyInstallManage   = "install_manage"
	KeyInstallClass    = "install_class"
	KeyInstallSettings = "install_settings"
	KeyIntegrations    = "integrations"
	KeyConfigDir       = "config_dir"
)

var knownKeys = []string{
	KeyProxyManage,
	KeyProxyClass,
	KeyProxySettings,
	KeyInstallManage,
	KeyInstallClass,
	KeyInstallSettings,
	KeyIntegrations,
	KeyConfigDir,
}

// Object is a string-keyed mapping that remembers the order in which keys
// were first declared. Every mapping in a RawConfig tree is an *Object so
// that first-declaration order survives decoding.
type Object struct {
	keys   []string
	values map[string]any
}

// NewObject creates an empty Object.
func NewObject() *Object {
	return &Object{values: make(map[string]any)}
}

// Set stores value under key. A key that already exists keeps its original
// position.
func (o *Object) Set(key string, value any) {
	if _, exists := o.values[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.values[key] = value
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (any, bool) {
	if o == nil {
		return nil, false
	}
	v, ok := o.values[key]
	return v, ok
}

// Has reports whether key is present.
func (o *Object) Has(key string) bool {
	_, ok := o.Get(key)
	return ok
}

// Keys returns the keys in declaration order.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

// Len returns the number of keys.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// ToMap converts the object, recursively, into plain Go maps and slices.
func (o *Object) ToMap() map[string]any {
	if o == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(o.keys))
	for _, k := range o.keys {
		out[k] = plain(o.values[k])
	}
	return out
}

func plain(v any) any {
	switch val := v.(type) {
	case *Object:
		return val.ToMap()
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = plain(item)
		}
		return out
	default:
		return v
	}
}

// RawConfig is an undecoded configuration tree as produced by a loader.
// Leaves are bool, int, float64, string or nil; mappings are *Object and
// sequences are []any.
type RawConfig struct {
	// Source is the file the tree was loaded from, or "inline".
	Source string

	// Format is the syntax the source was written in.
	Format Format

	// Root is the top-level mapping.
	Root *Object

	// LoadedAt is when the tree was decoded.
	LoadedAt time.Time
}

// Settings holds the parameter values supplied for one component.
type Settings map[string]any

// Selection is a single-valued, explicitly named component choice such as
// the proxy or installer implementation.
type Selection struct {
	// Manage gates whether the component is included at all.
	Manage bool `yaml:"manage"`

	// Class is the component identifier to resolve.
	Class string `yaml:"class" validate:"required,identifier"`

	// Field is the configuration key Class was read from.
	Field string `yaml:"-"`

	// Settings are the parameters passed to the component.
	Settings Settings `yaml:"settings"`
}

// Integration is one enabled entry of the integrations collection.
type Integration struct {
	// Name is the short integration name, e.g. "bolt".
	Name string `yaml:"name" validate:"required,segment"`

	// Component is the fully-qualified component identifier Name maps to.
	Component string `yaml:"component" validate:"required,identifier"`

	// Field is the configuration path the entry was declared at.
	Field string `yaml:"-"`

	// Settings are the parameters passed to the integration component.
	Settings Settings `yaml:"settings"`
}

// Config is a validated configuration. It is produced by Validate and then
// threaded explicitly through instantiation, compilation and convergence.
type Config struct {
	// Source is the document the configuration was loaded from.
	Source string `yaml:"source"`

	// ConfigDir is the directory shared by all components for generated files.
	ConfigDir string `yaml:"config_dir" validate:"required,startswith=/"`

	// Proxy selects the reverse proxy implementation.
	Proxy Selection `yaml:"proxy"`

	// Install selects the installer implementation.
	Install Selection `yaml:"install"`

	// Integrations are the enabled integrations, deduplicated, in
	// first-declaration order.
	Integrations []Integration `yaml:"integrations" validate:"unique=Name,dive"`
}

// IntegrationNames returns the short names of the enabled integrations.
func (c *Config) IntegrationNames() []string {
	names := make([]string, len(c.Integrations))
	for i, in := range c.Integrations {
		names[i] = in.Name
	}
	return names
}

// LoadError reports a syntax or decoding problem in a configuration source.
type LoadError struct {
	File    string
	Line    int
	Column  int
	Message string
}

func (e *LoadError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.File, e.Message)
}
