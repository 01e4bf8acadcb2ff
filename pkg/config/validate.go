package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// Settings keys that carry cross-field meaning during validation.
const (
	SettingSSL            = "ssl"
	SettingSSLSelfSigned  = "ssl_self_signed"
	SettingSSLCertSource  = "ssl_cert_source"
	SettingSSLCertContent = "ssl_cert_content"
	SettingSSLKeySource   = "ssl_key_source"
	SettingSSLKeyContent  = "ssl_key_content"
	SettingAuthEnabled    = "auth_enabled"
	SettingJWTSecret      = "jwt_secret"
	SettingEnabled        = "enabled"
)

var (
	booleanSettings = []string{SettingSSL, SettingSSLSelfSigned, SettingAuthEnabled}
	stringSettings  = []string{
		SettingSSLCertSource,
		SettingSSLCertContent,
		SettingSSLKeySource,
		SettingSSLKeyContent,
		SettingJWTSecret,
	}
)

// Validator turns raw configuration trees into validated Configs.
type Validator struct {
	validate *validator.Validate
}

var (
	defaultValidator     *Validator
	defaultValidatorOnce sync.Once
)

// NewValidator creates a Validator with the identifier tags registered.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := RegisterIdentifierValidations(v); err != nil {
		// Registration only fails on an empty tag or nil func.
		panic(fmt.Sprintf("failed to register identifier validations: %v", err))
	}
	return &Validator{validate: v}
}

// Validate checks raw with the package default Validator.
func Validate(raw *RawConfig) (*Config, error) {
	defaultValidatorOnce.Do(func() {
		defaultValidator = NewValidator()
	})
	return defaultValidator.Validate(raw)
}

// Validate checks identifiers, types and cross-field rules and returns the
// typed Config. Every problem is collected into a single *ValidationError.
// Validate only inspects raw; it never touches the filesystem or network.
func (v *Validator) Validate(raw *RawConfig) (*Config, error) {
	if raw == nil {
		return nil, &ValidationError{Problems: []error{&MissingRequiredFieldError{Field: "config"}}}
	}

	c := &checker{root: raw.Root}
	if c.root == nil {
		c.root = NewObject()
	}

	for _, key := range c.root.Keys() {
		if !isKnownKey(key) {
			c.add(&UnknownFieldError{Field: key})
		}
	}

	cfg := &Config{
		Source:    raw.Source,
		ConfigDir: c.stringValue(KeyConfigDir, DefaultConfigDir),
		Proxy:     c.selection(KeyProxyManage, KeyProxyClass, KeyProxySettings, DefaultProxyClass),
		Install:   c.selection(KeyInstallManage, KeyInstallClass, KeyInstallSettings, DefaultInstallClass),
	}

	if !strings.HasPrefix(cfg.ConfigDir, "/") {
		c.add(&InvalidValueError{Field: KeyConfigDir, Value: cfg.ConfigDir, Reason: "must be an absolute path"})
	}

	if cfg.Proxy.Manage {
		// The proxy generates its own certificate unless told otherwise.
		c.checkSSL(KeyProxySettings, cfg.Proxy.Settings, true)
	}
	if cfg.Install.Manage {
		c.checkAuth(KeyInstallSettings, cfg.Install.Settings)
	}

	cfg.Integrations = c.integrations()

	// The struct pass re-checks what the tree walk produced. It only runs on
	// an otherwise clean config so each problem is reported once.
	if len(c.problems) == 0 {
		if err := v.validate.Struct(cfg); err != nil {
			c.addStructErrors(err)
		}
	}

	if len(c.problems) > 0 {
		return nil, &ValidationError{Source: raw.Source, Problems: c.problems}
	}
	return cfg, nil
}

func isKnownKey(key string) bool {
	for _, k := range knownKeys {
		if k == key {
			return true
		}
	}
	return false
}

// checker accumulates problems while walking one raw tree.
type checker struct {
	root     *Object
	problems []error
}

func (c *checker) add(err error) {
	c.problems = append(c.problems, err)
}

func (c *checker) boolValue(key string, def bool) bool {
	raw, ok := c.root.Get(key)
	if !ok || raw == nil {
		return def
	}
	b, ok := raw.(bool)
	if !ok {
		c.add(&TypeMismatchError{Field: key, ExpectedType: "boolean", ActualType: typeName(raw)})
		return def
	}
	return b
}

func (c *checker) stringValue(key, def string) string {
	raw, ok := c.root.Get(key)
	if !ok || raw == nil {
		return def
	}
	s, ok := raw.(string)
	if !ok {
		c.add(&TypeMismatchError{Field: key, ExpectedType: "string", ActualType: typeName(raw)})
		return def
	}
	return s
}

func (c *checker) settingsValue(key string) Settings {
	raw, ok := c.root.Get(key)
	if !ok || raw == nil {
		return Settings{}
	}
	obj, ok := raw.(*Object)
	if !ok {
		c.add(&TypeMismatchError{Field: key, ExpectedType: "object", ActualType: typeName(raw)})
		return Settings{}
	}
	settings := Settings(obj.ToMap())
	c.checkSettingTypes(key, settings)
	return settings
}

func (c *checker) selection(manageKey, classKey, settingsKey, defClass string) Selection {
	sel := Selection{
		Manage:   c.boolValue(manageKey, true),
		Class:    c.stringValue(classKey, defClass),
		Field:    classKey,
		Settings: c.settingsValue(settingsKey),
	}
	if !IsValidIdentifier(sel.Class) {
		c.add(&InvalidIdentifierError{Field: classKey, Value: sel.Class})
	}
	return sel
}

// checkSettingTypes enforces real booleans and strings for the settings
// that drive cross-field rules.
func (c *checker) checkSettingTypes(field string, settings Settings) {
	for _, key := range booleanSettings {
		if raw, ok := settings[key]; ok && raw != nil {
			if _, ok := raw.(bool); !ok {
				c.add(&TypeMismatchError{Field: field + "." + key, ExpectedType: "boolean", ActualType: typeName(raw)})
			}
		}
	}
	for _, key := range stringSettings {
		if raw, ok := settings[key]; ok && raw != nil {
			if _, ok := raw.(string); !ok {
				c.add(&TypeMismatchError{Field: field + "." + key, ExpectedType: "string", ActualType: typeName(raw)})
			}
		}
	}
}

// checkSSL requires a certificate and key source whenever SSL is enabled
// with externally supplied material.
func (c *checker) checkSSL(field string, settings Settings, selfSignedDefault bool) {
	if !settingBool(settings, SettingSSL, false) {
		return
	}
	if settingBool(settings, SettingSSLSelfSigned, selfSignedDefault) {
		return
	}
	requiredBy := field + "." + SettingSSL
	if selfSignedDefault {
		requiredBy = field + "." + SettingSSLSelfSigned + "=false"
	}
	if !settingPresent(settings, SettingSSLCertSource) && !settingPresent(settings, SettingSSLCertContent) {
		c.add(&MissingDependentFieldError{Field: field + "." + SettingSSLCertSource, RequiredBy: requiredBy})
	}
	if !settingPresent(settings, SettingSSLKeySource) && !settingPresent(settings, SettingSSLKeyContent) {
		c.add(&MissingDependentFieldError{Field: field + "." + SettingSSLKeySource, RequiredBy: requiredBy})
	}
}

// checkAuth requires a secret when authentication is enabled.
func (c *checker) checkAuth(field string, settings Settings) {
	if !settingBool(settings, SettingAuthEnabled, false) {
		return
	}
	if !settingPresent(settings, SettingJWTSecret) {
		c.add(&MissingDependentFieldError{
			Field:      field + "." + SettingJWTSecret,
			RequiredBy: field + "." + SettingAuthEnabled,
		})
	}
}

// integrations normalizes the three accepted shapes of the integrations key
// into a deduplicated list in first-declaration order.
func (c *checker) integrations() []Integration {
	raw, ok := c.root.Get(KeyIntegrations)
	if !ok || raw == nil {
		return []Integration{}
	}

	type entry struct {
		field    string
		name     any
		settings Settings
	}
	var entries []entry

	switch val := raw.(type) {
	case []any:
		for i, item := range val {
			field := fmt.Sprintf("%s[%d]", KeyIntegrations, i)
			switch it := item.(type) {
			case string:
				entries = append(entries, entry{field: field, name: it, settings: Settings{}})
			case *Object:
				name, ok := it.Get("name")
				if !ok {
					c.add(&MissingRequiredFieldError{Field: field + ".name"})
					continue
				}
				settings := Settings(it.ToMap())
				delete(settings, "name")
				if !c.takeEnabled(field, settings) {
					continue
				}
				entries = append(entries, entry{field: field, name: name, settings: settings})
			default:
				c.add(&TypeMismatchError{Field: field, ExpectedType: "string or object", ActualType: typeName(item)})
			}
		}

	case *Object:
		for _, name := range val.Keys() {
			field := KeyIntegrations + "." + name
			item, _ := val.Get(name)
			switch it := item.(type) {
			case nil:
				entries = append(entries, entry{field: field, name: name, settings: Settings{}})
			case bool:
				if it {
					entries = append(entries, entry{field: field, name: name, settings: Settings{}})
				}
			case *Object:
				settings := Settings(it.ToMap())
				if !c.takeEnabled(field, settings) {
					continue
				}
				entries = append(entries, entry{field: field, name: name, settings: settings})
			default:
				c.add(&TypeMismatchError{Field: field, ExpectedType: "boolean or object", ActualType: typeName(item)})
			}
		}

	default:
		c.add(&TypeMismatchError{Field: KeyIntegrations, ExpectedType: "list or object", ActualType: typeName(raw)})
		return []Integration{}
	}

	out := make([]Integration, 0, len(entries))
	seen := make(map[string]int)
	for _, e := range entries {
		name, ok := e.name.(string)
		if !ok {
			c.add(&TypeMismatchError{Field: e.field + ".name", ExpectedType: "string", ActualType: typeName(e.name)})
			continue
		}
		component, err := IntegrationComponentName(name)
		if err != nil {
			c.add(&InvalidIdentifierError{Field: e.field, Value: name})
			continue
		}

		if idx, dup := seen[name]; dup {
			if !reflect.DeepEqual(out[idx].Settings, e.settings) {
				c.add(&ConflictingDeclarationError{Field: e.field, Name: name})
			}
			continue
		}

		c.checkSettingTypes(e.field, e.settings)
		// Integrations always talk to external servers, so SSL material
		// must be supplied.
		c.checkSSL(e.field, e.settings, false)

		seen[name] = len(out)
		out = append(out, Integration{
			Name:      name,
			Component: component,
			Field:     e.field,
			Settings:  e.settings,
		})
	}
	return out
}

// takeEnabled removes the enabled switch from settings and reports whether
// the integration is on. A non-boolean switch is a problem and counts as off.
func (c *checker) takeEnabled(field string, settings Settings) bool {
	enabled, ok := settings[SettingEnabled]
	if !ok {
		return true
	}
	delete(settings, SettingEnabled)
	b, isBool := enabled.(bool)
	if !isBool {
		c.add(&TypeMismatchError{Field: field + "." + SettingEnabled, ExpectedType: "boolean", ActualType: typeName(enabled)})
		return false
	}
	return b
}

// addStructErrors maps validator failures onto the problem taxonomy.
func (c *checker) addStructErrors(err error) {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		c.add(err)
		return
	}
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		switch fe.Tag() {
		case "identifier", "segment":
			c.add(&InvalidIdentifierError{Field: field, Value: fmt.Sprint(fe.Value())})
		case "required":
			c.add(&MissingRequiredFieldError{Field: field})
		case "unique":
			c.add(&ConflictingDeclarationError{Field: field, Name: fe.Param()})
		default:
			c.add(&InvalidValueError{Field: field, Value: fe.Value(), Reason: fmt.Sprintf("failed %s validation", fe.Tag())})
		}
	}
}

func settingBool(settings Settings, key string, def bool) bool {
	raw, ok := settings[key]
	if !ok || raw == nil {
		return def
	}
	b, ok := raw.(bool)
	if !ok {
		return def
	}
	return b
}

func settingPresent(settings Settings, key string) bool {
	s, ok := settings[key].(string)
	return ok && s != ""
}
