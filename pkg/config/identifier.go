package config

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	identifierPattern = `^[a-z][a-z0-9_]*(::[a-z][a-z0-9_]*)*$`
	segmentPattern    = `^[a-z][a-z0-9_]*$`

	// IntegrationNamespace is the component namespace integration short
	// names are mapped into. It sits under the module's own "pabawi" root
	// like the proxy and installer components, so a bare
	// "integrations::<name>" is not an integration component.
	IntegrationNamespace = "pabawi::integrations"
)

var (
	identifierRe = regexp.MustCompile(identifierPattern)
	segmentRe    = regexp.MustCompile(segmentPattern)
)

// IsValidIdentifier reports whether s is a component identifier such as
// "pabawi::proxy::nginx" or "my_custom_proxy".
func IsValidIdentifier(s string) bool {
	return identifierRe.MatchString(s)
}

// IsValidSegment reports whether s is a single identifier segment.
func IsValidSegment(s string) bool {
	return segmentRe.MatchString(s)
}

// IntegrationComponentName maps a validated short integration name to its
// fully-qualified component identifier: "bolt" becomes
// "pabawi::integrations::bolt", not the unqualified "integrations::bolt".
func IntegrationComponentName(short string) (string, error) {
	if !IsValidSegment(short) {
		return "", &InvalidIdentifierError{Field: KeyIntegrations, Value: short}
	}
	name := IntegrationNamespace + "::" + short
	if !IsValidIdentifier(name) {
		return "", &InvalidIdentifierError{Field: KeyIntegrations, Value: name}
	}
	return name, nil
}

// IntegrationShortName is the inverse of IntegrationComponentName. It
// returns false when name is not in the integration namespace.
func IntegrationShortName(name string) (string, bool) {
	short, ok := strings.CutPrefix(name, IntegrationNamespace+"::")
	if !ok || !IsValidSegment(short) {
		return "", false
	}
	return short, true
}

// RegisterIdentifierValidations installs the "identifier" and "segment"
// tags on v.
func RegisterIdentifierValidations(v *validator.Validate) error {
	if err := v.RegisterValidation("identifier", func(fl validator.FieldLevel) bool {
		return IsValidIdentifier(fl.Field().String())
	}); err != nil {
		return err
	}
	return v.RegisterValidation("segment", func(fl validator.FieldLevel) bool {
		return IsValidSegment(fl.Field().String())
	})
}
