package config

import (
	"errors"
	"fmt"
	"strings"
)

// InvalidIdentifierError reports a component name that does not match the
// identifier grammar.
type InvalidIdentifierError struct {
	Field string
	Value string
}

func (e *InvalidIdentifierError) Error() string {
	return fmt.Sprintf("%s: %q is not a valid identifier (want %s)", e.Field, e.Value, identifierPattern)
}

// TypeMismatchError reports a value whose type differs from the declared one.
type TypeMismatchError struct {
	Field        string
	ExpectedType string
	ActualType   string
}

func (e *TypeMismatchError) Error() string {
	if e.ActualType == "" {
		return fmt.Sprintf("%s: expected %s", e.Field, e.ExpectedType)
	}
	return fmt.Sprintf("%s: expected %s, got %s", e.Field, e.ExpectedType, e.ActualType)
}

// MissingDependentFieldError reports a field that is required because
// another field enabled a feature depending on it.
type MissingDependentFieldError struct {
	Field      string
	RequiredBy string
}

func (e *MissingDependentFieldError) Error() string {
	return fmt.Sprintf("%s is required when %s is set", e.Field, e.RequiredBy)
}

// MissingRequiredFieldError reports a required parameter with no value and
// no default.
type MissingRequiredFieldError struct {
	Field string
}

func (e *MissingRequiredFieldError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

// ConflictingDeclarationError reports the same component declared twice
// with different parameters.
type ConflictingDeclarationError struct {
	Field string
	Name  string
}

func (e *ConflictingDeclarationError) Error() string {
	return fmt.Sprintf("%s: %q is declared more than once with different settings", e.Field, e.Name)
}

// UnknownFieldError reports a key the configuration surface does not define.
type UnknownFieldError struct {
	Field string
}

func (e *UnknownFieldError) Error() string {
	return fmt.Sprintf("%s: unknown field", e.Field)
}

// InvalidValueError reports a value of the right type that breaks a
// constraint.
type InvalidValueError struct {
	Field  string
	Value  any
	Reason string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("%s: invalid value %v: %s", e.Field, e.Value, e.Reason)
}

// ValidationError aggregates every problem found in one configuration.
// errors.As reaches each individual problem through Unwrap.
type ValidationError struct {
	Source   string
	Problems []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		msgs[i] = p.Error()
	}
	prefix := "invalid configuration"
	if e.Source != "" {
		prefix = fmt.Sprintf("invalid configuration %s", e.Source)
	}
	return fmt.Sprintf("%s: %s", prefix, strings.Join(msgs, "; "))
}

// Unwrap returns the individual problems.
func (e *ValidationError) Unwrap() []error {
	return e.Problems
}

// IsValidationError reports whether err carries configuration problems.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// typeName describes the dynamic type of a raw tree value for error messages.
func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case int, int64:
		return "integer"
	case float64:
		return "number"
	case string:
		return "string"
	case []any:
		return "list"
	case *Object, map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
