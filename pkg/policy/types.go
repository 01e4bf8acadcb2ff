package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/openfroyo/pabawi/pkg/engine"
)

// Severity represents the severity level of a policy violation.
type Severity string

const (
	// SeverityInfo is for informational messages.
	SeverityInfo Severity = "info"

	// SeverityWarning is for findings that are logged but do not block.
	SeverityWarning Severity = "warning"

	// SeverityError blocks the apply.
	SeverityError Severity = "error"

	// SeverityCritical blocks the apply.
	SeverityCritical Severity = "critical"
)

// Blocking reports whether a violation of this severity stops an apply.
func (s Severity) Blocking() bool {
	return s == SeverityError || s == SeverityCritical
}

// Policy is a Rego module whose deny set lists violations.
type Policy struct {
	// Name is the unique name of the policy.
	Name string `json:"name"`

	// Description provides a human-readable description.
	Description string `json:"description"`

	// Rego contains the Rego policy code.
	Rego string `json:"rego"`

	// Severity applies to violations that do not carry their own.
	Severity Severity `json:"severity"`

	// Enabled indicates if the policy is evaluated.
	Enabled bool `json:"enabled"`

	// Builtin marks policies shipped with pabawi. They survive reloads.
	Builtin bool `json:"builtin,omitempty"`

	// Source is the file the policy was loaded from.
	Source string `json:"source,omitempty"`
}

// Violation is one entry of a policy's deny set.
type Violation struct {
	Policy   string   `json:"policy"`
	Resource string   `json:"resource,omitempty"`
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
}

func (v Violation) String() string {
	if v.Resource == "" {
		return fmt.Sprintf("[%s] %s: %s", v.Severity, v.Policy, v.Message)
	}
	return fmt.Sprintf("[%s] %s: %s: %s", v.Severity, v.Policy, v.Resource, v.Message)
}

// Result is the outcome of evaluating every enabled policy against a
// catalog.
type Result struct {
	// Allowed is false when any violation is blocking.
	Allowed bool `json:"allowed"`

	// Violations are blocking findings.
	Violations []Violation `json:"violations,omitempty"`

	// Warnings are non-blocking findings.
	Warnings []Violation `json:"warnings,omitempty"`

	// Errors lists policies that failed to evaluate. A policy that cannot
	// be evaluated does not block.
	Errors []string `json:"errors,omitempty"`

	EvaluatedPolicies []string      `json:"evaluated_policies"`
	EvaluatedAt       time.Time     `json:"evaluated_at"`
	Duration          time.Duration `json:"duration"`
}

// Input is the document policies see as input.
type Input struct {
	Catalog CatalogInput `json:"catalog"`
}

// CatalogInput describes a compiled catalog.
type CatalogInput struct {
	Resources  []ResourceInput `json:"resources"`
	Components []string        `json:"components"`
}

// ResourceInput describes one catalog resource. Payload carries the
// kind-specific attributes under their JSON names.
type ResourceInput struct {
	ID      string         `json:"id"`
	Kind    string         `json:"kind"`
	Owner   string         `json:"owner"`
	Fatal   bool           `json:"fatal"`
	After   []string       `json:"after"`
	Payload engine.Payload `json:"payload"`
}

// NewInput builds the policy input for a catalog.
func NewInput(catalog *engine.Catalog) *Input {
	in := &Input{
		Catalog: CatalogInput{
			Resources:  make([]ResourceInput, 0, catalog.Len()),
			Components: catalog.Components,
		},
	}
	for _, r := range catalog.Resources {
		after := r.After
		if after == nil {
			after = []string{}
		}
		in.Catalog.Resources = append(in.Catalog.Resources, ResourceInput{
			ID:      r.ID,
			Kind:    string(r.Kind),
			Owner:   r.Owner,
			Fatal:   r.Fatal,
			After:   after,
			Payload: r.Payload,
		})
	}
	return in
}

// DeniedError lists the blocking violations that rejected a catalog.
type DeniedError struct {
	Violations []Violation
}

func (e *DeniedError) Error() string {
	msgs := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		msgs[i] = v.String()
	}
	return fmt.Sprintf("%d policy violation(s): %s", len(e.Violations), strings.Join(msgs, "; "))
}
