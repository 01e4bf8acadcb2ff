package engine

import (
	"encoding/json"
	"fmt"
)

// RunStatus represents the overall status of a convergence run.
type RunStatus string

const (
	// RunStatusRunning indicates the run is currently executing.
	RunStatusRunning RunStatus = "running"

	// RunStatusSucceeded indicates every resource converged.
	RunStatusSucceeded RunStatus = "succeeded"

	// RunStatusPartial indicates non-fatal resources failed and the run continued.
	RunStatusPartial RunStatus = "partial"

	// RunStatusFailed indicates a fatal resource failed and halted the run.
	RunStatusFailed RunStatus = "failed"

	// RunStatusCancelled indicates the context was cancelled between resources.
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal returns true if the run status represents a final state.
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed ||
		s == RunStatusCancelled || s == RunStatusPartial
}

// Validate checks if the run status is valid.
func (s RunStatus) Validate() error {
	switch s {
	case RunStatusRunning, RunStatusSucceeded, RunStatusPartial,
		RunStatusFailed, RunStatusCancelled:
		return nil
	default:
		return fmt.Errorf("invalid run status: %s", s)
	}
}

// MarshalJSON implements custom JSON marshaling for type-safe enum serialization.
func (s RunStatus) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(s))
}

// UnmarshalJSON implements custom JSON unmarshaling with validation.
func (s *RunStatus) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = RunStatus(str)
	return s.Validate()
}

// OutcomeStatus is the result of converging one resource.
type OutcomeStatus string

const (
	// OutcomeUnchanged means the resource already matched its desired state.
	OutcomeUnchanged OutcomeStatus = "unchanged"

	// OutcomeChanged means the applier modified the system.
	OutcomeChanged OutcomeStatus = "changed"

	// OutcomeFailed means the applier could not converge the resource.
	OutcomeFailed OutcomeStatus = "failed"

	// OutcomePlanned marks a dry-run entry; nothing was applied.
	OutcomePlanned OutcomeStatus = "planned"
)

// Validate checks if the outcome status is valid.
func (s OutcomeStatus) Validate() error {
	switch s {
	case OutcomeUnchanged, OutcomeChanged, OutcomeFailed, OutcomePlanned:
		return nil
	default:
		return fmt.Errorf("invalid outcome status: %s", s)
	}
}

// Outcome is what an applier reports for one resource.
type Outcome struct {
	Status OutcomeStatus `json:"status"`
	Detail string        `json:"detail,omitempty"`
}

// Unchanged builds an unchanged outcome.
func Unchanged() Outcome {
	return Outcome{Status: OutcomeUnchanged}
}

// Changed builds a changed outcome with a description of what changed.
func Changed(format string, args ...any) Outcome {
	return Outcome{Status: OutcomeChanged, Detail: fmt.Sprintf(format, args...)}
}
