package engine

import (
	"time"
)

// ReportEntry records the outcome of one resource.
type ReportEntry struct {
	ResourceID string        `json:"resource_id"`
	Kind       ResourceKind  `json:"kind"`
	Owner      string        `json:"owner"`
	Outcome    OutcomeStatus `json:"outcome"`
	Detail     string        `json:"detail,omitempty"`
	// Reason is set when Outcome is failed.
	Reason    string `json:"reason,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
	Fatal     bool   `json:"fatal"`
	// Refreshed is set on services restarted because a subscribed resource
	// changed earlier in the run.
	Refreshed bool          `json:"refreshed,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// RunSummary provides statistics about a run.
type RunSummary struct {
	Total     int `json:"total"`
	Unchanged int `json:"unchanged"`
	Changed   int `json:"changed"`
	Failed    int `json:"failed"`
	// Skipped counts resources never attempted because the run halted.
	Skipped int `json:"skipped"`
	Planned int `json:"planned,omitempty"`
}

// RunReport is the ordered record of one convergence run. It is owned by
// the executor while the run is in progress.
type RunReport struct {
	RunID       string        `json:"run_id"`
	Status      RunStatus     `json:"status"`
	DryRun      bool          `json:"dry_run,omitempty"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Entries     []ReportEntry `json:"entries"`
	// FirstFailure is the fatal failure that halted the run, if any.
	FirstFailure *ReportEntry          `json:"first_failure,omitempty"`
	Warnings     []UnresolvedReference `json:"warnings,omitempty"`
	Summary      RunSummary            `json:"summary"`
}

// Duration returns how long the run took.
func (r *RunReport) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// Entry returns the entry for id.
func (r *RunReport) Entry(id string) (ReportEntry, bool) {
	for _, e := range r.Entries {
		if e.ResourceID == id {
			return e, true
		}
	}
	return ReportEntry{}, false
}

// AllUnchanged reports whether every entry converged without a change.
func (r *RunReport) AllUnchanged() bool {
	for _, e := range r.Entries {
		if e.Outcome != OutcomeUnchanged {
			return false
		}
	}
	return true
}

func (r *RunReport) record(e ReportEntry) {
	r.Entries = append(r.Entries, e)
	switch e.Outcome {
	case OutcomeUnchanged:
		r.Summary.Unchanged++
	case OutcomeChanged:
		r.Summary.Changed++
	case OutcomeFailed:
		r.Summary.Failed++
	case OutcomePlanned:
		r.Summary.Planned++
	}
}
