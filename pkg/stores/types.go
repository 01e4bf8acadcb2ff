package stores

import (
	"context"
	"errors"
	"time"

	"github.com/openfroyo/pabawi/pkg/engine"
)

// ErrRunNotFound is returned when a run ID is not in the log.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is the header row of one logged run.
type RunRecord struct {
	ID          string            `json:"id"`
	Target      string            `json:"target"`
	Status      engine.RunStatus  `json:"status"`
	DryRun      bool              `json:"dry_run"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
	Summary     engine.RunSummary `json:"summary"`
	// FirstFailure is the resource ID that halted the run, if any.
	FirstFailure string `json:"first_failure,omitempty"`
}

// Duration returns how long the run took.
func (r *RunRecord) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}

// RunLog is the append-only history of convergence runs.
type RunLog interface {
	// SaveReport appends a finished report. target names the host it ran
	// against.
	SaveReport(ctx context.Context, report *engine.RunReport, target string) error

	// ListRuns returns the newest runs first. A limit of zero or less
	// returns every run.
	ListRuns(ctx context.Context, limit int) ([]*RunRecord, error)

	// GetRun returns the header of one run.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// GetReport rebuilds the full report of one run.
	GetReport(ctx context.Context, id string) (*engine.RunReport, error)

	// PruneRuns deletes all but the newest keep runs and returns how many
	// were removed.
	PruneRuns(ctx context.Context, keep int) (int64, error)

	HealthCheck(ctx context.Context) error
	Close() error
}
