package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/openfroyo/pabawi/pkg/telemetry"
)

// ApplyOptions controls one convergence run.
type ApplyOptions struct {
	// DryRun records what would be applied without calling the applier.
	DryRun bool

	// ResourceTimeout bounds each applier call. Zero means no deadline.
	ResourceTimeout time.Duration
}

// Executor applies a catalog strictly in order, one resource at a time.
type Executor struct {
	logger  zerolog.Logger
	tracer  Tracer
	metrics MetricsRecorder
	events  EventPublisher
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithTracer sets the tracer used for run and resource spans.
func WithTracer(t Tracer) ExecutorOption {
	return func(e *Executor) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) ExecutorOption {
	return func(e *Executor) {
		e.metrics = m
	}
}

// WithEvents sets the event publisher.
func WithEvents(p EventPublisher) ExecutorOption {
	return func(e *Executor) {
		e.events = p
	}
}

// NewExecutor creates an executor.
func NewExecutor(logger zerolog.Logger, opts ...ExecutorOption) *Executor {
	e := &Executor{
		logger: logger.With().Str("component", "executor").Logger(),
		tracer: noopTracer(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Apply converges catalog through applier and returns the run report. A
// failed fatal resource halts the run; a failed non-fatal resource is
// recorded and the run continues. Cancelling ctx stops the run between
// resources.
func (e *Executor) Apply(ctx context.Context, catalog *Catalog, applier ResourceApplier, opts ApplyOptions) *RunReport {
	report := &RunReport{
		RunID:     uuid.New().String(),
		Status:    RunStatusRunning,
		DryRun:    opts.DryRun,
		StartedAt: time.Now(),
		Entries:   make([]ReportEntry, 0, catalog.Len()),
		Warnings:  append([]UnresolvedReference(nil), catalog.Warnings...),
		Summary:   RunSummary{Total: catalog.Len()},
	}

	ctx, span := e.tracer.Start(ctx, "run.apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", report.RunID),
		attribute.Int("run.resources", catalog.Len()),
		attribute.Bool("run.dry_run", opts.DryRun),
	)

	logger := e.logger.With().Str("run_id", report.RunID).Logger()
	logger.Info().
		Int("resources", catalog.Len()).
		Bool("dry_run", opts.DryRun).
		Msg("Run started")
	e.publish(telemetry.Event{
		Type:    telemetry.EventTypeRunStarted,
		RunID:   report.RunID,
		Message: fmt.Sprintf("Run %s started with %d resources", report.RunID, catalog.Len()),
		Level:   telemetry.EventLevelInfo,
	})

	for _, w := range catalog.Warnings {
		logger.Warn().Str("field", w.Field).Str("component", w.Component).Msg("Skipped unresolved integration")
	}

	changed := make(map[string]bool)

	for i, r := range catalog.Resources {
		if err := ctx.Err(); err != nil {
			report.Status = RunStatusCancelled
			report.Summary.Skipped = catalog.Len() - i
			logger.Warn().Err(err).Int("remaining", catalog.Len()-i).Msg("Run cancelled")
			break
		}

		entry := e.applyOne(ctx, report.RunID, r, applier, changed, opts)
		report.record(entry)

		if entry.Outcome == OutcomeChanged {
			changed[r.ID] = true
		}
		if entry.Outcome != OutcomeFailed {
			continue
		}

		if entry.Fatal {
			failure := entry
			report.FirstFailure = &failure
			report.Status = RunStatusFailed
			report.Summary.Skipped = catalog.Len() - i - 1
			logger.Error().
				Str("resource_id", r.ID).
				Str("reason", entry.Reason).
				Int("skipped", report.Summary.Skipped).
				Msg("Fatal resource failed, halting run")
			e.publish(telemetry.Event{
				Type:       telemetry.EventTypeRunHalted,
				RunID:      report.RunID,
				ResourceID: r.ID,
				Message:    fmt.Sprintf("Run %s halted by %s: %s", report.RunID, r.ID, entry.Reason),
				Level:      telemetry.EventLevelError,
			})
			break
		}
	}

	if report.Status == RunStatusRunning {
		if report.Summary.Failed > 0 {
			report.Status = RunStatusPartial
		} else {
			report.Status = RunStatusSucceeded
		}
	}
	report.CompletedAt = time.Now()

	span.SetAttributes(attribute.String("run.status", string(report.Status)))
	if report.Status == RunStatusSucceeded {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, string(report.Status))
	}

	if e.metrics != nil {
		e.metrics.RecordRunCompleted(string(report.Status), report.Duration())
	}
	e.publish(telemetry.Event{
		Type:    telemetry.EventTypeRunCompleted,
		RunID:   report.RunID,
		Message: fmt.Sprintf("Run %s completed with status: %s", report.RunID, report.Status),
		Level:   runLevel(report.Status),
		Data: map[string]interface{}{
			"status":    string(report.Status),
			"changed":   report.Summary.Changed,
			"unchanged": report.Summary.Unchanged,
			"failed":    report.Summary.Failed,
			"duration":  report.Duration().Seconds(),
		},
	})
	logger.Info().
		Str("status", string(report.Status)).
		Int("changed", report.Summary.Changed).
		Int("unchanged", report.Summary.Unchanged).
		Int("failed", report.Summary.Failed).
		Dur("duration", report.Duration()).
		Msg("Run completed")

	return report
}

func (e *Executor) applyOne(
	ctx context.Context,
	runID string,
	r ResourceDecl,
	applier ResourceApplier,
	changed map[string]bool,
	opts ApplyOptions,
) ReportEntry {
	ctx, span := e.tracer.Start(ctx, "resource.apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("resource.id", r.ID),
		attribute.String("resource.kind", string(r.Kind)),
		attribute.String("resource.owner", r.Owner),
	)

	entry := ReportEntry{
		ResourceID: r.ID,
		Kind:       r.Kind,
		Owner:      r.Owner,
		Fatal:      r.Fatal,
	}

	refresh := false
	if svc, ok := r.Payload.(*ServiceSpec); ok {
		for _, id := range svc.Subscribe {
			if changed[id] {
				refresh = true
				break
			}
		}
	}

	start := time.Now()
	var (
		outcome Outcome
		err     error
	)
	if opts.DryRun {
		outcome = Outcome{Status: OutcomePlanned}
	} else {
		callCtx := ctx
		if opts.ResourceTimeout > 0 {
			var cancel context.CancelFunc
			callCtx, cancel = context.WithTimeout(ctx, opts.ResourceTimeout)
			defer cancel()
		}
		outcome, err = dispatch(callCtx, r, applier, refresh)
	}
	entry.Duration = time.Since(start)

	if err != nil {
		entry.Outcome = OutcomeFailed
		entry.Reason = err.Error()
		entry.Retryable = IsRetryable(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		e.logger.Warn().
			Err(err).
			Str("resource_id", r.ID).
			Bool("fatal", r.Fatal).
			Msg("Resource failed")
		e.publish(telemetry.Event{
			Type:       telemetry.EventTypeResourceFailed,
			RunID:      runID,
			Component:  r.Owner,
			ResourceID: r.ID,
			Message:    fmt.Sprintf("Resource %s failed: %v", r.ID, err),
			Level:      telemetry.EventLevelError,
			Data:       map[string]interface{}{"fatal": r.Fatal},
		})
	} else {
		entry.Outcome = outcome.Status
		entry.Detail = outcome.Detail
		entry.Refreshed = refresh && outcome.Status == OutcomeChanged

		if outcome.Status == OutcomeChanged {
			e.logger.Info().
				Str("resource_id", r.ID).
				Str("detail", outcome.Detail).
				Msg("Resource changed")
		} else {
			e.logger.Debug().
				Str("resource_id", r.ID).
				Str("outcome", string(outcome.Status)).
				Msg("Resource converged")
		}
		e.publish(telemetry.Event{
			Type:       telemetry.EventTypeResourceApplied,
			RunID:      runID,
			Component:  r.Owner,
			ResourceID: r.ID,
			Message:    fmt.Sprintf("Resource %s %s", r.ID, outcome.Status),
			Level:      telemetry.EventLevelInfo,
			Data:       map[string]interface{}{"outcome": string(outcome.Status)},
		})
	}

	span.SetAttributes(attribute.String("resource.outcome", string(entry.Outcome)))
	if e.metrics != nil {
		e.metrics.RecordResourceApplied(string(r.Kind), string(entry.Outcome), entry.Duration)
	}
	return entry
}

// dispatch routes a resource to the applier method for its kind. Payloads
// are passed through unchanged.
func dispatch(ctx context.Context, r ResourceDecl, applier ResourceApplier, refresh bool) (Outcome, error) {
	switch p := r.Payload.(type) {
	case *PackageSpec:
		return applier.EnsurePackage(ctx, *p)
	case *FileSpec:
		return applier.EnsureFile(ctx, *p)
	case *DirectorySpec:
		return applier.EnsureDirectory(ctx, *p)
	case *ServiceSpec:
		return applier.EnsureService(ctx, *p, refresh)
	case *RepositorySpec:
		return applier.EnsureRepository(ctx, *p)
	case *CommandSpec:
		return applier.RunCommand(ctx, *p)
	case *ContainerSpec:
		return applier.EnsureContainer(ctx, *p)
	case *CertificateSpec:
		return applier.GenerateSelfSignedCertificate(ctx, *p)
	case *UserSpec:
		return applier.EnsureUser(ctx, *p)
	case *GroupSpec:
		return applier.EnsureGroup(ctx, *p)
	default:
		return Outcome{}, NewPermanentError(fmt.Sprintf("no applier for resource kind %s", r.Kind), nil).
			WithCode(ErrCodeInternal).
			WithResource(r.ID)
	}
}

func (e *Executor) publish(event telemetry.Event) {
	if e.events == nil {
		return
	}
	event.Source = "executor"
	if err := e.events.Publish(event); err != nil {
		e.logger.Debug().Err(err).Str("event", event.Type).Msg("Failed to publish event")
	}
}

func runLevel(status RunStatus) string {
	switch status {
	case RunStatusSucceeded:
		return telemetry.EventLevelInfo
	case RunStatusPartial, RunStatusCancelled:
		return telemetry.EventLevelWarning
	default:
		return telemetry.EventLevelError
	}
}
