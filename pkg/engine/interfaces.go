package engine

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/openfroyo/pabawi/pkg/telemetry"
)

// PackageApplier converges system packages.
type PackageApplier interface {
	EnsurePackage(ctx context.Context, spec PackageSpec) (Outcome, error)
}

// FileApplier converges regular files.
type FileApplier interface {
	EnsureFile(ctx context.Context, spec FileSpec) (Outcome, error)
}

// DirectoryApplier converges directories.
type DirectoryApplier interface {
	EnsureDirectory(ctx context.Context, spec DirectorySpec) (Outcome, error)
}

// ServiceApplier converges services. refresh requests a restart because a
// subscribed resource changed in this run.
type ServiceApplier interface {
	EnsureService(ctx context.Context, spec ServiceSpec, refresh bool) (Outcome, error)
}

// RepositoryApplier clones a repository if absent and checks out the
// revision if present.
type RepositoryApplier interface {
	EnsureRepository(ctx context.Context, spec RepositorySpec) (Outcome, error)
}

// CommandRunner runs imperative steps. The guard prevents re-execution once
// the step's effect is in place.
type CommandRunner interface {
	RunCommand(ctx context.Context, spec CommandSpec) (Outcome, error)
}

// ContainerApplier converges long-running containers.
type ContainerApplier interface {
	EnsureContainer(ctx context.Context, spec ContainerSpec) (Outcome, error)
}

// CertificateApplier generates self-signed material. It is a no-op when
// both paths already exist.
type CertificateApplier interface {
	GenerateSelfSignedCertificate(ctx context.Context, spec CertificateSpec) (Outcome, error)
}

// UserApplier converges local accounts.
type UserApplier interface {
	EnsureUser(ctx context.Context, spec UserSpec) (Outcome, error)
}

// GroupApplier converges local groups.
type GroupApplier interface {
	EnsureGroup(ctx context.Context, spec GroupSpec) (Outcome, error)
}

// ResourceApplier converges every resource kind the engine declares. Each
// method must be idempotent: applying a converged resource reports
// unchanged and has no side effect.
type ResourceApplier interface {
	PackageApplier
	FileApplier
	DirectoryApplier
	ServiceApplier
	RepositoryApplier
	CommandRunner
	ContainerApplier
	CertificateApplier
	UserApplier
	GroupApplier
}

// EventPublisher publishes run events to subscribers.
type EventPublisher interface {
	Publish(event telemetry.Event) error
}

// MetricsRecorder records executor metrics.
type MetricsRecorder interface {
	RecordResourceApplied(kind, outcome string, duration time.Duration)
	RecordRunCompleted(status string, duration time.Duration)
}

// CatalogGate inspects a compiled catalog before it is applied. A non-nil
// error blocks the run.
type CatalogGate interface {
	Check(ctx context.Context, catalog *Catalog) error
}

func noopTracer() Tracer {
	return noop.NewTracerProvider().Tracer("pabawi")
}
