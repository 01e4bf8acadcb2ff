// Package telemetry provides the observability plumbing for pabawi runs.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry),
// metrics (Prometheus) and a small event bus used by the executor to report
// run and resource lifecycle.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
//	exec := engine.NewExecutor(tel.Logger.Zerolog(),
//	    engine.WithTracer(tel.Tracer),
//	    engine.WithMetrics(tel.Metrics),
//	    engine.WithEvents(tel.Events),
//	)
//
// # Logging
//
// Loggers are component scoped and carry run and resource identifiers:
//
//	logger := tel.Logger.NewComponentLogger("applier").WithRunID(runID)
//	logger.Info("Applying catalog")
//
// Engine packages take a zerolog.Logger by value; use Logger.Zerolog to
// obtain one.
//
// # Tracing
//
// Exporters are "otlp" (gRPC), "stdout" (pretty printed to stderr) and
// "none". When tracing is disabled every span is a no-op.
//
// # Metrics
//
// Metrics live in a private registry under the configured namespace:
//
//   - runs_started_total, runs_completed_total{status}
//   - run_duration_seconds{status}
//   - resources_applied_total{kind,outcome}
//   - resource_apply_duration_seconds{kind}
//   - catalog_resources, unresolved_references_total
//   - policy_violations_total{policy,severity}
//
// # Events
//
// The executor publishes run.started, resource.applied, resource.failed,
// run.halted and run.completed. The policy gate publishes policy.violation
// and the config watcher publishes config.reloaded. Synchronous publishers
// call subscribers inline in subscription order.
package telemetry
