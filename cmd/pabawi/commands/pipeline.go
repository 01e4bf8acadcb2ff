package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/pabawi/pkg/components"
	"github.com/openfroyo/pabawi/pkg/config"
	"github.com/openfroyo/pabawi/pkg/engine"
	"github.com/openfroyo/pabawi/pkg/telemetry"
)

// telemetryOptions are the per-command telemetry switches.
type telemetryOptions struct {
	metricsAddr string
}

// newTelemetry builds telemetry from the global flags.
func newTelemetry(opts telemetryOptions) (*telemetry.Telemetry, error) {
	cfg, err := telemetryConfig(opts)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	return tel, nil
}

// telemetryConfig maps the global flags onto a telemetry configuration.
func telemetryConfig(opts telemetryOptions) (*telemetry.Config, error) {
	cfg := telemetry.DefaultConfig()
	cfg.Logging.Level = logLevel
	cfg.Logging.Format = logFormat
	if verbose {
		cfg.Logging.Level = "debug"
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.ListenAddress = opts.metricsAddr
	}

	exporter := traceExporter
	if exporter == "" && otlpEndpoint != "" {
		exporter = "otlp"
	}
	switch exporter {
	case "", "none":
	case "stdout":
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = exporter
	case "otlp":
		if otlpEndpoint == "" {
			return nil, fmt.Errorf("--trace-exporter otlp requires --otlp-endpoint or OTEL_EXPORTER_OTLP_ENDPOINT")
		}
		cfg.Tracing.Enabled = true
		cfg.Tracing.Exporter = exporter
		cfg.Tracing.Endpoint, cfg.Tracing.Insecure = otlpTarget(otlpEndpoint)
	default:
		return nil, fmt.Errorf("unknown trace exporter %q (want none, stdout or otlp)", exporter)
	}
	return cfg, nil
}

// otlpTarget strips a URL scheme from endpoint. Only https endpoints use
// TLS.
func otlpTarget(endpoint string) (string, bool) {
	if rest, ok := strings.CutPrefix(endpoint, "https://"); ok {
		return strings.TrimSuffix(rest, "/"), false
	}
	return strings.TrimSuffix(strings.TrimPrefix(endpoint, "http://"), "/"), true
}

// loadConfig decodes and validates the configuration at path.
func loadConfig(ctx context.Context, path string) (*config.Config, error) {
	raw, err := config.NewLoader().Load(ctx, path)
	if err != nil {
		return nil, err
	}
	return config.Validate(raw)
}

// newOrchestrator wires the built-in components, telemetry and an
// optional gate into an orchestrator.
func newOrchestrator(tel *telemetry.Telemetry, gate engine.CatalogGate) *engine.Orchestrator {
	logger := tel.Logger.Zerolog()

	executor := engine.NewExecutor(logger,
		engine.WithTracer(tel.Tracer),
		engine.WithMetrics(tel.Metrics),
		engine.WithEvents(tel.Events),
	)

	opts := []engine.OrchestratorOption{
		engine.WithExecutor(executor),
		engine.WithOrchestratorTracer(tel.Tracer),
	}
	if gate != nil {
		opts = append(opts, engine.WithGate(gate))
	}
	return engine.NewOrchestrator(components.NewRegistry(), logger, opts...)
}

// compile loads configPath and compiles it without touching any host.
func compile(ctx context.Context, tel *telemetry.Telemetry) (*engine.Plan, error) {
	cfg, err := loadConfig(ctx, configPath)
	if err != nil {
		return nil, err
	}

	plan, err := newOrchestrator(tel, nil).Compile(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to compile %s: %w", configPath, err)
	}
	tel.Metrics.SetCatalogSize(plan.Catalog.Len())
	tel.Metrics.RecordUnresolvedReferences(len(plan.Catalog.Warnings))
	return plan, nil
}

func shutdown(tel *telemetry.Telemetry, logger zerolog.Logger) {
	if err := tel.Shutdown(context.Background()); err != nil {
		logger.Warn().Err(err).Msg("Telemetry shutdown failed")
	}
}
