package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "development", mutate: func(c *Config) { *c = *DevelopmentConfig() }},
		{
			name:    "bad level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: "invalid log level",
		},
		{
			name:    "bad format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "invalid log format",
		},
		{
			name: "otlp without endpoint",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.Exporter = "otlp"
			},
			wantErr: "requires an endpoint",
		},
		{
			name:    "sampling out of range",
			mutate:  func(c *Config) { c.Tracing.SamplingRate = 1.5 },
			wantErr: "sampling rate",
		},
		{
			name: "metrics without address",
			mutate: func(c *Config) {
				c.Metrics.Enabled = true
				c.Metrics.ListenAddress = ""
			},
			wantErr: "listen address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Expected no error, got %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(&buf, LoggingConfig{Level: "info", Format: "json"})

	logger.NewComponentLogger("executor").WithRunID("r1").WithResourceID("package:nginx").Info("applied")
	logger.Debug("hidden")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("Expected 1 log line, got %d: %q", len(lines), buf.String())
	}

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("Failed to decode log line: %v", err)
	}
	want := map[string]string{
		"component":   "executor",
		"run_id":      "r1",
		"resource_id": "package:nginx",
		"message":     "applied",
		"level":       "info",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("Expected %s=%q, got %v", k, v, entry[k])
		}
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("debug") != zerolog.DebugLevel {
		t.Errorf("Expected debug level")
	}
	if ParseLevel("nonsense") != zerolog.InfoLevel {
		t.Errorf("Expected unknown level to map to info")
	}
}

func TestMetricsRecord(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: true, ListenAddress: ":0", Namespace: "pabawi"})
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	m.RecordRunStarted()
	m.RecordResourceApplied("package", "changed", 10*time.Millisecond)
	m.RecordResourceApplied("package", "changed", 5*time.Millisecond)
	m.RecordResourceApplied("service", "failed", time.Millisecond)
	m.RecordRunCompleted("partial", time.Second)
	m.RecordPolicyViolation("exec-requires-guard", "error")
	m.RecordUnresolvedReferences(2)
	m.SetCatalogSize(7)

	if got := testutil.ToFloat64(m.resourcesApplied.WithLabelValues("package", "changed")); got != 2 {
		t.Errorf("Expected 2 changed packages, got %v", got)
	}
	if got := testutil.ToFloat64(m.runsCompleted.WithLabelValues("partial")); got != 1 {
		t.Errorf("Expected 1 partial run, got %v", got)
	}
	if got := testutil.ToFloat64(m.unresolvedReferences); got != 2 {
		t.Errorf("Expected 2 unresolved references, got %v", got)
	}
	if got := testutil.ToFloat64(m.catalogResources); got != 7 {
		t.Errorf("Expected catalog size 7, got %v", got)
	}

	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Failed to gather: %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, name := range []string{
		"pabawi_runs_started_total",
		"pabawi_resources_applied_total",
		"pabawi_policy_violations_total",
	} {
		if !names[name] {
			t.Errorf("Expected metric %s to be registered", name)
		}
	}
}

func TestMetricsDisabled(t *testing.T) {
	m, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	// None of these may panic.
	m.RecordRunStarted()
	m.RecordResourceApplied("file", "unchanged", time.Millisecond)
	m.RecordRunCompleted("succeeded", time.Second)
	m.RecordPolicyViolation("p", "warning")

	if m.Registry() != nil {
		t.Errorf("Expected nil registry when disabled")
	}
	if err := m.StartMetricsServer(context.Background(), zerolog.Nop()); err != nil {
		t.Errorf("Expected disabled server start to be a no-op, got %v", err)
	}
}

func TestEventPublisherSync(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	if err != nil {
		t.Fatalf("Failed to create publisher: %v", err)
	}

	var got []Event
	ep.Subscribe(func(e Event) { got = append(got, e) }, FilterByLevel(EventLevelWarning))
	ep.AddFilter(FilterByRunID("r1"))

	_ = ep.Publish(Event{Type: EventTypeResourceApplied, RunID: "r1", Level: EventLevelInfo})
	_ = ep.Publish(Event{Type: EventTypeResourceFailed, RunID: "r1", Level: EventLevelError})
	_ = ep.Publish(Event{Type: EventTypeResourceFailed, RunID: "r2", Level: EventLevelError})

	if len(got) != 1 {
		t.Fatalf("Expected 1 delivered event, got %d", len(got))
	}
	if got[0].ID == "" || got[0].Timestamp.IsZero() {
		t.Errorf("Expected ID and timestamp to be filled in, got %+v", got[0])
	}
	if got[0].Type != EventTypeResourceFailed {
		t.Errorf("Expected %s, got %s", EventTypeResourceFailed, got[0].Type)
	}
}

func TestEventPublisherAsyncDrainsOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, EnableAsync: true, BufferSize: 16, MaxBatchSize: 4})
	if err != nil {
		t.Fatalf("Failed to create publisher: %v", err)
	}

	var mu sync.Mutex
	count := 0
	ep.Subscribe(func(Event) {
		mu.Lock()
		count++
		mu.Unlock()
	}, nil)

	for i := 0; i < 10; i++ {
		if err := ep.Publish(Event{Type: EventTypeResourceApplied}); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := ep.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if count != 10 {
		t.Fatalf("Expected 10 delivered events, got %d", count)
	}

	if err := ep.Publish(Event{Type: EventTypeRunStarted}); err == nil {
		t.Errorf("Expected publish after shutdown to fail")
	}
}

func TestLogSubscriber(t *testing.T) {
	var buf bytes.Buffer
	sub := LogSubscriber(zerolog.New(&buf))

	sub(Event{
		Type:       EventTypePolicyViolation,
		Level:      EventLevelError,
		ResourceID: "exec:install",
		Message:    "unguarded exec",
		Data:       map[string]interface{}{"policy": "exec-requires-guard"},
	})

	out := buf.String()
	for _, want := range []string{`"level":"error"`, `"event":"policy.violation"`, `"policy":"exec-requires-guard"`, `"message":"unguarded exec"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected log output to contain %s, got %s", want, out)
		}
	}
}

func TestDisabledTracerIsNoop(t *testing.T) {
	tr, err := NewTracer(TracingConfig{Enabled: false}, "pabawi", "test", "test")
	if err != nil {
		t.Fatalf("Failed to create tracer: %v", err)
	}
	ctx, span := tr.StartCommandSpan(context.Background(), "plan", "/etc/pabawi/site.cue")
	defer span.End()

	if TraceID(ctx) != "" {
		t.Errorf("Expected no trace id from a no-op tracer")
	}
	if err := tr.Shutdown(context.Background()); err != nil {
		t.Errorf("Expected no error from no-op shutdown, got %v", err)
	}
}

func TestSamplingTracerRecordsTraceID(t *testing.T) {
	tr, err := NewTracer(TracingConfig{
		Enabled:            true,
		Exporter:           "none",
		SamplingRate:       1,
		MaxExportBatchSize: 8,
		ExportTimeout:      time.Second,
	}, "pabawi", "test", "test")
	if err != nil {
		t.Fatalf("Failed to create tracer: %v", err)
	}
	defer tr.Shutdown(context.Background())

	ctx, span := tr.StartSpan(context.Background(), "plan.compile", AttrRunID.String("r1"))
	RecordSuccess(span)
	span.End()

	if TraceID(ctx) == "" {
		t.Errorf("Expected a trace id from a sampling tracer")
	}
}
