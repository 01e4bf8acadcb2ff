package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/pabawi/pkg/engine"
	"github.com/openfroyo/pabawi/pkg/policy"
	"github.com/openfroyo/pabawi/pkg/stores"
	"github.com/openfroyo/pabawi/pkg/transports"
)

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCommand("1.2.3", "abc1234", "2026-03-01")
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(append(args, "--log-level", "error"))

	err := cmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	return path
}

const siteConfig = `
install_settings:
  port: 3000
integrations: [bolt, hiera]
`

func TestVersionCommand(t *testing.T) {
	out, err := executeCommand(t, "version")
	if err != nil {
		t.Fatalf("version failed: %v", err)
	}
	for _, want := range []string{"1.2.3", "abc1234", "2026-03-01"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output, got %q", want, out)
		}
	}

	out, err = executeCommand(t, "version", "--json")
	if err != nil {
		t.Fatalf("version --json failed: %v", err)
	}
	var v map[string]string
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("Expected JSON output: %v", err)
	}
	if v["version"] != "1.2.3" {
		t.Errorf("Expected version 1.2.3, got %s", v["version"])
	}
}

func TestValidateCommand(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
		want    []string
	}{
		{
			name:    "valid",
			content: siteConfig,
			want:    []string{"is valid", "pabawi::proxy::nginx", "pabawi::install::npm", "bolt"},
		},
		{
			name:    "proxy unmanaged",
			content: "proxy_manage: false\n",
			want:    []string{"is valid", "unmanaged"},
		},
		{
			name:    "invalid",
			content: "proxy_manage: maybe\ninstall_class: 'Bad Name'\n",
			wantErr: true,
			want:    []string{"is invalid", "proxy_manage", "install_class"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, "pabawi.yaml", tt.content)
			out, err := executeCommand(t, "validate", "-c", path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error %v, got %v", tt.wantErr, err)
			}
			for _, want := range tt.want {
				if !strings.Contains(out, want) {
					t.Errorf("Expected %q in output, got:\n%s", want, out)
				}
			}
		})
	}
}

func TestValidateCommand_MissingFile(t *testing.T) {
	if _, err := executeCommand(t, "validate", "-c", filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("Expected error for missing config")
	}
}

func TestPlanCommand(t *testing.T) {
	path := writeConfig(t, "pabawi.yaml", siteConfig)

	out, err := executeCommand(t, "plan", "-c", path)
	if err != nil {
		t.Fatalf("plan failed: %v", err)
	}
	for _, want := range []string{"package:nginx", "pabawi::proxy::nginx", "pabawi::integrations::bolt", "pabawi::integrations::hiera"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in plan output, got:\n%s", want, out)
		}
	}

	// The proxy's resources come before the installer's.
	if strings.Index(out, "pabawi::proxy::nginx") > strings.Index(out, "pabawi::install::npm") {
		t.Error("Expected proxy resources before installer resources")
	}
}

func TestPlanCommand_DOT(t *testing.T) {
	path := writeConfig(t, "pabawi.yaml", siteConfig)

	out, err := executeCommand(t, "plan", "--dot", "-c", path)
	if err != nil {
		t.Fatalf("plan --dot failed: %v", err)
	}
	if !strings.HasPrefix(strings.TrimSpace(out), "digraph") {
		t.Errorf("Expected DOT output, got:\n%s", out)
	}
}

func TestPlanCommand_JSON(t *testing.T) {
	path := writeConfig(t, "pabawi.yaml", "integrations: [bolt]\n")

	out, err := executeCommand(t, "plan", "--json", "-c", path)
	if err != nil {
		t.Fatalf("plan --json failed: %v", err)
	}

	var catalog struct {
		Resources []struct {
			ID    string `json:"id"`
			Owner string `json:"owner"`
		} `json:"resources"`
	}
	if err := json.Unmarshal([]byte(out), &catalog); err != nil {
		t.Fatalf("Expected JSON catalog: %v\n%s", err, out)
	}
	if len(catalog.Resources) == 0 {
		t.Fatal("Expected resources in catalog")
	}
	last := catalog.Resources[len(catalog.Resources)-1]
	if last.Owner != "pabawi::integrations::bolt" {
		t.Errorf("Expected integration resources last, got owner %s", last.Owner)
	}
}

func TestComponentsCommand(t *testing.T) {
	out, err := executeCommand(t, "components")
	if err != nil {
		t.Fatalf("components failed: %v", err)
	}
	for _, want := range []string{"pabawi::proxy::nginx", "pabawi::install::npm", "pabawi::install::docker", "pabawi::integrations::ansible"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in output", want)
		}
	}

	out, err = executeCommand(t, "components", "pabawi::install::npm")
	if err != nil {
		t.Fatalf("components <name> failed: %v", err)
	}
	if !strings.Contains(out, "PARAMETER") || !strings.Contains(out, "port") {
		t.Errorf("Expected parameter table, got:\n%s", out)
	}

	if _, err := executeCommand(t, "components", "pabawi::proxy::caddy"); err == nil {
		t.Error("Expected error for unknown component")
	}
}

func TestHistoryCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "runs.db")
	ctx := context.Background()

	store, err := stores.Open(ctx, stores.Config{Path: dbPath})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"run-old", "run-new"} {
		report := &engine.RunReport{
			RunID:       id,
			Status:      engine.RunStatusSucceeded,
			StartedAt:   started.Add(time.Duration(i) * time.Hour),
			CompletedAt: started.Add(time.Duration(i)*time.Hour + time.Second),
			Entries: []engine.ReportEntry{
				{ResourceID: "package:nginx", Kind: engine.ResourceKindPackage, Outcome: engine.OutcomeChanged, Detail: "installed"},
			},
			Summary: engine.RunSummary{Total: 1, Changed: 1},
		}
		if err := store.SaveReport(ctx, report, "local"); err != nil {
			t.Fatalf("SaveReport failed: %v", err)
		}
	}
	_ = store.Close()

	out, err := executeCommand(t, "history", "--db", dbPath)
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if strings.Index(out, "run-new") > strings.Index(out, "run-old") {
		t.Errorf("Expected newest run first, got:\n%s", out)
	}

	out, err = executeCommand(t, "history", "--db", dbPath, "--run", "run-old")
	if err != nil {
		t.Fatalf("history --run failed: %v", err)
	}
	if !strings.Contains(out, "package:nginx") || !strings.Contains(out, "installed") {
		t.Errorf("Expected full report, got:\n%s", out)
	}

	if _, err := executeCommand(t, "history", "--db", dbPath, "--run", "missing"); !errors.Is(err, stores.ErrRunNotFound) {
		t.Errorf("Expected ErrRunNotFound, got %v", err)
	}

	out, err = executeCommand(t, "history", "--db", dbPath, "--prune", "1")
	if err != nil {
		t.Fatalf("history --prune failed: %v", err)
	}
	if !strings.Contains(out, "removed 1 runs") {
		t.Errorf("Expected prune count, got %q", out)
	}

	out, err = executeCommand(t, "history", "--db", dbPath, "--json")
	if err != nil {
		t.Fatalf("history --json failed: %v", err)
	}
	var runs []stores.RunRecord
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("Expected JSON runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != "run-new" {
		t.Errorf("Expected only run-new, got %+v", runs)
	}
}

func TestHistoryCommand_Empty(t *testing.T) {
	out, err := executeCommand(t, "history", "--db", filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(out, "no runs recorded") {
		t.Errorf("Expected empty notice, got %q", out)
	}
}

func TestConnect_InvalidTarget(t *testing.T) {
	tests := []string{"web01", "http://web01", "ssh://", "ssh://root@web01:notaport"}
	for _, target := range tests {
		t.Run(target, func(t *testing.T) {
			if _, err := connect(context.Background(), applyOptions{target: target}); err == nil {
				t.Errorf("Expected error for target %q", target)
			}
		})
	}
}

func TestConnect_Local(t *testing.T) {
	host, err := connect(context.Background(), applyOptions{})
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}
	defer host.Close()
	if _, ok := host.(*transports.LocalHost); !ok {
		t.Errorf("Expected *transports.LocalHost, got %T", host)
	}
}

func TestPrintDenied(t *testing.T) {
	err := engine.NewPermanentError("catalog rejected by policy", &policy.DeniedError{
		Violations: []policy.Violation{
			{Policy: "exec-requires-guard", Resource: "exec:setup", Message: "no guard", Severity: policy.SeverityError},
		},
	}).WithCode(engine.ErrCodePolicyDenied)

	var buf bytes.Buffer
	printDenied(&buf, err)
	if !strings.Contains(buf.String(), "exec-requires-guard") || !strings.Contains(buf.String(), "exec:setup") {
		t.Errorf("Expected violation listed, got %q", buf.String())
	}

	buf.Reset()
	printDenied(&buf, errors.New("other"))
	if buf.Len() != 0 {
		t.Errorf("Expected nothing for unrelated error, got %q", buf.String())
	}
}

func TestRenderReport(t *testing.T) {
	failure := engine.ReportEntry{
		ResourceID: "service:pabawi",
		Outcome:    engine.OutcomeFailed,
		Reason:     "unit not found",
		Retryable:  true,
	}
	report := &engine.RunReport{
		RunID:  "r1",
		Status: engine.RunStatusFailed,
		Entries: []engine.ReportEntry{
			{ResourceID: "file:/etc/nginx/conf.d/pabawi.conf", Outcome: engine.OutcomeChanged, Detail: "content"},
			{ResourceID: "service:nginx", Outcome: engine.OutcomeChanged, Detail: "restarted", Refreshed: true},
			failure,
		},
		FirstFailure: &failure,
		Warnings:     []engine.UnresolvedReference{{Field: "integrations", Name: "nagios", Component: "pabawi::integrations::nagios"}},
		Summary:      engine.RunSummary{Total: 4, Changed: 2, Failed: 1, Skipped: 1},
	}

	out := renderReport(report)
	for _, want := range []string{
		"unit not found (retryable)",
		"restarted [refresh]",
		"4 total, 2 changed, 0 unchanged, 1 failed, 1 skipped",
		"halted at service:pabawi",
		"nagios",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in report, got:\n%s", want, out)
		}
	}
}

func TestApplyRunOnce(t *testing.T) {
	path := writeConfig(t, "pabawi.yaml", "integrations: [bolt]\n")
	old := configPath
	configPath = path
	t.Cleanup(func() { configPath = old })

	tel, err := newTelemetry(telemetryOptions{})
	if err != nil {
		t.Fatalf("newTelemetry failed: %v", err)
	}

	store, err := stores.Open(context.Background(), stores.Config{Path: ":memory:"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer store.Close()

	tests := []struct {
		name       string
		failKind   engine.ResourceKind
		wantErr    bool
		wantStatus engine.RunStatus
	}{
		{name: "converges", wantStatus: engine.RunStatusSucceeded},
		{name: "fatal failure", failKind: engine.ResourceKindPackage, wantErr: true, wantStatus: engine.RunStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			run := &applyRun{
				out:          &buf,
				logger:       zerolog.Nop(),
				tel:          tel,
				orchestrator: newOrchestrator(tel, nil),
				applier:      &fakeApplier{failKind: tt.failKind},
				target:       "local",
				runLog:       store,
			}

			err := run.once(context.Background())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error %v, got %v", tt.wantErr, err)
			}
			if tt.wantErr && !errors.Is(err, errRunFailed) {
				t.Errorf("Expected errRunFailed, got %v", err)
			}

			runs, err := store.ListRuns(context.Background(), 1)
			if err != nil || len(runs) != 1 {
				t.Fatalf("Expected the run to be recorded, got %v (%v)", runs, err)
			}
			if runs[0].Status != tt.wantStatus {
				t.Errorf("Expected status %s, got %s", tt.wantStatus, runs[0].Status)
			}
			if !strings.Contains(buf.String(), string(tt.wantStatus)) {
				t.Errorf("Expected status in output, got:\n%s", buf.String())
			}
		})
	}
}

func TestApplyRunOnce_PolicyDenied(t *testing.T) {
	path := writeConfig(t, "pabawi.yaml", "")
	old := configPath
	configPath = path
	t.Cleanup(func() { configPath = old })

	tel, err := newTelemetry(telemetryOptions{})
	if err != nil {
		t.Fatalf("newTelemetry failed: %v", err)
	}

	var buf bytes.Buffer
	run := &applyRun{
		out:          &buf,
		logger:       zerolog.Nop(),
		tel:          tel,
		orchestrator: newOrchestrator(tel, denyAll{}),
		applier:      &fakeApplier{},
		target:       "local",
	}

	err = run.once(context.Background())
	if !engine.HasCode(err, engine.ErrCodePolicyDenied) {
		t.Fatalf("Expected policy denial, got %v", err)
	}
	if !strings.Contains(buf.String(), "catalog rejected by policy") {
		t.Errorf("Expected denial printed, got %q", buf.String())
	}
}

type denyAll struct{}

func (denyAll) Check(_ context.Context, catalog *engine.Catalog) error {
	return engine.NewPermanentError("catalog rejected by policy", &policy.DeniedError{
		Violations: []policy.Violation{{Policy: "deny-all", Resource: catalog.Resources[0].ID, Message: "denied", Severity: policy.SeverityError}},
	}).WithCode(engine.ErrCodePolicyDenied)
}

func TestTelemetryConfig_Tracing(t *testing.T) {
	tests := []struct {
		name         string
		exporter     string
		endpoint     string
		wantEnabled  bool
		wantExporter string
		wantEndpoint string
		wantInsecure bool
		wantErr      bool
	}{
		{name: "off by default", wantExporter: "none"},
		{name: "explicit none ignores endpoint", exporter: "none", endpoint: "collector:4317", wantExporter: "none"},
		{name: "stdout", exporter: "stdout", wantEnabled: true, wantExporter: "stdout"},
		{name: "endpoint implies otlp", endpoint: "collector:4317",
			wantEnabled: true, wantExporter: "otlp", wantEndpoint: "collector:4317", wantInsecure: true},
		{name: "http endpoint", exporter: "otlp", endpoint: "http://collector:4317/",
			wantEnabled: true, wantExporter: "otlp", wantEndpoint: "collector:4317", wantInsecure: true},
		{name: "https endpoint", exporter: "otlp", endpoint: "https://otel.example.com:443",
			wantEnabled: true, wantExporter: "otlp", wantEndpoint: "otel.example.com:443"},
		{name: "otlp without endpoint", exporter: "otlp", wantErr: true},
		{name: "unknown exporter", exporter: "jaeger", wantErr: true},
	}

	logLevel, logFormat = "info", "console"
	t.Cleanup(func() { traceExporter, otlpEndpoint = "", "" })
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			traceExporter, otlpEndpoint = tt.exporter, tt.endpoint

			cfg, err := telemetryConfig(telemetryOptions{})
			if tt.wantErr {
				if err == nil {
					t.Fatal("Expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("telemetryConfig failed: %v", err)
			}
			if err := cfg.Validate(); err != nil {
				t.Fatalf("Expected valid telemetry config, got %v", err)
			}
			if cfg.Tracing.Enabled != tt.wantEnabled {
				t.Errorf("Expected tracing enabled=%v, got %v", tt.wantEnabled, cfg.Tracing.Enabled)
			}
			if cfg.Tracing.Exporter != tt.wantExporter {
				t.Errorf("Expected exporter %q, got %q", tt.wantExporter, cfg.Tracing.Exporter)
			}
			if tt.wantEnabled && tt.wantExporter == "otlp" {
				if cfg.Tracing.Endpoint != tt.wantEndpoint {
					t.Errorf("Expected endpoint %q, got %q", tt.wantEndpoint, cfg.Tracing.Endpoint)
				}
				if cfg.Tracing.Insecure != tt.wantInsecure {
					t.Errorf("Expected insecure=%v, got %v", tt.wantInsecure, cfg.Tracing.Insecure)
				}
			}
		})
	}
}

func TestPlanCommand_TraceExporter(t *testing.T) {
	path := writeConfig(t, "pabawi.yaml", "integrations: [bolt]\n")

	if _, err := executeCommand(t, "plan", "--trace-exporter", "stdout", "-c", path); err != nil {
		t.Fatalf("plan with stdout tracing failed: %v", err)
	}

	_, err := executeCommand(t, "plan", "--trace-exporter", "jaeger", "-c", path)
	if err == nil || !strings.Contains(err.Error(), "unknown trace exporter") {
		t.Errorf("Expected unknown trace exporter error, got %v", err)
	}
}

func TestRootCommand_OTLPEndpointFromEnv(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "http://collector:4317")
	t.Cleanup(func() { traceExporter, otlpEndpoint = "", "" })

	newRootCommand("1.2.3", "abc1234", "2026-03-01")

	cfg, err := telemetryConfig(telemetryOptions{})
	if err != nil {
		t.Fatalf("telemetryConfig failed: %v", err)
	}
	if !cfg.Tracing.Enabled || cfg.Tracing.Exporter != "otlp" || cfg.Tracing.Endpoint != "collector:4317" {
		t.Errorf("Expected OTLP tracing to collector:4317, got %+v", cfg.Tracing)
	}
}
