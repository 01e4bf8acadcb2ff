package applier

import (
	"context"
	"errors"
	"testing"

	"github.com/openfroyo/pabawi/pkg/engine"
	"github.com/openfroyo/pabawi/pkg/transports"
)

func TestRunCommand_Guards(t *testing.T) {
	tests := []struct {
		name    string
		guard   engine.Guard
		exists  bool
		checkOK bool
		wantRun bool
	}{
		{name: "no guard", wantRun: true},
		{name: "creates missing", guard: engine.Guard{Creates: "/opt/pabawi/node_modules"}, wantRun: true},
		{name: "creates present", guard: engine.Guard{Creates: "/opt/pabawi/node_modules"}, exists: true},
		{name: "unless succeeds", guard: engine.Guard{Unless: "check"}, checkOK: true},
		{name: "unless fails", guard: engine.Guard{Unless: "check"}, wantRun: true},
		{name: "onlyif succeeds", guard: engine.Guard{OnlyIf: "check"}, checkOK: true, wantRun: true},
		{name: "onlyif fails", guard: engine.Guard{OnlyIf: "check"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := newFakeHost()
			if tt.exists {
				host.addDir("/opt/pabawi/node_modules", 0o755)
			}
			host.handle = func(cmd transports.Command) transports.Result {
				if cmd.Line == "check" && !tt.checkOK {
					return exit(1, "")
				}
				return exit(0, "")
			}

			out, err := New(host).RunCommand(context.Background(), engine.CommandSpec{
				Name:    "npm-install",
				Command: "npm ci --omit=dev",
				Guard:   tt.guard,
			})
			if err != nil {
				t.Fatalf("RunCommand failed: %v", err)
			}

			ran := host.ran("npm ci")
			if ran != tt.wantRun {
				t.Errorf("Expected run=%v, got %v (commands %v)", tt.wantRun, ran, host.lines())
			}
			want := engine.OutcomeUnchanged
			if tt.wantRun {
				want = engine.OutcomeChanged
			}
			if out.Status != want {
				t.Errorf("Expected %s, got %s", want, out.Status)
			}
		})
	}
}

func TestRunCommand_Context(t *testing.T) {
	host := newFakeHost()
	spec := engine.CommandSpec{
		Name:    "npm-build",
		Command: "npm run build",
		Cwd:     "/opt/pabawi/frontend",
		User:    "pabawi",
		Env:     map[string]string{"NODE_ENV": "production"},
		Guard:   engine.Guard{Unless: "test -d dist"},
	}
	host.handle = func(cmd transports.Command) transports.Result {
		if cmd.Line == "test -d dist" {
			return exit(1, "")
		}
		return exit(0, "")
	}

	if _, err := New(host).RunCommand(context.Background(), spec); err != nil {
		t.Fatalf("RunCommand failed: %v", err)
	}
	if len(host.commands) != 2 {
		t.Fatalf("Expected guard and command, got %v", host.lines())
	}
	for _, cmd := range host.commands {
		if cmd.Dir != spec.Cwd || cmd.User != spec.User || cmd.Env["NODE_ENV"] != "production" {
			t.Errorf("Expected cwd, user and env on %q, got %+v", cmd.Line, cmd)
		}
	}
}

func TestRunCommand_Failure(t *testing.T) {
	host := newFakeHost()
	host.handle = func(transports.Command) transports.Result {
		return transports.Result{Stderr: "npm ERR! missing script: build", ExitCode: 1}
	}

	_, err := New(host).RunCommand(context.Background(), engine.CommandSpec{Name: "npm-build", Command: "npm run build"})
	if err == nil {
		t.Fatal("Expected error")
	}
	var ce *CommandError
	if !errors.As(err, &ce) {
		t.Fatalf("Expected CommandError, got %v", err)
	}
	if ce.Output != "npm ERR! missing script: build" {
		t.Errorf("Unexpected output: %q", ce.Output)
	}
	var ee *engine.EngineError
	if !errors.As(err, &ee) || ee.Resource != "exec:npm-build" {
		t.Errorf("Expected EngineError for exec:npm-build, got %v", err)
	}
}
