package components

import (
	"context"
	"errors"
	"io/fs"
	"strings"
	"testing"

	"github.com/openfroyo/pabawi/pkg/applier"
	"github.com/openfroyo/pabawi/pkg/engine"
	"github.com/openfroyo/pabawi/pkg/transports"
)

// checkoutHost is a working tree whose HEAD can be moved. It understands
// only the build step and its guard.
type checkoutHost struct {
	head   string
	stamp  string
	builds int
}

func (h *checkoutHost) Run(_ context.Context, cmd transports.Command) (transports.Result, error) {
	switch cmd.Line {
	case builtGuard:
		if h.stamp != "" && h.stamp == h.head {
			return transports.Result{}, nil
		}
		return transports.Result{ExitCode: 1}, nil
	case buildCommand:
		h.builds++
		h.stamp = h.head
		return transports.Result{}, nil
	}
	return transports.Result{ExitCode: 127, Stderr: "unexpected command " + cmd.Line}, nil
}

func (h *checkoutHost) ReadFile(context.Context, string) ([]byte, error) {
	return nil, fs.ErrNotExist
}

func (h *checkoutHost) WriteFile(context.Context, string, []byte, fs.FileMode) error {
	return errors.New("read-only")
}

func (h *checkoutHost) Stat(context.Context, string) (transports.FileInfo, error) {
	return transports.FileInfo{}, fs.ErrNotExist
}

func (h *checkoutHost) MkdirAll(context.Context, string, fs.FileMode) error { return nil }
func (h *checkoutHost) Chmod(context.Context, string, fs.FileMode) error    { return nil }
func (h *checkoutHost) Chown(context.Context, string, int, int) error       { return nil }

func (h *checkoutHost) LookupUser(context.Context, string) (int, error) {
	return 0, transports.ErrUnknownUser
}

func (h *checkoutHost) LookupGroup(context.Context, string) (int, error) {
	return 0, transports.ErrUnknownGroup
}

func (h *checkoutHost) Name() string { return "checkout" }
func (h *checkoutHost) Close() error { return nil }

func TestNpmBuild_RebuildsOnNewRevision(t *testing.T) {
	plan := compile(t, "{}")
	decl, ok := plan.Catalog.Get("exec:pabawi-npm-build")
	if !ok {
		t.Fatal("Expected npm build step in catalog")
	}
	spec := *decl.Payload.(*engine.CommandSpec)
	if !strings.Contains(spec.Command, BuildStamp) {
		t.Errorf("Expected build to write %s, got %q", BuildStamp, spec.Command)
	}

	host := &checkoutHost{head: "4f2a9c1"}
	a := applier.New(host)
	ctx := context.Background()

	steps := []struct {
		name   string
		head   string
		want   engine.OutcomeStatus
		builds int
	}{
		{name: "first checkout", head: "4f2a9c1", want: engine.OutcomeChanged, builds: 1},
		{name: "same revision", head: "4f2a9c1", want: engine.OutcomeUnchanged, builds: 1},
		{name: "new revision, same lock file", head: "b71e0d3", want: engine.OutcomeChanged, builds: 2},
		{name: "converged again", head: "b71e0d3", want: engine.OutcomeUnchanged, builds: 2},
	}

	for _, step := range steps {
		host.head = step.head
		out, err := a.RunCommand(ctx, spec)
		if err != nil {
			t.Fatalf("%s: RunCommand failed: %v", step.name, err)
		}
		if out.Status != step.want {
			t.Errorf("%s: expected %s, got %s", step.name, step.want, out.Status)
		}
		if host.builds != step.builds {
			t.Errorf("%s: expected %d builds, got %d", step.name, step.builds, host.builds)
		}
	}
}
