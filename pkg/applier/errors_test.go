package applier

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/containerd/errdefs"

	"github.com/openfroyo/pabawi/pkg/engine"
	"github.com/openfroyo/pabawi/pkg/transports"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		retryable bool
		code      string
	}{
		{
			name:      "deadline",
			err:       fmt.Errorf("run: %w", context.DeadlineExceeded),
			retryable: true,
			code:      engine.ErrCodeTimeout,
		},
		{
			name:      "temporary transport failure",
			err:       &transports.TransportError{Op: "run", Host: "web01:22", Err: errors.New("connection reset"), IsTemporary: true},
			retryable: true,
			code:      engine.ErrCodeApplierFailed,
		},
		{
			name:      "docker unavailable",
			err:       fmt.Errorf("inspect: %w", errdefs.ErrUnavailable),
			retryable: true,
			code:      engine.ErrCodeApplierFailed,
		},
		{
			name: "permission",
			err:  &fs.PathError{Op: "open", Path: "/etc/shadow", Err: fs.ErrPermission},
			code: engine.ErrCodePermissionDenied,
		},
		{
			name: "command failed",
			err:  &CommandError{Command: "false", ExitCode: 1},
			code: engine.ErrCodeApplierFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("ensure file", "file:/etc/motd", tt.err)

			var ee *engine.EngineError
			if !errors.As(err, &ee) {
				t.Fatalf("Expected EngineError, got %T", err)
			}
			if got := engine.IsRetryable(err); got != tt.retryable {
				t.Errorf("Expected retryable=%v, got %v", tt.retryable, got)
			}
			if ee.Code != tt.code {
				t.Errorf("Expected code %s, got %s", tt.code, ee.Code)
			}
			if ee.Resource != "file:/etc/motd" {
				t.Errorf("Expected resource file:/etc/motd, got %s", ee.Resource)
			}
			if !errors.Is(err, tt.err) {
				t.Error("Expected cause to stay in the chain")
			}
		})
	}
}

func TestClassify_Passthrough(t *testing.T) {
	if classify("op", "file:/x", nil) != nil {
		t.Error("Expected nil for nil error")
	}

	orig := engine.NewTransientError("already classified", nil)
	if got := classify("op", "file:/x", orig); got != error(orig) {
		t.Errorf("Expected classified error to pass through, got %v", got)
	}
}

func TestCommandError(t *testing.T) {
	err := &CommandError{Command: "systemctl start pabawi", ExitCode: 1}
	if err.Error() != `"systemctl start pabawi" exited with code 1` {
		t.Errorf("Unexpected message: %s", err.Error())
	}
	err.Output = "Unit pabawi.service not found."
	if err.Error() != `"systemctl start pabawi" exited with code 1: Unit pabawi.service not found.` {
		t.Errorf("Unexpected message: %s", err.Error())
	}
}
