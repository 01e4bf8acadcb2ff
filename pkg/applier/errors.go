package applier

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/containerd/errdefs"

	"github.com/openfroyo/pabawi/pkg/engine"
	"github.com/openfroyo/pabawi/pkg/transports"
)

// CommandError reports a command that ran but exited non-zero.
type CommandError struct {
	Command  string
	ExitCode int
	Output   string
}

func (e *CommandError) Error() string {
	if e.Output == "" {
		return fmt.Sprintf("%q exited with code %d", e.Command, e.ExitCode)
	}
	return fmt.Sprintf("%q exited with code %d: %s", e.Command, e.ExitCode, e.Output)
}

// classify wraps err in an EngineError so the report can tell transient
// failures from permanent ones.
func classify(op, resourceID string, err error) error {
	if err == nil {
		return nil
	}

	var te *transports.TransportError
	var ee *engine.EngineError
	switch {
	case errors.As(err, &ee):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return engine.NewTransientError(op, err).
			WithCode(engine.ErrCodeTimeout).
			WithResource(resourceID)
	case errors.Is(err, context.Canceled):
		return engine.NewTransientError(op, err).WithResource(resourceID)
	case errors.As(err, &te) && te.Temporary():
		return engine.NewTransientError(op, err).
			WithCode(engine.ErrCodeApplierFailed).
			WithResource(resourceID)
	case errdefs.IsUnavailable(err):
		return engine.NewTransientError(op, err).
			WithCode(engine.ErrCodeApplierFailed).
			WithResource(resourceID)
	case errors.Is(err, fs.ErrPermission):
		return engine.NewPermanentError(op, err).
			WithCode(engine.ErrCodePermissionDenied).
			WithResource(resourceID)
	default:
		return engine.NewPermanentError(op, err).
			WithCode(engine.ErrCodeApplierFailed).
			WithResource(resourceID)
	}
}
