package applier

import (
	"context"
	"errors"
	"io/fs"

	"github.com/openfroyo/pabawi/pkg/engine"
	"github.com/openfroyo/pabawi/pkg/transports"
)

// RunCommand runs an imperative step unless its guard says the step's
// effect is already in place.
func (a *Applier) RunCommand(ctx context.Context, spec engine.CommandSpec) (engine.Outcome, error) {
	out, err := a.runCommand(ctx, spec)
	return out, classify("run command", engine.ResourceID(engine.ResourceKindExec, spec.Name), err)
}

func (a *Applier) runCommand(ctx context.Context, spec engine.CommandSpec) (engine.Outcome, error) {
	skip, err := a.guardSatisfied(ctx, spec)
	if err != nil {
		return engine.Outcome{}, err
	}
	if skip {
		return engine.Unchanged(), nil
	}

	a.logger.Info().
		Str("exec", spec.Name).
		Str("command", spec.Command).
		Str("cwd", spec.Cwd).
		Str("user", spec.User).
		Msg("Running command")

	if _, err := a.run(ctx, a.command(spec, spec.Command)); err != nil {
		return engine.Outcome{}, err
	}
	return engine.Changed("executed %s", spec.Name), nil
}

// guardSatisfied reports whether the command must be skipped: Creates
// exists, Unless succeeds, or OnlyIf fails.
func (a *Applier) guardSatisfied(ctx context.Context, spec engine.CommandSpec) (bool, error) {
	g := spec.Guard

	if g.Creates != "" {
		_, err := a.host.Stat(ctx, g.Creates)
		switch {
		case err == nil:
			return true, nil
		case !errors.Is(err, fs.ErrNotExist):
			return false, err
		}
	}

	if g.Unless != "" {
		ok, err := a.probe(ctx, a.command(spec, g.Unless))
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}

	if g.OnlyIf != "" {
		ok, err := a.probe(ctx, a.command(spec, g.OnlyIf))
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
	}

	return false, nil
}

// command builds a host command sharing the step's cwd, user and env.
func (a *Applier) command(spec engine.CommandSpec, line string) transports.Command {
	return transports.Command{
		Line: line,
		Dir:  spec.Cwd,
		User: spec.User,
		Env:  spec.Env,
	}
}
