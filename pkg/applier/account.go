package applier

import (
	"context"
	"errors"
	"strings"

	"github.com/openfroyo/pabawi/pkg/engine"
	"github.com/openfroyo/pabawi/pkg/transports"
)

// EnsureGroup creates a local group if it does not exist.
func (a *Applier) EnsureGroup(ctx context.Context, spec engine.GroupSpec) (engine.Outcome, error) {
	out, err := a.ensureGroup(ctx, spec)
	return out, classify("ensure group", engine.ResourceID(engine.ResourceKindGroup, spec.Name), err)
}

func (a *Applier) ensureGroup(ctx context.Context, spec engine.GroupSpec) (engine.Outcome, error) {
	_, err := a.host.LookupGroup(ctx, spec.Name)
	switch {
	case err == nil:
		return engine.Unchanged(), nil
	case !errors.Is(err, transports.ErrUnknownGroup):
		return engine.Outcome{}, err
	}

	args := []string{"groupadd"}
	if spec.System {
		args = append(args, "--system")
	}
	args = append(args, spec.Name)

	if _, err := a.run(ctx, transports.Command{Line: quoteArgs(args)}); err != nil {
		return engine.Outcome{}, err
	}
	return engine.Changed("created group %s", spec.Name), nil
}

// EnsureUser creates a local account if it does not exist. Existing
// accounts are left alone. The home directory is not created so that it
// can be the target of a later clone.
func (a *Applier) EnsureUser(ctx context.Context, spec engine.UserSpec) (engine.Outcome, error) {
	out, err := a.ensureUser(ctx, spec)
	return out, classify("ensure user", engine.ResourceID(engine.ResourceKindUser, spec.Name), err)
}

func (a *Applier) ensureUser(ctx context.Context, spec engine.UserSpec) (engine.Outcome, error) {
	_, err := a.host.LookupUser(ctx, spec.Name)
	switch {
	case err == nil:
		return engine.Unchanged(), nil
	case !errors.Is(err, transports.ErrUnknownUser):
		return engine.Outcome{}, err
	}

	args := []string{"useradd", "--no-create-home"}
	if spec.System {
		args = append(args, "--system")
	}
	if spec.Group != "" {
		args = append(args, "--gid", spec.Group)
	}
	if spec.Home != "" {
		args = append(args, "--home-dir", spec.Home)
	}
	if spec.Shell != "" {
		args = append(args, "--shell", spec.Shell)
	}
	args = append(args, spec.Name)

	if _, err := a.run(ctx, transports.Command{Line: quoteArgs(args)}); err != nil {
		return engine.Outcome{}, err
	}
	return engine.Changed("created user %s", spec.Name), nil
}

func quoteArgs(args []string) string {
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = transports.Quote(arg)
	}
	return strings.Join(quoted, " ")
}
