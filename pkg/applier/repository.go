package applier

import (
	"context"
	"errors"
	"io/fs"
	"path"
	"strings"

	"github.com/openfroyo/pabawi/pkg/engine"
	"github.com/openfroyo/pabawi/pkg/transports"
)

const defaultRevision = "HEAD"

// EnsureRepository clones the repository when the checkout is missing and
// otherwise checks out the revision only when HEAD differs from it.
func (a *Applier) EnsureRepository(ctx context.Context, spec engine.RepositorySpec) (engine.Outcome, error) {
	out, err := a.ensureRepository(ctx, spec)
	return out, classify("ensure repository", engine.ResourceID(engine.ResourceKindRepository, spec.Path), err)
}

func (a *Applier) ensureRepository(ctx context.Context, spec engine.RepositorySpec) (engine.Outcome, error) {
	revision := spec.Revision
	if revision == "" {
		revision = defaultRevision
	}

	_, err := a.host.Stat(ctx, path.Join(spec.Path, ".git"))
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return a.cloneRepository(ctx, spec, revision)
	case err != nil:
		return engine.Outcome{}, err
	}

	if _, err := a.git(ctx, spec, "fetch", "--quiet", "--tags", "origin"); err != nil {
		return engine.Outcome{}, err
	}

	head, err := a.git(ctx, spec, "rev-parse", "HEAD")
	if err != nil {
		return engine.Outcome{}, err
	}
	target, remote, err := a.resolveRevision(ctx, spec, revision)
	if err != nil {
		return engine.Outcome{}, err
	}
	if head == target {
		return engine.Unchanged(), nil
	}

	if err := a.checkout(ctx, spec, revision, remote); err != nil {
		return engine.Outcome{}, err
	}
	return engine.Changed("checked out %s at %s (was %s)", revision, short(target), short(head)), nil
}

func (a *Applier) cloneRepository(ctx context.Context, spec engine.RepositorySpec, revision string) (engine.Outcome, error) {
	// Clone as the connecting account, then hand the tree to spec.User
	// who may not be able to write the parent directory.
	line := "git clone --quiet " + transports.Quote(spec.URL) + " " + transports.Quote(spec.Path)
	if _, err := a.run(ctx, transports.Command{Line: line}); err != nil {
		return engine.Outcome{}, err
	}
	if spec.User != "" {
		chown := "chown -R " + transports.Quote(spec.User+":") + " " + transports.Quote(spec.Path)
		if _, err := a.run(ctx, transports.Command{Line: chown}); err != nil {
			return engine.Outcome{}, err
		}
	}

	if revision != defaultRevision {
		_, remote, err := a.resolveRevision(ctx, spec, revision)
		if err != nil {
			return engine.Outcome{}, err
		}
		if err := a.checkout(ctx, spec, revision, remote); err != nil {
			return engine.Outcome{}, err
		}
	}

	head, err := a.git(ctx, spec, "rev-parse", "HEAD")
	if err != nil {
		return engine.Outcome{}, err
	}
	return engine.Changed("cloned %s at %s", spec.URL, short(head)), nil
}

// resolveRevision returns the commit a revision names. Branch names
// resolve against origin so a fetch moves the target forward.
func (a *Applier) resolveRevision(ctx context.Context, spec engine.RepositorySpec, revision string) (string, bool, error) {
	if revision != defaultRevision {
		if sha, err := a.git(ctx, spec, "rev-parse", "--verify", "--quiet", "origin/"+revision+"^{commit}"); err == nil {
			return sha, true, nil
		}
	}
	sha, err := a.git(ctx, spec, "rev-parse", "--verify", revision+"^{commit}")
	return sha, false, err
}

func (a *Applier) checkout(ctx context.Context, spec engine.RepositorySpec, revision string, remote bool) error {
	var err error
	if remote {
		_, err = a.git(ctx, spec, "checkout", "--quiet", "--force", "-B", revision, "origin/"+revision)
	} else {
		_, err = a.git(ctx, spec, "checkout", "--quiet", "--force", revision)
	}
	return err
}

// git runs a git subcommand inside the checkout and returns trimmed stdout.
func (a *Applier) git(ctx context.Context, spec engine.RepositorySpec, args ...string) (string, error) {
	res, err := a.run(ctx, transports.Command{
		Line: "git " + quoteArgs(args),
		Dir:  spec.Path,
		User: spec.User,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

func short(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
