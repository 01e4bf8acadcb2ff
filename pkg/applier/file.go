package applier

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/openfroyo/pabawi/pkg/engine"
	"github.com/openfroyo/pabawi/pkg/transports"
)

const (
	defaultFileMode fs.FileMode = 0o644
	defaultDirMode  fs.FileMode = 0o755
)

// EnsureFile writes a file only when its content differs and fixes mode
// and ownership only when they differ.
func (a *Applier) EnsureFile(ctx context.Context, spec engine.FileSpec) (engine.Outcome, error) {
	out, err := a.ensureFile(ctx, spec)
	return out, classify("ensure file", engine.ResourceID(engine.ResourceKindFile, spec.Path), err)
}

func (a *Applier) ensureFile(ctx context.Context, spec engine.FileSpec) (engine.Outcome, error) {
	desired := []byte(spec.Content)
	if spec.Source != "" {
		data, err := a.readSource(spec.Source)
		if err != nil {
			return engine.Outcome{}, fmt.Errorf("read source %s: %w", spec.Source, err)
		}
		desired = data
	}

	mode := fs.FileMode(spec.Mode)
	if mode == 0 {
		mode = defaultFileMode
	}

	var changes []string

	cur, err := a.host.Stat(ctx, spec.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := a.host.WriteFile(ctx, spec.Path, desired, mode); err != nil {
			return engine.Outcome{}, err
		}
		changes = append(changes, "created")
		if cur, err = a.host.Stat(ctx, spec.Path); err != nil {
			return engine.Outcome{}, err
		}
	case err != nil:
		return engine.Outcome{}, err
	case cur.IsDir:
		return engine.Outcome{}, fmt.Errorf("%s is a directory", spec.Path)
	default:
		current, err := a.host.ReadFile(ctx, spec.Path)
		if err != nil {
			return engine.Outcome{}, err
		}
		if sha256.Sum256(current) != sha256.Sum256(desired) {
			if err := a.host.WriteFile(ctx, spec.Path, desired, mode); err != nil {
				return engine.Outcome{}, err
			}
			changes = append(changes, "content")
			if cur, err = a.host.Stat(ctx, spec.Path); err != nil {
				return engine.Outcome{}, err
			}
		}
	}

	attrs, err := a.ensureAttributes(ctx, spec.Path, mode, spec.Owner, spec.Group, cur)
	if err != nil {
		return engine.Outcome{}, err
	}
	changes = append(changes, attrs...)

	if len(changes) == 0 {
		return engine.Unchanged(), nil
	}
	return engine.Changed("%s", strings.Join(changes, ", ")), nil
}

// EnsureDirectory creates a directory if missing and fixes mode and
// ownership only when they differ.
func (a *Applier) EnsureDirectory(ctx context.Context, spec engine.DirectorySpec) (engine.Outcome, error) {
	out, err := a.ensureDirectory(ctx, spec)
	return out, classify("ensure directory", engine.ResourceID(engine.ResourceKindDirectory, spec.Path), err)
}

func (a *Applier) ensureDirectory(ctx context.Context, spec engine.DirectorySpec) (engine.Outcome, error) {
	mode := fs.FileMode(spec.Mode)
	if mode == 0 {
		mode = defaultDirMode
	}

	var changes []string

	cur, err := a.host.Stat(ctx, spec.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := a.host.MkdirAll(ctx, spec.Path, mode); err != nil {
			return engine.Outcome{}, err
		}
		changes = append(changes, "created")
		if cur, err = a.host.Stat(ctx, spec.Path); err != nil {
			return engine.Outcome{}, err
		}
	case err != nil:
		return engine.Outcome{}, err
	case !cur.IsDir:
		return engine.Outcome{}, fmt.Errorf("%s exists and is not a directory", spec.Path)
	}

	attrs, err := a.ensureAttributes(ctx, spec.Path, mode, spec.Owner, spec.Group, cur)
	if err != nil {
		return engine.Outcome{}, err
	}
	changes = append(changes, attrs...)

	if len(changes) == 0 {
		return engine.Unchanged(), nil
	}
	return engine.Changed("%s", strings.Join(changes, ", ")), nil
}

// ensureAttributes converges mode and ownership of an existing path and
// returns what it changed.
func (a *Applier) ensureAttributes(ctx context.Context, path string, mode fs.FileMode, owner, group string, cur transports.FileInfo) ([]string, error) {
	var changes []string

	if cur.Perm() != mode.Perm() {
		if err := a.host.Chmod(ctx, path, mode); err != nil {
			return nil, err
		}
		changes = append(changes, fmt.Sprintf("mode %04o", mode.Perm()))
	}

	if owner == "" && group == "" {
		return changes, nil
	}
	uid, gid, err := a.resolveOwner(ctx, owner, group, cur)
	if err != nil {
		return nil, err
	}
	if uid != cur.UID || gid != cur.GID {
		if err := a.host.Chown(ctx, path, uid, gid); err != nil {
			return nil, err
		}
		changes = append(changes, "owner "+ownerString(owner, group))
	}
	return changes, nil
}

func ownerString(owner, group string) string {
	var b bytes.Buffer
	b.WriteString(owner)
	if group != "" {
		b.WriteString(":")
		b.WriteString(group)
	}
	return b.String()
}
