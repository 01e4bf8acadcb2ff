package transports

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strconv"

	"github.com/rs/zerolog/log"
)

// LocalHost converges resources on the machine pabawi runs on.
type LocalHost struct {
	name string
}

var (
	_ Host   = (*LocalHost)(nil)
	_ Dialer = (*LocalHost)(nil)
)

// NewLocalHost returns a Host for the local machine.
func NewLocalHost() *LocalHost {
	name, err := os.Hostname()
	if err != nil {
		name = "localhost"
	}
	return &LocalHost{name: name}
}

// Name returns the local hostname.
func (h *LocalHost) Name() string {
	return h.name
}

// Run executes cmd with sh -c.
func (h *LocalHost) Run(ctx context.Context, cmd Command) (Result, error) {
	args := []string{"-c", cmd.Line}
	name := "sh"
	if cmd.User != "" {
		name = "su"
		args = []string{"-s", "/bin/sh", cmd.User, "-c", cmd.Line}
	}

	c := exec.CommandContext(ctx, name, args...)
	c.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		c.Env = append(os.Environ(), cmd.EnvList()...)
	}

	var stdout, stderr bytes.Buffer
	c.Stdout = &stdout
	c.Stderr = &stderr

	log.Debug().Str("command", cmd.Line).Str("dir", cmd.Dir).Msg("running local command")

	err := c.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && ctx.Err() == nil {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, &TransportError{Op: "run", Host: h.name, Err: err, IsTemporary: ctx.Err() != nil}
	}
	return res, nil
}

// ReadFile reads path.
func (h *LocalHost) ReadFile(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(path)
}

// WriteFile writes data to a temporary file next to path and renames it
// into place, so readers never observe a partial file.
func (h *LocalHost) WriteFile(_ context.Context, path string, data []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".pabawi-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// Stat describes path.
func (h *LocalHost) Stat(_ context.Context, path string) (FileInfo, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, err
	}
	uid, gid := statOwner(fi)
	return FileInfo{
		Mode:  fi.Mode(),
		IsDir: fi.IsDir(),
		Size:  fi.Size(),
		UID:   uid,
		GID:   gid,
	}, nil
}

// MkdirAll creates path and any missing parents.
func (h *LocalHost) MkdirAll(_ context.Context, path string, mode fs.FileMode) error {
	return os.MkdirAll(path, mode)
}

// Chmod sets the permission bits of path.
func (h *LocalHost) Chmod(_ context.Context, path string, mode fs.FileMode) error {
	return os.Chmod(path, mode)
}

// Chown sets the owner and group of path.
func (h *LocalHost) Chown(_ context.Context, path string, uid, gid int) error {
	return os.Chown(path, uid, gid)
}

// LookupUser resolves name through the local account database.
func (h *LocalHost) LookupUser(_ context.Context, name string) (int, error) {
	u, err := user.Lookup(name)
	if err != nil {
		var unknown user.UnknownUserError
		if errors.As(err, &unknown) {
			return 0, fmt.Errorf("%w: %s", ErrUnknownUser, name)
		}
		return 0, err
	}
	return strconv.Atoi(u.Uid)
}

// LookupGroup resolves name through the local group database.
func (h *LocalHost) LookupGroup(_ context.Context, name string) (int, error) {
	g, err := user.LookupGroup(name)
	if err != nil {
		var unknown user.UnknownGroupError
		if errors.As(err, &unknown) {
			return 0, fmt.Errorf("%w: %s", ErrUnknownGroup, name)
		}
		return 0, err
	}
	return strconv.Atoi(g.Gid)
}

// DialContext connects to addr on this machine.
func (h *LocalHost) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, addr)
}

// Close is a no-op for the local host.
func (h *LocalHost) Close() error {
	return nil
}
