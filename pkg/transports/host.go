// Package transports provides the Host abstraction appliers converge
// resources through, with a local implementation. The ssh subpackage
// provides a remote one.
package transports

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"sort"
	"strings"
)

// Host is a machine resources are converged on. Paths are absolute paths on
// that machine.
type Host interface {
	// Run executes a shell command. A non-zero exit status is reported in
	// the result, not as an error; err is set only when the command could
	// not be run at all.
	Run(ctx context.Context, cmd Command) (Result, error)

	// ReadFile returns the content of a file. Missing files yield an error
	// matching fs.ErrNotExist.
	ReadFile(ctx context.Context, path string) ([]byte, error)

	// WriteFile replaces the content of a file and sets its mode.
	WriteFile(ctx context.Context, path string, data []byte, mode fs.FileMode) error

	// Stat describes a path. Missing paths yield an error matching
	// fs.ErrNotExist.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// MkdirAll creates a directory and any missing parents.
	MkdirAll(ctx context.Context, path string, mode fs.FileMode) error

	// Chmod sets the permission bits of a path.
	Chmod(ctx context.Context, path string, mode fs.FileMode) error

	// Chown sets the numeric owner and group of a path.
	Chown(ctx context.Context, path string, uid, gid int) error

	// LookupUser resolves a user name to its uid. Unknown users yield
	// ErrUnknownUser.
	LookupUser(ctx context.Context, name string) (int, error)

	// LookupGroup resolves a group name to its gid. Unknown groups yield
	// ErrUnknownGroup.
	LookupGroup(ctx context.Context, name string) (int, error)

	// Name identifies the host in logs and reports.
	Name() string

	// Close releases the connection to the host.
	Close() error
}

// Dialer is implemented by hosts that can open connections from the
// target's point of view, such as to a local unix socket.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

var (
	// ErrUnknownUser is returned by LookupUser for a missing account.
	ErrUnknownUser = errors.New("unknown user")

	// ErrUnknownGroup is returned by LookupGroup for a missing group.
	ErrUnknownGroup = errors.New("unknown group")
)

// Command is a shell command line run with sh -c.
type Command struct {
	// Line is passed to sh -c.
	Line string

	// Dir is the working directory. Empty means the host default.
	Dir string

	// Env is added to the command's environment.
	Env map[string]string

	// User runs the command as another account through su.
	User string
}

// Shell renders the command as a single line for a remote shell.
func (c Command) Shell() string {
	var b strings.Builder
	if c.Dir != "" {
		b.WriteString("cd ")
		b.WriteString(Quote(c.Dir))
		b.WriteString(" && ")
	}
	line := c.Line
	if c.User != "" {
		line = "su -s /bin/sh " + Quote(c.User) + " -c " + Quote(line)
	}
	if len(c.Env) > 0 {
		b.WriteString("env")
		for _, kv := range c.EnvList() {
			b.WriteString(" ")
			b.WriteString(Quote(kv))
		}
		b.WriteString(" ")
	}
	b.WriteString("sh -c ")
	b.WriteString(Quote(line))
	return b.String()
}

// EnvList returns Env as sorted KEY=value pairs.
func (c Command) EnvList() []string {
	out := make([]string, 0, len(c.Env))
	for k, v := range c.Env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// Result is the outcome of a command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Success reports whether the command exited with status 0.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Output returns stderr when set, otherwise stdout. It is meant for error
// messages.
func (r Result) Output() string {
	if s := strings.TrimSpace(r.Stderr); s != "" {
		return s
	}
	return strings.TrimSpace(r.Stdout)
}

// FileInfo describes a path on a host.
type FileInfo struct {
	Mode  fs.FileMode
	IsDir bool
	Size  int64
	UID   int
	GID   int
}

// Perm returns the permission bits.
func (fi FileInfo) Perm() fs.FileMode {
	return fi.Mode.Perm()
}

// Quote single-quotes s for a POSIX shell.
func Quote(s string) string {
	if s != "" && strings.IndexFunc(s, needsQuote) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	case strings.ContainsRune("-_./=:,@+%", r):
		return false
	}
	return true
}
