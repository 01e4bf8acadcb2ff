package transports

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", "''"},
		{"/opt/pabawi", "/opt/pabawi"},
		{"NODE_ENV=production", "NODE_ENV=production"},
		{"npm run build", "'npm run build'"},
		{"it's", `'it'\''s'`},
		{"$HOME", "'$HOME'"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Quote(tt.in); got != tt.want {
				t.Fatalf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestCommandShell(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{
			name: "plain",
			cmd:  Command{Line: "true"},
			want: "sh -c true",
		},
		{
			name: "dir",
			cmd:  Command{Line: "echo hi", Dir: "/tmp"},
			want: "cd /tmp && sh -c 'echo hi'",
		},
		{
			name: "env sorted",
			cmd:  Command{Line: "npm ci", Env: map[string]string{"B": "2", "A": "1"}},
			want: "env A=1 B=2 sh -c 'npm ci'",
		},
		{
			name: "user",
			cmd:  Command{Line: "npm ci", User: "pabawi"},
			want: `sh -c 'su -s /bin/sh pabawi -c '\''npm ci'\'''`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cmd.Shell(); got != tt.want {
				t.Fatalf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestLocalHostRun(t *testing.T) {
	h := NewLocalHost()
	ctx := context.Background()
	dir := t.TempDir()

	res, err := h.Run(ctx, Command{Line: "pwd; echo $GREETING", Dir: dir, Env: map[string]string{"GREETING": "hello"}})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !res.Success() {
		t.Fatalf("Expected success, got exit %d: %s", res.ExitCode, res.Output())
	}
	lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
	if len(lines) != 2 || lines[1] != "hello" {
		t.Fatalf("Expected dir and greeting, got %q", res.Stdout)
	}

	res, err = h.Run(ctx, Command{Line: "echo oops >&2; exit 3"})
	if err != nil {
		t.Fatalf("Expected non-zero exit to be reported in the result, got error %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("Expected exit 3, got %d", res.ExitCode)
	}
	if res.Output() != "oops" {
		t.Errorf("Expected stderr in output, got %q", res.Output())
	}
}

func TestLocalHostRunCancelled(t *testing.T) {
	h := NewLocalHost()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.Run(ctx, Command{Line: "sleep 5"})
	var te *TransportError
	if !errors.As(err, &te) {
		t.Fatalf("Expected TransportError, got %v", err)
	}
}

func TestLocalHostFiles(t *testing.T) {
	h := NewLocalHost()
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "etc", "pabawi")

	if err := h.MkdirAll(ctx, dir, 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	path := filepath.Join(dir, "pabawi.env")

	if _, err := h.Stat(ctx, path); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Expected ErrNotExist, got %v", err)
	}
	if _, err := h.ReadFile(ctx, path); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("Expected ErrNotExist, got %v", err)
	}

	if err := h.WriteFile(ctx, path, []byte("PORT=3000\n"), 0o640); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	data, err := h.ReadFile(ctx, path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if string(data) != "PORT=3000\n" {
		t.Errorf("Expected content to round trip, got %q", data)
	}

	fi, err := h.Stat(ctx, path)
	if err != nil {
		t.Fatalf("Stat failed: %v", err)
	}
	if fi.Perm() != 0o640 {
		t.Errorf("Expected mode 0640, got %o", fi.Perm())
	}
	if fi.IsDir {
		t.Errorf("Expected a regular file")
	}
	if fi.UID != os.Getuid() {
		t.Errorf("Expected uid %d, got %d", os.Getuid(), fi.UID)
	}

	if err := h.Chmod(ctx, path, 0o600); err != nil {
		t.Fatalf("Chmod failed: %v", err)
	}
	if fi, _ := h.Stat(ctx, path); fi.Perm() != 0o600 {
		t.Errorf("Expected mode 0600 after chmod, got %o", fi.Perm())
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("Expected no temporary files left behind, got %d entries", len(entries))
	}
}

func TestLocalHostLookupUnknown(t *testing.T) {
	h := NewLocalHost()
	ctx := context.Background()

	if _, err := h.LookupUser(ctx, "pabawi-no-such-user"); !errors.Is(err, ErrUnknownUser) {
		t.Errorf("Expected ErrUnknownUser, got %v", err)
	}
	if _, err := h.LookupGroup(ctx, "pabawi-no-such-group"); !errors.Is(err, ErrUnknownGroup) {
		t.Errorf("Expected ErrUnknownGroup, got %v", err)
	}
}

func TestLocalHostDialContext(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "test.sock")
	ln, err := net.Listen("unix", sock)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer ln.Close()

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		_, _ = conn.Write([]byte("pong"))
	}()

	conn, err := NewLocalHost().DialContext(context.Background(), "unix", sock)
	if err != nil {
		t.Fatalf("DialContext failed: %v", err)
	}
	defer conn.Close()

	got, err := io.ReadAll(conn)
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if string(got) != "pong" {
		t.Errorf("Expected pong, got %q", got)
	}
}
