package applier

import (
	"context"
	"errors"
	"io/fs"
	"testing"

	"github.com/openfroyo/pabawi/pkg/engine"
)

func TestEnsureFile_CreateThenUnchanged(t *testing.T) {
	host := newFakeHost()
	host.users["pabawi"] = 990
	host.groups["pabawi"] = 990
	a := New(host)

	spec := engine.FileSpec{
		Path:    "/etc/pabawi/pabawi.env",
		Mode:    0o600,
		Owner:   "pabawi",
		Group:   "pabawi",
		Content: "PORT=3000\n",
	}

	out, err := a.EnsureFile(context.Background(), spec)
	if err != nil {
		t.Fatalf("EnsureFile failed: %v", err)
	}
	if out.Status != engine.OutcomeChanged {
		t.Fatalf("Expected changed, got %s", out.Status)
	}

	f := host.file(spec.Path)
	if f == nil {
		t.Fatal("Expected file to be written")
	}
	if string(f.data) != spec.Content {
		t.Errorf("Expected content %q, got %q", spec.Content, f.data)
	}
	if f.mode.Perm() != 0o600 {
		t.Errorf("Expected mode 0600, got %04o", f.mode.Perm())
	}
	if f.uid != 990 || f.gid != 990 {
		t.Errorf("Expected owner 990:990, got %d:%d", f.uid, f.gid)
	}

	out, err = a.EnsureFile(context.Background(), spec)
	if err != nil {
		t.Fatalf("Second EnsureFile failed: %v", err)
	}
	if out.Status != engine.OutcomeUnchanged {
		t.Errorf("Expected unchanged on second apply, got %s (%s)", out.Status, out.Detail)
	}
}

func TestEnsureFile_Drift(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		mode       fs.FileMode
		wantDetail string
	}{
		{name: "content", content: "old\n", mode: 0o644, wantDetail: "content"},
		{name: "mode", content: "new\n", mode: 0o666, wantDetail: "mode 0644"},
		{name: "rewrite restores mode", content: "old\n", mode: 0o600, wantDetail: "content"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := newFakeHost()
			host.addFile("/etc/motd", tt.content, tt.mode)

			out, err := New(host).EnsureFile(context.Background(), engine.FileSpec{
				Path:    "/etc/motd",
				Content: "new\n",
			})
			if err != nil {
				t.Fatalf("EnsureFile failed: %v", err)
			}
			if out.Status != engine.OutcomeChanged {
				t.Fatalf("Expected changed, got %s", out.Status)
			}
			if out.Detail != tt.wantDetail {
				t.Errorf("Expected detail %q, got %q", tt.wantDetail, out.Detail)
			}
			if got := string(host.file("/etc/motd").data); got != "new\n" {
				t.Errorf("Expected content rewritten, got %q", got)
			}
			if perm := host.file("/etc/motd").mode.Perm(); perm != 0o644 {
				t.Errorf("Expected mode 0644, got %04o", perm)
			}
		})
	}
}

func TestEnsureFile_Source(t *testing.T) {
	host := newFakeHost()
	a := New(host, WithSourceReader(func(path string) ([]byte, error) {
		if path != "files/ca.pem" {
			return nil, fs.ErrNotExist
		}
		return []byte("-----BEGIN CERTIFICATE-----\n"), nil
	}))

	_, err := a.EnsureFile(context.Background(), engine.FileSpec{Path: "/etc/pabawi/ca.pem", Source: "files/ca.pem"})
	if err != nil {
		t.Fatalf("EnsureFile failed: %v", err)
	}
	if got := string(host.file("/etc/pabawi/ca.pem").data); got != "-----BEGIN CERTIFICATE-----\n" {
		t.Errorf("Expected source content, got %q", got)
	}

	_, err = a.EnsureFile(context.Background(), engine.FileSpec{Path: "/etc/pabawi/missing.pem", Source: "files/missing.pem"})
	if err == nil {
		t.Fatal("Expected error for unreadable source")
	}
}

func TestEnsureFile_UnknownOwner(t *testing.T) {
	host := newFakeHost()
	_, err := New(host).EnsureFile(context.Background(), engine.FileSpec{
		Path:    "/etc/pabawi/pabawi.env",
		Owner:   "ghost",
		Content: "x",
	})
	if err == nil {
		t.Fatal("Expected error for unknown owner")
	}
	if engine.IsRetryable(err) {
		t.Error("Expected unknown owner to be permanent")
	}
}

func TestEnsureFile_IsDirectory(t *testing.T) {
	host := newFakeHost()
	host.addDir("/etc/pabawi", 0o755)

	_, err := New(host).EnsureFile(context.Background(), engine.FileSpec{Path: "/etc/pabawi", Content: "x"})
	if err == nil {
		t.Fatal("Expected error when path is a directory")
	}
}

func TestEnsureDirectory(t *testing.T) {
	host := newFakeHost()
	host.users["pabawi"] = 990
	a := New(host)

	spec := engine.DirectorySpec{Path: "/var/lib/pabawi", Mode: 0o750, Owner: "pabawi"}

	out, err := a.EnsureDirectory(context.Background(), spec)
	if err != nil {
		t.Fatalf("EnsureDirectory failed: %v", err)
	}
	if out.Status != engine.OutcomeChanged {
		t.Fatalf("Expected changed, got %s", out.Status)
	}
	d := host.file(spec.Path)
	if d == nil || !d.isDir {
		t.Fatal("Expected directory to be created")
	}
	if d.uid != 990 {
		t.Errorf("Expected uid 990, got %d", d.uid)
	}

	out, err = a.EnsureDirectory(context.Background(), spec)
	if err != nil {
		t.Fatalf("Second EnsureDirectory failed: %v", err)
	}
	if out.Status != engine.OutcomeUnchanged {
		t.Errorf("Expected unchanged, got %s (%s)", out.Status, out.Detail)
	}
}

func TestEnsureDirectory_DefaultMode(t *testing.T) {
	host := newFakeHost()
	host.addDir("/opt/pabawi", 0o700)

	out, err := New(host).EnsureDirectory(context.Background(), engine.DirectorySpec{Path: "/opt/pabawi"})
	if err != nil {
		t.Fatalf("EnsureDirectory failed: %v", err)
	}
	if out.Detail != "mode 0755" {
		t.Errorf("Expected detail 'mode 0755', got %q", out.Detail)
	}
}

func TestEnsureDirectory_NotADirectory(t *testing.T) {
	host := newFakeHost()
	host.addFile("/opt/pabawi", "", 0o644)

	_, err := New(host).EnsureDirectory(context.Background(), engine.DirectorySpec{Path: "/opt/pabawi"})
	if err == nil {
		t.Fatal("Expected error when path is a file")
	}
	var ee *engine.EngineError
	if !errors.As(err, &ee) || ee.Resource != "directory:/opt/pabawi" {
		t.Errorf("Expected EngineError for directory:/opt/pabawi, got %v", err)
	}
}
