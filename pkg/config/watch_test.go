package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestWatcher_DebouncedChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pabawi.yaml")
	other := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("proxy_manage: true\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan string, 10)
	done := make(chan error, 1)
	go func() {
		done <- NewWatcher(zerolog.Nop(), 50*time.Millisecond).Watch(ctx, []string{path}, func(p string) {
			changes <- p
		})
	}()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(other, []byte("ignored"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte("proxy_manage: false\n"), 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}

	select {
	case got := <-changes:
		want, _ := filepath.Abs(path)
		if got != want {
			t.Errorf("Expected change for %s, got %s", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a change notification")
	}

	// The burst collapses into one call.
	select {
	case got := <-changes:
		t.Errorf("Expected a single notification, got another for %s", got)
	case <-time.After(200 * time.Millisecond):
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Expected nil on cancel, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Expected Watch to return after cancel")
	}
}

func TestWatcher_DefaultDebounce(t *testing.T) {
	if w := NewWatcher(zerolog.Nop(), 0); w.debounce != DefaultWatchDebounce {
		t.Errorf("Expected default debounce %v, got %v", DefaultWatchDebounce, w.debounce)
	}
}
