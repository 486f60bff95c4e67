package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func startWatcher(t *testing.T, dir string, quiet time.Duration) <-chan string {
	t.Helper()
	changed := make(chan string, 16)
	w, err := New(dir, quiet, func(path string) { changed <- path })
	if err != nil {
		t.Fatalf("new watcher: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = w.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return changed
}

func TestWatcherReportsSettledReplay(t *testing.T) {
	dir := t.TempDir()
	changed := startWatcher(t, dir, 50*time.Millisecond)

	path := filepath.Join(dir, "Game_20240101T010000.slp")
	for i := 0; i < 3; i++ {
		if err := os.WriteFile(path, []byte{byte(i)}, 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case got := <-changed:
		if got != path {
			t.Fatalf("expected %s, got %s", path, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for change")
	}
	select {
	case got := <-changed:
		t.Fatalf("expected writes to be coalesced, got another change for %s", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcherIgnoresOtherFiles(t *testing.T) {
	dir := t.TempDir()
	changed := startWatcher(t, dir, 20*time.Millisecond)

	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Game_1.slp.tmp"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case got := <-changed:
		t.Fatalf("unexpected change %s", got)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestNewMissingDir(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "missing"), 0, func(string) {}); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}
