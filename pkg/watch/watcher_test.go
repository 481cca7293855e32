package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestWatcher(t *testing.T, excludes []string) (*Watcher, string) {
	t.Helper()
	dir := t.TempDir()
	w := New(dir, excludes, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() failed: %v", err)
	}
	t.Cleanup(w.Stop)
	return w, dir
}

func expectEvent(t *testing.T, w *Watcher, timeout time.Duration) Event {
	t.Helper()
	select {
	case event, ok := <-w.Events():
		if !ok {
			t.Fatal("events channel closed unexpectedly")
		}
		return event
	case <-time.After(timeout):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func expectNoEvent(t *testing.T, w *Watcher, timeout time.Duration) {
	t.Helper()
	select {
	case event, ok := <-w.Events():
		if ok {
			t.Fatalf("expected no event, got %+v", event)
		}
	case <-time.After(timeout):
	}
}

func TestCreateFileEmitsCreated(t *testing.T) {
	w, dir := newTestWatcher(t, nil)
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	event := expectEvent(t, w, 2*time.Second)
	if event.EventType != Created || event.Path != "a.txt" || event.IsDirectory {
		t.Fatalf("unexpected event: %+v", event)
	}
}

func TestExcludedPathIsDropped(t *testing.T) {
	w, dir := newTestWatcher(t, []string{"__pycache__"})
	if err := os.Mkdir(filepath.Join(dir, "__pycache__"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "__pycache__", "a.pyc"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	expectNoEvent(t, w, 500*time.Millisecond)
}

func TestRenameWithinRootEmitsMoved(t *testing.T) {
	w, dir := newTestWatcher(t, nil)
	src := filepath.Join(dir, "foo.txt")
	if err := os.WriteFile(src, []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Drain the Created event for foo.txt.
	expectEvent(t, w, 2*time.Second)

	if err := os.Rename(src, filepath.Join(dir, "bar.txt")); err != nil {
		t.Fatal(err)
	}
	event := expectEvent(t, w, 2*time.Second)
	if event.EventType != Moved || event.Path != "foo.txt" {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.Extra == nil || event.Extra.DestPath != "bar.txt" {
		t.Fatalf("expected dest path bar.txt, got %+v", event.Extra)
	}
}

func TestRenameOutsideRootIsRewrittenToDeleted(t *testing.T) {
	w, dir := newTestWatcher(t, nil)
	outside := t.TempDir()
	src := filepath.Join(dir, "foo.txt")
	if err := os.WriteFile(src, []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}
	expectEvent(t, w, 2*time.Second) // Created

	if err := os.Rename(src, filepath.Join(outside, "foo.txt")); err != nil {
		t.Fatal(err)
	}
	event := expectEvent(t, w, 2*time.Second)
	if event.EventType != Deleted || event.Path != "foo.txt" || event.Extra != nil {
		t.Fatalf("unexpected event: %+v", event)
	}
}
