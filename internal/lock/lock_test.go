package lock

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAcquireAndRelease(t *testing.T) {
	tmpDir := t.TempDir()

	l, err := Acquire(tmpDir, "roomsyncd", "u1")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(tmpDir, "LOCK"))
	if err != nil {
		t.Fatalf("read lock file: %v", err)
	}
	h := parse(string(data))
	if h.PID != os.Getpid() || h.Process != "roomsyncd" || h.UserID != "u1" || h.Since.IsZero() {
		t.Errorf("holder = %+v", h)
	}

	if err := l.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tmpDir, "LOCK")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("lock file left behind: %v", err)
	}
}

func TestDoubleAcquireFails(t *testing.T) {
	tmpDir := t.TempDir()

	l1, err := Acquire(tmpDir, "roomsyncd", "u1")
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = l1.Release() }()

	_, err = Acquire(tmpDir, "roomsynctui", "u1")
	if err == nil {
		t.Fatal("second Acquire() should fail")
	}

	var lockErr *LockHeldError
	if !errors.As(err, &lockErr) {
		t.Fatalf("expected LockHeldError, got %T: %v", err, err)
	}
	if lockErr.Holder.Process != "roomsyncd" || lockErr.Holder.PID != os.Getpid() {
		t.Errorf("holder = %+v", lockErr.Holder)
	}
}

func TestInspect(t *testing.T) {
	tmpDir := t.TempDir()

	if _, held, err := Inspect(tmpDir); err != nil || held {
		t.Fatalf("Inspect() on empty dir = %v, %v", held, err)
	}

	l, err := Acquire(tmpDir, "roomsyncd", "u9")
	if err != nil {
		t.Fatal(err)
	}
	h, held, err := Inspect(tmpDir)
	if err != nil || !held {
		t.Fatalf("Inspect() = %v, %v, want held", held, err)
	}
	if h.UserID != "u9" {
		t.Errorf("holder = %+v", h)
	}
	_ = l.Release()

	// A stale file without a live flock is free.
	if err := os.WriteFile(filepath.Join(tmpDir, "LOCK"), []byte("pid=1\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, held, err := Inspect(tmpDir); err != nil || held {
		t.Errorf("stale lock reported held=%v err=%v", held, err)
	}
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}
}

func TestReleaseIdempotent(t *testing.T) {
	l, err := Acquire(t.TempDir(), "roomsyncd", "")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("first Release() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
}
