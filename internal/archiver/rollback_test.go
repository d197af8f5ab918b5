package archiver

import (
	"os"
	"path/filepath"
	"testing"
)

func TestRollbackApplyRemovesRecordedPaths(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")

	for _, p := range []string{a, b} {
		if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
			t.Fatalf("WriteFile: %v", err)
		}
	}

	rl := newRollbackList()
	rl.Add(a)
	rl.Add(b)
	rl.Apply()

	for _, p := range []string{a, b} {
		if _, err := os.Stat(p); !os.IsNotExist(err) {
			t.Errorf("expected %s to be removed, stat err = %v", p, err)
		}
	}
}

func TestRollbackApplyIgnoresMissingPaths(t *testing.T) {
	rl := newRollbackList()
	rl.Add(filepath.Join(t.TempDir(), "never-existed"))

	// Must not panic or block; missing paths are silently skipped.
	rl.Apply()
}

func TestRollbackApplyClearsRecordedPaths(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "once")
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	rl := newRollbackList()
	rl.Add(p)
	rl.Apply()
	// Second Apply should be a no-op over an empty list, not attempt to
	// remove p again.
	rl.Apply()
}
