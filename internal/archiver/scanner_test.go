package archiver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/snapback/snapback/internal/data"
)

func collectEntries(t *testing.T, s *Scanner, target string) []data.ScanEntry {
	t.Helper()

	out := make(chan data.ScanEntry, 1024)
	done := make(chan error, 1)
	go func() {
		done <- s.Scan(target, out)
		close(out)
	}()

	var entries []data.ScanEntry
	for e := range out {
		entries = append(entries, e)
	}
	if err := <-done; err != nil {
		t.Fatalf("Scan: %v", err)
	}
	return entries
}

func relPaths(entries []data.ScanEntry) map[string]data.ScanEntry {
	m := make(map[string]data.ScanEntry, len(entries))
	for _, e := range entries {
		m[e.RelPath] = e
	}
	return m
}

func TestScanWalksDirectoryTree(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "top.txt"), "hello")
	mustMkdir(t, filepath.Join(root, "sub"))
	mustWriteFile(t, filepath.Join(root, "sub", "nested.txt"), "world")

	s, err := NewScanner(root, nil, false)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}

	entries := relPaths(collectEntries(t, s, "."))

	for _, want := range []string{".", "top.txt", "sub", filepath.Join("sub", "nested.txt")} {
		if _, ok := entries[filepath.ToSlash(want)]; !ok {
			t.Errorf("missing scanned entry %q, got %v", want, entries)
		}
	}
}

func TestScanRespectsIgnorePatterns(t *testing.T) {
	root := t.TempDir()
	mustWriteFile(t, filepath.Join(root, "keep.txt"), "a")
	mustWriteFile(t, filepath.Join(root, "skip.tmp"), "b")

	s, err := NewScanner(root, []string{"*.tmp"}, false)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}

	entries := relPaths(collectEntries(t, s, "."))
	if _, ok := entries["keep.txt"]; !ok {
		t.Error("keep.txt should be scanned")
	}
	if _, ok := entries["skip.tmp"]; ok {
		t.Error("skip.tmp should have been excluded by the ignore pattern")
	}
}

func TestScanMissingTargetIsSoftFail(t *testing.T) {
	root := t.TempDir()
	s, err := NewScanner(root, nil, false)
	if err != nil {
		t.Fatalf("NewScanner: %v", err)
	}

	entries := collectEntries(t, s, "does-not-exist")
	if len(entries) != 0 {
		t.Errorf("expected no entries for a missing target, got %v", entries)
	}
}

func mustWriteFile(t *testing.T, path, contents string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile(%s): %v", path, err)
	}
}

func mustMkdir(t *testing.T, path string) {
	t.Helper()
	if err := os.Mkdir(path, 0o755); err != nil {
		t.Fatalf("Mkdir(%s): %v", path, err)
	}
}
