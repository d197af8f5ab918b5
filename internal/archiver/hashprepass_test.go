package archiver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/snapback/snapback/internal/data"
)

func writeTempFile(t *testing.T, dir, name string, size int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(i)
	}
	if err := os.WriteFile(path, buf, 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	return path
}

func sha256Hex(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// fakeSizeExistence answers HasBlobWithSizeBatched from a fixed set of
// sizes already present in the store, recording every batch it was
// asked about so tests can assert HPP queries once, in one batch.
type fakeSizeExistence struct {
	present map[int64]bool
	calls   [][]int64
}

func (f *fakeSizeExistence) HasBlobWithSizeBatched(sizes []int64) (map[int64]bool, error) {
	f.calls = append(f.calls, append([]int64(nil), sizes...))
	result := make(map[int64]bool, len(sizes))
	for _, s := range sizes {
		result[s] = f.present[s]
	}
	return result, nil
}

func TestRunHashPrePassSkippedBelowConcurrencyTwo(t *testing.T) {
	dir := t.TempDir()
	big := writeTempFile(t, dir, "big", 4096)

	entries := []data.ScanEntry{{AbsPath: big, Type: data.NodeTypeFile, Size: 4096}}
	sizes := &fakeSizeExistence{present: map[int64]bool{4096: true}}

	result, blobBySize, err := runHashPrePass(context.Background(), entries, nil, 1, sizes, os.Open)
	if err != nil {
		t.Fatalf("runHashPrePass: %v", err)
	}
	if len(result) != 0 {
		t.Errorf("expected no pre-hashing at concurrency<=1, got %v", result)
	}
	if blobBySize != nil {
		t.Errorf("expected no blob_by_size warming at concurrency<=1, got %v", blobBySize)
	}
	if len(sizes.calls) != 0 {
		t.Errorf("expected no size query at concurrency<=1, got %v", sizes.calls)
	}
}

// TestRunHashPrePassHashesOnlyColliding is the core §4.2 contract: a
// file whose size collides with an existing blob gets pre-hashed; a
// file with a unique size is left for hash_once instead.
func TestRunHashPrePassHashesOnlyColliding(t *testing.T) {
	dir := t.TempDir()
	colliding := writeTempFile(t, dir, "colliding", 4096)
	unique := writeTempFile(t, dir, "unique", 100)

	entries := []data.ScanEntry{
		{AbsPath: colliding, Type: data.NodeTypeFile, Size: 4096},
		{AbsPath: unique, Type: data.NodeTypeFile, Size: 100},
		{AbsPath: dir, Type: data.NodeTypeDir, Size: 0},
	}
	sizes := &fakeSizeExistence{present: map[int64]bool{4096: true}}

	result, blobBySize, err := runHashPrePass(context.Background(), entries, nil, 4, sizes, os.Open)
	if err != nil {
		t.Fatalf("runHashPrePass: %v", err)
	}

	if len(sizes.calls) != 1 {
		t.Fatalf("expected exactly one batched size query, got %d", len(sizes.calls))
	}

	if _, ok := result[unique]; ok {
		t.Error("unique-size file should not be pre-hashed; it should take hash_once")
	}
	got, ok := result[colliding]
	if !ok {
		t.Fatal("size-colliding file should be pre-hashed")
	}
	if want := sha256Hex(t, colliding); got != want {
		t.Errorf("pre-hash for colliding file = %s, want %s", got, want)
	}

	if !blobBySize[4096] {
		t.Error("blobBySize should be warmed with the collision answer for size 4096")
	}
	if blobBySize[100] {
		t.Error("blobBySize should report size 100 as absent")
	}
}

// TestRunHashPrePassExcludesReusedFiles verifies a file already
// resolved by the Reuse Detector never becomes an HPP candidate, per
// spec.md §4.2 ("for each regular file in the scan not already in
// reused_files").
func TestRunHashPrePassExcludesReusedFiles(t *testing.T) {
	dir := t.TempDir()
	reused := writeTempFile(t, dir, "reused", 4096)

	entries := []data.ScanEntry{{AbsPath: reused, Type: data.NodeTypeFile, Size: 4096}}
	reusedFiles := map[string]*data.File{reused: {}}
	sizes := &fakeSizeExistence{present: map[int64]bool{4096: true}}

	result, blobBySize, err := runHashPrePass(context.Background(), entries, reusedFiles, 4, sizes, os.Open)
	if err != nil {
		t.Fatalf("runHashPrePass: %v", err)
	}
	if len(result) != 0 {
		t.Errorf("expected a reused file to be excluded from pre-hashing, got %v", result)
	}
	if blobBySize != nil || len(sizes.calls) != 0 {
		t.Error("expected no size query when every candidate was reused away")
	}
}

func TestRunHashPrePassNoCandidates(t *testing.T) {
	entries := []data.ScanEntry{}
	sizes := &fakeSizeExistence{}

	result, blobBySize, err := runHashPrePass(context.Background(), entries, nil, 4, sizes, os.Open)
	if err != nil {
		t.Fatalf("runHashPrePass: %v", err)
	}
	if len(result) != 0 {
		t.Errorf("expected no candidates, got %v", result)
	}
	if blobBySize != nil {
		t.Errorf("expected no blob_by_size warming with no candidates, got %v", blobBySize)
	}
}

func TestRunHashPrePassSkipsUnopenableFiles(t *testing.T) {
	entries := []data.ScanEntry{
		{AbsPath: "/definitely/not/a/real/path", Type: data.NodeTypeFile, Size: 4096},
	}
	sizes := &fakeSizeExistence{present: map[int64]bool{4096: true}}

	result, _, err := runHashPrePass(context.Background(), entries, nil, 4, sizes, os.Open)
	if err != nil {
		t.Fatalf("runHashPrePass: %v", err)
	}
	if len(result) != 0 {
		t.Errorf("expected an unopenable file to be skipped, not errored, got %v", result)
	}
}
