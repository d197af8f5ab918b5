package archiver

import (
	"testing"

	"github.com/snapback/snapback/internal/data"
)

type fakeReuseLookup struct {
	last  *data.Backup
	files map[int64][]data.File
}

func (f *fakeReuseLookup) GetLastBackup() (*data.Backup, error) { return f.last, nil }

func (f *fakeReuseLookup) GetBackupFiles(backupID int64) ([]data.File, error) {
	return f.files[backupID], nil
}

func TestBuildReuseIndexEmptyCatalog(t *testing.T) {
	idx, err := buildReuseIndex(&fakeReuseLookup{})
	if err != nil {
		t.Fatalf("buildReuseIndex: %v", err)
	}
	if len(idx) != 0 {
		t.Errorf("expected an empty index, got %v", idx)
	}
}

func TestBuildReuseIndexKeyedByPath(t *testing.T) {
	lookup := &fakeReuseLookup{
		last: &data.Backup{ID: 7},
		files: map[int64][]data.File{
			7: {
				{Path: "a.txt", Type: data.NodeTypeFile, Mode: 0o644, MtimeUs: 100},
				{Path: "b.txt", Type: data.NodeTypeFile, Mode: 0o644, MtimeUs: 200},
			},
		},
	}

	idx, err := buildReuseIndex(lookup)
	if err != nil {
		t.Fatalf("buildReuseIndex: %v", err)
	}
	if len(idx) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(idx))
	}
	if idx["a.txt"].MtimeUs != 100 {
		t.Errorf("a.txt MtimeUs = %d, want 100", idx["a.txt"].MtimeUs)
	}
}

func TestMatchReuseRequiresEnabled(t *testing.T) {
	prior := &data.File{Type: data.NodeTypeFile, Size: 512, Mode: 0o644, UID: 1, GID: 1, MtimeUs: 42}
	entry := data.ScanEntry{Type: data.NodeTypeFile, Size: 512, Mode: 0o644, UID: 1, GID: 1, MtimeUs: 42}

	if matchReuse(entry, prior, false) {
		t.Error("matchReuse should be false when reuse is disabled")
	}
	if !matchReuse(entry, prior, true) {
		t.Error("matchReuse should be true when every stat field matches and reuse is enabled")
	}
}

func TestMatchReuseRequiresRegularFileOnBothSides(t *testing.T) {
	prior := &data.File{Type: data.NodeTypeDir, Mode: 0o755}
	entry := data.ScanEntry{Type: data.NodeTypeFile, Mode: 0o755}

	if matchReuse(entry, prior, true) {
		t.Error("matchReuse should be false when the prior entry is not a regular file")
	}
}

func TestMatchReuseDetectsChangedMtime(t *testing.T) {
	prior := &data.File{Type: data.NodeTypeFile, Size: 512, Mode: 0o644, UID: 1, GID: 1, MtimeUs: 42}
	entry := data.ScanEntry{Type: data.NodeTypeFile, Size: 512, Mode: 0o644, UID: 1, GID: 1, MtimeUs: 99}

	if matchReuse(entry, prior, true) {
		t.Error("matchReuse should be false when mtime differs")
	}
}

func TestMatchReuseDetectsChangedSizeWithUnchangedMtime(t *testing.T) {
	// An in-place rewrite that restores the original mtime must still
	// be caught by the size comparison, or reuse would copy a stale
	// blob pointer onto a file whose content actually changed.
	prior := &data.File{Type: data.NodeTypeFile, Size: 512, Mode: 0o644, UID: 1, GID: 1, MtimeUs: 42}
	entry := data.ScanEntry{Type: data.NodeTypeFile, Size: 1024, Mode: 0o644, UID: 1, GID: 1, MtimeUs: 42}

	if matchReuse(entry, prior, true) {
		t.Error("matchReuse should be false when size differs even if mtime is unchanged")
	}
}

func TestMatchReuseNilPrior(t *testing.T) {
	entry := data.ScanEntry{Type: data.NodeTypeFile}
	if matchReuse(entry, nil, true) {
		t.Error("matchReuse should be false with no prior record")
	}
}
