package archiver

import "github.com/snapback/snapback/internal/data"

// reuseLookup is the subset of internal/catalog.Session the Reuse
// Detector needs.
type reuseLookup interface {
	GetLastBackup() (*data.Backup, error)
	GetBackupFiles(backupID int64) ([]data.File, error)
}

// buildReuseIndex implements the Reuse Detector, spec.md §4.3: it
// loads every File row of the most recent Backup and indexes it by
// relative path, so the coordinator can decide in O(1) whether a
// freshly scanned entry's (size, mode, uid, gid, mtime_us) tuple still
// matches what was last recorded for that path.
//
// The returned map is keyed by relative path rather than by full
// ReuseKey, since a path appears at most once per backup; the
// tuple comparison itself happens per-entry in matchReuse.
func buildReuseIndex(cs reuseLookup) (map[string]*data.File, error) {
	last, err := cs.GetLastBackup()
	if err != nil {
		return nil, err
	}
	if last == nil {
		return map[string]*data.File{}, nil
	}

	files, err := cs.GetBackupFiles(last.ID)
	if err != nil {
		return nil, err
	}

	index := make(map[string]*data.File, len(files))
	for i := range files {
		f := files[i]
		index[f.Path] = &f
	}
	return index, nil
}

// matchReuse decides whether entry can be reused verbatim from prior,
// per spec.md §4.3: only regular files are eligible, and only when
// ReuseStatUnchangedFile is enabled and every stat field in the tuple
// is unchanged.
func matchReuse(entry data.ScanEntry, prior *data.File, enabled bool) bool {
	if !enabled || prior == nil {
		return false
	}
	if entry.Type != data.NodeTypeFile || prior.Type != data.NodeTypeFile {
		return false
	}
	return prior.Size == entry.Size &&
		prior.Mode == entry.Mode &&
		prior.UID == entry.UID &&
		prior.GID == entry.GID &&
		prior.MtimeUs == entry.MtimeUs
}
