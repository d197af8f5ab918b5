// Package blobstore implements the Blob Store (BS): a content-
// addressed directory layout that maps a fingerprint to a file on
// disk, fanned out by a hex prefix of the fingerprint so no single
// directory accumulates millions of entries.
package blobstore

import (
	"os"
	"path/filepath"

	"github.com/snapback/snapback/internal/debug"
	"github.com/snapback/snapback/internal/errors"
	"github.com/snapback/snapback/internal/fs"
)

// fanOutPrefixLen is the number of hex characters of the fingerprint
// used as the fan-out subdirectory name.
const fanOutPrefixLen = 2

// Store is one run's handle onto BS_ROOT.
type Store struct {
	Root string

	// rootInfo is BS_ROOT's stat result, captured at Open time so
	// CanCopyOnWrite can compare its device against a source file's
	// device without re-stat-ing BS_ROOT on every file.
	rootInfo    os.FileInfo
	supportsCOW bool

	// prepared guards PrepareDirectories so a run that calls it more
	// than once only walks the fan-out space a single time.
	prepared bool
}

// Open probes BS_ROOT: it stats the root (remembering its device for
// same-filesystem checks) and probes reflink capability once, per
// spec. Errors during the probe are non-fatal — a failed probe simply
// disables the reflink fast path for this run.
func Open(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrapf(err, "create blob store root %s", root)
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Wrapf(err, "stat blob store root %s", root)
	}

	s := &Store{Root: root, rootInfo: info}
	s.supportsCOW = fs.SupportsReflink(root)

	debug.Log("blobstore: opened %s, reflink support: %v", root, s.supportsCOW)

	return s, nil
}

// PrepareDirectories implements spec.md §4.4: it idempotently creates
// every fan-out subdirectory up front, before ingest starts, so the
// per-file MkdirAll in GetBlobPath degrades to a cheap stat on the
// common path instead of a mkdir on every first blob of a given prefix.
// Safe to call more than once per Store; only the first call walks the
// fan-out space.
func (s *Store) PrepareDirectories() error {
	if s.prepared {
		return nil
	}

	const hexDigits = "0123456789abcdef"
	for _, hi := range hexDigits {
		for _, lo := range hexDigits {
			dir := filepath.Join(s.Root, string(hi)+string(lo))
			if err := os.MkdirAll(dir, 0755); err != nil {
				return errors.Wrapf(err, "create fan-out dir %s", dir)
			}
		}
	}

	s.prepared = true
	return nil
}

// GetBlobPath returns the on-disk path for fingerprint hash, creating
// its fan-out subdirectory if necessary.
func (s *Store) GetBlobPath(hash string) (string, error) {
	if len(hash) < fanOutPrefixLen {
		return "", errors.Errorf("fingerprint %q too short for fan-out", hash)
	}

	dir := filepath.Join(s.Root, hash[:fanOutPrefixLen])
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", errors.Wrapf(err, "create fan-out dir %s", dir)
	}

	return filepath.Join(dir, hash), nil
}

// Exists reports whether a blob file already exists on disk for hash.
func (s *Store) Exists(hash string) (bool, error) {
	path, err := s.GetBlobPath(hash)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "stat blob %s", path)
	}
	return true, nil
}

// Remove best-effort deletes a blob file. Errors are logged, never
// returned, matching the spec's rollback contract: rollback never
// itself fails the run.
func (s *Store) Remove(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		debug.Log("blobstore: rollback failed to remove %s: %v", path, err)
	}
}

// CanCopyOnWrite implements the can_copy_on_write predicate: platform
// reflink support AND plain compression AND BS filesystem supports
// reflink AND the source file shares BS_ROOT's device.
func (s *Store) CanCopyOnWrite(plainCompression bool, srcInfo os.FileInfo) bool {
	if !fs.HasCopyFileRange {
		return false
	}
	if !plainCompression {
		return false
	}
	if !s.supportsCOW {
		return false
	}
	return fs.SameDevice(s.rootInfo, srcInfo)
}
