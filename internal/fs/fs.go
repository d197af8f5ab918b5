// Package fs wraps local filesystem access: stat/open/mkdir helpers
// plus the two capability probes the Blob Store needs at the start of
// every run — whether a path supports copy-on-write reflinks, and a
// fast-copy helper that uses one when available.
package fs

import (
	"io"
	"os"

	"github.com/snapback/snapback/internal/data"
	"github.com/snapback/snapback/internal/errors"
)

// Local is the local filesystem implementation used by every
// component; it exists mainly so tests can swap in a fake.
type Local struct{}

// Lstat is os.Lstat, kept as a method so callers don't import os
// directly and so a future in-memory FS can satisfy the same surface.
func (Local) Lstat(path string) (os.FileInfo, error) {
	return os.Lstat(path)
}

// Stat is os.Stat.
func (Local) Stat(path string) (os.FileInfo, error) {
	return os.Stat(path)
}

// Readlink is os.Readlink.
func (Local) Readlink(path string) (string, error) {
	return os.Readlink(path)
}

// MkdirAll is os.MkdirAll.
func (Local) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// Open opens path read-only.
func (Local) Open(path string) (*os.File, error) {
	return os.Open(path)
}

// OpenFile is os.OpenFile.
func (Local) OpenFile(path string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(path, flag, perm)
}

// ReadDirNames lists the names of the entries of dir, unsorted (the
// scanner does not promise an ordering within one directory).
func (Local) ReadDirNames(dir string) ([]string, error) {
	f, err := os.Open(dir)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	names, err := f.Readdirnames(-1)
	if err != nil {
		return nil, errors.Wrapf(err, "readdirnames %s", dir)
	}
	return names, nil
}

// NodeTypeOf classifies a stat result into the four node types the
// ingest coordinator dispatches on.
func NodeTypeOf(mode os.FileMode) data.NodeType {
	switch {
	case mode.IsRegular():
		return data.NodeTypeFile
	case mode.IsDir():
		return data.NodeTypeDir
	case mode&os.ModeSymlink != 0:
		return data.NodeTypeSymlink
	default:
		return data.NodeTypeOther
	}
}

// plainCopy copies src to dst byte-for-byte with no reflink, used as
// the fallback whenever a fast copy isn't available or fails.
func plainCopy(dst, src string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.Wrapf(err, "open %s", src)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return errors.Wrapf(err, "create %s", dst)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.Wrapf(err, "copy %s -> %s", src, dst)
	}

	return out.Close()
}

// CopyFileFast copies src to dst, using a filesystem reflink when the
// platform and filesystem support it. It reports whether a reflink
// was actually used.
func CopyFileFast(dst, src string) (reflinked bool, err error) {
	if reflinkCopy(dst, src) == nil {
		return true, nil
	}
	return false, plainCopy(dst, src)
}
