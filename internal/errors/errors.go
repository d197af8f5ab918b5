// Package errors provides the error taxonomy used across the backup
// creation pipeline, layered on top of github.com/pkg/errors so that
// wrapped errors keep a stack trace and a Cause chain.
package errors

import (
	"fmt"

	"github.com/pkg/errors"
)

// Re-export the pkg/errors surface so call sites only need one import.
var (
	New    = errors.New
	Errorf = errors.Errorf
	Wrap   = errors.Wrap
	Wrapf  = errors.Wrapf
	Cause  = errors.Cause
	Is     = errors.Is
	As     = errors.As
)

// fatal marks an error as non-retryable: the ingest coordinator must
// not attempt another policy for it, it must bubble straight up and
// trigger rollback.
type fatal struct {
	msg string
}

func (e *fatal) Error() string { return e.msg }

// Fatal creates a new fatal (non-retryable) error.
func Fatal(msg string) error { return &fatal{msg: msg} }

// Fatalf creates a new fatal error with a formatted message.
func Fatalf(format string, args ...interface{}) error {
	return &fatal{msg: fmt.Sprintf(format, args...)}
}

// IsFatal reports whether err (or something it wraps) was created by
// Fatal/Fatalf.
func IsFatal(err error) bool {
	var f *fatal
	return errors.As(err, &f)
}

// SourceFileNotFound signals that a source path vanished mid-scan or
// mid-read. The ingest coordinator suppresses it when skip-missing is
// enabled and the path matches the configured skip-missing pattern
// set; otherwise it bubbles up.
type SourceFileNotFound struct {
	Path string
	Err  error
}

func (e *SourceFileNotFound) Error() string {
	return fmt.Sprintf("source file not found: %s: %v", e.Path, e.Err)
}

func (e *SourceFileNotFound) Unwrap() error { return e.Err }

// BlobFileChanged is an internal sentinel: the size or hash of a
// source file disagreed with what was first observed during a single
// ingest attempt. The retry loop catches it and retries with a fresh
// stat.
type BlobFileChanged struct {
	Path   string
	Reason string
}

func (e *BlobFileChanged) Error() string {
	return fmt.Sprintf("blob file changed during ingest: %s: %s", e.Path, e.Reason)
}

// VolatileBlobFile means the retry loop exhausted all attempts without
// producing a stable blob.
type VolatileBlobFile struct {
	Path    string
	Attempt int
}

func (e *VolatileBlobFile) Error() string {
	return fmt.Sprintf("volatile blob file after %d attempts: %s", e.Attempt, e.Path)
}

// UnsupportedFileFormat is raised for entries that are neither
// regular files, directories, nor symlinks.
type UnsupportedFileFormat struct {
	Path string
	Mode uint32
}

func (e *UnsupportedFileFormat) Error() string {
	return fmt.Sprintf("unsupported file format %o: %s", e.Mode, e.Path)
}

// CatalogError wraps any failure returned by the Catalog Session.
type CatalogError struct {
	Op  string
	Err error
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("catalog error during %s: %v", e.Op, e.Err)
}

func (e *CatalogError) Unwrap() error { return e.Err }
