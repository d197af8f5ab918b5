// Package data holds the value types shared by every component of the
// backup creation pipeline: blobs, files, backups and the transient
// scan/pre-calc structures that only live for the duration of one run.
package data

import (
	"time"

	"github.com/snapback/snapback/internal/compress"
)

// NodeType classifies a scanned filesystem entry.
type NodeType int

const (
	NodeTypeFile NodeType = iota
	NodeTypeDir
	NodeTypeSymlink
	NodeTypeOther
)

func (t NodeType) String() string {
	switch t {
	case NodeTypeFile:
		return "file"
	case NodeTypeDir:
		return "dir"
	case NodeTypeSymlink:
		return "symlink"
	default:
		return "other"
	}
}

// Blob is an immutable, content-addressed stored file body. Uniquely
// keyed by Hash; created on first sighting.
type Blob struct {
	Hash     string // hex-encoded fingerprint, the blob's identity
	Compress compress.Method
	RawSize  int64
	Stored   int64
}

// File is one row attached to a Backup: a snapshot-relative path plus
// enough metadata to detect reuse on a later run, and either inline
// content (symlinks) or a blob reference (regular files).
type File struct {
	Path    string // POSIX-form, relative to the source root
	Type    NodeType
	Size    int64 // regular files: the blob's raw (uncompressed) size
	Mode    uint32
	UID     uint32
	GID     uint32
	MtimeUs int64 // stat.mtime_ns // 1000, truncating division

	Content  []byte  // symlink target, UTF-8 bytes; nil for regular files
	BlobHash *string // nil for dirs/symlinks/other
}

// ReuseKey is the tuple compared between two consecutive runs to
// decide whether a File can be reused verbatim without re-ingesting
// its blob.
type ReuseKey struct {
	Path    string
	Size    int64
	Mode    uint32
	UID     uint32
	GID     uint32
	MtimeUs int64
}

// Backup is one snapshot: a set of File rows created together under
// one transaction, plus the metadata the caller supplied.
type Backup struct {
	ID        int64
	Timestamp time.Time
	CreatedBy string
	Comment   string
	Targets   []string // POSIX paths relative to the source root
	Tags      map[string]string
	Files     []File
}

// BackupInfo is the value returned to the caller of Run: a summary of
// the backup that was just created.
type BackupInfo struct {
	BackupID  int64
	Timestamp time.Time
	FileCount int
	Tags      map[string]string
	RawBytes  int64
	StoredBytes int64
	Costs     map[string]time.Duration
}

// ScanEntry is a transient result of the Scanner: an absolute path
// paired with its stat result. It lives only during one backup run.
type ScanEntry struct {
	AbsPath string
	RelPath string
	Type    NodeType
	Size    int64
	Mode    uint32
	UID     uint32
	GID     uint32
	MtimeUs int64
	Dev     uint64
	Ino     uint64
	IsRoot  bool
}
