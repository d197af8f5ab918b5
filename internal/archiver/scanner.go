package archiver

import (
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/snapback/snapback/internal/data"
	"github.com/snapback/snapback/internal/debug"
	"github.com/snapback/snapback/internal/filter"
	"github.com/snapback/snapback/internal/fs"
)

// scanFS is the subset of internal/fs.Local the Scanner needs.
type scanFS interface {
	Lstat(path string) (os.FileInfo, error)
	ReadDirNames(dir string) ([]string, error)
}

// Scanner implements SC, spec.md §4.1: a recursive walk of one target
// under the source root at a time, pruned by the ignore pattern set,
// with cycle prevention via a visited (dev, ino) set of directories and
// soft-fail-and-skip on a per-entry stat/read error. A target is taken
// as a literal path relative to the root; it is not matched as a
// pattern against the root's entries.
type Scanner struct {
	root   string
	fs     scanFS
	ignore *filter.Set
	follow bool

	visited map[devIno]bool
}

type devIno struct {
	dev uint64
	ino uint64
}

// NewScanner builds a Scanner rooted at root, filtering out entries
// matched by ignorePatterns (gitignore-form, per internal/filter).
func NewScanner(root string, ignorePatterns []string, follow bool) (*Scanner, error) {
	set, err := filter.Compile(ignorePatterns)
	if err != nil {
		return nil, err
	}
	return &Scanner{
		root:    root,
		fs:      fs.Local{},
		ignore:  set,
		follow:  follow,
		visited: make(map[devIno]bool),
	}, nil
}

// Scan walks target (a path relative to s.root) and sends one
// ScanEntry per non-ignored file, directory or symlink to out. A
// per-entry stat failure is logged and the entry skipped rather than
// aborting the whole walk, per spec.md §4.1's soft-fail contract;
// SourceFileNotFound is only raised by the Ingest Coordinator later,
// for files that vanish between scan and ingest.
func (s *Scanner) Scan(target string, out chan<- data.ScanEntry) error {
	absRoot := filepath.Join(s.root, target)

	info, err := s.fs.Lstat(absRoot)
	if err != nil {
		debug.Log("scanner: skip %s: %v", absRoot, err)
		return nil
	}

	return s.walk(absRoot, target, info, true)
}

func (s *Scanner) walk(absPath, relPath string, info os.FileInfo, isRoot bool) error {
	nodeType := fs.NodeTypeOf(info.Mode())
	if nodeType == data.NodeTypeSymlink && isRoot && s.follow {
		resolved, err := filepath.EvalSymlinks(absPath)
		if err != nil {
			debug.Log("scanner: skip unresolvable root symlink %s: %v", absPath, err)
			return nil
		}
		followedInfo, err := s.fs.Lstat(resolved)
		if err != nil {
			debug.Log("scanner: skip %s: %v", resolved, err)
			return nil
		}
		return s.walk(resolved, relPath, followedInfo, false)
	}

	if !isRoot && s.ignore.Match(relPath, nodeType == data.NodeTypeDir) {
		return nil
	}

	dev, ino, ok := statDevIno(info)
	if ok && nodeType == data.NodeTypeDir {
		key := devIno{dev, ino}
		if s.visited[key] {
			debug.Log("scanner: cycle detected, skipping %s", absPath)
			return nil
		}
		s.visited[key] = true
	}

	entry := data.ScanEntry{
		AbsPath: absPath,
		RelPath: filepath.ToSlash(relPath),
		Type:    nodeType,
		Size:    info.Size(),
		Mode:    uint32(info.Mode().Perm()),
		MtimeUs: info.ModTime().UnixMicro(),
		Dev:     dev,
		Ino:     ino,
		IsRoot:  isRoot,
	}
	if uid, gid, ok := statOwner(info); ok {
		entry.UID, entry.GID = uid, gid
	}

	s.emit(entry, out)

	if nodeType != data.NodeTypeDir {
		return nil
	}

	names, err := s.fs.ReadDirNames(absPath)
	if err != nil {
		debug.Log("scanner: skip dir contents %s: %v", absPath, err)
		return nil
	}

	for _, name := range names {
		childAbs := filepath.Join(absPath, name)
		childRel := filepath.Join(relPath, name)

		childInfo, err := s.fs.Lstat(childAbs)
		if err != nil {
			debug.Log("scanner: skip %s: %v", childAbs, err)
			continue
		}
		if err := s.walk(childAbs, childRel, childInfo, false); err != nil {
			return err
		}
	}

	return nil
}

var scanSeq int64

// emit sends an entry to out, never blocking the walk indefinitely: an
// unbuffered channel backed by a reader pulling entries as fast as the
// coordinator can schedule tasks, per spec.md §5's producer/consumer
// pairing of SC and IC.
func (s *Scanner) emit(entry data.ScanEntry, out chan<- data.ScanEntry) {
	atomic.AddInt64(&scanSeq, 1)
	out <- entry
}

