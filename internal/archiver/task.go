// Package archiver implements the Scanner, Hash Pre-Pass and Ingest
// Coordinator components, and the Run entrypoint that wires them
// together with the Batch Query Manager, Catalog Session and Blob
// Store into one backup run.
package archiver

import (
	"crypto/sha256"
	"encoding/hex"
	"os"

	"github.com/snapback/snapback/internal/compress"
	"github.com/snapback/snapback/internal/data"
	"github.com/snapback/snapback/internal/debug"
	"github.com/snapback/snapback/internal/errors"
)

// requestKind tags a suspended ingest task's pending BQM request.
type requestKind int

const (
	sizeRequest requestKind = iota
	hashRequest
)

// request is what an ingest task yields when it needs a BQM answer.
type request struct {
	kind requestKind
	size int64
	hash string
}

// response is what the coordinator resumes a suspended task with.
type response struct {
	exists bool        // valid for a sizeRequest
	blob   *data.Blob  // valid for a hashRequest (nil means "not found")
	err    error
}

// outcome is what an ingest task goroutine sends back to the
// coordinator each time it either suspends or finishes. Exactly one
// field is meaningful at a time.
type outcome struct {
	req  *request
	file *data.File
	err  error
}

// ingestTask drives one scanned entry's per-file ingestion, suspending
// at BQM request points via channel rendezvous. This is the "green
// thread" re-architecture named in spec.md §9: the task is an ordinary
// goroutine that blocks on respCh between yields, so only the task the
// coordinator is actively resuming is ever runnable — the coordinator
// reads exactly one value off out before the task can run again,
// which is what keeps Catalog Session access single-threaded despite
// each task living on its own goroutine.
type ingestTask struct {
	entry   data.ScanEntry
	started bool

	out chan outcome
	in  chan response

	env *taskEnv
}

// taskEnv is the coordinator-owned state every task consults: the
// per-run caches (touched only while a task is the one actively being
// resumed, so no lock is needed — see ingestTask), the pre-computed
// hash table from the Hash Pre-Pass, the reuse table, configuration
// and collaborators.
type taskEnv struct {
	cfg        effectiveConfig
	blobStore  blobStoreIface
	fileIO     fileIOIface
	catalog    catalogIface
	rollback   *rollbackList

	blobBySize map[int64]bool
	blobByHash map[string]*data.Blob

	preHashes   map[string]string // absolute path -> fingerprint, from HPP
	reusedFiles map[string]*data.File
}

type effectiveConfig struct {
	TempDir                string
	ReadAllThreshold       int64
	HashOnceThreshold      int64
	CompressForSize        func(size int64) compress.Method
	RetryCount             int
}

func newIngestTask(entry data.ScanEntry, env *taskEnv) *ingestTask {
	return &ingestTask{
		entry: entry,
		out:   make(chan outcome),
		in:    make(chan response),
		env:   env,
	}
}

// start launches the task's goroutine. The caller must read exactly
// one value from t.out immediately afterward.
func (t *ingestTask) start() {
	t.started = true
	go func() {
		file, err := t.run()
		t.out <- outcome{file: file, err: err}
	}()
}

// resume sends resp to a suspended task, which the caller must follow
// with exactly one read from t.out.
func (t *ingestTask) resume(resp response) {
	t.in <- resp
}

// querySize consults the coordinator's blob_by_size cache first; on a
// miss it suspends the goroutine until the coordinator resumes it with
// the batched answer.
func (t *ingestTask) querySize(size int64) (bool, error) {
	if exists, ok := t.env.blobBySize[size]; ok {
		return exists, nil
	}

	t.out <- outcome{req: &request{kind: sizeRequest, size: size}}
	resp := <-t.in
	if resp.err != nil {
		return false, resp.err
	}

	t.env.blobBySize[size] = resp.exists
	return resp.exists, nil
}

// queryHash consults the coordinator's blob_by_hash cache first; on a
// miss it suspends until the coordinator resumes it with the answer.
func (t *ingestTask) queryHash(hash string) (*data.Blob, error) {
	if b, ok := t.env.blobByHash[hash]; ok {
		return b, nil
	}

	t.out <- outcome{req: &request{kind: hashRequest, hash: hash}}
	resp := <-t.in
	if resp.err != nil {
		return nil, resp.err
	}

	t.env.blobByHash[hash] = resp.blob
	return resp.blob, nil
}

// run implements the per-file ingest task, spec.md §4.6.1.
func (t *ingestTask) run() (*data.File, error) {
	if reused, ok := t.env.reusedFiles[t.entry.AbsPath]; ok {
		f := *reused
		f.Path = t.entry.RelPath
		return &f, nil
	}

	switch t.entry.Type {
	case data.NodeTypeDir:
		return &data.File{
			Path:    t.entry.RelPath,
			Type:    data.NodeTypeDir,
			Size:    t.entry.Size,
			Mode:    t.entry.Mode,
			UID:     t.entry.UID,
			GID:     t.entry.GID,
			MtimeUs: t.entry.MtimeUs,
		}, nil

	case data.NodeTypeSymlink:
		target, err := t.env.fileIO.Readlink(t.entry.AbsPath)
		if err != nil {
			return nil, &errors.SourceFileNotFound{Path: t.entry.AbsPath, Err: err}
		}
		return &data.File{
			Path:    t.entry.RelPath,
			Type:    data.NodeTypeSymlink,
			Size:    t.entry.Size,
			Mode:    t.entry.Mode,
			UID:     t.entry.UID,
			GID:     t.entry.GID,
			MtimeUs: t.entry.MtimeUs,
			Content: lossyUTF8(target),
		}, nil

	case data.NodeTypeFile:
		return t.acquireBlob()

	default:
		return nil, &errors.UnsupportedFileFormat{Path: t.entry.AbsPath, Mode: t.entry.Mode}
	}
}

// lossyUTF8 implements the Open Question resolution documented in
// DESIGN.md: a symlink target that is not valid UTF-8 is replaced
// lossily rather than failing the whole run.
func lossyUTF8(s string) []byte {
	if isValidUTF8(s) {
		return []byte(s)
	}
	debug.Log("symlink target %q is not valid UTF-8, replacing invalid bytes", s)
	return []byte(toValidUTF8(s))
}

func fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// blobStoreIface and fileIOIface are the narrow collaborator
// interfaces an ingest task needs; defined here (rather than imported
// from internal/blobstore/internal/fs directly) so tests can supply
// fakes without touching the real filesystem.
type blobStoreIface interface {
	GetBlobPath(hash string) (string, error)
	Exists(hash string) (bool, error)
	CanCopyOnWrite(plainCompression bool, srcInfo os.FileInfo) bool
}

type fileIOIface interface {
	Lstat(path string) (os.FileInfo, error)
	Readlink(path string) (string, error)
	Open(path string) (*os.File, error)
}

// catalogIface is the subset of internal/catalog.Session a task needs
// directly (blob row creation happens synchronously, not via BQM,
// since it's a write — see SPEC_FULL.md §4).
type catalogIface interface {
	CreateOrGetBlob(hash string, method compress.Method, rawSize, storedSize int64) (*data.Blob, error)
}
