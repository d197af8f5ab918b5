package archiver

import (
	"context"
	"os"

	"github.com/snapback/snapback/internal/batchquery"
	"github.com/snapback/snapback/internal/blobstore"
	"github.com/snapback/snapback/internal/catalog"
	"github.com/snapback/snapback/internal/config"
	"github.com/snapback/snapback/internal/costs"
	"github.com/snapback/snapback/internal/data"
	"github.com/snapback/snapback/internal/debug"
	"github.com/snapback/snapback/internal/fs"
)

// Options bundles everything one call to Run needs beyond the Config
// itself: the backup's human-facing metadata.
type Options struct {
	CreatedBy string
	Comment   string
	Tags      map[string]string
}

// Run executes one complete backup creation pipeline run: it opens
// the Catalog Session and Blob Store, scans every configured target,
// runs the Hash Pre-Pass when concurrency allows it, then drives the
// Ingest Coordinator to produce and commit one Backup row. Any error
// triggers catalog rollback and best-effort removal of blobs written
// so far, per spec.md §4.6.9.
func Run(ctx context.Context, cfg *config.Config, opts Options) (*data.BackupInfo, error) {
	stats := costs.NewStats()

	tempDir := cfg.TempPath
	if tempDir == "" {
		tempDir = os.TempDir()
	}

	store, err := blobstore.Open(cfg.BlobStoreRoot)
	if err != nil {
		return nil, err
	}
	if err := store.PrepareDirectories(); err != nil {
		return nil, err
	}

	cs, err := catalog.Open(cfg.CatalogDSN)
	if err != nil {
		return nil, err
	}
	defer cs.Close()

	if err := cs.Begin(); err != nil {
		return nil, err
	}

	info, err := runLocked(ctx, cfg, opts, cs, store, tempDir, stats)
	if err != nil {
		cs.Rollback()
		return nil, err
	}

	if err := stats.Track(costs.Commit, cs.Commit); err != nil {
		return nil, err
	}

	info.Costs = stats.Snapshot()
	return info, nil
}

func runLocked(ctx context.Context, cfg *config.Config, opts Options, cs *catalog.Session, store *blobstore.Store, tempDir string, stats *costs.Stats) (*data.BackupInfo, error) {
	reuseIndex, err := buildReuseIndex(cs)
	if err != nil {
		return nil, err
	}

	var entries []data.ScanEntry
	if err := stats.Track(costs.Scan, func() error {
		var scanErr error
		entries, scanErr = scanAllTargets(cfg)
		return scanErr
	}); err != nil {
		return nil, err
	}

	// Reuse resolution must run before the Hash Pre-Pass so HPP can
	// exclude already-reused files from its candidate set, per spec.md
	// §4.2 ("for each regular file in the scan not already in
	// reused_files").
	reusedFiles := make(map[string]*data.File)
	resolveReuseEligibility(entries, reuseIndex, reusedFiles, cfg.ReuseStatUnchangedFile)

	var preHashes map[string]string
	var blobBySize map[int64]bool
	if err := stats.Track(costs.HashPrePass, func() error {
		var hppErr error
		preHashes, blobBySize, hppErr = runHashPrePass(ctx, entries, reusedFiles, cfg.GetEffectiveConcurrency(), cs, fs.Local{}.Open)
		return hppErr
	}); err != nil {
		return nil, err
	}

	env := &taskEnv{
		cfg: effectiveConfig{
			TempDir:           tempDir,
			ReadAllThreshold:  8 * 1024,
			HashOnceThreshold: 10 * 1024 * 1024,
			CompressForSize:   cfg.GetCompressMethodFromSize,
			RetryCount:        3,
		},
		blobStore:   store,
		fileIO:      fs.Local{},
		catalog:     cs,
		rollback:    newRollbackList(),
		blobBySize:  make(map[int64]bool),
		blobByHash:  make(map[string]*data.Blob),
		preHashes:   preHashes,
		reusedFiles: reusedFiles,
	}
	for size, exists := range blobBySize {
		env.blobBySize[size] = exists
	}

	bqm := batchquery.New(cs, cs, nil)
	coord := NewCoordinator(bqm, cfg.CreationSkipMissingFile, cfg.CreationSkipMissingFilePatterns)

	entryCh := make(chan data.ScanEntry, len(entries))
	for _, e := range entries {
		entryCh <- e
	}
	close(entryCh)

	var files []data.File
	if err := stats.Track(costs.BlobCreate, func() error {
		var ingestErr error
		files, ingestErr = coord.IngestOne(entryCh, env)
		return ingestErr
	}); err != nil {
		env.rollback.Apply()
		return nil, err
	}

	backup, err := cs.CreateBackup(opts.CreatedBy, opts.Comment, cfg.Targets, opts.Tags)
	if err != nil {
		env.rollback.Apply()
		return nil, err
	}

	var rawBytes, storedBytes int64
	for _, f := range files {
		if err := cs.CreateFile(backup.ID, f); err != nil {
			env.rollback.Apply()
			return nil, err
		}
		if blob, ok := env.blobByHash[derefOr(f.BlobHash)]; ok && f.BlobHash != nil {
			rawBytes += blob.RawSize
			storedBytes += blob.Stored
		}
	}

	debug.Log("run: ingested %d entries into backup %d", len(files), backup.ID)

	return &data.BackupInfo{
		BackupID:    backup.ID,
		Timestamp:   backup.Timestamp,
		FileCount:   len(files),
		Tags:        backup.Tags,
		RawBytes:    rawBytes,
		StoredBytes: storedBytes,
	}, nil
}

func derefOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// scanAllTargets runs the Scanner once per configured target and
// collects every emitted entry; used here rather than streamed
// straight into the coordinator so the Hash Pre-Pass can see the full
// entry set before ingestion starts, per spec.md §5's phase ordering.
func scanAllTargets(cfg *config.Config) ([]data.ScanEntry, error) {
	scanner, err := NewScanner(cfg.SourcePath, cfg.IgnorePatterns, cfg.FollowTargetSymlink)
	if err != nil {
		return nil, err
	}

	var entries []data.ScanEntry
	for _, target := range cfg.Targets {
		out := make(chan data.ScanEntry)
		done := make(chan error, 1)

		go func(target string) {
			done <- scanner.Scan(target, out)
			close(out)
		}(target)

		for e := range out {
			entries = append(entries, e)
		}
		if err := <-done; err != nil {
			return nil, err
		}
	}

	return entries, nil
}

// resolveReuseEligibility narrows the full prior-backup index (keyed
// by path) down to just the entries this scan actually reconfirms as
// unchanged, adding each one to reusedFiles under its absolute path.
func resolveReuseEligibility(entries []data.ScanEntry, byPath map[string]*data.File, reusedFiles map[string]*data.File, enabled bool) {
	if !enabled {
		return
	}
	for _, e := range entries {
		prior, ok := byPath[e.RelPath]
		if !ok {
			continue
		}
		if matchReuse(e, prior, enabled) {
			reusedFiles[e.AbsPath] = prior
		}
	}
}
