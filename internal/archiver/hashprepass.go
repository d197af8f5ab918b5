package archiver

import (
	"context"
	"os"

	"golang.org/x/sync/errgroup"

	"github.com/snapback/snapback/internal/data"
	"github.com/snapback/snapback/internal/debug"
)

// sizeExistenceLookup is the narrow collaborator HPP needs: one batched
// existence query per distinct size, spec.md §4.2. Satisfied by
// internal/catalog.Session.
type sizeExistenceLookup interface {
	HasBlobWithSizeBatched(sizes []int64) (map[int64]bool, error)
}

// runHashPrePass implements HPP, spec.md §4.2: when concurrency > 1,
// collect the distinct sizes of every regular file the Reuse Detector
// did not already resolve, ask the catalog for blob_by_size existence
// in one batch, then hand a fixed-size worker pool only the files whose
// size collides with an existing blob. A file with a unique size cannot
// dedup, so pre-hashing it would be wasted I/O: it is left unhashed
// here and takes the coordinator's hash_once policy instead, which
// hashes it during its one read.
//
// The pool is fail-fast: the first unrecoverable read error cancels
// every other worker and aborts the run.
//
// Returns the pre-computed hashes keyed by absolute path, and the
// blob_by_size answers so the caller can warm the coordinator's cache
// instead of re-querying sizes HPP already asked about.
func runHashPrePass(ctx context.Context, entries []data.ScanEntry, reused map[string]*data.File, concurrency int, sizes sizeExistenceLookup, open func(path string) (*os.File, error)) (map[string]string, map[int64]bool, error) {
	result := make(map[string]string)
	if concurrency <= 1 {
		return result, nil, nil
	}

	candidates := make([]data.ScanEntry, 0, len(entries))
	distinctSizes := make(map[int64]struct{})
	for _, e := range entries {
		if e.Type != data.NodeTypeFile {
			continue
		}
		if _, ok := reused[e.AbsPath]; ok {
			continue
		}
		candidates = append(candidates, e)
		distinctSizes[e.Size] = struct{}{}
	}
	if len(candidates) == 0 {
		return result, nil, nil
	}

	sizeList := make([]int64, 0, len(distinctSizes))
	for s := range distinctSizes {
		sizeList = append(sizeList, s)
	}

	blobBySize, err := sizes.HasBlobWithSizeBatched(sizeList)
	if err != nil {
		return nil, nil, err
	}

	toHash := make([]data.ScanEntry, 0, len(candidates))
	for _, e := range candidates {
		if blobBySize[e.Size] {
			toHash = append(toHash, e)
		}
	}
	if len(toHash) == 0 {
		debug.Log("hashprepass: %d candidate sizes, none collide with an existing blob", len(sizeList))
		return result, blobBySize, nil
	}

	type outcome struct {
		path string
		hash string
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	out := make(chan outcome, len(toHash))

	for _, entry := range toHash {
		entry := entry
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}

			f, err := open(entry.AbsPath)
			if err != nil {
				debug.Log("hashprepass: skip %s: %v", entry.AbsPath, err)
				return nil
			}
			defer f.Close()

			h, err := sha256Reader(f)
			if err != nil {
				debug.Log("hashprepass: read error %s: %v", entry.AbsPath, err)
				return err
			}

			out <- outcome{path: entry.AbsPath, hash: h}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	close(out)

	for o := range out {
		result[o.path] = o.hash
	}

	debug.Log("hashprepass: pre-hashed %d/%d size-colliding candidates (%d unique-size files deferred to hash_once)",
		len(result), len(toHash), len(candidates)-len(toHash))
	return result, blobBySize, nil
}

func sha256Reader(f *os.File) (string, error) {
	_, hash, err := hashFileHandle(f)
	return hash, err
}
