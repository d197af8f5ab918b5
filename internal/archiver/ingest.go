package archiver

import (
	"github.com/snapback/snapback/internal/batchquery"
	"github.com/snapback/snapback/internal/data"
	"github.com/snapback/snapback/internal/debug"
	"github.com/snapback/snapback/internal/errors"
	"github.com/snapback/snapback/internal/filter"
)

func matchAnySkipPattern(patterns []string, relPath string) (bool, error) {
	return filter.MatchAny(patterns, relPath)
}

// scheduled pairs a suspended (or not-yet-started) task with the
// response it should be resumed with — nil for a fresh task.
type scheduled struct {
	task *ingestTask
	resp *response
}

// Coordinator implements IC, spec.md §4.6: the single-threaded
// scheduler that drives one ingestTask goroutine at a time to
// completion or suspension, routes its BQM requests, and collects
// finished File rows into the backup in their original scan order.
//
// The deque preserves order per spec.md §4.6.8: a freshly scanned
// entry is pushed to the back; a task resumed by a BQM callback is
// pushed to the front, and BQM invokes callbacks for one batch in
// reverse enqueue order — so the task that yielded earliest within a
// batch ends up frontmost after all of that batch's callbacks have
// run, matching its original position relative to its batch-mates.
type Coordinator struct {
	bqm *batchquery.Manager
	dq  *batchquery.Deque

	skipMissing        bool
	skipMissingPatterns []string
}

// NewCoordinator builds a Coordinator bound to bqm. The BQM's
// FlushInterval timer never flushes on its own goroutine — it only
// raises SizeDue/HashDue, which IngestOne selects on alongside the
// scanner channel so the actual FlushSize/FlushHash call (and the
// dq.PushFront it drives through callbacks) always happens on the
// coordinator's own goroutine.
func NewCoordinator(bqm *batchquery.Manager, skipMissing bool, skipMissingPatterns []string) *Coordinator {
	return &Coordinator{
		bqm:                 bqm,
		dq:                  batchquery.NewDeque(),
		skipMissing:         skipMissing,
		skipMissingPatterns: skipMissingPatterns,
	}
}

// IngestOne drains entries, running one ingestTask per entry to
// completion (possibly interleaved with others via BQM suspension),
// and returns the resulting File rows in original scan order.
func (c *Coordinator) IngestOne(entries <-chan data.ScanEntry, env *taskEnv) ([]data.File, error) {
	var order []*ingestTask
	results := make(map[*ingestTask]*data.File)
	var pendingCount int
	scannerDone := false

	enqueue := func(entry data.ScanEntry) {
		t := newIngestTask(entry, env)
		order = append(order, t)
		c.dq.PushBack(&scheduled{task: t})
		pendingCount++
	}

	for {
		// Keep the deque fed with freshly scanned entries whenever one
		// is immediately available, without blocking the scheduler.
		for !scannerDone {
			select {
			case entry, ok := <-entries:
				if !ok {
					scannerDone = true
					break
				}
				enqueue(entry)
				continue
			default:
			}
			break
		}

		if c.dq.Len() == 0 {
			if pendingCount == 0 && scannerDone {
				break
			}
			if !scannerDone {
				select {
				case entry, ok := <-entries:
					if !ok {
						scannerDone = true
						continue
					}
					enqueue(entry)
					continue
				case <-c.bqm.SizeDue():
					c.bqm.FlushSize()
					continue
				case <-c.bqm.HashDue():
					c.bqm.FlushHash()
					continue
				}
			}
			// No runnable task and the scanner is done: every
			// remaining task must be suspended behind a BQM request.
			c.bqm.Flush()
			if c.dq.Len() == 0 {
				return nil, errors.Fatal("ingest coordinator deadlocked: no runnable task and BQM made no progress")
			}
			continue
		}

		item := c.dq.PopFront().(*scheduled)

		var o outcome
		if item.resp != nil {
			item.task.resume(*item.resp)
		} else {
			item.task.start()
		}
		o = <-item.task.out

		switch {
		case o.req != nil:
			c.dispatch(item.task, o.req)

		case o.err != nil:
			file, skip := c.maybeSkip(item.task.entry, o.err)
			pendingCount--
			if !skip {
				return nil, o.err
			}
			if file != nil {
				results[item.task] = file
			}

		default:
			pendingCount--
			if o.file != nil {
				results[item.task] = o.file
			}
		}

		c.bqm.FlushIfNeeded()
	}

	files := make([]data.File, 0, len(order))
	for _, t := range order {
		if f := results[t]; f != nil {
			files = append(files, *f)
		}
	}
	return files, nil
}

// dispatch routes a suspended task's BQM request and re-enqueues the
// task at the front of the deque once the callback fires, preserving
// order per the package doc.
func (c *Coordinator) dispatch(t *ingestTask, req *request) {
	switch req.kind {
	case sizeRequest:
		c.bqm.QuerySize(req.size, func(exists bool, err error) {
			c.dq.PushFront(&scheduled{task: t, resp: &response{exists: exists, err: err}})
		})
	case hashRequest:
		c.bqm.QueryHash(req.hash, func(blob *data.Blob, err error) {
			c.dq.PushFront(&scheduled{task: t, resp: &response{blob: blob, err: err}})
		})
	}
}

// maybeSkip implements the creation_skip_missing_file contract,
// spec.md §6: when the flag is on, a SourceFileNotFound for a path
// matching the configured pattern set is suppressed and the entry
// simply omitted from the backup, instead of aborting the whole run.
func (c *Coordinator) maybeSkip(entry data.ScanEntry, err error) (*data.File, bool) {
	var notFound *errors.SourceFileNotFound
	if !errors.As(err, &notFound) {
		return nil, false
	}

	if !c.skipMissing {
		return nil, false
	}

	matched, matchErr := matchAnySkipPattern(c.skipMissingPatterns, entry.RelPath)
	if matchErr == nil && matched {
		debug.Log("ingest: skipping missing file %s (pattern match)", entry.AbsPath)
		return nil, true
	}

	return nil, false
}
