package archiver

import (
	"os"
	"sync"

	"github.com/snapback/snapback/internal/debug"
)

// rollbackList tracks every blob file path created during a run so
// that, if the run aborts with an error, the Ingest Coordinator can
// best-effort remove them rather than leave orphaned blobs behind
// (spec.md §4.6, rollback). Catalog rows are covered separately by
// the Session's transaction rollback.
type rollbackList struct {
	mu    sync.Mutex
	paths []string
}

func newRollbackList() *rollbackList {
	return &rollbackList{}
}

// Add records path as a blob file that now exists on disk and must be
// removed on abort.
func (r *rollbackList) Add(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
}

// Apply removes every recorded path, best-effort: a failure to remove
// one path is logged and does not stop the rest from being attempted.
func (r *rollbackList) Apply() {
	r.mu.Lock()
	paths := r.paths
	r.paths = nil
	r.mu.Unlock()

	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			debug.Log("rollback: failed to remove %s: %v", p, err)
		}
	}
}
