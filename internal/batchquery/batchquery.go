// Package batchquery implements the Batch Query Manager (BQM): it
// coalesces point lookups issued by many in-flight ingest tasks into
// size-bucketed or hash-bucketed batches against the Catalog Session,
// amortizing round-trips. Grounded directly on the batching algorithm
// of the Python BatchFetcherBase/BatchQueryManager this pipeline was
// distilled from: a batch flushes when it reaches MaxBatchSize, when
// FlushInterval has elapsed since the first pending item, or when the
// coordinator explicitly asks for a flush because it has nothing left
// to run until an answer arrives.
package batchquery

import (
	"container/list"
	"sync"
	"time"

	"github.com/snapback/snapback/internal/data"
	"github.com/snapback/snapback/internal/debug"
)

// MaxBatchSize bounds how many distinct keys accumulate before a
// sub-batcher flushes on its own.
const MaxBatchSize = 100

// FlushInterval bounds how long a sub-batcher waits for more keys
// before raising its due-signal (SizeDue/HashDue) so the coordinator
// flushes it.
const FlushInterval = 100 * time.Millisecond

// SizeLookup answers "does any blob of this size exist?" for a batch
// of sizes in one round-trip. Implemented by internal/catalog.
type SizeLookup interface {
	HasBlobWithSizeBatched(sizes []int64) (map[int64]bool, error)
}

// HashLookup answers "fetch the Blob row for this fingerprint" for a
// batch of hashes in one round-trip. Implemented by internal/catalog.
type HashLookup interface {
	GetBlobs(hashes []string) (map[string]*data.Blob, error)
}

type sizeCallback struct {
	size int64
	cb   func(exists bool, err error)
}

type hashCallback struct {
	hash string
	cb   func(blob *data.Blob, err error)
}

// Manager is the BQM: it owns a SizeBatcher and a HashBatcher and
// drives both against a Catalog Session.
//
// Every Flush*/dispatch of callbacks must happen on the coordinator's
// own goroutine: callbacks push suspended tasks onto the coordinator's
// deque, and that deque is documented (spec.md §5) as touched only
// from the coordinator thread, with no locking. QuerySize/QueryHash's
// own MaxBatchSize-triggered flush is safe because it runs inline on
// whatever goroutine called QuerySize/QueryHash, which is always the
// coordinator's. The FlushInterval timer is the one source of
// off-thread activity, so its callback only raises a due-signal; it
// never flushes directly. The coordinator must select on SizeDue/
// HashDue while otherwise idle and call FlushSize/FlushHash itself
// when signaled.
type Manager struct {
	mu sync.Mutex

	sizes  SizeLookup
	hashes HashLookup

	sizePending []sizeCallback
	sizeKeys    map[int64]struct{}
	sizeTimer   *time.Timer
	sizeDue     chan struct{}

	hashPending []hashCallback
	hashKeys    map[string]struct{}
	hashTimer   *time.Timer
	hashDue     chan struct{}

	// onDirty is invoked (outside the lock) whenever a batch flush
	// completes, so the coordinator's scheduler can be woken even if
	// it is blocked waiting on the deque being empty.
	onDirty func()
}

// New constructs a BQM bound to a Catalog Session's batched lookups.
func New(sizes SizeLookup, hashes HashLookup, onDirty func()) *Manager {
	return &Manager{
		sizes:    sizes,
		hashes:   hashes,
		sizeKeys: make(map[int64]struct{}),
		hashKeys: make(map[string]struct{}),
		sizeDue:  make(chan struct{}, 1),
		hashDue:  make(chan struct{}, 1),
		onDirty:  onDirty,
	}
}

// SizeDue signals (non-blocking, capacity 1) that the size batcher's
// FlushInterval has elapsed and FlushSize needs to run. The receiver
// must call FlushSize itself, from its own goroutine.
func (m *Manager) SizeDue() <-chan struct{} { return m.sizeDue }

// HashDue is SizeDue's counterpart for the hash batcher.
func (m *Manager) HashDue() <-chan struct{} { return m.hashDue }

// QuerySize enqueues a size-existence lookup. cb is invoked once the
// batch containing this key flushes, in reverse enqueue order
// relative to every other callback flushed in the same batch.
func (m *Manager) QuerySize(size int64, cb func(exists bool, err error)) {
	m.mu.Lock()
	m.sizePending = append(m.sizePending, sizeCallback{size: size, cb: cb})
	m.sizeKeys[size] = struct{}{}
	full := len(m.sizeKeys) >= MaxBatchSize
	if m.sizeTimer == nil {
		m.sizeTimer = time.AfterFunc(FlushInterval, m.signalSizeDue)
	}
	m.mu.Unlock()

	if full {
		m.FlushSize()
	}
}

// QueryHash enqueues a fingerprint lookup, same batching contract as
// QuerySize.
func (m *Manager) QueryHash(hash string, cb func(blob *data.Blob, err error)) {
	m.mu.Lock()
	m.hashPending = append(m.hashPending, hashCallback{hash: hash, cb: cb})
	m.hashKeys[hash] = struct{}{}
	full := len(m.hashKeys) >= MaxBatchSize
	if m.hashTimer == nil {
		m.hashTimer = time.AfterFunc(FlushInterval, m.signalHashDue)
	}
	m.mu.Unlock()

	if full {
		m.FlushHash()
	}
}

// signalSizeDue runs on the timer's own goroutine: it must never call
// FlushSize directly, only wake whoever is waiting to do so.
func (m *Manager) signalSizeDue() {
	select {
	case m.sizeDue <- struct{}{}:
	default:
	}
}

func (m *Manager) signalHashDue() {
	select {
	case m.hashDue <- struct{}{}:
	default:
	}
}

// FlushSize issues one batched query for every distinct pending size
// and invokes callbacks in reverse enqueue order.
func (m *Manager) FlushSize() {
	m.mu.Lock()
	pending := m.sizePending
	keys := m.sizeKeys
	m.sizePending = nil
	m.sizeKeys = make(map[int64]struct{})
	if m.sizeTimer != nil {
		m.sizeTimer.Stop()
		m.sizeTimer = nil
	}
	m.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	sizes := make([]int64, 0, len(keys))
	for s := range keys {
		sizes = append(sizes, s)
	}

	debug.Log("batchquery: flushing %d size lookups (%d distinct)", len(pending), len(sizes))
	result, err := m.sizes.HasBlobWithSizeBatched(sizes)

	// Reverse order: the first-enqueued task must resume first once
	// its callback re-prepends it to the coordinator's deque.
	for i := len(pending) - 1; i >= 0; i-- {
		item := pending[i]
		if err != nil {
			item.cb(false, err)
			continue
		}
		item.cb(result[item.size], nil)
	}

	if m.onDirty != nil {
		m.onDirty()
	}
}

// FlushHash issues one batched query for every distinct pending hash
// and invokes callbacks in reverse enqueue order.
func (m *Manager) FlushHash() {
	m.mu.Lock()
	pending := m.hashPending
	keys := m.hashKeys
	m.hashPending = nil
	m.hashKeys = make(map[string]struct{})
	if m.hashTimer != nil {
		m.hashTimer.Stop()
		m.hashTimer = nil
	}
	m.mu.Unlock()

	if len(pending) == 0 {
		return
	}

	hashes := make([]string, 0, len(keys))
	for h := range keys {
		hashes = append(hashes, h)
	}

	debug.Log("batchquery: flushing %d hash lookups (%d distinct)", len(pending), len(hashes))
	result, err := m.hashes.GetBlobs(hashes)

	for i := len(pending) - 1; i >= 0; i-- {
		item := pending[i]
		if err != nil {
			item.cb(nil, err)
			continue
		}
		item.cb(result[item.hash], nil)
	}

	if m.onDirty != nil {
		m.onDirty()
	}
}

// FlushIfNeeded flushes either sub-batcher whose pending set has
// reached MaxBatchSize. The coordinator calls this after every step.
func (m *Manager) FlushIfNeeded() {
	m.mu.Lock()
	flushSize := len(m.sizeKeys) >= MaxBatchSize
	flushHash := len(m.hashKeys) >= MaxBatchSize
	m.mu.Unlock()

	if flushSize {
		m.FlushSize()
	}
	if flushHash {
		m.FlushHash()
	}
}

// Flush unconditionally flushes both sub-batchers. The coordinator
// calls this when its run queue is empty but callbacks are still
// outstanding, so the run can make progress instead of deadlocking.
func (m *Manager) Flush() {
	m.FlushSize()
	m.FlushHash()
}

// Idle reports whether both sub-batchers have nothing pending.
func (m *Manager) Idle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sizePending) == 0 && len(m.hashPending) == 0
}

// deque is a small FIFO/LIFO-prepend helper used by the Ingest
// Coordinator to schedule (task, resume) pairs; exported here since
// both packages need the identical reverse-order contract and it
// keeps the container/list usage in one place.
type Deque struct {
	l *list.List
}

// NewDeque returns an empty deque.
func NewDeque() *Deque { return &Deque{l: list.New()} }

// PushBack appends to the tail (used to enqueue a freshly-scanned
// file's first task).
func (d *Deque) PushBack(v interface{}) { d.l.PushBack(v) }

// PushFront prepends to the head (used by BQM callbacks, since
// invoking them in reverse enqueue order and always prepending
// restores the original scan order at the front of the deque).
func (d *Deque) PushFront(v interface{}) { d.l.PushFront(v) }

// PopFront removes and returns the head element, or nil if empty.
func (d *Deque) PopFront() interface{} {
	e := d.l.Front()
	if e == nil {
		return nil
	}
	d.l.Remove(e)
	return e.Value
}

// Len returns the number of elements currently queued.
func (d *Deque) Len() int { return d.l.Len() }
