package batchquery

import (
	"sync"
	"testing"
	"time"

	"github.com/snapback/snapback/internal/data"
)

type fakeSizeLookup struct {
	mu    sync.Mutex
	sizes []int64 // records every batch request, in order
	has   map[int64]bool
}

func (f *fakeSizeLookup) HasBlobWithSizeBatched(sizes []int64) (map[int64]bool, error) {
	f.mu.Lock()
	f.sizes = append(f.sizes, sizes...)
	f.mu.Unlock()

	result := make(map[int64]bool, len(sizes))
	for _, s := range sizes {
		result[s] = f.has[s]
	}
	return result, nil
}

type fakeHashLookup struct{}

func (fakeHashLookup) GetBlobs(hashes []string) (map[string]*data.Blob, error) {
	return map[string]*data.Blob{}, nil
}

func TestQuerySizeFlushesAtMaxBatchSize(t *testing.T) {
	sizes := &fakeSizeLookup{has: map[int64]bool{}}
	m := New(sizes, fakeHashLookup{}, nil)

	var mu sync.Mutex
	results := make(map[int64]bool)
	var wg sync.WaitGroup

	for i := int64(0); i < MaxBatchSize; i++ {
		wg.Add(1)
		m.QuerySize(i, func(exists bool, err error) {
			defer wg.Done()
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			mu.Lock()
			results[i] = exists
			mu.Unlock()
		})
	}

	wg.Wait()

	if len(results) != MaxBatchSize {
		t.Fatalf("expected %d callbacks to have fired, got %d", MaxBatchSize, len(results))
	}
}

// TestSizeDueFiresOnTimerWithoutFlushing verifies that the FlushInterval
// timer only raises a due-signal and never calls FlushSize itself — the
// callback must not fire until something reads SizeDue and flushes.
func TestSizeDueFiresOnTimerWithoutFlushing(t *testing.T) {
	sizes := &fakeSizeLookup{has: map[int64]bool{42: true}}
	m := New(sizes, fakeHashLookup{}, nil)

	fired := make(chan struct{})
	m.QuerySize(42, func(exists bool, err error) {
		close(fired)
	})

	select {
	case <-m.SizeDue():
	case <-time.After(FlushInterval * 5):
		t.Fatal("SizeDue never signaled within the flush interval")
	}

	select {
	case <-fired:
		t.Fatal("callback fired before anything consumed SizeDue and called FlushSize")
	default:
	}

	m.FlushSize()
	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("callback never fired after FlushSize")
	}
}

func TestFlushCallbackOrderIsReversed(t *testing.T) {
	sizes := &fakeSizeLookup{has: map[int64]bool{}}
	m := New(sizes, fakeHashLookup{}, nil)

	var order []int64
	var mu sync.Mutex

	for _, size := range []int64{1, 2, 3} {
		size := size
		m.QuerySize(size, func(exists bool, err error) {
			mu.Lock()
			order = append(order, size)
			mu.Unlock()
		})
	}
	m.FlushSize()

	want := []int64{3, 2, 1}
	if len(order) != len(want) {
		t.Fatalf("got %d callbacks, want %d", len(order), len(want))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("callback order[%d] = %d, want %d", i, order[i], want[i])
		}
	}
}

func TestDequePreservesFIFOThenLIFOPrepend(t *testing.T) {
	d := NewDeque()
	d.PushBack("a")
	d.PushBack("b")
	d.PushBack("c")

	if got := d.PopFront(); got != "a" {
		t.Fatalf("PopFront() = %v, want a", got)
	}

	d.PushFront("z")
	if got := d.PopFront(); got != "z" {
		t.Fatalf("PopFront() = %v, want z", got)
	}
	if got := d.PopFront(); got != "b" {
		t.Fatalf("PopFront() = %v, want b", got)
	}
	if got := d.PopFront(); got != "c" {
		t.Fatalf("PopFront() = %v, want c", got)
	}
	if d.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", d.Len())
	}
	if got := d.PopFront(); got != nil {
		t.Fatalf("PopFront() on empty deque = %v, want nil", got)
	}
}
