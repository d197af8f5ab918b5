// Package costs implements a small per-phase stopwatch, grounded on
// the original implementation's _TimeCostKey/TimeCostStats: a run
// accumulates wall-clock time spent scanning, pre-hashing, writing
// blobs and committing, surfaced to the caller via BackupInfo.Costs.
package costs

import "time"

// Key names a phase tracked by Stats.
type Key string

const (
	Scan       Key = "scan"
	HashPrePass Key = "hash_pre_pass"
	BlobCreate Key = "blob_create"
	Commit     Key = "commit"
)

// Stats accumulates durations per phase over one run.
type Stats struct {
	totals map[Key]time.Duration
}

// NewStats returns an empty Stats.
func NewStats() *Stats {
	return &Stats{totals: make(map[Key]time.Duration)}
}

// Track runs fn and adds its wall-clock duration to key's total.
func (s *Stats) Track(key Key, fn func() error) error {
	start := time.Now()
	err := fn()
	s.totals[key] += time.Since(start)
	return err
}

// Add directly adds d to key's total, for phases that can't be
// expressed as a single fn() call (e.g. time spent across many
// resumed ingest task steps).
func (s *Stats) Add(key Key, d time.Duration) {
	s.totals[key] += d
}

// Snapshot returns a copy of the accumulated totals, suitable for
// attaching to a BackupInfo.
func (s *Stats) Snapshot() map[string]time.Duration {
	out := make(map[string]time.Duration, len(s.totals))
	for k, v := range s.totals {
		out[string(k)] = v
	}
	return out
}
