// Package track implements the pool tag tracker: a flat, linearly-scanned
// table of per-tag allocation statistics. The small-block pool records
// every request into it, including those it passes through to the
// pool-page allocator; poolpage itself does not use it.
package track

import "sync"

// Stat is the running and peak allocation/byte counts for one pool tag.
type Stat struct {
	Tag                [4]byte
	CurrentAllocations uint64
	CurrentBytes       uint64
	PeakAllocations    uint64
	PeakBytes          uint64
}

// Tracker accounts allocations by tag. Its own backing storage is a plain
// Go slice grown by append; it is not allocated from the pool and is not
// counted under any tag.
type Tracker struct {
	mu    sync.Mutex
	stats []Stat
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

func (t *Tracker) find(tag [4]byte) *Stat {
	for i := range t.stats {
		if t.stats[i].Tag == tag {
			return &t.stats[i]
		}
	}
	t.stats = append(t.stats, Stat{Tag: tag})
	return &t.stats[len(t.stats)-1]
}

// Allocate records size bytes allocated under tag.
func (t *Tracker) Allocate(tag [4]byte, size uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.find(tag)
	s.CurrentAllocations++
	s.CurrentBytes += size
	if s.CurrentAllocations > s.PeakAllocations {
		s.PeakAllocations = s.CurrentAllocations
	}
	if s.CurrentBytes > s.PeakBytes {
		s.PeakBytes = s.CurrentBytes
	}
}

// Free records size bytes released under tag. Freeing more than was ever
// allocated under a tag is a bookkeeping bug in the caller, not the
// tracker's to detect — pool.go's BAD_POOL_HEADER check is the actual
// guard against that.
func (t *Tracker) Free(tag [4]byte, size uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.find(tag)
	if s.CurrentAllocations > 0 {
		s.CurrentAllocations--
	}
	if s.CurrentBytes >= size {
		s.CurrentBytes -= size
	} else {
		s.CurrentBytes = 0
	}
}

// Snapshot returns a copy of every tag's statistics.
func (t *Tracker) Snapshot() []Stat {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Stat, len(t.stats))
	copy(out, t.stats)
	return out
}

// Get returns the current statistics for one tag.
func (t *Tracker) Get(tag [4]byte) Stat {
	t.mu.Lock()
	defer t.mu.Unlock()
	return *t.find(tag)
}
