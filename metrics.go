package mira

import "github.com/brennagh/mira/internal/mm/track"

// PoolStat is a public, point-in-time snapshot of one pool tag's current
// and peak usage — the public face of internal/mm/track's tag tracker
// (§4.5), broken down by the four-ASCII-character tag every pool
// allocation carries (§6, "Pool-tag convention").
type PoolStat struct {
	Tag                [4]byte
	CurrentAllocations uint64
	CurrentBytes       uint64
	PeakAllocations    uint64
	PeakBytes          uint64
}

// PoolStats returns a snapshot of every tag the tracker currently knows
// about. Callers typically pass (*boot.Kernel).Stats.
func PoolStats(tracker *track.Tracker) []PoolStat {
	snap := tracker.Snapshot()
	out := make([]PoolStat, len(snap))
	for i, s := range snap {
		out[i] = PoolStat{
			Tag:                s.Tag,
			CurrentAllocations: s.CurrentAllocations,
			CurrentBytes:       s.CurrentBytes,
			PeakAllocations:    s.PeakAllocations,
			PeakBytes:          s.PeakBytes,
		}
	}
	return out
}
