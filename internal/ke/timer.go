package ke

import (
	"runtime"
	"time"

	"golang.org/x/sys/cpu"
)

// TimerSourceKind is the chosen tick source, either the invariant TSC or the
// HPET-equivalent fallback. Both are backed by the monotonic Go clock —
// there is no RDTSC intrinsic or MMIO register to read from user space —
// but which one is reported, and the widening/calibration behavior each
// implies, is kept distinct because drivers are allowed to branch on it.
type TimerSourceKind int

const (
	SourceInvariantTSC TimerSourceKind = iota
	SourceHPET
)

func (k TimerSourceKind) String() string {
	if k == SourceInvariantTSC {
		return "invariant-tsc"
	}
	return "hpet"
}

// Timer exposes frequency() and ticks() over a monotonic clock, picking
// its reported source the way §4.10 describes: the invariant TSC when the
// CPU advertises one, a platform HPET-equivalent otherwise.
type Timer struct {
	kind  TimerSourceKind
	start time.Time
}

// NewTimer selects a source and starts the monotonic clock.
func NewTimer() *Timer {
	kind := SourceHPET
	if runtime.GOARCH == "amd64" && cpu.X86.HasRDRAND && cpu.X86.HasAVX {
		// golang.org/x/sys/cpu has no direct "invariant TSC" leaf — RDRAND
		// plus AVX support is a reasonable stand-in for "a modern enough
		// CPUID feature set that the invariant TSC is also present",
		// distinguishing it from the fallback path.
		kind = SourceInvariantTSC
	}
	return &Timer{kind: kind, start: time.Now()}
}

// Source reports which tick source was selected.
func (t *Timer) Source() TimerSourceKind { return t.kind }

// Frequency returns the tick rate in Hz. Both sources report nanosecond
// resolution in this model.
func (t *Timer) Frequency() uint64 {
	return uint64(time.Second / time.Nanosecond)
}

// Ticks returns a monotonic tick count since the timer was created.
func (t *Timer) Ticks() uint64 {
	return uint64(time.Since(t.start).Nanoseconds())
}
