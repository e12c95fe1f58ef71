// Package constants collects the kernel core's fixed sizes and tuning
// knobs in one place, the way a small kernel's headers usually do.
package constants

import "time"

// Page and pool geometry.
const (
	// PageSize is the architecture page size in bytes.
	PageSize = 4096

	// PoolHeaderSize is the size in bytes of a small pool block's header
	// (list link + tag + head index).
	PoolHeaderSize = 16

	// SmallBlockGranularity is the payload granularity of a small pool
	// block, in bytes.
	SmallBlockGranularity = 16

	// SmallBlockCount is the number of free-list buckets the small pool
	// allocator maintains, one per possible head_index value.
	SmallBlockCount = (PageSize - PoolHeaderSize) / SmallBlockGranularity

	// SmallBlockMaxSize is the largest request size the small allocator
	// will serve; larger requests bypass straight to the pool-page
	// allocator.
	SmallBlockMaxSize = SmallBlockCount * SmallBlockGranularity
)

// Per-CPU pool-page cache: one bucket per 1..4 page block size.
const (
	PoolPageCacheBuckets  = 4
	PoolPageCacheLowWater = 4
	PoolPageCacheHiWater  = 16
)

// Kernel stack cache tiers.
const (
	// KernelStackSize is the fixed size of every kernel stack allocation.
	KernelStackSize = 16 * 1024

	KernelStackPerCPULowWater = 2
	KernelStackPerCPUHiWater  = 8
	KernelStackGlobalHardCap  = 256
	KernelStackGlobalSoftCap  = 64
)

// Scheduler quantum, in nanoseconds.
const (
	DefaultQuantumNanos = 20_000_000 // 20ms, divided by ready-queue length
	MinQuantumNanos     = 2_000_000  // 2ms floor
)

// SMP / IPI bring-up timing, modeling the original's INIT-deassert wait
// and STARTUP retry spacing with goroutine-scheduling-friendly values.
const (
	InitDeassertWait = 10 * time.Microsecond
	StartupRetryWait = 200 * time.Microsecond
)

// Spin-lock backoff pacing for the CAS retry loop (the default of
// ke.SpinPause).
const (
	SpinPauseInterval = 50 * time.Microsecond
)

// Clock-interrupt tick period: how often a processor's simulated LAPIC
// timer fires OnTick. Overridable per boot.Config.
const DefaultTickPeriod = 1 * time.Millisecond

// IPI vectors used by the directed-notify / broadcast paths (§4.9). There
// is no real interrupt controller to program, so these just label the
// reason a processor's notify channel woke it.
const (
	VectorWakeup     uint32 = 1 // directed: a ready queue this processor owns gained an entry
	VectorWorkItem   uint32 = 2 // directed: high-priority work item queued
	VectorReschedule uint32 = 3 // broadcast: generic "re-enter dispatch" IPI
)

// Pool tags reserved for the kernel's own bookkeeping allocations.
const (
	PoolTagPool   = "Pool" // tag-tracker records
	PoolTagThread = "Thrd" // thread objects + stacks
	PoolTagEvent  = "Evnt" // event/mutex objects
)
