package ke

import (
	"sync/atomic"

	"github.com/brennagh/mira/internal/constants"
	"golang.org/x/sys/unix"
)

// SpinLock is a single machine word holding 0 (free) or the identity of
// its owner. Acquisition requires the caller to already be at >= Dispatch;
// release must be done by the holder. Both violations are fatal, matching
// the original's SPIN_LOCK_ALREADY_OWNED / SPIN_LOCK_NOT_OWNED.
type SpinLock struct {
	word atomic.Uint64
}

const noOwner = 0

// ownerID returns an identity suitable for the lock word: processor
// numbers are small non-negative integers, so ownerID is just number+1
// (0 is reserved to mean "free").
func ownerID(processor int) uint64 {
	return uint64(processor) + 1
}

// TryAcquire attempts a single CAS, returning whether it succeeded.
// processorIrql must already be >= Dispatch.
func (l *SpinLock) TryAcquire(processorIrql Irql, processor int) bool {
	if processorIrql < Dispatch {
		Panic(IrqlNotDispatch, uint64(processorIrql), 0, 0, 0)
	}
	return l.word.CompareAndSwap(noOwner, ownerID(processor))
}

// Acquire spins until the CAS succeeds, pausing between attempts. Calling
// it while already holding the lock (same processor identity) is fatal.
func (l *SpinLock) Acquire(processorIrql Irql, processor int) {
	if processorIrql < Dispatch {
		Panic(IrqlNotDispatch, uint64(processorIrql), 0, 0, 0)
	}
	id := ownerID(processor)
	for {
		if l.word.CompareAndSwap(noOwner, id) {
			return
		}
		if l.word.Load() == id {
			Panic(SpinLockAlreadyOwned, id, 0, 0, 0)
			return
		}
		ts := unix.NsecToTimespec(SpinPause.Nanoseconds())
		unix.Nanosleep(&ts, nil)
	}
}

// Release clears ownership. Releasing a lock not held by processor is
// fatal (SpinLockNotOwned).
func (l *SpinLock) Release(processor int) {
	id := ownerID(processor)
	if !l.word.CompareAndSwap(id, noOwner) {
		Panic(SpinLockNotOwned, id, l.word.Load(), 0, 0)
	}
}

// Owned reports whether processor currently holds the lock, for assertions
// made by callers that must already hold it (e.g. ev.WakeSingleThread
// asserting the target's owning-CPU lock).
func (l *SpinLock) Owned(processor int) bool {
	return l.word.Load() == ownerID(processor)
}

// SpinPause is the backoff interval between failed CAS attempts, kept as a
// var (not a const) so tests can shorten it.
var SpinPause = constants.SpinPauseInterval
