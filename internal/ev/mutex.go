package ev

import (
	"time"

	"github.com/brennagh/mira/internal/ke"
	"github.com/brennagh/mira/internal/ps"
)

// Mutex is a recursive, FIFO-fair lock (§4.13). Header supplies the wait
// machinery; Owner/Recursion/Contention are the fields unique to a mutex,
// and contention is the field whose bookkeeping the spec calls "the
// correctness crux": exactly one right to acquire is ever in flight.
type Mutex struct {
	Header
	Owner      *ps.Thread
	Recursion  uint32
	Contention uint32
}

// NewMutex returns a free, unowned mutex. Signaled starts true: a release
// with zero contention is what leaves a free mutex in that state, and a
// fresh mutex is equivalent to one that has just been released uncontended.
func NewMutex() *Mutex {
	m := &Mutex{Header: newHeader(KindMutex)}
	m.Signaled = true
	return m
}

func (m *Mutex) header() *Header { return &m.Header }

// tryAcquireLocked implements try_acquire's core logic. Caller must
// already hold m.Lock.
func (m *Mutex) tryAcquireLocked(t *ps.Thread) bool {
	if m.Owner == t {
		m.Recursion++
		return true
	}
	if m.Contention == 0 && m.Owner == nil {
		m.Signaled = false
		m.Recursion = 1
		m.Owner = t
		return true
	}
	return false
}

// TryAcquire implements §4.13's try_acquire as a standalone call: acquire
// M.lock, attempt the fast path, release.
func (m *Mutex) TryAcquire(t *ps.Thread) bool {
	p := t.Processor
	prev := p.RaiseIrql(ke.Synch)
	m.Lock.Acquire(ke.Synch, p.Number())
	ok := m.tryAcquireLocked(t)
	m.Lock.Release(p.Number())
	p.LowerIrql(prev)
	return ok
}

// Acquire implements §4.13's acquire: try_acquire under M.lock with
// contention bumped on failure, then a wait with the same resolution
// rules as wait_for_object — success hands over ownership, timeout gives
// the contention unit back.
func (m *Mutex) Acquire(t *ps.Thread, timeout time.Duration) bool {
	p := t.Processor

	prev := p.RaiseIrql(ke.Synch)
	m.Lock.Acquire(ke.Synch, p.Number())
	if m.tryAcquireLocked(t) {
		m.Lock.Release(p.Number())
		p.LowerIrql(prev)
		return true
	}
	m.Contention++
	m.Lock.Release(p.Number())
	p.LowerIrql(prev)

	if WaitForObject(t, m, timeout) {
		m.Recursion = 1
		m.Owner = t
		return true
	}

	prev = p.RaiseIrql(ke.Synch)
	m.Lock.Acquire(ke.Synch, p.Number())
	m.Contention--
	m.Lock.Release(p.Number())
	p.LowerIrql(prev)
	return false
}

// Release implements §4.13's release: owner must be the calling thread
// (fatal MutexNotOwned otherwise); the recursion count is the only thing
// decremented until it reaches zero, at which point ownership, contention,
// and the fast-path signaled flag are resolved in one critical section.
func (m *Mutex) Release(t *ps.Thread) {
	p := t.Processor
	prev := p.RaiseIrql(ke.Synch)
	m.Lock.Acquire(ke.Synch, p.Number())

	if m.Owner != t {
		m.Lock.Release(p.Number())
		p.LowerIrql(prev)
		ke.Panic(ke.MutexNotOwned, t.ID, 0, 0, 0)
		return
	}

	m.Recursion--
	if m.Recursion != 0 {
		m.Lock.Release(p.Number())
		p.LowerIrql(prev)
		return
	}

	m.Owner = nil
	wake := false
	if m.Contention > 0 {
		m.Contention--
		m.Signaled = false
		wake = true
	} else {
		m.Signaled = true
	}
	m.Lock.Release(p.Number())
	p.LowerIrql(prev)

	if wake {
		WakeSingleThread(t, m)
	}
}
