// Package ev implements the wait/wake primitive every blocking kernel
// object builds on (§4.12), and the two concrete object kinds that exist
// today: Event and Mutex (§4.13). Nothing below it knows about this
// package — ev is the one subsystem allowed to import both ke and ps.
package ev

import (
	"time"

	"github.com/brennagh/mira/internal/constants"
	"github.com/brennagh/mira/internal/ke"
	"github.com/brennagh/mira/internal/ps"
	"github.com/brennagh/mira/internal/rtlist"
)

// Kind distinguishes the two object flavors sharing a Header.
type Kind int

const (
	KindEvent Kind = iota
	KindMutex
)

func (k Kind) String() string {
	switch k {
	case KindEvent:
		return "Event"
	case KindMutex:
		return "Mutex"
	default:
		return "Kind(?)"
	}
}

// Header is the common prefix of every wait-able object (§3's "Event
// header"): a lock, the fast-path signaled flag, and the FIFO of threads
// currently blocked on it.
type Header struct {
	Lock     ke.SpinLock
	Signaled bool
	WaitList *rtlist.DList[*ps.Thread]
	Kind     Kind
}

func newHeader(kind Kind) Header {
	return Header{WaitList: rtlist.NewDList[*ps.Thread](), Kind: kind}
}

// Object is anything with an event header. Event and Mutex both qualify;
// header stays unexported since both implementations live in this
// package.
type Object interface {
	header() *Header
}

// RemoveWaiter implements ps.WaitListRemover, letting the scheduler unlink
// a timed-out thread from this object's wait-list without ps importing
// ev. The caller (ps.Processor.expireWaits) is already running on t's
// owning processor at >= Dispatch.
func (h *Header) RemoveWaiter(t *ps.Thread) {
	owner := t.Processor.Number()
	h.Lock.Acquire(t.Processor.Irql().Current(), owner)
	h.WaitList.Remove(t.WaitNode())
	h.Lock.Release(owner)
}

func ticksFor(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	n := uint64(d / constants.DefaultTickPeriod)
	if d%constants.DefaultTickPeriod != 0 {
		n++
	}
	if n == 0 {
		n = 1
	}
	return n
}

// WaitForObject implements §4.12's wait_for_object verbatim: the fast
// path when already signaled, otherwise committing the calling thread to
// obj's wait-list (and, with a bounded timeout, the CPU's wait queue)
// before switching away. timeout == 0 means UNLIMITED.
//
// t must be the calling thread, currently Running on its processor.
func WaitForObject(t *ps.Thread, obj Object, timeout time.Duration) bool {
	h := obj.header()
	p := t.Processor
	n := p.Number()

	// 1. Acquire the object's lock, raising to SYNCH.
	prev := p.RaiseIrql(ke.Synch)
	h.Lock.Acquire(ke.Synch, n)

	// 2. Already signaled: succeed immediately.
	if h.Signaled {
		h.Lock.Release(n)
		p.LowerIrql(prev)
		return true
	}

	// 3. Commit to waiting, under the owning CPU's own lock.
	p.Lock.Acquire(ke.Synch, n)
	h.WaitList.PushBack(t.WaitNode())
	t.WaitObject = obj
	if timeout != 0 {
		t.WaitTicks = p.Ticks + ticksFor(timeout)
		p.Wait.PushBack(t.ListNode())
	} else {
		t.WaitTicks = 0
	}
	p.Lock.Release(n)

	// 4. Release the object's lock — any signal now finds t in the list.
	h.Lock.Release(n)
	p.LowerIrql(prev)

	// 5. Give up the processor.
	ps.Block(t)

	// 6. wait_ticks == 0 means woken by a signal; non-zero means timeout.
	return t.WaitTicks == 0
}

// WakeSingleThread implements §4.12's wake_single_thread: pop the
// longest-waiting thread, clear its timeout, and re-queue it with
// event-wake placement. caller is whatever thread is running the release
// or set path; its processor is raised to SYNCH while it holds the
// target's owning-CPU lock, supplies the acquiring identity for that lock,
// and is the "current CPU" queue_thread places the woken thread relative
// to.
func WakeSingleThread(caller *ps.Thread, obj Object) {
	h := obj.header()
	n := h.WaitList.PopFront()
	if n == nil {
		return
	}
	t := n.Value
	target := t.Processor
	cp := caller.Processor
	cn := cp.Number()

	prev := cp.RaiseIrql(ke.Synch)
	target.Lock.Acquire(ke.Synch, cn)
	if t.State() != ps.Waiting {
		ke.Panic(ke.BadThreadState, t.ID, uint64(t.State()), uint64(ps.Waiting), 0)
	}
	if t.WaitTicks != 0 {
		target.Wait.Remove(t.ListNode())
	}
	target.Lock.Release(cn)
	cp.LowerIrql(prev)

	t.WaitTicks = 0
	t.WaitObject = nil
	ps.QueueThread(cp, t, true)
}

// WakeAllThreads loops WakeSingleThread until obj's wait-list is empty.
func WakeAllThreads(caller *ps.Thread, obj Object) {
	h := obj.header()
	for !h.WaitList.Empty() {
		WakeSingleThread(caller, obj)
	}
}

// Event is a manual-reset wait object: Set marks it signaled, waking every
// thread already waiting and letting every subsequent wait pass through
// the fast path until Reset; Pulse wakes only the threads waiting at the
// instant of the call and leaves the signaled flag as it was.
type Event struct {
	Header
}

// NewEvent returns an Event in the unsignaled state.
func NewEvent() *Event {
	return &Event{Header: newHeader(KindEvent)}
}

func (e *Event) header() *Header { return &e.Header }

// Set marks the event signaled and wakes every current waiter.
func (e *Event) Set(caller *ps.Thread) {
	p := caller.Processor
	prev := p.RaiseIrql(ke.Synch)
	e.Lock.Acquire(ke.Synch, p.Number())
	e.Signaled = true
	e.Lock.Release(p.Number())
	p.LowerIrql(prev)

	WakeAllThreads(caller, e)
}

// Reset clears the signaled flag so the next wait blocks again.
func (e *Event) Reset(caller *ps.Thread) {
	p := caller.Processor
	prev := p.RaiseIrql(ke.Synch)
	e.Lock.Acquire(ke.Synch, p.Number())
	e.Signaled = false
	e.Lock.Release(p.Number())
	p.LowerIrql(prev)
}

// Pulse wakes every thread currently waiting; it does not change the
// signaled flag.
func (e *Event) Pulse(caller *ps.Thread) {
	WakeAllThreads(caller, e)
}
