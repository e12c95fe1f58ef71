// Package ps ("process structures") implements the thread scheduler: the
// per-processor ready/wait/termination/work queues, thread creation and
// the context-switch protocol, and the queuing policy that places a
// runnable thread on some processor's ready queue.
//
// There is no real register frame to save and restore here — a Go process
// has no ring-0 stack-switch primitive to call into. Instead, every Thread
// owns a dedicated goroutine that blocks on a channel handoff: the
// processor "runs" a thread by unblocking its goroutine and waiting for it
// to hand control back (by calling Yield, blocking in a wait, or
// returning). This is the one necessary liberty SPEC_FULL.md calls out;
// the state machine and queue-ownership rules it drives are otherwise
// exactly §4.11-§4.13's.
package ps

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/brennagh/mira/internal/ke"
	"github.com/brennagh/mira/internal/mm/kstack"
	"github.com/brennagh/mira/internal/mm/vmm"
	"github.com/brennagh/mira/internal/rtlist"
)

// State is a thread's position in its lifecycle. Every transition is
// checked; an unexpected source state is a contract violation
// (BadThreadState), never a silent correction.
type State int

const (
	Created State = iota
	Queued
	Running
	Waiting
	Terminated
)

func (s State) String() string {
	switch s {
	case Created:
		return "Created"
	case Queued:
		return "Queued"
	case Running:
		return "Running"
	case Waiting:
		return "Waiting"
	case Terminated:
		return "Terminated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var nextThreadID atomic.Uint64

// Thread is one schedulable entity. Fields mirror §3's thread object
// record; listNode/waitNode are the rtlist linkage into, respectively, a
// processor's ready/wait/termination queue and an event's wait-list — a
// Thread is never linked into two lists of the same kind at once, enforced
// by rtlist itself.
type Thread struct {
	ID uint64

	mu    sync.Mutex
	state State

	Stack vmm.VAddr

	listNode *rtlist.Node[*Thread]
	waitNode *rtlist.Node[*Thread]

	// WaitObject is the event the thread is sleeping on, or nil. It is
	// typed any rather than a concrete *ev.Event so that ps never imports
	// ev (ev imports ps, never the reverse).
	WaitObject any
	WaitTicks  uint64

	Processor  *Processor
	Expiration uint64

	exec *execContext
}

// execContext is the goroutine handoff protocol standing in for a saved
// register frame. resume is sent to by the processor to let the thread's
// goroutine proceed; parked is sent to by the thread's goroutine the
// moment it gives up the processor, whether by yielding, waiting, or
// returning (exited = true).
type execContext struct {
	resume  chan struct{}
	parked  chan struct{}
	exited  bool
}

// CreateThread allocates a kernel stack and a Thread in state Created. The
// thread's body does not begin executing until the scheduler first picks
// it off a ready queue (QueueThread, then a scheduling pass) — matching
// §3's lifecycle exactly, Created precedes Queued precedes Running.
//
// entry receives the Thread itself so it can call Yield or hand itself to
// ev.WaitForObject; it must return for the thread to terminate normally.
func CreateThread(stacks *kstack.Cache, cpu int, entry func(*Thread)) (*Thread, error) {
	stack, err := stacks.Get(cpu)
	if err != nil {
		return nil, err
	}

	t := &Thread{
		ID:    nextThreadID.Add(1),
		state: Created,
		Stack: stack,
		exec: &execContext{
			resume: make(chan struct{}),
			parked: make(chan struct{}),
		},
	}
	t.listNode = rtlist.NewNode(t)
	t.waitNode = rtlist.NewNode(t)

	go func() {
		<-t.exec.resume
		entry(t)
		t.mu.Lock()
		t.state = Terminated
		t.mu.Unlock()
		t.exec.exited = true
		t.exec.parked <- struct{}{}
	}()

	return t, nil
}

// State returns the thread's current lifecycle state.
func (t *Thread) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// setState transitions the thread, panicking BadThreadState if from is not
// the thread's current state. Every scheduler/event entry point that
// mutates state goes through this, per §4.11's "these checks guard every
// entry into the scheduler".
func (t *Thread) setState(from, to State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != from {
		ke.Panic(ke.BadThreadState, t.ID, uint64(t.state), uint64(from), uint64(to))
	}
	t.state = to
}

// ListNode returns the thread's ready/wait/termination-queue linkage node.
func (t *Thread) ListNode() *rtlist.Node[*Thread] { return t.listNode }

// WaitNode returns the thread's event-wait-list linkage node.
func (t *Thread) WaitNode() *rtlist.Node[*Thread] { return t.waitNode }

// park blocks the calling goroutine (which must be this thread's own)
// until the processor resumes it, after signaling the processor that it
// has given up the CPU. Called by Yield, Block (which ev.WaitForObject
// uses), Delay and the idle loop.
func (t *Thread) park() {
	t.exec.parked <- struct{}{}
	<-t.exec.resume
}
