package ps

import (
	"sync/atomic"

	"github.com/brennagh/mira/internal/constants"
	"github.com/brennagh/mira/internal/ke"
	"github.com/brennagh/mira/internal/mm/kstack"
	"github.com/brennagh/mira/internal/rtlist"
)

// Processor is one per-CPU block (§3): its own ready/wait/termination/work
// queues, its current and idle threads, and the IRQL/spin-lock state that
// gates what may touch them. Every field the scheduler mutates is touched
// only by the owning processor, except during the brief, locked, cross-CPU
// wake sequence QueueThread performs when placing a thread on an idle
// peer.
type Processor struct {
	num int
	sys *System

	irql ke.IrqlState
	Lock ke.SpinLock

	Ready       *rtlist.DList[*Thread]
	Wait        *rtlist.DList[*Thread]
	Termination *rtlist.DList[*Thread]
	Dpcs        *rtlist.DList[*ke.Dpc]
	WorkItems   *rtlist.DList[*ke.Work]
	dpcMu       ke.SpinLock

	Current *Thread
	Idle    *Thread

	Ticks uint64

	idle     atomic.Bool
	frozen   atomic.Bool
	notifyCh chan uint32
}

// System owns every processor known to the running kernel plus the shared
// idle-processor affinity mask (§4.8) that QueueThread's placement policy
// reads. It is the ps-level counterpart of ke's Topology.
type System struct {
	processors []*Processor
	IdleMask   *ke.Affinity
	Stacks     *kstack.Cache
}

// NewSystem builds a System for cpuCount processors, all initially
// non-idle (a processor's idle bit is set only once it actually enters its
// idle loop).
func NewSystem(cpuCount int, stacks *kstack.Cache) *System {
	s := &System{
		IdleMask: ke.NewAffinity(uint32(cpuCount)),
		Stacks:   stacks,
	}
	s.processors = make([]*Processor, cpuCount)
	for i := range s.processors {
		p := &Processor{
			num:         i,
			sys:         s,
			Ready:       rtlist.NewDList[*Thread](),
			Wait:        rtlist.NewDList[*Thread](),
			Termination: rtlist.NewDList[*Thread](),
			Dpcs:        rtlist.NewDList[*ke.Dpc](),
			WorkItems:   rtlist.NewDList[*ke.Work](),
			notifyCh:    make(chan uint32, 4),
		}
		s.processors[i] = p
		ke.Register(p)
	}
	return s
}

// Processor returns the processor at index n.
func (s *System) Processor(n int) *Processor { return s.processors[n] }

// Count returns the number of processors in the system.
func (s *System) Count() int { return len(s.processors) }

// Number implements ke.ProcessorHandle.
func (p *Processor) Number() int { return p.num }

// Irql returns the processor's current IRQL state, embedded so ke-level
// helpers (SpinLock.Acquire etc.) can be driven directly off it.
func (p *Processor) Irql() *ke.IrqlState { return &p.irql }

// RaiseIrql/LowerIrql forward to the embedded IrqlState.
func (p *Processor) RaiseIrql(new ke.Irql) ke.Irql { return p.irql.Raise(new) }
func (p *Processor) LowerIrql(new ke.Irql)         { p.irql.Lower(new) }

// atDispatch raises to Dispatch if not already there, runs fn, and lowers
// back — the "typical wrapper" §4.7 describes for spin-lock call sites.
func (p *Processor) atDispatch(fn func()) {
	cur := p.irql.Current()
	if cur < ke.Dispatch {
		p.irql.Raise(ke.Dispatch)
		defer p.irql.Lower(cur)
	}
	fn()
}

func (p *Processor) lock()   { p.Lock.Acquire(p.irql.Current(), p.num) }
func (p *Processor) unlock() { p.Lock.Release(p.num) }

// Freeze implements ke.ProcessorHandle: it is invoked only by the panic
// path, on every registered processor including the caller's own, so it
// must not block — ke.BroadcastFreeze calls it synchronously on each peer
// in turn. It only raises the flag; Run's loop is what actually spins the
// processor forever once it next checks Frozen.
func (p *Processor) Freeze() {
	p.frozen.Store(true)
}

// Frozen reports whether a peer panic has frozen this processor; the
// scheduling loop checks it at every dispatch boundary.
func (p *Processor) Frozen() bool { return p.frozen.Load() }

// Notify implements ke.ProcessorHandle: it is this model's stand-in for an
// interrupt-controller doorbell, used both for the directed wake
// (§4.9) and for kicking a processor out of its idle halt.
func (p *Processor) Notify(vector uint32) {
	select {
	case p.notifyCh <- vector:
	default:
		// A notification is already pending; the processor will notice
		// the ready queue on its next pass regardless; this mirrors a
		// real interrupt controller's vector line, which doesn't queue
		// redundant assertions.
	}
}

// isIdle reports whether the processor is currently parked in its idle
// thread with its idle-affinity bit set.
func (p *Processor) isIdle() bool { return p.idle.Load() }

// enterIdle sets the processor's bit in the shared idle mask; called by
// the idle thread body on every pass before it halts.
func (p *Processor) enterIdle() {
	p.idle.Store(true)
	p.sys.IdleMask.Set(uint32(p.num))
}

// leaveIdle clears it; called the moment the idle thread body wakes,
// before it does any other work.
func (p *Processor) leaveIdle() {
	p.idle.Store(false)
	p.sys.IdleMask.Clear(uint32(p.num))
}

// QueueThread implements §4.11's placement policy. by is the processor
// making the call (the "current CPU"); t must already be in state Created,
// Waiting, or Running (the last only for a Yield re-queuing itself).
// eventWake places t at the head of the target queue; a fresh placement
// (from CreateThread) goes to the tail.
func QueueThread(by *Processor, t *Thread, eventWake bool) {
	t.transitionToQueued()

	by.atDispatch(func() {
		if by.isIdle() {
			if idx := by.sys.IdleMask.FirstSet(); idx != ke.AffinityNone && int(idx) != by.num {
				cand := by.sys.processors[idx]
				if cand.Lock.TryAcquire(by.irql.Current(), by.num) {
					cand.pushLocked(t, eventWake)
					cand.Lock.Release(by.num)
					cand.Notify(constants.VectorWakeup)
					return
				}
			}
		}
		by.lock()
		by.pushLocked(t, eventWake)
		by.unlock()
	})
}

// pushLocked appends (or, for an event wake, prepends) t's ready-queue
// linkage. Caller must hold p.Lock.
func (p *Processor) pushLocked(t *Thread, eventWake bool) {
	if eventWake {
		p.Ready.PushFront(t.listNode)
	} else {
		p.Ready.PushBack(t.listNode)
	}
}

// transitionToQueued enforces the legal sources of Queued: Created (first
// queue_thread call), Waiting (wake or timeout), and Running (a thread
// requeuing itself at a voluntary yield or quantum-expiry checkpoint —
// the model's stand-in for "the scheduler puts the preempted thread back
// on the ready queue").
func (t *Thread) transitionToQueued() {
	t.mu.Lock()
	if t.state != Created && t.state != Waiting && t.state != Running {
		s := t.state
		t.mu.Unlock()
		ke.Panic(ke.BadThreadState, t.ID, uint64(s), uint64(Queued), 0)
		return
	}
	t.state = Queued
	t.mu.Unlock()
}
