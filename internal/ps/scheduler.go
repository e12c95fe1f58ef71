package ps

import (
	"time"

	"github.com/brennagh/mira/internal/constants"
	"github.com/brennagh/mira/internal/ke"
	"github.com/brennagh/mira/internal/rtlist"
)

// Boot creates the processor's idle thread and makes it Current, ready for
// the processor's run loop to start. It must be called once, before Run.
func (p *Processor) Boot() error {
	t, err := CreateThread(p.sys.Stacks, p.num, p.idleBody)
	if err != nil {
		return err
	}
	p.Idle = t
	p.Current = t
	return nil
}

// idleBody is the default idle-thread entry (§4.11): never enters the
// ready queue, halts until notified or the next tick, trims the kernel
// stack cache, then yields back to the scheduling loop so it can check the
// ready queue again.
func (p *Processor) idleBody(t *Thread) {
	for {
		p.enterIdle()
		select {
		case <-p.notifyCh:
		case <-time.After(constants.DefaultTickPeriod):
		}
		p.leaveIdle()
		p.sys.Stacks.Trim(p.num)
		t.park()
	}
}

// QueueDpc appends a DPC to be run at the head of the next clock tick,
// before the scheduler reconsiders Current. DPCs may be queued from any
// IRQL <= Dispatch.
func (p *Processor) QueueDpc(d *ke.Dpc) {
	p.atDispatch(func() {
		p.dpcMu.Acquire(p.irql.Current(), p.num)
		p.Dpcs.PushBack(rtlist.NewNode(d))
		p.dpcMu.Release(p.num)
	})
}

// QueueWork enqueues a work item. highPriority triggers an immediate
// directed notify rather than waiting for the next tick (§4.14). Double
// queuing the same item is a no-op, guarded by the item's own CAS flag.
func (p *Processor) QueueWork(w *ke.Work, highPriority bool) {
	if !w.TryMarkQueued() {
		return
	}
	p.atDispatch(func() {
		p.dpcMu.Acquire(p.irql.Current(), p.num)
		p.WorkItems.PushBack(rtlist.NewNode(w))
		p.dpcMu.Release(p.num)
	})
	if highPriority {
		p.Notify(constants.VectorWorkItem)
	}
}

// drainDpcsAndWork runs every queued DPC and work item, draining each
// queue completely. Caller must already be at >= Dispatch.
func (p *Processor) drainDpcsAndWork() {
	for {
		p.dpcMu.Acquire(p.irql.Current(), p.num)
		n := p.Dpcs.PopFront()
		p.dpcMu.Release(p.num)
		if n == nil {
			break
		}
		n.Value.Run()
	}
	for {
		p.dpcMu.Acquire(p.irql.Current(), p.num)
		n := p.WorkItems.PopFront()
		p.dpcMu.Release(p.num)
		if n == nil {
			break
		}
		n.Value.Run()
		n.Value.MarkDequeued()
	}
}

// expireWaits walks the wait queue for deadlines that have arrived,
// removes each expired thread from its event's wait-list, and re-queues
// it. The thread's WaitTicks is left non-zero (the signal the woken-by-
// timeout path checks for in WaitForObject); the scheduler's job here
// ends at queue_thread, the rest of the timeout/signal race is
// ev.WaitForObject's to resolve (§5, "Cancellation and timeouts").
func (p *Processor) expireWaits(now uint64) {
	var expired []*Thread
	p.lock()
	for n := p.Wait.PeekFront(); n != nil; {
		next := n
		if n.Value.WaitTicks != 0 && n.Value.WaitTicks <= now {
			p.Wait.Remove(n)
			expired = append(expired, n.Value)
			next = p.Wait.PeekFront()
		} else {
			break
		}
		n = next
	}
	p.unlock()

	for _, t := range expired {
		if remover, ok := t.WaitObject.(WaitListRemover); ok {
			remover.RemoveWaiter(t)
		}
		t.WaitObject = nil
		QueueThread(p, t, false)
	}
}

// WaitListRemover lets the scheduler unlink a timed-out thread from its
// event's wait-list without ps importing ev. ev.Header implements it.
type WaitListRemover interface {
	RemoveWaiter(t *Thread)
}

// OnTick is the clock-interrupt handler (§4.11): raise to Dispatch, drain
// DPCs and work items, and expire timed-out waits. It does not itself
// force Current off the processor — there is no real interrupt return
// path to reassert control over a goroutine that hasn't yielded — instead
// it only advances Ticks, which is what lets a running thread's Expiration
// pass, so the thread's own next CheckPreempt
// checkpoint (or a voluntary Yield) is what actually performs the switch,
// the cooperative-scheduling liberty SPEC_FULL.md records for this model.
func (p *Processor) OnTick() {
	p.atDispatch(func() {
		p.Ticks++
		p.drainDpcsAndWork()
		p.expireWaits(p.Ticks)
	})
}

// CheckPreempt is the cooperative checkpoint a thread body calls between
// units of work. If its quantum has elapsed, it requeues the thread and
// yields the processor, returning true; otherwise it returns false and
// the thread keeps running.
func CheckPreempt(t *Thread) bool {
	p := t.Processor
	if p.Current != t || t.Expiration == 0 || p.Ticks < t.Expiration {
		return false
	}
	Yield(t)
	return true
}

// Quantum computes the default quantum divided by the ready-queue length,
// floored at the minimum quantum (§4.11, §8 property 6).
func (p *Processor) Quantum() uint64 {
	n := uint64(p.Ready.Len())
	if n < 1 {
		n = 1
	}
	q := constants.DefaultQuantumNanos / n
	if q < constants.MinQuantumNanos {
		q = constants.MinQuantumNanos
	}
	return q
}

// Reschedule performs one scheduling pass: pick the next ready thread (or
// idle if none), and switch Current to it. yieldRequested is accepted but
// ignored: a voluntary Yield and a quantum-expiry-driven call take the
// same path.
func (p *Processor) Reschedule(yieldRequested bool) {
	_ = yieldRequested
	p.lock()
	next := p.Ready.PopFront()
	p.unlock()

	var nextThread *Thread
	if next == nil {
		nextThread = p.Idle
	} else {
		nextThread = next.Value
	}
	p.switchTo(nextThread)
}

// switchTo is the (simulated) context switch: the outgoing thread parks
// itself (via the channel handoff in execContext), the incoming thread is
// marked Running and resumed. A thread that exited during its last run is
// reaped by a DPC queued directly on this processor (the Termination
// queue is not used) — "the running code cannot free the stack it is standing on"
// (§4.11).
func (p *Processor) switchTo(next *Thread) {
	if next != p.Idle {
		next.setState(Queued, Running)
		next.Expiration = p.Ticks + p.Quantum()
	}
	next.Processor = p
	p.Current = next
	next.exec.resume <- struct{}{}
	<-next.exec.parked

	if next.exec.exited {
		p.queueTerminationDpc(next)
	}
}

// queueTerminationDpc defers freeing t's stack and structure to the next
// dispatch pass on this processor.
func (p *Processor) queueTerminationDpc(t *Thread) {
	p.QueueDpc(&ke.Dpc{
		Routine: func(ctx any) {
			th := ctx.(*Thread)
			p.sys.Stacks.Put(p.num, th.Stack)
		},
		Context: t,
	})
}

// Yield is the cooperative preemption point a thread body calls to give
// up the processor voluntarily without waiting on an event. It is, along
// with wait_for_object/delay_thread, the only place a kernel thread in
// this model actually suspends.
func Yield(t *Thread) {
	p := t.Processor
	QueueThread(p, t, false)
	t.park()
}

// Block transitions t from Running to Waiting and parks its goroutine
// until the scheduler resumes it. Callers (ev.WaitForObject) must already
// have committed t to whatever wait-list and timeout queue it is waiting
// on before calling this — Block performs no queue placement itself;
// waking or re-queuing t afterwards is wake_single_thread's or
// expireWaits's job, not Block's.
func Block(t *Thread) {
	t.setState(Running, Waiting)
	t.park()
}

// Run drives the processor's scheduling loop until stop is closed. Boot
// must have been called first. Every pass reconsiders Current (so a
// voluntary Yield or a block is picked up immediately, with no tick
// delay); the simulated clock interrupt, OnTick, is rate-limited against
// tickPeriod using the wall clock rather than fired from a second
// goroutine — a real CPU's tick source interrupts whatever was running
// asynchronously, but here the handoff protocol already guarantees only
// one goroutine is ever "the processor" at a time (Run's own goroutine
// between switches, or whichever thread is currently resumed), and a
// second ticker goroutine touching the same IRQL state would break that.
func (p *Processor) Run(stop <-chan struct{}, tickPeriod time.Duration) {
	var lastTick time.Time
	for {
		select {
		case <-stop:
			return
		default:
		}
		if p.Frozen() {
			select {}
		}
		if now := time.Now(); now.Sub(lastTick) >= tickPeriod {
			p.OnTick()
			lastTick = now
		}
		p.Reschedule(false)
	}
}

// Delay puts the calling thread to sleep for at least ticks clock ticks, without waiting
// on any event — the scheduler's equivalent of delay_thread, implemented
// in terms of the same wait-queue/timeout machinery wait_for_object uses,
// minus an event to watch.
func Delay(t *Thread, ticks uint64) {
	p := t.Processor
	deadline := p.Ticks + ticks
	if deadline == 0 {
		deadline = 1
	}
	t.setState(Running, Waiting)
	t.WaitObject = nil
	t.WaitTicks = deadline

	p.lock()
	p.Wait.PushBack(t.listNode)
	p.unlock()

	t.park()
}
