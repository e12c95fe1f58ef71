package ke

import "sync/atomic"

// Dpc is a deferred procedure call: a callback queued at <= Dispatch and
// drained at the head of every clock tick, before the scheduler runs. DPC
// routines must not block.
type Dpc struct {
	Routine func(ctx any)
	Context any
}

// Run invokes the DPC's routine with its context.
func (d *Dpc) Run() {
	if d.Routine != nil {
		d.Routine(d.Context)
	}
}

// Work is a work item: like a Dpc, but queued from any IRQL and run at
// dispatch level on a regular tick, or immediately via a directed IPI
// when high priority.
type Work struct {
	queued  atomic.Bool
	Routine func(ctx any)
	Context any
}

// TryMarkQueued CAS-guards double queuing of the same work item, mirroring
// queue_work's use of an atomic "queued" flag.
func (w *Work) TryMarkQueued() bool {
	return w.queued.CompareAndSwap(false, true)
}

// MarkDequeued clears the queued flag after the routine has run, allowing
// the item to be queued again.
func (w *Work) MarkDequeued() {
	w.queued.Store(false)
}

// Run invokes the work item's routine with its context.
func (w *Work) Run() {
	if w.Routine != nil {
		w.Routine(w.Context)
	}
}
