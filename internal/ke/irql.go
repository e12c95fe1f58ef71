// Package ke ("kernel executive") holds the primitives every other
// subsystem is built on: IRQL discipline, spin locks, the affinity mask,
// SMP bring-up, the timer source, deferred procedure calls, and the panic
// path. None of it knows about threads or schedulers — ps builds on ke,
// never the other way around.
package ke

import "fmt"

// Irql is a per-processor interrupt-request level. Values are ordered;
// raising to a lower value, or lowering to a higher one, is a contract
// violation.
type Irql uint8

const (
	Passive  Irql = 0
	Dispatch Irql = 2
	Device   Irql = 3
	Synch    Irql = 13
	IPI      Irql = 14
	Max      Irql = 15
)

func (i Irql) String() string {
	switch i {
	case Passive:
		return "PASSIVE"
	case Dispatch:
		return "DISPATCH"
	case Device:
		return "DEVICE"
	case Synch:
		return "SYNCH"
	case IPI:
		return "IPI"
	case Max:
		return "MAX"
	default:
		return fmt.Sprintf("IRQL(%d)", uint8(i))
	}
}

// IrqlState is the per-processor current IRQL. It is embedded by
// ps.Processor; ke never needs to know about the processor it's attached
// to beyond this value.
type IrqlState struct {
	current Irql
}

// Current returns the processor's current IRQL.
func (s *IrqlState) Current() Irql {
	return s.current
}

// Raise moves the IRQL up to new, returning the previous value. new must
// be >= the current IRQL; violation is a contract error (IrqlNotGreaterOrEqual).
func (s *IrqlState) Raise(new Irql) Irql {
	if new < s.current {
		Panic(IrqlNotGreaterOrEqual, uint64(new), uint64(s.current), 0, 0)
	}
	old := s.current
	s.current = new
	return old
}

// Lower moves the IRQL down to new. new must be <= the current IRQL;
// violation is a contract error (IrqlNotLessOrEqual).
func (s *IrqlState) Lower(new Irql) {
	if new > s.current {
		Panic(IrqlNotLessOrEqual, uint64(new), uint64(s.current), 0, 0)
	}
	s.current = new
}
