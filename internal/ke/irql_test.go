package ke

import "testing"

func withPanicCapture(t *testing.T, fn func()) *PanicInfo {
	t.Helper()
	var captured *PanicInfo
	done := make(chan struct{})
	SetPanicHook(func(info *PanicInfo) {
		captured = info
		close(done)
	})
	defer SetPanicHook(nil)

	fn()
	select {
	case <-done:
	default:
		t.Fatal("expected Panic to be called")
	}
	return captured
}

func TestIrqlRaiseLower(t *testing.T) {
	var s IrqlState
	old := s.Raise(Dispatch)
	if old != Passive {
		t.Fatalf("Raise returned %v, want %v", old, Passive)
	}
	if s.Current() != Dispatch {
		t.Fatalf("Current() = %v, want %v", s.Current(), Dispatch)
	}
	s.Lower(Passive)
	if s.Current() != Passive {
		t.Fatalf("Current() = %v, want %v", s.Current(), Passive)
	}
}

func TestIrqlLowerAboveCurrentPanics(t *testing.T) {
	var s IrqlState
	info := withPanicCapture(t, func() {
		s.Lower(Dispatch)
	})
	if info.Code != IrqlNotLessOrEqual {
		t.Errorf("Code = %v, want %v", info.Code, IrqlNotLessOrEqual)
	}
}

func TestIrqlRaiseBelowCurrentPanics(t *testing.T) {
	var s IrqlState
	s.Raise(Synch)
	info := withPanicCapture(t, func() {
		s.Raise(Dispatch)
	})
	if info.Code != IrqlNotGreaterOrEqual {
		t.Errorf("Code = %v, want %v", info.Code, IrqlNotGreaterOrEqual)
	}
}
