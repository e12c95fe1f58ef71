package ke

import (
	"sync"
	"testing"
	"time"
)

func TestSpinLockAcquireRelease(t *testing.T) {
	var l SpinLock
	l.Acquire(Dispatch, 0)
	if !l.Owned(0) {
		t.Fatal("lock should be owned by processor 0")
	}
	l.Release(0)
	if l.Owned(0) {
		t.Fatal("lock should be free after release")
	}
}

func TestSpinLockContentionBlocksOtherOwner(t *testing.T) {
	var l SpinLock
	l.Acquire(Dispatch, 0)

	acquired := make(chan struct{})
	go func() {
		l.Acquire(Dispatch, 1)
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("processor 1 acquired a lock still held by processor 0")
	case <-time.After(20 * time.Millisecond):
	}

	l.Release(0)
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("processor 1 never acquired the lock after release")
	}
	l.Release(1)
}

func TestSpinLockReentrantPanics(t *testing.T) {
	var l SpinLock
	l.Acquire(Dispatch, 0)
	defer l.Release(0)

	info := withPanicCapture(t, func() {
		l.Acquire(Dispatch, 0)
	})
	if info.Code != SpinLockAlreadyOwned {
		t.Errorf("Code = %v, want %v", info.Code, SpinLockAlreadyOwned)
	}
}

func TestSpinLockReleaseNotOwnedPanics(t *testing.T) {
	var l SpinLock
	l.Acquire(Dispatch, 0)
	defer l.Release(0)

	info := withPanicCapture(t, func() {
		l.Release(1)
	})
	if info.Code != SpinLockNotOwned {
		t.Errorf("Code = %v, want %v", info.Code, SpinLockNotOwned)
	}
}

func TestSpinLockBelowDispatchPanics(t *testing.T) {
	var l SpinLock
	info := withPanicCapture(t, func() {
		l.Acquire(Passive, 0)
	})
	if info.Code != IrqlNotDispatch {
		t.Errorf("Code = %v, want %v", info.Code, IrqlNotDispatch)
	}
}

func TestSpinLockManyGoroutinesMutualExclusion(t *testing.T) {
	var l SpinLock
	counter := 0
	const n = 50
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(id int) {
			defer wg.Done()
			l.Acquire(Dispatch, id)
			counter++
			l.Release(id)
		}(i)
	}
	wg.Wait()
	if counter != n {
		t.Errorf("counter = %d, want %d (mutual exclusion violated)", counter, n)
	}
}
