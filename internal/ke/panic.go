package ke

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/brennagh/mira/internal/logging"
)

// PanicCode is the closed set of fatal error codes the kernel core can
// raise. There is no general-purpose error return for a contract
// violation — it always goes through Panic.
type PanicCode uint32

const (
	ManuallyInitiatedCrash PanicCode = iota
	IrqlNotLessOrEqual
	IrqlNotGreaterOrEqual
	IrqlNotDispatch
	IrqlNotEqual
	TrapNotHandled
	ExceptionNotHandled
	PageFaultNotHandled
	NmiHardwareFailure
	KernelInitializationFailure
	DriverInitializationFailure
	BadPFNHeader
	BadPoolHeader
	BadThreadState
	SpinLockAlreadyOwned
	SpinLockNotOwned
	MutexNotOwned

	panicCodeCount
)

var panicNames = [...]string{
	"MANUALLY_INITIATED_CRASH",
	"IRQL_NOT_LESS_OR_EQUAL",
	"IRQL_NOT_GREATER_OR_EQUAL",
	"IRQL_NOT_DISPATCH",
	"IRQL_NOT_EQUAL",
	"TRAP_NOT_HANDLED",
	"EXCEPTION_NOT_HANDLED",
	"PAGE_FAULT_NOT_HANDLED",
	"NMI_HARDWARE_FAILURE",
	"KERNEL_INITIALIZATION_FAILURE",
	"DRIVER_INITIALIZATION_FAILURE",
	"BAD_PFN_HEADER",
	"BAD_POOL_HEADER",
	"BAD_THREAD_STATE",
	"SPIN_LOCK_ALREADY_OWNED",
	"SPIN_LOCK_NOT_OWNED",
	"MUTEX_NOT_OWNED",
}

func (c PanicCode) String() string {
	if c >= panicCodeCount {
		c = ManuallyInitiatedCrash
	}
	return panicNames[c]
}

// PanicInfo carries everything fatal_error would have printed to the
// display: the code name and the four debugging parameters.
type PanicInfo struct {
	Code       PanicCode
	Parameters [4]uint64
	Stack      string
}

func (p *PanicInfo) Error() string {
	return fmt.Sprintf("*** STOP: %s (0x%x, 0x%x, 0x%x, 0x%x)",
		p.Code, p.Parameters[0], p.Parameters[1], p.Parameters[2], p.Parameters[3])
}

var panicLock atomic.Bool

// panicHook, when non-nil, replaces the terminal for{} loop with a call
// that lets tests observe the panic; Panic then returns to its caller
// instead of hanging the test binary forever.
var panicHook atomic.Pointer[func(*PanicInfo)]

// SetPanicHook installs a hook invoked in place of the infinite halt loop.
// Production code never calls this; it exists so unit tests can assert on
// which PanicCode a contract violation produced without hanging.
func SetPanicHook(h func(*PanicInfo)) {
	if h == nil {
		panicHook.Store(nil)
		return
	}
	panicHook.Store(&h)
}

// Panic takes over the calling goroutine, logs the fatal stop message and
// a goroutine stack dump, freezes SMP peers, and, unless a hook installed
// by SetPanicHook is present (then it returns after calling it), never
// returns — mirroring
// fatal_error's "disable interrupts, raise to MAX, freeze peers, print,
// halt forever" sequence. Symbolicated frame-by-frame unwind (the
// original's image-base + function-table walk) has no equivalent in a
// hosted Go process; runtime.Stack's goroutine trace is printed instead.
func Panic(code PanicCode, p1, p2, p3, p4 uint64) {
	if code >= panicCodeCount {
		code = ManuallyInitiatedCrash
	}

	// First panicker wins ownership of the display; everyone else hangs.
	if panicLock.Swap(true) {
		select {}
	}

	BroadcastFreeze()

	buf := make([]byte, 64*1024)
	n := runtime.Stack(buf, false)
	info := &PanicInfo{Code: code, Parameters: [4]uint64{p1, p2, p3, p4}, Stack: string(buf[:n])}

	logging.Default().Error(info.Error())
	logging.Default().Error("*** STACK TRACE:\n" + info.Stack)

	if hook := panicHook.Load(); hook != nil {
		// Tests install a hook specifically so a simulated contract
		// violation doesn't hang the test binary; release the latch so
		// the next panic in the same process (next test case) isn't
		// starved by this one.
		panicLock.Store(false)
		(*hook)(info)
		return
	}

	select {}
}
