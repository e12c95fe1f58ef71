package ps

import (
	"testing"

	"github.com/brennagh/mira/internal/ke"
	"github.com/brennagh/mira/internal/mm/early"
	"github.com/brennagh/mira/internal/mm/kstack"
	"github.com/brennagh/mira/internal/mm/poolpage"
	"github.com/brennagh/mira/internal/mm/vmm"
	"github.com/stretchr/testify/require"
)

func withPanicCapture(t *testing.T, fn func()) *ke.PanicInfo {
	t.Helper()
	var captured *ke.PanicInfo
	done := make(chan struct{})
	ke.SetPanicHook(func(info *ke.PanicInfo) {
		captured = info
		close(done)
	})
	defer ke.SetPanicHook(nil)

	fn()
	select {
	case <-done:
	default:
		t.Fatal("expected a panic")
	}
	return captured
}

// newTestSystem wires a minimal bring-up pipeline (memory map -> PFN table
// and free list -> VA map -> pool-page allocator -> kernel stack cache) and
// returns a System with cpuCount processors, none booted yet. ke's process-
// wide topology is reset first since ke.Register accumulates across tests
// sharing this package's test binary.
func newTestSystem(t *testing.T, cpuCount int) *System {
	t.Helper()
	ke.ResetTopology()

	descs := []early.MemoryDescriptor{{Base: 0, Size: 64 << 20, Type: early.Free}}
	table, free, err := early.Bootstrap(descs)
	require.NoError(t, err)

	vaddrs := vmm.NewMap(4096)
	pages := poolpage.NewAllocator(vmm.VAddr(0x1000_0000), 256, free, vaddrs, table, cpuCount)
	stacks := kstack.NewCache(pages, cpuCount)
	return NewSystem(cpuCount, stacks)
}
