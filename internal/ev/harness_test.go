package ev

import (
	"testing"
	"time"

	"github.com/brennagh/mira/internal/ke"
	"github.com/brennagh/mira/internal/mm/early"
	"github.com/brennagh/mira/internal/mm/kstack"
	"github.com/brennagh/mira/internal/mm/poolpage"
	"github.com/brennagh/mira/internal/mm/vmm"
	"github.com/brennagh/mira/internal/ps"
	"github.com/stretchr/testify/require"
)

// newRunningProcessor wires a one-CPU bring-up pipeline, boots its idle
// thread, and starts its scheduling loop — the minimum a test needs before
// it can hand real threads to WaitForObject/Event/Mutex, none of which work
// without a *ps.Thread that is actually Running on a processor.
func newRunningProcessor(t *testing.T) (*ps.System, *ps.Processor, func()) {
	t.Helper()
	ke.ResetTopology()

	descs := []early.MemoryDescriptor{{Base: 0, Size: 64 << 20, Type: early.Free}}
	table, free, err := early.Bootstrap(descs)
	require.NoError(t, err)

	vaddrs := vmm.NewMap(4096)
	pages := poolpage.NewAllocator(vmm.VAddr(0x1000_0000), 256, free, vaddrs, table, 1)
	stacks := kstack.NewCache(pages, 1)
	sys := ps.NewSystem(1, stacks)
	p := sys.Processor(0)
	require.NoError(t, p.Boot())

	stop := make(chan struct{})
	go p.Run(stop, time.Millisecond)
	return sys, p, func() { close(stop) }
}
