// Package boot orders kernel bring-up: every layer from the early
// physical-frame allocator through the per-processor scheduling loops,
// wired together exactly once, on what would be the BSP.
package boot

import (
	"fmt"
	"time"

	"github.com/brennagh/mira"
	"github.com/brennagh/mira/internal/constants"
	"github.com/brennagh/mira/internal/ke"
	"github.com/brennagh/mira/internal/logging"
	"github.com/brennagh/mira/internal/mm/early"
	"github.com/brennagh/mira/internal/mm/kstack"
	"github.com/brennagh/mira/internal/mm/pfn"
	"github.com/brennagh/mira/internal/mm/pool"
	"github.com/brennagh/mira/internal/mm/poolpage"
	"github.com/brennagh/mira/internal/mm/track"
	"github.com/brennagh/mira/internal/mm/vmm"
	"github.com/brennagh/mira/internal/ps"
)

// ModuleEntry names one boot-time module (§6's boot_driver_list_head):
// not a real PE image with relocations and import fixups, just the
// hand-off data a caller supplies and the entry point the kernel invokes,
// in list order, once scheduler bring-up completes.
type ModuleEntry struct {
	Name      string
	ImageBase uintptr
	Size      uint64
	Entry     func(*Kernel) error
}

// LoaderBlock is the single loader-to-kernel hand-off structure (§6). The
// ACPI, framebuffer, and debugger fields are recorded but never
// interpreted here — an ACPI table walk, a display driver, and a kernel
// debugger protocol are all external collaborators this core only hands
// a pointer to.
type LoaderBlock struct {
	MemoryDescriptors []early.MemoryDescriptor
	Modules           []ModuleEntry

	AcpiTable   uintptr
	AcpiVersion int // 1 = RSDT, 2 = XSDT

	FramebufferBack  uintptr
	FramebufferFront uintptr
	FramebufferW     uint32
	FramebufferH     uint32
	FramebufferPitch uint32

	DebuggerPresent bool
}

// Config is the tunable side of bring-up: geometry and timing that would,
// on real hardware, be read from the platform rather than set by policy.
type Config struct {
	MaxCPUs int

	PoolBase  vmm.VAddr
	PoolPages uint32

	TickPeriod time.Duration
}

// DefaultConfig returns the geometry this module was developed against.
func DefaultConfig() Config {
	return Config{
		MaxCPUs:    4,
		PoolBase:   vmm.VAddr(0xFFFF_8000_0000_0000),
		PoolPages:  4096,
		TickPeriod: constants.DefaultTickPeriod,
	}
}

// Kernel is the live handle Start returns: every layer L2 through L16,
// wired together, plus the goroutines driving each processor's
// scheduling loop.
type Kernel struct {
	Config Config
	Block  LoaderBlock

	Frames *pfn.Table
	Free   *early.FreeList
	VMM    *vmm.Map
	Pages  *poolpage.Allocator
	Pool   *pool.Pool
	Stats  *track.Tracker
	Stacks *kstack.Cache

	Timer  *ke.Timer
	System *ps.System

	stop chan struct{}
}

// Start brings up L2 -> L16 in this order: the PFN table and early
// free-list bootstrap from the loader's memory map, the virtual-address
// map, CPU discovery, the pool-page allocator, the small-block pool and
// its tag tracker, the kernel stack cache, the timer source, the
// per-processor scheduler state, and finally one goroutine per processor
// running its scheduling loop with its idle thread already booted. Boot
// modules run last, once every processor is online, per §6's PE-image
// contract ("the kernel calls each module's entry point exactly once, in
// list order, after scheduler bring-up completes").
func Start(cfg Config, block LoaderBlock) (*Kernel, error) {
	frames, free, err := early.Bootstrap(block.MemoryDescriptors)
	if err != nil {
		return nil, mira.WrapError("boot.Start", err)
	}

	vaddrs := vmm.NewMap(constants.PageSize)

	cpuCount, err := ke.DiscoverCPUCount(cfg.MaxCPUs)
	if err != nil {
		return nil, mira.WrapError("boot.Start", err)
	}

	pages := poolpage.NewAllocator(cfg.PoolBase, cfg.PoolPages, free, vaddrs, frames, cpuCount)
	tracker := track.NewTracker()
	smallPool := pool.NewPool(pages, tracker)
	stacks := kstack.NewCache(pages, cpuCount)

	ke.ResetTopology()
	timer := ke.NewTimer()
	system := ps.NewSystem(cpuCount, stacks)

	k := &Kernel{
		Config: cfg,
		Block:  block,
		Frames: frames,
		Free:   free,
		VMM:    vaddrs,
		Pages:  pages,
		Pool:   smallPool,
		Stats:  tracker,
		Stacks: stacks,
		Timer:  timer,
		System: system,
		stop:   make(chan struct{}),
	}

	for i := 0; i < cpuCount; i++ {
		if err := system.Processor(i).Boot(); err != nil {
			return nil, mira.WrapError("boot.Start", err)
		}
	}
	for i := 0; i < cpuCount; i++ {
		p := system.Processor(i)
		go p.Run(k.stop, cfg.TickPeriod)
	}

	logging.Default().Infof("boot: %d processor(s) online, pool base %#x (%d pages), timer source %s",
		cpuCount, uint64(cfg.PoolBase), cfg.PoolPages, timer.Source())

	for _, m := range block.Modules {
		if err := m.Entry(k); err != nil {
			return nil, mira.NewError("boot.Start", mira.ErrCodeInvalidArgument, fmt.Sprintf("module %q entry: %v", m.Name, err))
		}
	}

	return k, nil
}

// Shutdown stops every processor's scheduling loop. kernel_startup never
// returns in the original design; this exists so a test harness can tear
// a simulated kernel down instead of leaking goroutines, which nothing in
// the Non-goals excludes.
func (k *Kernel) Shutdown() {
	close(k.stop)
}
