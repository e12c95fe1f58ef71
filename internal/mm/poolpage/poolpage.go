// Package poolpage backs a contiguous kernel virtual range (the "pool
// space") with a bitmap allocator plus a per-CPU cache for 1-4 page
// blocks — the fast path for both allocation and free.
package poolpage

import (
	"errors"
	"sync"

	"github.com/brennagh/mira/internal/constants"
	"github.com/brennagh/mira/internal/ke"
	"github.com/brennagh/mira/internal/mm/pfn"
	"github.com/brennagh/mira/internal/mm/vmm"
	"github.com/brennagh/mira/internal/rtlist"
)

// ErrExhausted is returned when the pool-space bitmap has no run of the
// requested length left.
var ErrExhausted = errors.New("poolpage: pool space exhausted")

// FrameSource allocates/frees single physical frames; mm/early.FreeList
// and a later PFN-backed global allocator both satisfy it.
type FrameSource interface {
	AllocateSingle() (pfn.Frame, bool)
	FreeSingle(pfn.Frame)
}

// Allocator hands out page-aligned, contiguous pool-space blocks.
type Allocator struct {
	base      vmm.VAddr
	pageCount uint32
	bitmap    []bool // true = reserved
	hint      uint32
	bitmapMu  sync.Mutex

	frames FrameSource
	vaddrs *vmm.Map
	table  *pfn.Table

	perCPU   []perCPUCache
	global   [constants.PoolPageCacheBuckets]*rtlist.SList[vmm.VAddr]
	globalMu ke.SpinLock
}

type perCPUCache struct {
	buckets [constants.PoolPageCacheBuckets]*rtlist.SList[vmm.VAddr]
}

// NewAllocator constructs an allocator over a pool-space window of
// poolPages pages, starting at base, with cpuCount per-CPU caches.
func NewAllocator(base vmm.VAddr, poolPages uint32, frames FrameSource, vaddrs *vmm.Map, table *pfn.Table, cpuCount int) *Allocator {
	a := &Allocator{
		base:      base,
		pageCount: poolPages,
		bitmap:    make([]bool, poolPages),
		frames:    frames,
		vaddrs:    vaddrs,
		table:     table,
		perCPU:    make([]perCPUCache, cpuCount),
	}
	for i := range a.global {
		a.global[i] = rtlist.NewSList[vmm.VAddr]()
	}
	for c := range a.perCPU {
		for i := range a.perCPU[c].buckets {
			a.perCPU[c].buckets[i] = rtlist.NewSList[vmm.VAddr]()
		}
	}
	return a
}

func (a *Allocator) pageAt(i uint32) vmm.VAddr {
	return a.base + vmm.VAddr(i)*constants.PageSize
}

func (a *Allocator) indexOf(v vmm.VAddr) uint32 {
	return uint32((v - a.base) / constants.PageSize)
}

// Allocate reserves count contiguous pages, maps each with Write, and
// tags the base frame's PFN entry. count in [1,4] is served from the
// per-CPU cache first. A frame-mapping failure partway through rolls back
// every page mapped so far — the design explicitly rejects the leak the
// original source is known to have (SPEC_FULL.md, Open Questions, item 2).
func (a *Allocator) Allocate(cpu int, count uint32, tag [4]byte) (vmm.VAddr, error) {
	if count >= 1 && count <= constants.PoolPageCacheBuckets {
		if v, ok := a.allocateFromCache(cpu, count); ok {
			a.table.MarkPoolBase(a.frameOf(v), count, tag)
			for i := uint32(1); i < count; i++ {
				a.table.MarkPoolItem(a.frameOf(v + vmm.VAddr(i)*constants.PageSize))
			}
			return v, nil
		}
	}
	return a.allocateFromBitmap(count, tag)
}

func (a *Allocator) frameOf(v vmm.VAddr) pfn.Frame {
	f, _ := a.vaddrs.PhysicalOf(v)
	return f
}

func (a *Allocator) allocateFromCache(cpu int, count uint32) (vmm.VAddr, bool) {
	bucket := count - 1
	if cpu >= 0 && cpu < len(a.perCPU) {
		if v, ok := a.perCPU[cpu].buckets[bucket].Pop(); ok {
			return v, true
		}
	}
	a.globalMu.Acquire(ke.Dispatch, cpu)
	v, ok := a.global[bucket].Pop()
	a.globalMu.Release(cpu)
	return v, ok
}

func (a *Allocator) allocateFromBitmap(count uint32, tag [4]byte) (vmm.VAddr, error) {
	a.bitmapMu.Lock()
	start, ok := a.findRun(count)
	if !ok {
		a.bitmapMu.Unlock()
		return 0, ErrExhausted
	}
	for i := start; i < start+count; i++ {
		a.bitmap[i] = true
	}
	a.hint = start + count
	a.bitmapMu.Unlock()

	base := a.pageAt(start)
	var mapped []uint32
	for i := start; i < start+count; i++ {
		frame, ok := a.frames.AllocateSingle()
		if !ok {
			a.rollback(mapped, start, count)
			return 0, ErrExhausted
		}
		v := a.pageAt(i)
		if err := a.vaddrs.MapPage(v, frame, vmm.Write); err != nil {
			a.frames.FreeSingle(frame)
			a.rollback(mapped, start, count)
			return 0, err
		}
		mapped = append(mapped, i)
	}

	a.table.MarkPoolBase(a.frameOf(base), count, tag)
	for i := start + 1; i < start+count; i++ {
		a.table.MarkPoolItem(a.frameOf(a.pageAt(i)))
	}
	return base, nil
}

// rollback undoes every page mapped so far in a failed Allocate and
// releases the reserved bitmap run.
func (a *Allocator) rollback(mapped []uint32, start, count uint32) {
	for _, i := range mapped {
		v := a.pageAt(i)
		if frame, ok := a.vaddrs.PhysicalOf(v); ok {
			a.vaddrs.UnmapPage(v)
			a.frames.FreeSingle(frame)
		}
	}
	a.bitmapMu.Lock()
	for i := start; i < start+count; i++ {
		a.bitmap[i] = false
	}
	a.bitmapMu.Unlock()
}

func (a *Allocator) findRun(count uint32) (uint32, bool) {
	n := uint32(len(a.bitmap))
	if count == 0 || count > n {
		return 0, false
	}
	try := func(from uint32) (uint32, bool) {
		run := uint32(0)
		for i := from; i < n; i++ {
			if a.bitmap[i] {
				run = 0
				continue
			}
			run++
			if run == count {
				return i - count + 1, true
			}
		}
		return 0, false
	}
	if start, ok := try(a.hint); ok {
		return start, true
	}
	return try(0)
}

// Free validates base is a pool base, returns it to the per-CPU cache
// (count <= 4) or the bitmap/physical allocator, and returns the page
// count that was freed.
func (a *Allocator) Free(cpu int, base vmm.VAddr) (uint32, error) {
	frame := a.frameOf(base)
	count, _ := a.table.FreePoolBase(frame)

	if count >= 1 && count <= constants.PoolPageCacheBuckets {
		a.freeToCache(cpu, count, base)
		return count, nil
	}

	idx := a.indexOf(base)
	for i := idx + 1; i < idx+count; i++ {
		a.table.MarkFree(a.frameOf(a.pageAt(i))) // these frames are PoolItem-only, not PoolBase
	}
	for i := idx; i < idx+count; i++ {
		v := a.pageAt(i)
		if f, ok := a.vaddrs.PhysicalOf(v); ok {
			a.vaddrs.UnmapPage(v)
			a.frames.FreeSingle(f)
		}
	}
	a.bitmapMu.Lock()
	for i := idx; i < idx+count; i++ {
		a.bitmap[i] = false
	}
	if idx < a.hint {
		a.hint = idx
	}
	a.bitmapMu.Unlock()
	return count, nil
}

func (a *Allocator) freeToCache(cpu int, count uint32, base vmm.VAddr) {
	bucket := count - 1
	if cpu >= 0 && cpu < len(a.perCPU) && a.perCPU[cpu].buckets[bucket].Len() < constants.PoolPageCacheHiWater {
		a.perCPU[cpu].buckets[bucket].Push(base)
		return
	}
	a.globalMu.Acquire(ke.Dispatch, cpu)
	a.global[bucket].Push(base)
	a.globalMu.Release(cpu)
}
