// Package kstack implements the three-tier kernel-stack cache: a small
// per-CPU free list for the fast path, a global spin-locked list bounded
// by a hard cap for cross-CPU overflow, and an idle-time Trim that spills
// excess stacks back to the page allocator.
package kstack

import (
	"github.com/brennagh/mira/internal/constants"
	"github.com/brennagh/mira/internal/ke"
	"github.com/brennagh/mira/internal/mm/poolpage"
	"github.com/brennagh/mira/internal/mm/vmm"
	"github.com/brennagh/mira/internal/rtlist"
)

var stackTag = [4]byte{'T', 'h', 'r', 'd'}

const stackPages = constants.KernelStackSize / constants.PageSize

// Cache hands out fixed-size kernel stacks, backed by mm/poolpage.
type Cache struct {
	pages  *poolpage.Allocator
	perCPU []*rtlist.SList[vmm.VAddr]
	global *rtlist.SList[vmm.VAddr]
	lock   ke.SpinLock
}

// NewCache builds a stack cache with cpuCount per-CPU tiers over pages.
func NewCache(pages *poolpage.Allocator, cpuCount int) *Cache {
	c := &Cache{
		pages:  pages,
		perCPU: make([]*rtlist.SList[vmm.VAddr], cpuCount),
		global: rtlist.NewSList[vmm.VAddr](),
	}
	for i := range c.perCPU {
		c.perCPU[i] = rtlist.NewSList[vmm.VAddr]()
	}
	return c
}

// Get returns a kernel stack for cpu: from the per-CPU cache, then the
// global cache, and only then a fresh allocation from poolpage.
func (c *Cache) Get(cpu int) (vmm.VAddr, error) {
	if cpu >= 0 && cpu < len(c.perCPU) {
		if v, ok := c.perCPU[cpu].Pop(); ok {
			return v, nil
		}
	}

	c.lock.Acquire(ke.Dispatch, cpu)
	v, ok := c.global.Pop()
	c.lock.Release(cpu)
	if ok {
		return v, nil
	}

	return c.pages.Allocate(cpu, stackPages, stackTag)
}

// Put returns a stack to cache: the per-CPU tier up to its high-water
// mark, the global tier up to its hard cap, or back to poolpage once both
// are saturated.
func (c *Cache) Put(cpu int, stack vmm.VAddr) error {
	if cpu >= 0 && cpu < len(c.perCPU) && c.perCPU[cpu].Len() < constants.KernelStackPerCPUHiWater {
		c.perCPU[cpu].Push(stack)
		return nil
	}

	c.lock.Acquire(ke.Dispatch, cpu)
	if c.global.Len() < constants.KernelStackGlobalHardCap {
		c.global.Push(stack)
		c.lock.Release(cpu)
		return nil
	}
	c.lock.Release(cpu)

	_, err := c.pages.Free(cpu, stack)
	return err
}

// Trim runs at idle and enforces the soft limits: per-CPU caches above
// their low-water mark spill into the global tier, and the global tier
// above its soft cap is freed back to poolpage. It never frees below the
// soft cap even if under memory pressure — that is the hard cap's job,
// enforced inline by Put.
func (c *Cache) Trim(cpu int) error {
	var overflow []vmm.VAddr
	if cpu >= 0 && cpu < len(c.perCPU) {
		for c.perCPU[cpu].Len() > constants.KernelStackPerCPULowWater {
			v, ok := c.perCPU[cpu].Pop()
			if !ok {
				break
			}
			overflow = append(overflow, v)
		}
	}

	c.lock.Acquire(ke.Dispatch, cpu)
	var spill []vmm.VAddr
	for _, v := range overflow {
		if c.global.Len() >= constants.KernelStackGlobalHardCap {
			spill = append(spill, v)
			continue
		}
		c.global.Push(v)
	}
	for c.global.Len() > constants.KernelStackGlobalSoftCap {
		v, ok := c.global.Pop()
		if !ok {
			break
		}
		spill = append(spill, v)
	}
	c.lock.Release(cpu)

	for _, v := range spill {
		if _, err := c.pages.Free(cpu, v); err != nil {
			return err
		}
	}
	return nil
}
