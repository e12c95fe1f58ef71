// Package early implements the early frame allocator, a free-frame stack
// seeded from the firmware-handed memory map, active from the earliest boot instant until the PFN table
// and pool-page cache are online.
package early

import (
	"errors"
	"sort"

	"github.com/brennagh/mira/internal/constants"
	"github.com/brennagh/mira/internal/ke"
	"github.com/brennagh/mira/internal/mm/pfn"
	"github.com/brennagh/mira/internal/rtlist"
)

// ErrEmptyMemoryMap is returned by Bootstrap when handed no descriptors at
// all — distinct from a malformed map, which is fatal rather than
// recoverable (there is no meaningful way to boot with zero memory).
var ErrEmptyMemoryMap = errors.New("early: empty memory descriptor list")

// DescriptorType is the firmware memory-region classification. Numerically
// higher types are "more restrictive" and win on overlap.
type DescriptorType int

const (
	Free DescriptorType = iota
	LoaderReclaimable
	FirmwareTemporary
	FirmwarePermanent
	BootMgrOwned
	KernelOwned
)

// MemoryDescriptor describes one byte-granular physical range. Byte units
// are used throughout (never page-shifted quantities) so the coalescing
// check below cannot fall into the unit mismatch flagged as an open
// question in the original design (see SPEC_FULL.md, Open Questions,
// item 1).
type MemoryDescriptor struct {
	Base uint64
	Size uint64
	Type DescriptorType
}

func (d MemoryDescriptor) end() uint64 { return d.Base + d.Size }

// normalize sorts by base, merges overlaps (higher type wins), and
// coalesces adjacent same-type ranges. Any descriptor set that produces an
// inconsistent (non-monotonic after sort, still overlapping after merge)
// result is considered an unsafe memory map and is fatal.
func normalize(descs []MemoryDescriptor) []MemoryDescriptor {
	if len(descs) == 0 {
		return nil
	}
	sorted := append([]MemoryDescriptor(nil), descs...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Base < sorted[j].Base })

	out := []MemoryDescriptor{sorted[0]}
	for _, d := range sorted[1:] {
		last := &out[len(out)-1]
		switch {
		case d.Base > last.end():
			out = append(out, d)
		case d.Base == last.end() && d.Type == last.Type:
			last.Size += d.Size
		case d.Base == last.end():
			out = append(out, d)
		case d.Base < last.end():
			// Overlap: the more restrictive (numerically higher) type wins
			// for the overlapping region only — whichever descriptor's
			// bounds extend further keeps its own type for the
			// non-overlapping part of its range, including the case
			// where d sits entirely nested inside last.
			if d.Type > last.Type {
				origBase, origEnd, origType := last.Base, last.end(), last.Type
				overlapEnd := d.end()
				if origEnd < overlapEnd {
					overlapEnd = origEnd
				}

				segs := out[:len(out)-1]
				if d.Base > origBase {
					segs = append(segs, MemoryDescriptor{Base: origBase, Size: d.Base - origBase, Type: origType})
				}
				segs = append(segs, MemoryDescriptor{Base: d.Base, Size: overlapEnd - d.Base, Type: d.Type})
				if origEnd > overlapEnd {
					segs = append(segs, MemoryDescriptor{Base: overlapEnd, Size: origEnd - overlapEnd, Type: origType})
				} else if d.end() > overlapEnd {
					segs = append(segs, MemoryDescriptor{Base: overlapEnd, Size: d.end() - overlapEnd, Type: d.Type})
				}
				out = segs
			} else if d.end() > last.end() {
				out = append(out, MemoryDescriptor{Base: last.end(), Size: d.end() - last.end(), Type: d.Type})
			}
		default:
			ke.Panic(ke.ManuallyInitiatedCrash, d.Base, d.Size, uint64(d.Type), 0)
		}
	}
	return out
}

// FreeList is the frame-granularity O(1) free list early bring-up seeds
// from every Free run and that allocate_single_page/
// free_single_page operate on.
type FreeList struct {
	stack *rtlist.SList[pfn.Frame]
}

// AllocateSingle pops one frame, or (false) if exhausted.
func (f *FreeList) AllocateSingle() (pfn.Frame, bool) {
	return f.stack.Pop()
}

// FreeSingle pushes a frame back onto the free list.
func (f *FreeList) FreeSingle(frame pfn.Frame) {
	f.stack.Push(frame)
}

// Len reports the number of free frames remaining.
func (f *FreeList) Len() int { return f.stack.Len() }

// Bootstrap normalises the firmware memory map, sizes the PFN table to
// cover the highest frame the map describes, marks every non-Free page
// Used, and returns the PFN table plus a FreeList seeded with every free
// frame. The table is an ordinary Go slice: no frames are taken out of
// the Free runs to hold it.
func Bootstrap(descs []MemoryDescriptor) (*pfn.Table, *FreeList, error) {
	norm := normalize(descs)
	if len(norm) == 0 {
		return nil, nil, ErrEmptyMemoryMap
	}

	var highestByte uint64
	for _, d := range norm {
		if d.end() > highestByte {
			highestByte = d.end()
		}
	}
	frameCount := (highestByte + constants.PageSize - 1) / constants.PageSize
	table := pfn.NewTable(frameCount)

	for _, d := range norm {
		if d.Type == Free {
			continue
		}
		startFrame := d.Base / constants.PageSize
		endFrame := (d.end() + constants.PageSize - 1) / constants.PageSize
		for f := startFrame; f < endFrame; f++ {
			table.MarkUsed(pfn.Frame(f))
		}
	}

	free := &FreeList{stack: rtlist.NewSList[pfn.Frame]()}
	for _, d := range norm {
		if d.Type != Free {
			continue
		}
		startFrame := d.Base / constants.PageSize
		endFrame := (d.end()) / constants.PageSize
		// Push in descending order so popping yields ascending frame
		// numbers within each run, matching the original's bump-allocator
		// ordering.
		for f := endFrame; f > startFrame; f-- {
			free.FreeSingle(pfn.Frame(f - 1))
		}
	}

	return table, free, nil
}
