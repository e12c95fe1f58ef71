// Package pfn implements the physical frame map: one descriptor per
// simulated physical page frame. There is no byte-addressable physical
// heap backing it — frames are identified by index only, since nothing in
// this model ever needs to read the bytes of a "physical" page, only
// track what owns it.
package pfn

import "github.com/brennagh/mira/internal/ke"

// Frame is a physical page-frame index.
type Frame uint64

// Entry is one physical-page descriptor. The invariant PoolBase => PoolItem
// => Used is checked by Validate, which MarkFree calls before clearing an
// entry and MarkPoolBase/MarkPoolItem call after setting their bits;
// MarkUsed and FreePoolBase do not call it.
type Entry struct {
	Used     bool
	PoolItem bool
	PoolBase bool
	Pages    uint32
	Tag      [4]byte
}

// Validate panics with BadPFNHeader if the entry violates
// PoolBase => PoolItem => Used.
func (e *Entry) Validate(frame Frame) {
	if e.PoolBase && !e.PoolItem {
		ke.Panic(ke.BadPFNHeader, uint64(frame), 1, 0, 0)
	}
	if e.PoolItem && !e.Used {
		ke.Panic(ke.BadPFNHeader, uint64(frame), 2, 0, 0)
	}
}

// Table is the physical frame map: one Entry per frame, sized at
// construction to cover the highest physical frame the firmware reported.
type Table struct {
	entries []Entry
}

// NewTable allocates a frame map covering frameCount frames, all initially
// zero (free, unused).
func NewTable(frameCount uint64) *Table {
	return &Table{entries: make([]Entry, frameCount)}
}

// Count returns the number of frames the table covers.
func (t *Table) Count() uint64 { return uint64(len(t.entries)) }

// Get returns a copy of the entry for frame.
func (t *Table) Get(frame Frame) Entry {
	return t.entries[frame]
}

// MarkUsed marks frame as used by some (non-pool) subsystem.
func (t *Table) MarkUsed(frame Frame) {
	e := &t.entries[frame]
	e.Used = true
}

// MarkFree clears all bits for frame. Freeing a frame with inconsistent
// bits (PoolItem set on a frame that was never Used, for instance) is
// fatal — the same policy a pool-page free uses.
func (t *Table) MarkFree(frame Frame) {
	e := &t.entries[frame]
	e.Validate(frame)
	*e = Entry{}
}

// MarkPoolBase marks frame as the first frame of a multi-page pool
// allocation of count pages under tag.
func (t *Table) MarkPoolBase(frame Frame, count uint32, tag [4]byte) {
	e := &t.entries[frame]
	e.Used = true
	e.PoolItem = true
	e.PoolBase = true
	e.Pages = count
	e.Tag = tag
	e.Validate(frame)
}

// MarkPoolItem marks frame as a non-base member of a multi-page pool
// allocation.
func (t *Table) MarkPoolItem(frame Frame) {
	e := &t.entries[frame]
	e.Used = true
	e.PoolItem = true
	e.Validate(frame)
}

// FreePoolBase validates frame is a pool base, returns its page count and
// tag, and clears it. Called by the pool-page allocator's Free; a
// mismatched PoolBase bit is fatal BadPFNHeader.
func (t *Table) FreePoolBase(frame Frame) (count uint32, tag [4]byte) {
	e := &t.entries[frame]
	if !e.PoolBase {
		ke.Panic(ke.BadPFNHeader, uint64(frame), 3, 0, 0)
	}
	count, tag = e.Pages, e.Tag
	*e = Entry{}
	return count, tag
}
