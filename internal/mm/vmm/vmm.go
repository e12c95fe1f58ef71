// Package vmm models the architecture-specific page-table contract:
// map/unmap/query a virtual address against a physical frame, with W^X
// enforced at the call site. There is no byte-addressable memory for a
// hosted Go process to walk, so intermediate page-table levels are a
// lazily-populated map rather than a literal multi-level table — the one
// place this model substitutes a map for a walk, since nothing below it
// is ever dereferenced as real memory.
package vmm

import (
	"errors"

	"github.com/brennagh/mira/internal/mm/pfn"
)

// VAddr is a virtual address.
type VAddr uint64

// Flags is the mapping permission/attribute bitmask.
type Flags uint8

const (
	Write Flags = 1 << iota
	Exec
	Device
	Uncached
)

// ErrWriteExec is returned when a caller asks for a mapping that is both
// writable and executable — the W^X contract is enforced here, at the
// call site named in the component design, never silently downgraded.
var ErrWriteExec = errors.New("vmm: WRITE and EXEC both requested")

// ErrAlreadyMapped / ErrNotMapped report on map/unmap preconditions.
var (
	ErrAlreadyMapped = errors.New("vmm: virtual address already mapped")
	ErrNotMapped     = errors.New("vmm: virtual address not mapped")
)

type mapping struct {
	phys  pfn.Frame
	flags Flags
	huge  bool
	size  uint64 // page count for huge mappings, 1 otherwise
}

// Map is the virtual-address space: page granular mappings plus the
// huge-page bookkeeping needed to implement unmap_page's "refuse to
// split" rule.
type Map struct {
	pageSize uint64
	entries  map[VAddr]*mapping
}

// NewMap returns an empty virtual address map for the given page size.
func NewMap(pageSize uint64) *Map {
	return &Map{pageSize: pageSize, entries: make(map[VAddr]*mapping)}
}

// MapPage maps a single page. Requesting both Write and Exec is rejected.
func (m *Map) MapPage(virt VAddr, phys pfn.Frame, flags Flags) error {
	if flags&Write != 0 && flags&Exec != 0 {
		return ErrWriteExec
	}
	if _, ok := m.entries[virt]; ok {
		return ErrAlreadyMapped
	}
	m.entries[virt] = &mapping{phys: phys, flags: flags, size: 1}
	return nil
}

// MapHuge maps a multi-page region starting at virt as a single huge
// mapping; UnmapPage at an unaligned offset inside it is a no-op rather
// than an error.
func (m *Map) MapHuge(virt VAddr, phys pfn.Frame, pages uint64, flags Flags) error {
	if flags&Write != 0 && flags&Exec != 0 {
		return ErrWriteExec
	}
	if _, ok := m.entries[virt]; ok {
		return ErrAlreadyMapped
	}
	m.entries[virt] = &mapping{phys: phys, flags: flags, huge: true, size: pages}
	return nil
}

// UnmapPage removes the mapping at virt. Unmapping inside a huge mapping
// at a non-base address is tolerated as a silent no-op rather than an
// error — the huge mapping is never split.
func (m *Map) UnmapPage(virt VAddr) error {
	if _, ok := m.entries[virt]; ok {
		delete(m.entries, virt)
		return nil
	}
	if m.insideHuge(virt) {
		return nil
	}
	return ErrNotMapped
}

func (m *Map) insideHuge(virt VAddr) bool {
	for base, e := range m.entries {
		if !e.huge {
			continue
		}
		span := VAddr(e.size * m.pageSize)
		if virt > base && virt < base+span {
			return true
		}
	}
	return false
}

// PhysicalOf returns the physical frame backing virt, if mapped.
func (m *Map) PhysicalOf(virt VAddr) (pfn.Frame, bool) {
	if e, ok := m.entries[virt]; ok {
		return e.phys, true
	}
	return 0, false
}
