// Package pool implements the small-block allocator layered on top of
// mm/poolpage: fixed-granularity buckets carved out of whole pool pages,
// with requests above the granularity ceiling bypassing straight to the
// page allocator.
package pool

import (
	"sync"

	"github.com/brennagh/mira/internal/constants"
	"github.com/brennagh/mira/internal/ke"
	"github.com/brennagh/mira/internal/mm/poolpage"
	"github.com/brennagh/mira/internal/mm/track"
	"github.com/brennagh/mira/internal/mm/vmm"
	"github.com/brennagh/mira/internal/rtlist"
)

// blockHeader is the bookkeeping the real allocator would store inline at
// the front of each block (list_link, tag, head_index); here it is kept in
// a side table since blocks have no literal backing bytes to prefix.
type blockHeader struct {
	tag       [4]byte
	headIndex uint32
	size      uint64
	large     bool // bypassed straight to poolpage; headIndex is unused
}

// Pool is the small-block allocator. One Pool typically backs one tag
// namespace's worth of kernel allocations (general-purpose "Pool" tag
// pages, thread-object pages, and so on all share the same Pool and are
// distinguished by caller-supplied tag).
type Pool struct {
	mu      sync.Mutex
	pages   *poolpage.Allocator
	tracker *track.Tracker
	buckets [constants.SmallBlockCount + 1]*rtlist.SList[vmm.VAddr] // [1..SmallBlockCount]
	blocks  map[vmm.VAddr]*blockHeader
}

// NewPool builds a small-block allocator over pages, recording statistics
// into tracker.
func NewPool(pages *poolpage.Allocator, tracker *track.Tracker) *Pool {
	p := &Pool{
		pages:   pages,
		tracker: tracker,
		blocks:  make(map[vmm.VAddr]*blockHeader),
	}
	for i := range p.buckets {
		p.buckets[i] = rtlist.NewSList[vmm.VAddr]()
	}
	return p
}

func bucketFor(size uint64) uint32 {
	n := (size + constants.SmallBlockGranularity - 1) / constants.SmallBlockGranularity
	if n < 1 {
		n = 1
	}
	return uint32(n)
}

func blockTotalSize(bucket uint32) uint64 {
	return uint64(bucket)*constants.SmallBlockGranularity + constants.PoolHeaderSize
}

// Allocate returns size bytes tagged tag. Requests over SmallBlockMaxSize
// bypass to whole pool pages; everything else is served from (and, on
// exhaustion, carved into) a fixed-size bucket.
func (p *Pool) Allocate(cpu int, size uint64, tag [4]byte) (vmm.VAddr, error) {
	if size > constants.SmallBlockMaxSize {
		pages := uint32((size + constants.PageSize - 1) / constants.PageSize)
		base, err := p.pages.Allocate(cpu, pages, tag)
		if err != nil {
			return 0, err
		}
		p.mu.Lock()
		p.blocks[base] = &blockHeader{tag: tag, size: size, large: true}
		p.mu.Unlock()
		p.tracker.Allocate(tag, size)
		return base, nil
	}

	bucket := bucketFor(size)
	p.mu.Lock()
	addr, ok := p.buckets[bucket].Pop()
	if !ok {
		var err error
		addr, err = p.carvePage(cpu, bucket)
		if err != nil {
			p.mu.Unlock()
			return 0, err
		}
	}
	p.blocks[addr] = &blockHeader{tag: tag, headIndex: bucket, size: size}
	p.mu.Unlock()

	// Track the rounded bucket size (head_index * 16), not the requested
	// size, so current_bytes matches the sum of actually-held block
	// payloads (§8 property 1).
	p.tracker.Allocate(tag, uint64(bucket)*constants.SmallBlockGranularity)
	return addr, nil
}

// carvePage allocates one fresh pool page and splits it into
// PageSize/blockTotalSize(bucket) blocks for bucket, pushing all but the
// first onto the bucket's free list and returning the first to the caller.
// Must be called with p.mu held.
func (p *Pool) carvePage(cpu int, bucket uint32) (vmm.VAddr, error) {
	base, err := p.pages.Allocate(cpu, 1, [4]byte{'P', 'o', 'o', 'l'})
	if err != nil {
		return 0, err
	}
	blockSize := blockTotalSize(bucket)
	blocksPerPage := constants.PageSize / blockSize
	for i := uint64(1); i < blocksPerPage; i++ {
		p.buckets[bucket].Push(base + vmm.VAddr(i*blockSize))
	}
	return base, nil
}

// Free releases the block at addr. The tag given here must match the tag
// it was allocated under; a mismatch means the caller wrote past its
// block and corrupted the header, which is fatal — exactly the original
// allocator's BAD_POOL_HEADER check.
func (p *Pool) Free(cpu int, addr vmm.VAddr, tag [4]byte) error {
	p.mu.Lock()
	hdr, ok := p.blocks[addr]
	if !ok {
		p.mu.Unlock()
		ke.Panic(ke.BadPoolHeader, uint64(addr), 0, 0, 0)
		return nil
	}
	if hdr.tag != tag {
		stored := hdr.tag
		p.mu.Unlock()
		ke.Panic(ke.BadPoolHeader, uint64(addr),
			uint64(stored[0])<<24|uint64(stored[1])<<16|uint64(stored[2])<<8|uint64(stored[3]),
			uint64(tag[0])<<24|uint64(tag[1])<<16|uint64(tag[2])<<8|uint64(tag[3]), 0)
		return nil
	}
	delete(p.blocks, addr)
	large, bucket, size := hdr.large, hdr.headIndex, hdr.size
	if !large {
		p.buckets[bucket].Push(addr)
	}
	p.mu.Unlock()

	if large {
		p.tracker.Free(tag, size)
		_, err := p.pages.Free(cpu, addr)
		return err
	}
	// Track the rounded bucket size (head_index * 16), matching Allocate,
	// so current_bytes stays consistent with the sum of held payloads
	// (§8 property 1).
	p.tracker.Free(tag, uint64(bucket)*constants.SmallBlockGranularity)
	return nil
}
