// Package arena provides the bump allocator that backs module data segments.
//
// Allocations are never freed individually. Reset reclaims everything at once
// and starts a new epoch; slices handed out before the reset must not be used
// afterwards.
package arena

import (
	"encoding/binary"

	"github.com/wippyai/qvm"
	"github.com/wippyai/qvm/errors"
)

// Align is the allocation granularity in bytes.
const Align = 32

// Allocation records one block handed out by the arena.
type Allocation struct {
	Tag    string
	Offset int
	Size   int
}

// Hunk is a fixed-size bump allocator.
type Hunk struct {
	buf    []byte
	used   int
	epoch  int
	allocs []Allocation
}

var _ qvm.Arena = (*Hunk)(nil)

// New creates a hunk of the given size in bytes.
func New(size int) *Hunk {
	return &Hunk{buf: make([]byte, size)}
}

// Alloc returns a zeroed block of exactly size bytes. The block's capacity is
// clipped so appends cannot spill into the next allocation.
func (h *Hunk) Alloc(size int, tag string) ([]byte, error) {
	if size < 0 {
		return nil, errors.InvalidInput(errors.PhaseLoad, "negative allocation size")
	}
	aligned := (size + Align - 1) &^ (Align - 1)
	if aligned > len(h.buf)-h.used {
		return nil, errors.AllocationFailed(errors.PhaseLoad, tag, size, h.Remaining())
	}
	off := h.used
	h.used += aligned
	block := h.buf[off : off+size : off+size]
	clear(block)
	h.allocs = append(h.allocs, Allocation{Tag: tag, Offset: off, Size: size})
	return block, nil
}

// Used returns the number of bytes handed out, including alignment padding.
func (h *Hunk) Used() int { return h.used }

// Remaining returns the bytes still available.
func (h *Hunk) Remaining() int { return len(h.buf) - h.used }

// Size returns the total capacity.
func (h *Hunk) Size() int { return len(h.buf) }

// Epoch returns how many times the hunk has been reset.
func (h *Hunk) Epoch() int { return h.epoch }

// Allocations returns the blocks handed out in the current epoch.
func (h *Hunk) Allocations() []Allocation {
	out := make([]Allocation, len(h.allocs))
	copy(out, h.allocs)
	return out
}

// Reset releases every allocation and starts a new epoch.
func (h *Hunk) Reset() {
	h.used = 0
	h.allocs = h.allocs[:0]
	h.epoch++
}

// Words is a table of little-endian int32 values stored in arena memory.
type Words []byte

// AllocWords allocates a zeroed table of n int32 values.
func AllocWords(a qvm.Arena, n int, tag string) (Words, error) {
	b, err := a.Alloc(n*4, tag)
	if err != nil {
		return nil, err
	}
	return Words(b), nil
}

// Len returns the number of entries.
func (w Words) Len() int { return len(w) / 4 }

// At returns entry i.
func (w Words) At(i int) int32 {
	return int32(binary.LittleEndian.Uint32(w[i*4:]))
}

// Set stores v at entry i.
func (w Words) Set(i int, v int32) {
	binary.LittleEndian.PutUint32(w[i*4:], uint32(v))
}
