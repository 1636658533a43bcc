// Package bumpalloc implements the bump allocator used both as the
// kernel's own heap and, one instance per task, as each task's Alloc/
// Dealloc syscall backing store. Dealloc is a deliberate no-op: a bump
// allocator never reclaims individual allocations, only the whole region
// at task termination.
package bumpalloc

import "fmt"

// Heap is a bump allocator over [start, end).
type Heap struct {
	start uint32
	end   uint32
	next  uint32
}

// New returns an uninitialized Heap. Call Init before using it.
func New() *Heap {
	return &Heap{}
}

// Init configures the heap's backing range. start must be <= end.
func (h *Heap) Init(start, end uint32) error {
	if end < start {
		return fmt.Errorf("bumpalloc: inverted range [0x%x, 0x%x)", start, end)
	}
	h.start = start
	h.end = end
	h.next = start
	return nil
}

// align rounds v up to the nearest multiple of align, which must be a
// power of two.
func align(v, alignment uint32) uint32 {
	if alignment == 0 {
		return v
	}
	return (v + alignment - 1) &^ (alignment - 1)
}

// Alloc returns a pointer to size bytes aligned to align within the
// heap's region, or 0 if the region is exhausted. A 0 return is the
// syscall-visible "null" pointer per spec.md's Alloc return value.
func (h *Heap) Alloc(size, alignment uint32) uint32 {
	aligned := align(h.next, alignment)
	if aligned < h.next { // alignment overflowed
		return 0
	}
	end := aligned + size
	if end < aligned || end > h.end {
		return 0
	}
	h.next = end
	return aligned
}

// Dealloc is a no-op: bump allocators never reclaim individual
// allocations. The arguments are accepted (not ignored at the call site)
// to mirror the syscall ABI's Dealloc{ptr,size,align} shape.
func (h *Heap) Dealloc(ptr, size, alignment uint32) {}

// Next returns the next allocation's would-be address, for tests
// asserting the bump pointer's position.
func (h *Heap) Next() uint32 { return h.next }
