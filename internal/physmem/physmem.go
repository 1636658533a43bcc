// Package physmem backs the kernel's physical address space with a real
// anonymous memory mapping, the same way the teacher's hypervisor backed
// guest RAM, so the MMU component has an actual byte-addressable, page
// aligned region to place page tables and task code/data in.
package physmem

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Region is an mmap-backed slice of physical memory.
type Region struct {
	base uint32
	data []byte
}

// New mmaps size bytes (rounded up to a page) to represent the physical
// region starting at base. size must be representable in the 32-bit
// physical address space this kernel targets.
func New(base uint32, size int) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("physmem: size must be positive")
	}
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("physmem: mmap %d bytes: %w", size, err)
	}
	return &Region{base: base, data: data}, nil
}

// Close unmaps the region.
func (r *Region) Close() error {
	if r.data == nil {
		return nil
	}
	err := unix.Munmap(r.data)
	r.data = nil
	return err
}

// Base returns the physical base address this region represents.
func (r *Region) Base() uint32 { return r.base }

// Size returns the region's length in bytes.
func (r *Region) Size() uint32 { return uint32(len(r.data)) }

// Contains reports whether the physical address range [addr, addr+n)
// falls entirely within this region.
func (r *Region) Contains(addr uint32, n uint32) bool {
	if addr < r.base {
		return false
	}
	end := addr - r.base + n
	return n != 0 && end <= uint32(len(r.data)) && end >= n
}

// Slice returns the backing bytes for the physical range [addr, addr+n).
// Callers must have checked Contains first.
func (r *Region) Slice(addr uint32, n uint32) []byte {
	off := addr - r.base
	return r.data[off : off+n]
}

// Sync makes writes to the region visible, standing in for the DSB/ISB
// pair the original firmware issues after editing a translation table
// entry. msync on an anonymous mapping is a no-op from the kernel's point
// of view but keeps the call site honest about when a barrier is required.
func (r *Region) Sync() error {
	if r.data == nil {
		return nil
	}
	return unix.Msync(r.data, unix.MS_SYNC)
}
