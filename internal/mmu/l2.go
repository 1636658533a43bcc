package mmu

import "fmt"

const (
	L2NumEntries = 256
	L2Alignment  = 1024
	PageSize     = 0x1000
	pageBits     = 12
)

const l2Fault uint32 = 0x0

// L2Table is the kernel's single second-level translation table: 256
// entries covering the 1 MiB virtual slice L1 entry 0 points at. usedPages
// tracks, bit for bit, which physical frames the backing region has handed
// out — the invariant spec.md requires is that this bitmap and the table's
// non-fault entries agree exactly.
type L2Table struct {
	entries   [L2NumEntries]uint32
	usedPages [L2NumEntries]bool
	physBase  uint32
}

// NewL2Table returns an all-fault L2 table backed by a physical region of
// L2NumEntries pages starting at physBase.
func NewL2Table(physBase uint32) *L2Table {
	return &L2Table{physBase: physBase}
}

// PhysBase returns the physical base this table allocates frames from.
func (t *L2Table) PhysBase() uint32 { return t.physBase }

// allocateIndex finds and reserves the first free physical frame index,
// scanning 0..255 in order per spec.md's boundary behavior.
func (t *L2Table) allocateIndex() (int, error) {
	for i := 0; i < L2NumEntries; i++ {
		if !t.usedPages[i] {
			t.usedPages[i] = true
			return i, nil
		}
	}
	return 0, fmt.Errorf("mmu: no free page frames")
}

// freeIndex clears usedPages[idx], guarding against a double-free freeing
// a different handle's page — spec.md requires unregister to check the
// bit before clearing it.
func (t *L2Table) freeIndex(idx int) bool {
	if idx < 0 || idx >= L2NumEntries || !t.usedPages[idx] {
		return false
	}
	t.usedPages[idx] = false
	return true
}

// writeEntry installs a small-page descriptor at the L2 slot addressed by
// virtualAddr.
func (t *L2Table) writeEntry(virtualAddr uint32, descriptor uint32) {
	t.entries[virtualAddr>>pageBits] = descriptor
}

// clearEntry faults the L2 slot addressed by virtualAddr.
func (t *L2Table) clearEntry(virtualAddr uint32) {
	t.entries[virtualAddr>>pageBits] = l2Fault
}

// Entry returns the raw descriptor at the slot virtualAddr maps to, for
// tests asserting on encoded bit patterns.
func (t *L2Table) Entry(virtualAddr uint32) uint32 {
	return t.entries[virtualAddr>>pageBits]
}

// UsedPages reports the live copy of the allocation bitmap, for tests
// asserting the §8 invariant that it agrees with the table's fault bits.
func (t *L2Table) UsedPages() [L2NumEntries]bool {
	return t.usedPages
}
