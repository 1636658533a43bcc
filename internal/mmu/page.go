package mmu

import (
	"fmt"

	"github.com/tinyrange/amkernel/internal/mmio"
	"github.com/tinyrange/amkernel/internal/physmem"
)

// Handle is a typed allocation in the L2 table: {ASID, virtual address,
// physical frame, permissions}. A handle is registered in at most one L2
// slot at a time.
type Handle struct {
	table *L2Table
	tlb   *TLB
	index int

	asid        uint32
	hasASID     bool
	virtualAddr uint32
	physAddr    uint32
	perms       Permissions

	mem *physmem.Region

	registered bool
}

// BindRegion attaches the physical region backing this page's frame, so
// Register can make the new mapping's contents visible with a real msync
// instead of only the call-site barrier. Tests that exercise the L2/TLB
// bookkeeping without a backing region may leave this unbound.
func (h *Handle) BindRegion(mem *physmem.Region) {
	h.mem = mem
}

// Allocate reserves the first free physical frame in table and returns a
// handle mapping it at virtualAddr (page-aligned down) with full-access
// permissions, tagged with asid if provided. Returns an error if every
// frame is in use.
func Allocate(table *L2Table, tlb *TLB, virtualAddr uint32, asid *uint32) (*Handle, error) {
	idx, err := table.allocateIndex()
	if err != nil {
		return nil, err
	}

	h := &Handle{
		table:       table,
		tlb:         tlb,
		index:       idx,
		virtualAddr: virtualAddr &^ 0xFFF,
		physAddr:    table.PhysBase() + uint32(idx)*PageSize,
		perms:       PermFull,
	}
	if asid != nil {
		h.asid = *asid
		h.hasASID = true
	}
	return h, nil
}

// Start returns the page's virtual base address.
func (h *Handle) Start() uint32 { return h.virtualAddr }

// End returns the last valid word address in the page (virtualAddr +
// PageSize - 4), matching the source's end-of-stack convention.
func (h *Handle) End() uint32 { return h.virtualAddr + PageSize - 4 }

// PhysAddr returns the backing physical frame address.
func (h *Handle) PhysAddr() uint32 { return h.physAddr }

// descriptor encodes the small-page TTE: physical address | non-global
// bit | AP bits | kind=small-page (0b10).
func (h *Handle) descriptor() uint32 {
	nonGlobal := uint32(0)
	if h.hasASID {
		nonGlobal = 1
	}
	return h.physAddr | nonGlobal<<11 | h.perms.apBits()<<4 | 0b10
}

// Register programs the ASID register if one was supplied — required on
// every dispatch of the owning task, not just its first, per spec.md
// §4.6 ("register its page handle(s) (which also updates the ASID
// register)") — then, the first time it is called for this handle,
// installs the handle into its L2 slot and emits the data/instruction
// synchronization barrier the hardware requires before the new mapping is
// used. Later calls (a task resuming from Stored) re-arm the ASID
// register only: the L2 entry and TLB validity are already in place from
// the first call and unregister is what retires them.
func (h *Handle) Register() error {
	if h.hasASID {
		h.tlb.SetASID(h.asid)
	}
	if h.registered {
		return nil
	}
	h.table.writeEntry(h.virtualAddr, h.descriptor())
	h.tlb.markValid(h.virtualAddr, h.asid)
	if h.mem != nil {
		if err := h.mem.Sync(); err != nil {
			return fmt.Errorf("mmu: sync backing region for va 0x%x: %w", h.virtualAddr, err)
		}
	}
	mmio.Barrier()
	h.registered = true
	return nil
}

// Unregister faults the L2 slot, frees the backing frame, and invalidates
// the TLB entry for (virtualAddr, asid). It guards against double-free by
// checking the usedPages bit before clearing it — calling Unregister twice
// on the same handle is a no-op the second time rather than freeing a
// different handle's page.
func (h *Handle) Unregister() {
	if !h.registered {
		return
	}
	h.table.clearEntry(h.virtualAddr)
	h.table.freeIndex(h.index)
	h.tlb.InvalidateMVA(h.virtualAddr, h.asid)
	h.registered = false
}

// CopyIn copies src into the page's backing physical frame via region,
// used at task creation to load an embedded program image.
func (h *Handle) CopyIn(region *physmem.Region, src []byte) error {
	if len(src) > PageSize || !region.Contains(h.physAddr, uint32(len(src))) {
		return fmt.Errorf("mmu: program image of %d bytes does not fit in page at 0x%x", len(src), h.physAddr)
	}
	copy(region.Slice(h.physAddr, uint32(len(src))), src)
	return nil
}
