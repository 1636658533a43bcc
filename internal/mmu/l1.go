// Package mmu implements the kernel's two-level ARMv7-A short-descriptor
// MMU: a 4096-entry L1 table mapping 1 MiB sections (identity-mapping the
// kernel image and the peripheral MMIO window) plus one pointer entry to
// the L2 table, and a 256-entry L2 table handing out 4 KiB small pages to
// tasks.
package mmu

import "fmt"

// L1 translation table entry kinds
// (Table B3-10, ARM Architecture Reference Manual ARMv7-A edition).
const (
	tteFault   uint32 = 0b00
	ttePointer uint32 = 0b01
	tteSection uint32 = 0b10
)

const (
	L1NumEntries  = 4096
	L1Alignment   = 16 * 1024
	sectionSizeMB = 1 << 20
)

// Permissions is the access-permission descriptor the spec's {Privileged-
// only, User-RO, Full} enum encodes into AP bits.
type Permissions int

const (
	PermPrivilegedOnly Permissions = iota
	PermUserReadOnly
	PermFull
)

// apBits returns the AP[1:0] field for a section/small-page descriptor at
// bit position 10 (sections) or 4 (small pages) — the caller shifts.
func (p Permissions) apBits() uint32 {
	switch p {
	case PermPrivilegedOnly:
		return 0b01
	case PermUserReadOnly:
		return 0b10
	case PermFull:
		return 0b11
	default:
		return 0b11
	}
}

// L1Table is the kernel's single first-level translation table: 4096
// 32-bit entries, 16 KiB aligned in the reference hardware layout (this
// Go model keeps it as a plain array since there is no real MMU to feed
// it to).
type L1Table struct {
	entries [L1NumEntries]uint32
}

// NewL1Table returns an all-fault L1 table.
func NewL1Table() *L1Table {
	return &L1Table{}
}

// IdentityMapSection installs a section entry mapping the
// 1 MiB-aligned virtual (== physical, identity map) region starting at
// base with the given permissions.
func (t *L1Table) IdentityMapSection(base uint32, perms Permissions) error {
	if base%sectionSizeMB != 0 {
		return fmt.Errorf("mmu: section base 0x%x is not 1MiB aligned", base)
	}
	idx := base >> 20
	t.entries[idx] = base | perms.apBits()<<10 | tteSection
	return nil
}

// IdentityMapRange installs section entries identity-mapping every 1 MiB
// section overlapping [start, end).
func (t *L1Table) IdentityMapRange(start, end uint32, perms Permissions) error {
	if end <= start {
		return fmt.Errorf("mmu: empty or inverted range [0x%x, 0x%x)", start, end)
	}
	first := start &^ (sectionSizeMB - 1)
	for base := first; base < end; base += sectionSizeMB {
		if err := t.IdentityMapSection(base, perms); err != nil {
			return err
		}
	}
	return nil
}

// SetL2Pointer installs entry 0 as a pointer to the L2 table's physical
// base, the one L1 slot spec.md's design reserves for the user virtual
// range.
func (t *L1Table) SetL2Pointer(l2PhysBase uint32) {
	t.entries[0] = (l2PhysBase &^ 0x3FF) | ttePointer
}

// Entry returns the raw descriptor at idx, for tests asserting on the
// encoded bit pattern.
func (t *L1Table) Entry(idx int) uint32 {
	return t.entries[idx]
}
