package mmu

import "testing"

func TestIdentityMapSectionRejectsUnaligned(t *testing.T) {
	l1 := NewL1Table()
	if err := l1.IdentityMapSection(0x1000, PermFull); err == nil {
		t.Fatalf("expected error for unaligned section base")
	}
}

func TestIdentityMapSectionEncodesDescriptor(t *testing.T) {
	l1 := NewL1Table()
	if err := l1.IdentityMapSection(0x4820_0000, PermFull); err != nil {
		t.Fatalf("IdentityMapSection: %v", err)
	}
	entry := l1.Entry(0x4820_0000 >> 20)
	if entry&0b11 != tteSection {
		t.Fatalf("entry kind = %#b, want section", entry&0b11)
	}
	if entry&^0xFFF00000 != PermFull.apBits()<<10|tteSection {
		t.Fatalf("entry = %#x, unexpected AP/kind bits", entry)
	}
}

func TestIdentityMapRangeCoversEveryMegabyte(t *testing.T) {
	l1 := NewL1Table()
	start := uint32(0x4804_0000)
	end := uint32(0x4830_0000)
	if err := l1.IdentityMapRange(start, end, PermFull); err != nil {
		t.Fatalf("IdentityMapRange: %v", err)
	}
	for base := start &^ (sectionSizeMB - 1); base < end; base += sectionSizeMB {
		if l1.Entry(base>>20)&0b11 != tteSection {
			t.Fatalf("section at 0x%x not mapped", base)
		}
	}
}

func TestIdentityMapRangeRejectsInverted(t *testing.T) {
	l1 := NewL1Table()
	if err := l1.IdentityMapRange(0x2000, 0x1000, PermFull); err == nil {
		t.Fatalf("expected error for inverted range")
	}
}

func TestSetL2Pointer(t *testing.T) {
	l1 := NewL1Table()
	l1.SetL2Pointer(0x8000_0400)
	entry := l1.Entry(0)
	if entry&0b11 != ttePointer {
		t.Fatalf("entry kind = %#b, want pointer", entry&0b11)
	}
	if entry&^0x3FF != 0x8000_0400 {
		t.Fatalf("pointer base = 0x%x, want 0x80000400", entry&^0x3FF)
	}
}
