package mmu

import (
	"testing"

	"github.com/tinyrange/amkernel/internal/physmem"
)

func TestPageAllocateRegisterUnregisterRoundTrip(t *testing.T) {
	l2 := NewL2Table(0x8000_0000)
	tlb := NewTLB()
	asid := uint32(1)

	h, err := Allocate(l2, tlb, 0x0, &asid)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if h.Start() != 0 {
		t.Fatalf("Start() = 0x%x, want 0", h.Start())
	}
	if h.End() != PageSize-4 {
		t.Fatalf("End() = 0x%x, want 0x%x", h.End(), PageSize-4)
	}

	if err := h.Register(); err != nil {
		t.Fatalf("Register: %v", err)
	}
	tlb.SetASID(99) // simulate another task's dispatch running between resumes
	if err := h.Register(); err != nil {
		t.Fatalf("Register on an already-registered handle should re-arm the ASID, not error: %v", err)
	}
	if got := tlb.CurrentASID(); got != asid {
		t.Fatalf("CurrentASID() = %d, want %d: Register must reset the ASID register on every call, not just the first", got, asid)
	}
	if l2.Entry(0x0) == l2Fault {
		t.Fatalf("L2 entry should be non-fault after Register")
	}
	if !tlb.Valid(0x0, asid) {
		t.Fatalf("expected TLB entry to be valid after Register")
	}

	h.Unregister()
	if l2.Entry(0x0) != l2Fault {
		t.Fatalf("L2 entry should fault after Unregister")
	}
	if tlb.Valid(0x0, asid) {
		t.Fatalf("expected TLB entry to be invalid after Unregister")
	}

	// Unregister is idempotent.
	h.Unregister()
}

func TestPageAllocateExhaustion(t *testing.T) {
	l2 := NewL2Table(0x8000_0000)
	tlb := NewTLB()
	for i := 0; i < L2NumEntries; i++ {
		if _, err := Allocate(l2, tlb, 0x0, nil); err != nil {
			t.Fatalf("Allocate(%d): %v", i, err)
		}
	}
	if _, err := Allocate(l2, tlb, 0x0, nil); err == nil {
		t.Fatalf("expected error once every frame is in use")
	}
}

func TestPageCopyIn(t *testing.T) {
	l2 := NewL2Table(0x1000)
	tlb := NewTLB()
	region, err := physmem.New(0, 0x10_0000)
	if err != nil {
		t.Fatalf("physmem.New: %v", err)
	}
	defer region.Close()

	h, err := Allocate(l2, tlb, 0x0, nil)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	program := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	if err := h.CopyIn(region, program); err != nil {
		t.Fatalf("CopyIn: %v", err)
	}
	got := region.Slice(h.PhysAddr(), uint32(len(program)))
	for i, b := range program {
		if got[i] != b {
			t.Fatalf("byte %d = 0x%x, want 0x%x", i, got[i], b)
		}
	}
}

func TestPageRegisterSyncsBoundRegion(t *testing.T) {
	l2 := NewL2Table(0x1000)
	tlb := NewTLB()
	region, err := physmem.New(0x1000, 0x1000)
	if err != nil {
		t.Fatalf("physmem.New: %v", err)
	}
	defer region.Close()

	h, err := Allocate(l2, tlb, 0x0, nil)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	h.BindRegion(region)
	if err := h.Register(); err != nil {
		t.Fatalf("Register: %v", err)
	}
}

func TestPageCopyInRejectsOversizedImage(t *testing.T) {
	l2 := NewL2Table(0x1000)
	tlb := NewTLB()
	region, err := physmem.New(0, 0x1000)
	if err != nil {
		t.Fatalf("physmem.New: %v", err)
	}
	defer region.Close()

	h, err := Allocate(l2, tlb, 0x0, nil)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	big := make([]byte, 0x10_0000)
	if err := h.CopyIn(region, big); err == nil {
		t.Fatalf("expected error copying an image larger than the backing region")
	}
}
