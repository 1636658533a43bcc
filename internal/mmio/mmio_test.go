package mmio

import "testing"

func TestReadWriteU32RoundTrip(t *testing.T) {
	buf := make([]byte, 4)
	WriteU32(buf, 0xDEADBEEF)
	if got := ReadU32(buf); got != 0xDEADBEEF {
		t.Fatalf("ReadU32 = 0x%x, want 0xDEADBEEF", got)
	}
}

func TestReadU32ZeroExtendsNarrowReads(t *testing.T) {
	if got := ReadU32([]byte{0x01}); got != 0x01 {
		t.Fatalf("ReadU32(narrow) = 0x%x, want 0x01", got)
	}
}

func TestSetClearTestBit(t *testing.T) {
	var reg uint32
	reg = SetBit(reg, 3)
	if !TestBit(reg, 3) {
		t.Fatalf("expected bit 3 set")
	}
	reg = ClearBit(reg, 3)
	if TestBit(reg, 3) {
		t.Fatalf("expected bit 3 cleared")
	}
}
