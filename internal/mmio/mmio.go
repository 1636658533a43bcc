// Package mmio implements the low-level register primitives every
// memory-mapped peripheral in this kernel builds on: little-endian
// word read/write over a byte-addressed region, and bit set/clear
// helpers matching the AM335x's 32-bit register width.
package mmio

import "encoding/binary"

// ReadU32 decodes a little-endian 32-bit register value from data.
// Reads narrower than 4 bytes are zero-extended, matching a volatile
// byte/halfword load from a word register.
func ReadU32(data []byte) uint32 {
	var buf [4]byte
	copy(buf[:], data)
	return binary.LittleEndian.Uint32(buf[:])
}

// WriteU32 encodes val as little-endian into data, truncating to len(data)
// bytes for narrower writes.
func WriteU32(data []byte, val uint32) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], val)
	copy(data, buf[:])
}

// SetBit returns reg with bit set.
func SetBit(reg uint32, bit uint) uint32 {
	return reg | (1 << bit)
}

// ClearBit returns reg with bit cleared.
func ClearBit(reg uint32, bit uint) uint32 {
	return reg &^ (1 << bit)
}

// TestBit reports whether bit is set in reg.
func TestBit(reg uint32, bit uint) bool {
	return reg&(1<<bit) != 0
}

// Barrier stands in for the DSB/ISB pair the original firmware issues
// after changing a translation table entry or a control register. On
// this host there is nothing to synchronize, but call sites keep the
// call so the control flow mirrors the hardware sequence.
func Barrier() {}
