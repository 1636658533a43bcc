// Package intc implements the AM335x interrupt controller (AINTC): a
// 128-line MMIO-addressed controller that the kernel's low-level IRQ stub
// consults to find, dispatch, and acknowledge the current interrupt.
//
// Register layout and offsets are taken from the hardware contract this
// kernel targets: base 0x4820_0000, ILR at 0x100 + 4*n, SIR_IRQ at 0x40,
// CONTROL at 0x48, and four MIR-clear banks at {0x84,0xA4,0xC4,0xE4}+4
// covering interrupts 0-31, 32-63, 64-95, 96-127 respectively.
package intc

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tinyrange/amkernel/internal/bus"
	"github.com/tinyrange/amkernel/internal/mmio"
)

// Base is the AINTC's physical MMIO base address.
const Base = 0x4820_0000

// MMIOWindowSize covers every register offset this device serves.
const MMIOWindowSize = 0x300

const (
	regILR     = 0x100 // + 4*n
	regSIRIRQ  = 0x40
	regControl = 0x48
)

var mirClearBank = [4]uint64{0x84, 0xA4, 0xC4, 0xE4}

// Interrupt is a known AINTC line number. Numbers outside this closed set
// are never returned by Current and are silently ignored by Enable,
// matching the hardware contract's "known numbers only" rule.
type Interrupt uint32

const (
	I2C2INT   Interrupt = 30
	TINT2     Interrupt = 68
	TINT3     Interrupt = 69
	TINT4     Interrupt = 92
	TINT5     Interrupt = 93
	TINT6     Interrupt = 94
	TINT7     Interrupt = 95
	GPIOINT1A Interrupt = 98
)

var knownInterrupts = map[Interrupt]struct{}{
	I2C2INT: {}, TINT2: {}, TINT3: {}, TINT4: {}, TINT5: {}, TINT6: {}, TINT7: {}, GPIOINT1A: {},
}

// Mode selects whether a line is routed to IRQ or FIQ.
type Mode uint8

const (
	ModeIRQ Mode = 0
	ModeFIQ Mode = 1
)

// HandlerFunc is installed per-line and invoked by Dispatch.
type HandlerFunc func()

const numLines = 128

// Device is the AINTC MMIO device.
type Device struct {
	mu sync.Mutex

	ilr      [numLines]uint32
	mir      [4]uint32 // one bit per line, 1 = masked
	sirIRQ   uint32
	control  uint32
	pending  map[Interrupt]struct{}
	handlers [numLines]HandlerFunc
}

// New returns an AINTC device with every line masked and no handlers
// installed (the default handler is a no-op, per the hardware contract).
func New() *Device {
	d := &Device{pending: make(map[Interrupt]struct{})}
	for i := range d.mir {
		d.mir[i] = 0xFFFF_FFFF
	}
	return d
}

func (d *Device) Init() error { return nil }

func (d *Device) MMIORegions() []bus.MMIORegion {
	return []bus.MMIORegion{{Address: Base, Size: MMIOWindowSize}}
}

// Enable programs the ILR entry for irq and unmasks its MIR bit. An
// unknown irq number is a silent no-op, matching the hardware contract.
func (d *Device) Enable(irq Interrupt, mode Mode, priority uint8) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.enableLocked(irq, mode, priority)
}

func (d *Device) enableLocked(irq Interrupt, mode Mode, priority uint8) {
	if _, ok := knownInterrupts[irq]; !ok {
		return
	}
	bank := uint32(irq) / 32
	if bank >= uint32(len(d.mir)) {
		return
	}
	d.ilr[irq] = uint32(mode) | uint32(priority)<<2
	d.mir[bank] = mmio.ClearBit(d.mir[bank], uint(uint32(irq)%32))
}

// RegisterHandler installs fn for irq. A nil fn restores the default
// no-op handler.
func (d *Device) RegisterHandler(irq Interrupt, fn HandlerFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers[irq] = fn
}

// SetIRQ is the InterruptSink contract chipset devices assert lines
// through: level=true marks the line pending, level=false clears it.
func (d *Device) SetIRQ(line uint8, level bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	irq := Interrupt(line)
	if _, ok := knownInterrupts[irq]; !ok {
		return
	}
	bank := uint32(irq) / 32
	if mmio.TestBit(d.mir[bank], uint(uint32(irq)%32)) {
		return // masked
	}
	if level {
		d.pending[irq] = struct{}{}
	} else {
		delete(d.pending, irq)
	}
	d.recomputeSIRLocked()
}

func (d *Device) recomputeSIRLocked() {
	if len(d.pending) == 0 {
		d.sirIRQ = 0
		return
	}
	lines := make([]Interrupt, 0, len(d.pending))
	for l := range d.pending {
		lines = append(lines, l)
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i] < lines[j] })
	d.sirIRQ = uint32(lines[0])
}

// Current reads the controller's current-IRQ register, returning the
// known interrupt it names, if any.
func (d *Device) Current() (Interrupt, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	num := Interrupt(d.sirIRQ & 0x7F)
	_, ok := knownInterrupts[num]
	return num, ok && num != 0
}

// Dispatch is the entry point the low-level IRQ stub invokes: it resolves
// the current IRQ, calls its handler (a no-op if none is installed), and
// acknowledges the controller.
func (d *Device) Dispatch() {
	irq, ok := d.Current()
	if !ok {
		return
	}

	d.mu.Lock()
	fn := d.handlers[irq]
	d.mu.Unlock()

	if fn != nil {
		fn()
	}

	d.mu.Lock()
	d.control = mmio.SetBit(d.control, 0)
	d.mu.Unlock()
}

func (d *Device) ReadMMIO(ctx bus.ExitContext, addr uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	off := addr - Base
	var val uint32
	switch {
	case off == regSIRIRQ:
		val = d.sirIRQ
	case off == regControl:
		val = d.control
	case off >= regILR && off < regILR+4*numLines:
		idx := (off - regILR) / 4
		val = d.ilr[idx]
	case off == mirClearBank[0]+4, off == mirClearBank[1]+4, off == mirClearBank[2]+4, off == mirClearBank[3]+4:
		for i, bank := range mirClearBank {
			if off == bank+4 {
				val = d.mir[i]
			}
		}
	default:
		return fmt.Errorf("intc: unhandled read at offset 0x%x", off)
	}
	mmio.WriteU32(data, val)
	return nil
}

func (d *Device) WriteMMIO(ctx bus.ExitContext, addr uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	off := addr - Base
	val := mmio.ReadU32(data)
	switch {
	case off == regControl:
		d.control = mmio.ClearBit(val, 0)
	case off >= regILR && off < regILR+4*numLines:
		idx := (off - regILR) / 4
		d.ilr[idx] = val
	case off == mirClearBank[0]+4, off == mirClearBank[1]+4, off == mirClearBank[2]+4, off == mirClearBank[3]+4:
		for i, bank := range mirClearBank {
			if off == bank+4 {
				d.mir[i] &^= val
			}
		}
	default:
		return fmt.Errorf("intc: unhandled write at offset 0x%x", off)
	}
	return nil
}

var _ bus.MemoryMappedIODevice = (*Device)(nil)
