// Package gpio is the opaque GPIO sink the syscall dispatcher calls into.
// spec.md treats GPIO as an external collaborator specified only by the
// interface the core consumes (GpioRead/GpioWrite); this package gives
// that interface a concrete, testable MMIO-addressed backing so the
// console device and task tests have real pin state to assert against.
//
// Register offsets (GPIO_OE, GPIO_DATAIN, GPIO_DATAOUT) match the AM335x
// GPIO module layout the original bring-up code uses.
package gpio

import (
	"fmt"
	"sync"

	"github.com/tinyrange/amkernel/internal/bus"
	"github.com/tinyrange/amkernel/internal/mmio"
)

const (
	regOE      = 0x134
	regDataIn  = 0x138
	regDataOut = 0x13C
)

// MMIOWindowSize covers every register offset this device serves.
const MMIOWindowSize = 0x140

// Bank identifies one of the AM335x's GPIO banks by its MMIO base.
type Bank uint32

// Sink is the contract the syscall dispatcher's GpioRead/GpioWrite calls
// are routed through.
type Sink interface {
	Read(bank uint32, pin uint32) bool
	Write(bank uint32, pin uint32, value bool)
}

// Device is an MMIO-addressed GPIO bank: an output-enable register and
// in/out data registers, 32 pins wide.
type Device struct {
	base Bank

	mu      sync.Mutex
	oe      uint32 // 1 = input, 0 = output
	dataIn  uint32
	dataOut uint32
}

// NewDevice returns a GPIO bank device mapped at base.
func NewDevice(base Bank) *Device {
	return &Device{base: base}
}

func (d *Device) Init() error { return nil }

func (d *Device) MMIORegions() []bus.MMIORegion {
	return []bus.MMIORegion{{Address: uint64(d.base), Size: MMIOWindowSize}}
}

func (d *Device) ReadMMIO(ctx bus.ExitContext, addr uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	off := addr - uint64(d.base)
	var val uint32
	switch off {
	case regOE:
		val = d.oe
	case regDataIn:
		val = d.dataIn
	case regDataOut:
		val = d.dataOut
	default:
		return fmt.Errorf("gpio: unhandled read at offset 0x%x", off)
	}
	mmio.WriteU32(data, val)
	return nil
}

func (d *Device) WriteMMIO(ctx bus.ExitContext, addr uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	off := addr - uint64(d.base)
	val := mmio.ReadU32(data)
	switch off {
	case regOE:
		d.oe = val
	case regDataOut:
		d.dataOut = val
		d.dataIn = val // loopback: an output pin reads back what it drove
	default:
		return fmt.Errorf("gpio: unhandled write at offset 0x%x", off)
	}
	return nil
}

// Read implements Sink.Read by testing the pin's data-in bit.
func (d *Device) Read(bank uint32, pin uint32) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return mmio.TestBit(d.dataIn, uint(pin))
}

// Write implements Sink.Write by setting or clearing the pin's data-out
// bit, configuring the pin as an output first if needed.
func (d *Device) Write(bank uint32, pin uint32, value bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.oe = mmio.ClearBit(d.oe, uint(pin))
	if value {
		d.dataOut = mmio.SetBit(d.dataOut, uint(pin))
	} else {
		d.dataOut = mmio.ClearBit(d.dataOut, uint(pin))
	}
	d.dataIn = d.dataOut
}

var _ bus.MemoryMappedIODevice = (*Device)(nil)
var _ Sink = (*Device)(nil)
