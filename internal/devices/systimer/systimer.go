// Package systimer implements the AM335x DMTimer peripheral family
// (timers 2-7) and the registration sequence the system clock uses to
// turn timer-2 into the kernel's millisecond tick source.
//
// Each DmTimer lives at a separate 0x2000-spaced MMIO base, counts up
// from its load value, and signals overflow through the AINTC line the
// hardware wires it to (see internal/devices/intc). Auto-reload mode
// reloads the counter from TIMER_LOAD immediately on overflow, the way
// the hardware's CTRL.AR bit behaves.
package systimer

import (
	"fmt"
	"sync"
	"time"

	"github.com/tinyrange/amkernel/internal/bus"
	"github.com/tinyrange/amkernel/internal/chipset"
	"github.com/tinyrange/amkernel/internal/devices/intc"
	"github.com/tinyrange/amkernel/internal/mmio"
)

// DmTimer names one of the AM335x's six general-purpose timers.
type DmTimer int

const (
	Timer2 DmTimer = iota
	Timer3
	Timer4
	Timer5
	Timer6
	Timer7
)

// Base returns the timer's MMIO base address.
func (t DmTimer) Base() uint64 {
	return 0x4804_0000 + uint64(t)*0x2000
}

// Interrupt returns the AINTC line this timer is wired to.
func (t DmTimer) Interrupt() intc.Interrupt {
	switch t {
	case Timer2:
		return intc.TINT2
	case Timer3:
		return intc.TINT3
	case Timer4:
		return intc.TINT4
	case Timer5:
		return intc.TINT5
	case Timer6:
		return intc.TINT6
	case Timer7:
		return intc.TINT7
	default:
		return 0
	}
}

// MMIOWindowSize covers every register offset this device serves.
const MMIOWindowSize = 0x48

const (
	regIRQStatus = 0x28
	regIRQEnaSet = 0x2C
	regControl   = 0x38
	regCounter   = 0x3C
	regLoad      = 0x40
)

// Device is one DMTimer instance's MMIO-addressed register file plus the
// wall-clock-driven counter that advances it.
type Device struct {
	id DmTimer

	mu         sync.Mutex
	load       uint32
	counter    uint32
	control    uint32
	irqEnabled uint32
	irqStatus  uint32
	lastUpdate time.Time
	running    bool
}

// NewDevice returns an un-started timer device for id.
func NewDevice(id DmTimer) *Device {
	return &Device{id: id, lastUpdate: time.Now()}
}

func (d *Device) Init() error { return nil }

func (d *Device) MMIORegions() []bus.MMIORegion {
	return []bus.MMIORegion{{Address: d.id.Base(), Size: MMIOWindowSize}}
}

func (d *Device) ReadMMIO(ctx bus.ExitContext, addr uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.advanceLocked()

	off := addr - d.id.Base()
	var val uint32
	switch off {
	case regIRQStatus:
		val = d.irqStatus
	case regIRQEnaSet:
		val = d.irqEnabled
	case regControl:
		val = d.control
	case regCounter:
		val = d.counter
	case regLoad:
		val = d.load
	default:
		return fmt.Errorf("systimer: unhandled read at offset 0x%x", off)
	}
	mmio.WriteU32(data, val)
	return nil
}

func (d *Device) WriteMMIO(ctx bus.ExitContext, addr uint64, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	off := addr - d.id.Base()
	val := mmio.ReadU32(data)
	switch off {
	case regIRQStatus:
		d.irqStatus &^= val
	case regIRQEnaSet:
		d.irqEnabled |= val
	case regControl:
		d.advanceLocked()
		d.control = val & 0x3
		d.running = d.control&0x1 != 0
		if d.running {
			d.lastUpdate = time.Now()
		}
	case regCounter:
		d.counter = val
		d.lastUpdate = time.Now()
	case regLoad:
		d.load = val
	default:
		return fmt.Errorf("systimer: unhandled write at offset 0x%x", off)
	}
	return nil
}

// advanceLocked advances the counter by wall-clock elapsed time, treating
// the reload value's distance to 2^32 as one tick's worth of elapsed time
// (the hardware contract fixes timer-2's reload so that distance is ~1ms).
func (d *Device) advanceLocked() (overflowed bool) {
	if !d.running {
		return false
	}
	now := time.Now()
	elapsed := now.Sub(d.lastUpdate)
	d.lastUpdate = now
	if elapsed <= 0 {
		return false
	}

	// Each millisecond of wall-clock time advances the counter by one
	// tick's worth of counts (2^32 - load), so a timer running from its
	// load value overflows once per millisecond.
	deltaMs := uint64(elapsed.Milliseconds())
	if deltaMs == 0 {
		return false
	}

	step := uint64(1)<<32 - uint64(d.load)
	for i := uint64(0); i < deltaMs; i++ {
		next := uint64(d.counter) + step
		if next > 0xFFFF_FFFF {
			if d.control&0x2 != 0 { // auto-reload
				d.counter = d.load
			} else {
				d.counter = 0
				d.running = false
			}
			if d.irqEnabled&0x2 != 0 {
				d.irqStatus |= 0x2
			}
			overflowed = true
		} else {
			d.counter = uint32(next)
		}
	}
	return overflowed
}

// advanceForPoll is invoked once per kernel idle spin by Controller.Poll.
// It advances the counter and reports whether it overflowed, so the
// caller can pulse the AINTC line this timer is wired to.
func (d *Device) advanceForPoll() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.advanceLocked()
}

// AcknowledgeOverflow clears the overflow bit in IRQSTATUS, as the
// dispatched IRQ handler does before invoking the user handler.
func (d *Device) AcknowledgeOverflow() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.irqStatus &^= 0x2
}

var _ bus.MemoryMappedIODevice = (*Device)(nil)

// Controller wires DmTimer devices into the interrupt controller the way
// the hardware registration sequence describes: enable the functional
// clock (modeled as a no-op — clock gating is out of scope), program load
// and counter, unmask the overflow interrupt, register the IRQ at
// priority 0, and start the timer in auto-reload mode.
type Controller struct {
	intc    *intc.Device
	lines   *chipset.LineSet
	devices map[DmTimer]*Device
}

// NewController returns a Controller driving interrupts through intcDev,
// raising overflow IRQs through lines so the chipset's line-tracking and
// EOI-broadcast machinery sees every timer tick.
func NewController(intcDev *intc.Device, lines *chipset.LineSet) *Controller {
	return &Controller{intc: intcDev, lines: lines, devices: make(map[DmTimer]*Device)}
}

// Register installs reload on id, wires its overflow interrupt to handler,
// and starts it in auto-reload mode. Calling Register twice for the same
// id replaces the handler and restarts the timer.
func (c *Controller) Register(id DmTimer, reload uint32, handler func()) *Device {
	dev := NewDevice(id)
	c.devices[id] = dev

	dev.mu.Lock()
	dev.load = reload
	dev.counter = reload
	dev.irqEnabled = 0x2
	dev.mu.Unlock()

	c.intc.RegisterHandler(id.Interrupt(), func() {
		dev.AcknowledgeOverflow()
		c.lines.AllocateLine(uint8(id.Interrupt())).SetLevel(false)
		handler()
		c.lines.BroadcastEOI(uint8(id.Interrupt()))
	})
	c.intc.Enable(id.Interrupt(), intc.ModeIRQ, 0)

	dev.mu.Lock()
	dev.control = 0x3 // start | auto-reload
	dev.running = true
	dev.lastUpdate = time.Now()
	dev.mu.Unlock()

	return dev
}

// Poll advances every registered timer, letting overflow interrupts
// surface through the AINTC via the chipset line set. An overflow raises
// the timer's line; the line stays pending until the timer's IRQ handler
// acknowledges the overflow.
func (c *Controller) Poll() {
	for id, dev := range c.devices {
		line := c.lines.AllocateLine(uint8(id.Interrupt()))
		if dev.advanceForPoll() {
			line.SetLevel(true)
		}
	}
}

// BroadcastEOI lets a handler signal completion of a timer's IRQ back
// through the chipset line set's EOI callbacks, if any are registered.
func (c *Controller) BroadcastEOI(id DmTimer) {
	c.lines.BroadcastEOI(uint8(id.Interrupt()))
}
