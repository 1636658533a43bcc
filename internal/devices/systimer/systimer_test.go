package systimer

import (
	"testing"
	"time"

	"github.com/tinyrange/amkernel/internal/chipset"
	"github.com/tinyrange/amkernel/internal/devices/intc"
)

func TestAdvanceLockedOverflowsAndReloadsAutoReload(t *testing.T) {
	d := NewDevice(Timer2)
	d.load = 0xFFFF_FFFE
	d.counter = 0xFFFF_FFFE
	d.control = 0x3 // start | auto-reload
	d.running = true
	d.irqEnabled = 0x2
	d.lastUpdate = time.Now().Add(-5 * time.Millisecond)

	overflowed := d.advanceForPoll()
	if !overflowed {
		t.Fatalf("expected the counter to overflow after 5ms with a 2-count period")
	}
	if d.counter != d.load {
		t.Fatalf("counter = 0x%x, want reload value 0x%x after auto-reload overflow", d.counter, d.load)
	}
	if d.irqStatus&0x2 == 0 {
		t.Fatalf("expected the overflow bit set in IRQSTATUS")
	}
}

func TestAcknowledgeOverflowClearsStatus(t *testing.T) {
	d := NewDevice(Timer2)
	d.irqStatus = 0x2
	d.AcknowledgeOverflow()
	if d.irqStatus != 0 {
		t.Fatalf("IRQSTATUS = 0x%x after acknowledge, want 0", d.irqStatus)
	}
}

func TestReadWriteMMIORoundTrip(t *testing.T) {
	d := NewDevice(Timer2)
	buf := make([]byte, 4)
	for _, v := range []uint32{0x1234} {
		buf[0], buf[1], buf[2], buf[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	}
	if err := d.WriteMMIO(nil, d.id.Base()+regLoad, buf); err != nil {
		t.Fatalf("WriteMMIO(regLoad): %v", err)
	}
	out := make([]byte, 4)
	if err := d.ReadMMIO(nil, d.id.Base()+regLoad, out); err != nil {
		t.Fatalf("ReadMMIO(regLoad): %v", err)
	}
	for i := range buf {
		if buf[i] != out[i] {
			t.Fatalf("ReadMMIO did not round-trip the value written by WriteMMIO")
		}
	}
}

func TestControllerRegisterEnablesLine(t *testing.T) {
	intcDev := intc.New()
	lines := chipset.NewLineSet(intcDev)
	ctrl := NewController(intcDev, lines)

	var fired int
	ctrl.Register(Timer2, 0xFFFF_FFE0, func() { fired++ })

	dev := ctrl.devices[Timer2]
	dev.lastUpdate = time.Now().Add(-100 * time.Millisecond)

	ctrl.Poll()
	intcDev.Dispatch()

	if fired == 0 {
		t.Fatalf("expected the registered handler to fire at least once after Poll+Dispatch")
	}
}
