package intc

import "testing"

func TestNewStartsFullyMasked(t *testing.T) {
	d := New()
	d.SetIRQ(uint8(I2C2INT), true)
	if _, ok := d.Current(); ok {
		t.Fatalf("a masked line should never surface as current")
	}
}

func TestEnableUnmasksAndSetIRQSurfacesCurrent(t *testing.T) {
	d := New()
	d.Enable(I2C2INT, ModeIRQ, 0)
	d.SetIRQ(uint8(I2C2INT), true)
	irq, ok := d.Current()
	if !ok || irq != I2C2INT {
		t.Fatalf("Current() = (%v, %v), want (I2C2INT, true)", irq, ok)
	}
}

func TestEnableUnknownLineIsNoOp(t *testing.T) {
	d := New()
	d.Enable(Interrupt(200), ModeIRQ, 0)
	d.SetIRQ(200, true)
	if _, ok := d.Current(); ok {
		t.Fatalf("an unknown interrupt line should never surface")
	}
}

func TestCurrentPicksLowestPendingLine(t *testing.T) {
	d := New()
	d.Enable(TINT5, ModeIRQ, 0)
	d.Enable(I2C2INT, ModeIRQ, 0)
	d.SetIRQ(uint8(TINT5), true)
	d.SetIRQ(uint8(I2C2INT), true)
	irq, ok := d.Current()
	if !ok || irq != I2C2INT {
		t.Fatalf("Current() = (%v, %v), want (I2C2INT, true) as the lowest pending line", irq, ok)
	}
}

func TestDispatchInvokesHandlerAndAcksControl(t *testing.T) {
	d := New()
	d.Enable(TINT2, ModeIRQ, 0)
	var called bool
	d.RegisterHandler(TINT2, func() { called = true })
	d.SetIRQ(uint8(TINT2), true)

	d.Dispatch()
	if !called {
		t.Fatalf("expected the registered handler to be invoked")
	}
	if d.control&0x1 == 0 {
		t.Fatalf("expected Dispatch to set the new-IRQ acknowledgment bit in CONTROL")
	}
}

func TestDispatchWithNoPendingIsANoOp(t *testing.T) {
	d := New()
	d.Dispatch() // must not panic
}

func TestSetIRQLevelFalseClearsLine(t *testing.T) {
	d := New()
	d.Enable(TINT2, ModeIRQ, 0)
	d.SetIRQ(uint8(TINT2), true)
	d.SetIRQ(uint8(TINT2), false)
	if _, ok := d.Current(); ok {
		t.Fatalf("clearing the only pending line should leave nothing current")
	}
}
