package syscall

import (
	"io"
	"testing"

	"github.com/tinyrange/amkernel/internal/critical"
	"github.com/tinyrange/amkernel/internal/mmu"
	"github.com/tinyrange/amkernel/internal/peripheral/console"
	"github.com/tinyrange/amkernel/internal/peripheral/gpio"
	"github.com/tinyrange/amkernel/internal/peripheral/i2c"
	"github.com/tinyrange/amkernel/internal/physmem"
	"github.com/tinyrange/amkernel/internal/sched"
	"github.com/tinyrange/amkernel/internal/sysclock"
)

type noopOps struct{}

func (noopOps) SwitchContext(sp, pc uint32)  {}
func (noopOps) RestoreContext(sp, pc uint32) {}

type fakeGpio struct {
	reads  map[[2]uint32]bool
	writes []struct {
		bank, pin uint32
		value     bool
	}
}

func newFakeGpio() *fakeGpio { return &fakeGpio{reads: make(map[[2]uint32]bool)} }

func (g *fakeGpio) Read(bank, pin uint32) bool { return g.reads[[2]uint32{bank, pin}] }

func (g *fakeGpio) Write(bank, pin uint32, value bool) {
	g.writes = append(g.writes, struct {
		bank, pin uint32
		value     bool
	}{bank, pin, value})
	g.reads[[2]uint32{bank, pin}] = value
}

var _ gpio.Sink = (*fakeGpio)(nil)

type fakeI2c struct {
	calls int
	err   i2c.Error
}

func (f *fakeI2c) Write(section *critical.Section, address uint8, data []byte) i2c.Error {
	f.calls++
	return f.err
}

func newDispatcher(t *testing.T) (*Dispatcher, *sched.Scheduler, func(reason string) bool) {
	t.Helper()
	l2 := mmu.NewL2Table(0x8000_0000)
	tlb := mmu.NewTLB()
	mem, err := physmem.New(0x8000_0000, mmu.L2NumEntries*mmu.PageSize)
	if err != nil {
		t.Fatalf("physmem.New: %v", err)
	}
	t.Cleanup(func() { mem.Close() })

	clock := sysclock.New(nil)
	scheduler := sched.New(l2, tlb, mem, clock, noopOps{})

	var halted bool
	var haltReason string
	d := &Dispatcher{
		Scheduler: scheduler,
		Clock:     clock,
		Section:   critical.New(),
		Mem:       mem,
		Gpio:      newFakeGpio(),
		I2c:       &fakeI2c{},
		Console:   console.New(io.Discard),
		Halt:      func(reason string) { halted = true; haltReason = reason },
	}
	return d, scheduler, func(reason string) bool { return halted && haltReason == reason }
}

func TestMillisReturnsClockValue(t *testing.T) {
	d, _, _ := newDispatcher(t)
	for i := 0; i < 7; i++ {
		d.Clock.Tick()
	}
	ret := d.Dispatch(TrapFrame{R12: uint32(Millis)})
	if ret.Exit {
		t.Fatalf("Millis must not set the exit flag")
	}
	if ret.Value.Encode(Millis) != 7 {
		t.Fatalf("Millis = %d, want 7", ret.Value.Encode(Millis))
	}
}

func TestGpioWriteThenReadRoundTrips(t *testing.T) {
	d, _, _ := newDispatcher(t)
	d.Dispatch(TrapFrame{R12: uint32(GpioWrite), R0: 1, R1: 24, R2: 1})
	ret := d.Dispatch(TrapFrame{R12: uint32(GpioRead), R0: 1, R1: 24})
	if ret.Value.Encode(GpioRead) != 1 {
		t.Fatalf("GpioRead after write(1) = %d, want 1", ret.Value.Encode(GpioRead))
	}
}

func TestI2cWriteSurfacesPeripheralError(t *testing.T) {
	d, _, _ := newDispatcher(t)
	d.I2c = &fakeI2c{err: i2c.ErrNack}
	ret := d.Dispatch(TrapFrame{R12: uint32(I2cWrite), R0: 0x50, R1: 0, R2: 0})
	if ret.Exit {
		t.Fatalf("I2cWrite must not set the exit flag")
	}
	if ret.Value.Encode(I2cWrite) != uint32(i2c.ErrNack) {
		t.Fatalf("I2cWrite return = %d, want ErrNack (%d)", ret.Value.Encode(I2cWrite), i2c.ErrNack)
	}
}

func TestAllocReturnsBumpAddressThenAdvances(t *testing.T) {
	d, scheduler, _ := newDispatcher(t)
	taskID, err := scheduler.CreateTask(make([]byte, 16))
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	scheduler.Switch() // makes the task Current (Running)
	if _, ok := scheduler.Current(); !ok {
		t.Fatalf("expected task %d Running after Switch", taskID)
	}

	ret := d.Dispatch(TrapFrame{R12: uint32(Alloc), R0: 64, R1: 4})
	ptr := ret.Value.Encode(Alloc)
	if ptr == 0 {
		t.Fatalf("Alloc returned null on a fresh task")
	}
	if task, _ := scheduler.Current(); task.Allocator.Next() != ptr+64 {
		t.Fatalf("bump pointer = 0x%x after Alloc(64), want 0x%x", task.Allocator.Next(), ptr+64)
	}

	second := d.Dispatch(TrapFrame{R12: uint32(Alloc), R0: uint32(mmu.PageSize), R1: 4})
	if second.Value.Encode(Alloc) != 0 {
		t.Fatalf("Alloc(page_size) should exhaust a 4KiB data region and return null")
	}
}

func TestExitTerminatesCurrentTaskAndSetsExitFlag(t *testing.T) {
	d, scheduler, _ := newDispatcher(t)
	taskID, _ := scheduler.CreateTask(make([]byte, 16))
	scheduler.Switch()

	ret := d.Dispatch(TrapFrame{R12: uint32(Exit)})
	if !ret.Exit {
		t.Fatalf("Exit must set the exit flag")
	}
	task := scheduler.Task(taskID)
	if task.State.Kind != sched.StateTerminated {
		t.Fatalf("state after Exit = %v, want Terminated", task.State.Kind)
	}
}

func TestYieldWithDeadlineSuspendsAsWaiting(t *testing.T) {
	d, scheduler, _ := newDispatcher(t)
	taskID, _ := scheduler.CreateTask(make([]byte, 16))
	scheduler.Switch()

	until := d.Clock.Now() + 50
	ret := d.Dispatch(TrapFrame{R12: uint32(Yield), R0: 0x1000, R1: 0x2000, R2: until})
	if !ret.Exit {
		t.Fatalf("Yield must set the exit flag")
	}
	task := scheduler.Task(taskID)
	if task.State.Kind != sched.StateWaiting {
		t.Fatalf("state after Yield(until=%d) = %v, want Waiting", until, task.State.Kind)
	}
	if task.State.Until != until {
		t.Fatalf("Waiting.Until = %d, want %d", task.State.Until, until)
	}
}

func TestYieldWithoutDeadlineSuspendsAsStored(t *testing.T) {
	d, scheduler, _ := newDispatcher(t)
	taskID, _ := scheduler.CreateTask(make([]byte, 16))
	scheduler.Switch()

	d.Dispatch(TrapFrame{R12: uint32(Yield), R0: 0x1000, R1: 0x2000, R2: 0})
	task := scheduler.Task(taskID)
	if task.State.Kind != sched.StateStored {
		t.Fatalf("state after Yield(until=0) = %v, want Stored", task.State.Kind)
	}
}

func TestUnknownSyscallNumberHalts(t *testing.T) {
	d, _, wasHalted := newDispatcher(t)
	ret := d.Dispatch(TrapFrame{R12: 0xFF})
	if !ret.Exit {
		t.Fatalf("an unknown syscall must set the exit flag")
	}
	if !wasHalted("unknown syscall number") {
		t.Fatalf("expected Halt to be called with the unknown-syscall reason")
	}
}
