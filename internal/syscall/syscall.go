// Package syscall implements the kernel's SVC dispatcher: trap-frame
// decode, the nine-entry syscall table, and the typed return union the
// low-level SVC stub acts on.
//
// Entry contract (spec.md §4.7): the SVC stub saves r0-r3 and r12 into a
// TrapFrame on the current stack and calls Dispatch. If the returned
// SyscallReturn has Exit set, the stub does not restore the caller's
// context — a reschedule happens instead. Otherwise the stub places
// Value's encoded u32 in r0 and returns to the caller.
package syscall

import (
	"github.com/tinyrange/amkernel/internal/critical"
	"github.com/tinyrange/amkernel/internal/peripheral/console"
	"github.com/tinyrange/amkernel/internal/peripheral/gpio"
	"github.com/tinyrange/amkernel/internal/peripheral/i2c"
	"github.com/tinyrange/amkernel/internal/physmem"
	"github.com/tinyrange/amkernel/internal/sched"
	"github.com/tinyrange/amkernel/internal/sysclock"
)

// Number is the r12 syscall number.
type Number uint32

const (
	Exit      Number = 0
	Yield     Number = 1
	Millis    Number = 2
	GpioRead  Number = 3
	GpioWrite Number = 4
	I2cWrite  Number = 5
	Panic     Number = 6
	Alloc     Number = 7
	Dealloc   Number = 8
)

// TrapFrame is the fixed record the SVC stub hands the dispatcher: the
// four argument registers and the syscall-number register, C layout
// {r0,r1,r2,r3,r12}.
type TrapFrame struct {
	R0  uint32
	R1  uint32
	R2  uint32
	R3  uint32
	R12 uint32
}

// ReturnValue is the sum type a non-exit SyscallReturn carries: exactly
// one field is meaningful per syscall, selected by which call produced
// it.
type ReturnValue struct {
	Millis   uint32
	GpioRead bool
	I2cWrite i2c.Error
	Alloc    uint32
}

// Encode returns the u32 the SVC stub places in r0. Millis/Alloc are
// returned as-is; GpioRead is 0/1; I2cWrite is its error code.
func (v ReturnValue) Encode(n Number) uint32 {
	switch n {
	case Millis:
		return v.Millis
	case GpioRead:
		if v.GpioRead {
			return 1
		}
		return 0
	case I2cWrite:
		return uint32(v.I2cWrite)
	case Alloc:
		return v.Alloc
	default:
		return 0
	}
}

// Return is the tagged {exit-flag, typed value} record spec.md defines.
// If Exit is set the dispatcher must not return to the caller.
type Return struct {
	Exit  bool
	Value ReturnValue
}

func exitReturn() Return                { return Return{Exit: true} }
func valueReturn(v ReturnValue) Return  { return Return{Value: v} }
func noneReturn() Return                { return Return{} }

// Dispatcher decodes trap frames and acts on the scheduler and peripheral
// sinks. An unknown syscall number is kernel-fatal: Dispatch calls Halt
// and returns with the exit flag set, so the caller is never resumed,
// matching spec.md §7's "kernel fatal" category.
type Dispatcher struct {
	Scheduler *sched.Scheduler
	Clock     *sysclock.Clock
	Section   *critical.Section
	Mem       *physmem.Region
	Gpio      gpio.Sink
	I2c       i2c.Sink
	Console   *console.Device
	Halt      func(reason string)
}

// Dispatch decodes frame's syscall number and runs its action. The whole
// dispatch runs with IRQs masked, the way entry via SVC does on real
// hardware; I2cWrite is the one syscall that locally re-enables them
// around its FIFO drain (see critical.Section.Enabled).
func (d *Dispatcher) Dispatch(frame TrapFrame) Return {
	if d.Section != nil {
		t := d.Section.Enter()
		defer d.Section.Exit(t)
	}
	switch Number(frame.R12) {
	case Exit:
		return d.doExit()
	case Yield:
		return d.doYield(frame)
	case Millis:
		return valueReturn(ReturnValue{Millis: d.Clock.Now()})
	case GpioRead:
		return d.doGpioRead(frame)
	case GpioWrite:
		return d.doGpioWrite(frame)
	case I2cWrite:
		return d.doI2cWrite(frame)
	case Panic:
		return d.doPanic()
	case Alloc:
		return d.doAlloc(frame)
	case Dealloc:
		return d.doDealloc(frame)
	default:
		if d.Halt != nil {
			d.Halt("unknown syscall number")
		}
		return exitReturn()
	}
}

func (d *Dispatcher) doExit() Return {
	if task, ok := d.Scheduler.Current(); ok {
		d.Scheduler.Terminate(task)
		if d.Console != nil {
			d.Console.TaskExited(task.ID())
		}
	}
	d.Scheduler.Cycle()
	return exitReturn()
}

func (d *Dispatcher) doYield(frame TrapFrame) Return {
	task, ok := d.Scheduler.Current()
	if ok {
		sp, pc := frame.R0, frame.R1
		if frame.R2 == 0 {
			d.Scheduler.Suspend(task, sp, pc, nil)
		} else {
			until := frame.R2
			d.Scheduler.Suspend(task, sp, pc, &until)
		}
	}
	d.Scheduler.Cycle()
	return exitReturn()
}

func (d *Dispatcher) doGpioRead(frame TrapFrame) Return {
	value := d.Gpio.Read(frame.R0, frame.R1)
	return valueReturn(ReturnValue{GpioRead: value})
}

func (d *Dispatcher) doGpioWrite(frame TrapFrame) Return {
	d.Gpio.Write(frame.R0, frame.R1, frame.R2 != 0)
	return noneReturn()
}

func (d *Dispatcher) doI2cWrite(frame TrapFrame) Return {
	address := uint8(frame.R0)
	ptr, length := frame.R1, frame.R2
	var data []byte
	if d.Mem != nil && d.Mem.Contains(ptr, length) {
		data = d.Mem.Slice(ptr, length)
	}
	err := d.I2c.Write(d.Section, address, data)
	return valueReturn(ReturnValue{I2cWrite: err})
}

func (d *Dispatcher) doPanic() Return {
	if task, ok := d.Scheduler.Current(); ok {
		d.Scheduler.Terminate(task)
	}
	d.Scheduler.Cycle()
	return exitReturn()
}

func (d *Dispatcher) doAlloc(frame TrapFrame) Return {
	task, ok := d.Scheduler.Current()
	if !ok {
		return noneReturn()
	}
	ptr := task.Allocator.Alloc(frame.R0, frame.R1)
	return valueReturn(ReturnValue{Alloc: ptr})
}

func (d *Dispatcher) doDealloc(frame TrapFrame) Return {
	task, ok := d.Scheduler.Current()
	if ok {
		task.Allocator.Dealloc(frame.R0, frame.R1, frame.R2)
	}
	return noneReturn()
}
