// Package console renders task lifecycle and fault events to an
// interactive terminal, styled per task id so a developer watching a
// multi-task boot can tell streams apart. It is the diagnostic surface
// SPEC_FULL.md layers on top of the clean fault-handling behavior
// spec.md requires (terminate + unregister + cycle) — the original
// firmware's GPIO-toggle-and-loop fault handlers become a styled log
// line here instead of a hang.
package console

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/x/ansi"
)

// taskColors cycles a distinct ANSI SGR foreground code per task id (mod
// MaxTasks is the caller's concern; this package just indexes modulo its
// palette). 31-36 are the standard red..cyan foreground codes.
var taskColors = []int{32, 33, 34, 35, 36, 31}

// Device renders styled lines to out. It is safe for concurrent use.
type Device struct {
	mu  sync.Mutex
	out io.Writer
}

// New returns a console device writing to out.
func New(out io.Writer) *Device {
	return &Device{out: out}
}

func (d *Device) colorFor(taskID int) int {
	return taskColors[taskID%len(taskColors)]
}

func (d *Device) writeStyled(taskID int, format string, args ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	msg := fmt.Sprintf(format, args...)
	fmt.Fprintf(d.out, "%s[task %d] %s%s\n", ansi.SGR(d.colorFor(taskID)), taskID, msg, ansi.SGR(0))
}

// TaskStarted logs that a task began executing for the first time.
func (d *Device) TaskStarted(taskID int) {
	d.writeStyled(taskID, "started")
}

// TaskResumed logs a resumed (previously Stored or Waiting) task.
func (d *Device) TaskResumed(taskID int) {
	d.writeStyled(taskID, "resumed")
}

// TaskExited logs a clean Exit.
func (d *Device) TaskExited(taskID int) {
	d.writeStyled(taskID, "exited")
}

// FaultKind names the three user-fault exceptions spec.md §7 routes to
// the clean terminate-and-cycle path.
type FaultKind int

const (
	FaultDataAbort FaultKind = iota
	FaultPrefetchAbort
	FaultUndefinedInstruction
)

func (k FaultKind) String() string {
	switch k {
	case FaultDataAbort:
		return "data abort"
	case FaultPrefetchAbort:
		return "prefetch abort"
	case FaultUndefinedInstruction:
		return "undefined instruction"
	default:
		return "unknown fault"
	}
}

// TaskFaulted logs which fault kind terminated a task, the diagnostic
// side effect SPEC_FULL.md adds alongside the required clean teardown.
func (d *Device) TaskFaulted(taskID int, kind FaultKind) {
	d.writeStyled(taskID, "faulted: %s", kind)
}

// GpioToggled logs a GpioWrite syscall's effect, rendering task-originated
// output the way the teacher's console bridges guest terminal output.
func (d *Device) GpioToggled(taskID int, bank, pin uint32, value bool) {
	d.writeStyled(taskID, "gpio %d.%d = %v", bank, pin, value)
}
