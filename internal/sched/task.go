// Package sched implements the kernel's fixed task table and round-robin
// scheduler: task lifecycle, selection, and the context-switch handoff
// into a freshly created or previously suspended task.
package sched

import (
	"github.com/tinyrange/amkernel/internal/bumpalloc"
	"github.com/tinyrange/amkernel/internal/mmu"
)

// MaxTasks is the fixed task table size.
const MaxTasks = 4

// StackGuard is the number of bytes reserved at the end of a task's data
// page so its bump allocator's region cannot collide with the stack that
// grows down from the page's end.
const StackGuard = 1024

// Two-page task layout: code at virtual page 0, data (stack +
// bump-allocator region) at virtual page 1. Both pages are mapped with
// full-access permissions (mmu.Allocate's default); the code page is not
// write-protected. See SPEC_FULL.md's Open Question decision — the
// one-page variant is not implemented.
const (
	CodePageLocation = 0x0
	DataPageLocation = 0x1000
)

// StateKind is the task lifecycle's tag.
type StateKind int

const (
	StateReady StateKind = iota
	StateRunning
	StateStored
	StateWaiting
	StateTerminated
)

func (k StateKind) String() string {
	switch k {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateStored:
		return "stored"
	case StateWaiting:
		return "waiting"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// State is the tagged task-state variant. Until is only meaningful when
// Kind == StateWaiting.
type State struct {
	Kind  StateKind
	Until uint32
}

// Context is a task's saved execution context: stack pointer and program
// counter words.
type Context struct {
	SP uint32
	PC uint32
}

// Task is one slot in the fixed task table.
type Task struct {
	id int

	State     State
	Context   Context
	CodePage  *mmu.Handle
	DataPage  *mmu.Handle
	Allocator *bumpalloc.Heap
}

// ID returns the task's dense index in [0, MaxTasks).
func (t *Task) ID() int { return t.id }

func newTask(id int) *Task {
	return &Task{
		id:        id,
		State:     State{Kind: StateTerminated},
		Allocator: bumpalloc.New(),
	}
}

// executable evaluates the task's lifecycle-state rule from spec.md's
// next_task selection: Ready and Stored are always executable; a task
// Waiting{until} becomes executable once now has reached until, at which
// point it is promoted to Stored as a side effect of the check; Running
// and Terminated are never executable.
func (t *Task) executable(expired func(until uint32) bool) bool {
	switch t.State.Kind {
	case StateReady, StateStored:
		return true
	case StateWaiting:
		if expired(t.State.Until) {
			t.State = State{Kind: StateStored}
			return true
		}
		return false
	default:
		return false
	}
}

// terminate transitions the task to Terminated and releases its page
// handles, per spec.md's Exit/Panic/fault handling.
func (t *Task) terminate() {
	t.State = State{Kind: StateTerminated}
	if t.DataPage != nil {
		t.DataPage.Unregister()
	}
	if t.CodePage != nil {
		t.CodePage.Unregister()
	}
}
