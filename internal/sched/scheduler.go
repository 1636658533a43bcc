package sched

import (
	"fmt"
	"sync"

	"github.com/tinyrange/amkernel/internal/mmu"
	"github.com/tinyrange/amkernel/internal/physmem"
	"github.com/tinyrange/amkernel/internal/sysclock"
)

// ContextOps is the low-level, assembly-implemented pair of one-way
// primitives the scheduler hands off to: switch_context jumps to a freshly
// created task's entry point on a fresh stack, restore_context pops a
// previously saved frame and resumes it. Both are out of this repository's
// scope (spec.md treats the boot assembly and context-switch stubs as
// external collaborators) — ContextOps is the seam a real bring-up would
// satisfy with an assembly stub, and tests satisfy with a recording fake.
type ContextOps interface {
	SwitchContext(sp, pc uint32)
	RestoreContext(sp, pc uint32)
}

// Scheduler owns the fixed task table and the process-wide L1/L2 state a
// dispatch touches: the L2 table pages are drawn from, the TLB a register
// call updates, and the physical region program images are copied into.
type Scheduler struct {
	mu sync.Mutex

	tasks        [MaxTasks]*Task
	currentIndex int // -1 means "none"

	l2    *mmu.L2Table
	tlb   *mmu.TLB
	mem   *physmem.Region
	clock *sysclock.Clock
	ops   ContextOps

	// OnDispatch, if set, is notified every time Switch hands off to a
	// task — resumed is false for a task's first-ever dispatch (it was
	// Ready) and true for a task resuming from Stored. Used by the boot
	// orchestrator to mirror task lifecycle onto the console device.
	OnDispatch func(taskID int, resumed bool)

	// Halt, if set, is called in place of a context-switch hand-off when
	// a page handle fails to register — a backing-region sync failure is
	// kernel-fatal per spec.md §7, not a per-task error.
	Halt func(reason string)
}

// New returns an initialized Scheduler with every task slot Terminated.
func New(l2 *mmu.L2Table, tlb *mmu.TLB, mem *physmem.Region, clock *sysclock.Clock, ops ContextOps) *Scheduler {
	s := &Scheduler{
		currentIndex: -1,
		l2:           l2,
		tlb:          tlb,
		mem:          mem,
		clock:        clock,
		ops:          ops,
	}
	for i := range s.tasks {
		s.tasks[i] = newTask(i)
	}
	return s
}

// CurrentIndex returns the scheduler's current_index, and whether it is
// set. Per spec.md it may point to a task that is no longer Running.
func (s *Scheduler) CurrentIndex() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentIndex < 0 {
		return 0, false
	}
	return s.currentIndex, true
}

// Current returns the task at current_index if, and only if, its state is
// Running — callers that want "the actual active task" use this rather
// than CurrentIndex.
func (s *Scheduler) Current() (*Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentLocked()
}

func (s *Scheduler) currentLocked() (*Task, bool) {
	if s.currentIndex < 0 {
		return nil, false
	}
	t := s.tasks[s.currentIndex]
	if t.State.Kind != StateRunning {
		return nil, false
	}
	return t, true
}

// Cycle advances current_index by one slot, mod MaxTasks, the advisory
// step the syscall dispatcher performs after exit/yield/panic so the next
// selection does not immediately re-pick the departed task.
func (s *Scheduler) Cycle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.currentIndex >= 0 {
		s.currentIndex = (s.currentIndex + 1) % MaxTasks
	}
}

// taskWithStateLocked scans circularly from current_index (or 0) for the
// first task in the given state.
func (s *Scheduler) taskWithStateLocked(kind StateKind) *Task {
	start := s.currentIndex
	if start < 0 {
		start = 0
	}
	idx := start
	for {
		t := s.tasks[idx]
		if t.State.Kind == kind {
			return t
		}
		idx = (idx + 1) % MaxTasks
		if idx == start {
			return nil
		}
	}
}

// nextTaskLocked implements spec.md's next_task selection: circular scan
// from current_index (or 0), returning the first executable task. A
// Waiting task whose deadline has passed is promoted to Stored as a side
// effect of the scan.
func (s *Scheduler) nextTaskLocked() *Task {
	start := s.currentIndex
	if start < 0 {
		start = 0
	}
	idx := start
	for {
		t := s.tasks[idx]
		if t.executable(s.clock.Expired) {
			return t
		}
		idx = (idx + 1) % MaxTasks
		if idx == start {
			return nil
		}
	}
}

// CreateTask finds a Terminated slot, allocates its code and data pages,
// copies code into the code page, and sets it Ready. It returns the new
// task's id, or an error if no slot or no page is free.
func (s *Scheduler) CreateTask(code []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task := s.taskWithStateLocked(StateTerminated)
	if task == nil {
		return 0, fmt.Errorf("sched: no free task slot")
	}

	asid := uint32(task.id)
	codePage, err := mmu.Allocate(s.l2, s.tlb, CodePageLocation, &asid)
	if err != nil {
		return 0, fmt.Errorf("sched: allocate code page for task %d: %w", task.id, err)
	}
	dataPage, err := mmu.Allocate(s.l2, s.tlb, DataPageLocation, &asid)
	if err != nil {
		return 0, fmt.Errorf("sched: allocate data page for task %d: %w", task.id, err)
	}
	codePage.BindRegion(s.mem)
	dataPage.BindRegion(s.mem)

	if err := codePage.CopyIn(s.mem, code); err != nil {
		return 0, fmt.Errorf("sched: load program image for task %d: %w", task.id, err)
	}

	task.CodePage = codePage
	task.DataPage = dataPage
	task.State = State{Kind: StateReady}
	task.Context.SP = dataPage.End()
	task.Context.PC = codePage.Start()
	if err := task.Allocator.Init(dataPage.Start(), dataPage.End()-StackGuard); err != nil {
		return 0, fmt.Errorf("sched: init allocator for task %d: %w", task.id, err)
	}

	return task.id, nil
}

// Switch picks the next executable task via next_task and hands off to
// it. If none is executable it returns immediately — the kernel loop's
// idle case is a busy spin, realized here as Switch simply doing nothing
// this iteration.
func (s *Scheduler) Switch() {
	s.mu.Lock()

	next := s.nextTaskLocked()
	if next == nil {
		s.mu.Unlock()
		return
	}

	s.currentIndex = next.id
	priorState := next.State.Kind
	next.State = State{Kind: StateRunning}

	codeErr := next.CodePage.Register()
	dataErr := next.DataPage.Register()

	sp, pc := next.Context.SP, next.Context.PC
	id := next.id
	s.mu.Unlock()

	if codeErr != nil || dataErr != nil {
		if s.Halt != nil {
			s.Halt(fmt.Sprintf("sched: register page handles for task %d: %v", id, firstErr(codeErr, dataErr)))
		}
		return
	}

	if s.OnDispatch != nil {
		s.OnDispatch(id, priorState == StateStored)
	}

	switch priorState {
	case StateReady:
		s.ops.SwitchContext(sp, pc)
	case StateStored:
		s.ops.RestoreContext(sp, pc)
	}
}

// Terminate marks task Terminated and releases its pages — the shared
// tail of the Exit, Panic, and fault-handling paths.
func (s *Scheduler) Terminate(task *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task.terminate()
}

// Suspend saves sp/pc into task's context and transitions it to Stored
// (until == nil) or Waiting{until} — the Yield syscall's effect.
func (s *Scheduler) Suspend(task *Task, sp, pc uint32, until *uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task.Context.SP = sp
	task.Context.PC = pc
	if until == nil {
		task.State = State{Kind: StateStored}
	} else {
		task.State = State{Kind: StateWaiting, Until: *until}
	}
}

func firstErr(a, b error) error {
	if a != nil {
		return a
	}
	return b
}

// Task returns the task at index for inspection (tests, diagnostics).
func (s *Scheduler) Task(index int) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[index]
}
