// Package sysclock is the kernel's monotonic millisecond clock: a single
// tick counter advanced by the system timer's tick handler, with a
// preemption hook fired every ten ticks.
package sysclock

import "sync/atomic"

// Clock holds the millisecond tick counter. The zero value is ready to
// use, starting at tick 0.
type Clock struct {
	ticks    atomic.Uint32
	yieldFn  func()
}

// New returns a Clock whose preemption hook invokes yieldFn every ten
// ticks. yieldFn is expected to yield the currently running task with no
// wait deadline, the kernel's sole source of preemption.
func New(yieldFn func()) *Clock {
	return &Clock{yieldFn: yieldFn}
}

// Tick is the handler registered with the system timer on the designated
// tick timer. It increments the counter and, every tenth tick, invokes
// the preemption hook.
func (c *Clock) Tick() {
	n := c.ticks.Add(1)
	if n%10 == 0 && c.yieldFn != nil {
		c.yieldFn()
	}
}

// Now returns the current millisecond count.
func (c *Clock) Now() uint32 {
	return c.ticks.Load()
}

// Expired reports whether a Waiting{until} deadline has passed, using a
// wrap-safe comparison: it treats until and the reading of Now() as
// points on a 32-bit modular ring (the unsigned difference interpreted as
// signed), so the comparison remains correct across the counter's ~49-day
// wraparound as long as a deadline lies less than 2^31 ticks from Now().
//
// A deadline at or before Now() is expired. A Yield deadline computed from
// a Now() reading taken before a preemption can therefore already be in
// the past when the Yield arrives; the task is then executable again
// immediately.
func (c *Clock) Expired(until uint32) bool {
	return int32(c.Now()-until) >= 0
}
