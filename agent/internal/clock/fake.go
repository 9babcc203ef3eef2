package clock

import (
	"sync"
	"time"
)

// FakeClock is a manually advanced Clock. It is safe for concurrent use.
//
// Callbacks run without the clock's lock held, so they may call Now,
// AfterFunc, or Stop. They must not call Advance.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeTimer
}

type fakeTimer struct {
	deadline time.Time
	f        func()
	done     bool // fired or stopped
}

// Fake returns a FakeClock whose time starts at start and only moves when
// Advance is called.
func Fake(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers f to run once the clock has advanced by d. A
// non-positive d still waits for the next Advance call.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	ft := &fakeTimer{deadline: c.now.Add(d), f: f}
	c.pending = append(c.pending, ft)
	return &Timer{stop: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if ft.done {
			return false
		}
		ft.done = true
		return true
	}}
}

// Advance moves the clock forward by d, stepping through each due deadline
// in order. While a callback runs, Now reports that callback's deadline, so
// timers registered from a callback are relative to it and fire in the same
// call if they fall within d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		ft := c.popNext(target)
		if ft == nil {
			break
		}
		ft.f()
	}

	c.mu.Lock()
	if target.After(c.now) {
		c.now = target
	}
	c.mu.Unlock()
}

// popNext removes the live timer with the earliest deadline at or before
// target, moves the clock to that deadline and returns it. Timers sharing a
// deadline come out in registration order. Stopped timers are dropped.
func (c *FakeClock) popNext(target time.Time) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	live := c.pending[:0]
	next := -1
	for _, ft := range c.pending {
		if ft.done {
			continue
		}
		if !ft.deadline.After(target) && (next < 0 || ft.deadline.Before(live[next].deadline)) {
			next = len(live)
		}
		live = append(live, ft)
	}
	c.pending = live
	if next < 0 {
		return nil
	}

	ft := c.pending[next]
	c.pending = append(c.pending[:next], c.pending[next+1:]...)
	ft.done = true
	if ft.deadline.After(c.now) {
		c.now = ft.deadline
	}
	return ft
}

// PendingCount returns the number of timers that have neither fired nor
// been stopped.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, ft := range c.pending {
		if !ft.done {
			n++
		}
	}
	return n
}
