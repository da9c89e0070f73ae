// Copyright 2026 The Parley Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"sort"
	"sync"
	"time"
)

// Fake returns a FakeClock pinned to the given time. The clock only
// moves when Advance is called.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{current: initial}
	clock.changed = sync.NewCond(&clock.mu)
	return clock
}

// FakeClock is a deterministic Clock for tests. Pending timers,
// delay channels, and tickers fire when Advance moves the clock past
// their deadline, in deadline order. AfterFunc callbacks run
// synchronously inside Advance; they must not call Advance themselves.
//
// Safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	pending []*fakeTimer
	changed *sync.Cond
}

// fakeTimer is a pending After, AfterFunc, or ticker registration.
type fakeTimer struct {
	deadline time.Time
	ch       chan time.Time // nil for AfterFunc registrations
	fn       func()         // nil for channel registrations
	interval time.Duration  // non-zero only for tickers
	stopped  bool
	fired    bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After registers a channel that fires when the clock advances past
// now+d. If d <= 0 the channel fires immediately.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	if d <= 0 {
		ch <- c.current
		return ch
	}
	c.pending = append(c.pending, &fakeTimer{deadline: c.current.Add(d), ch: ch})
	c.changed.Broadcast()
	return ch
}

// BlockUntil waits until at least n timer registrations are pending.
// Tests use it to let a goroutine under test reach its timer before
// calling Advance; without the rendezvous, an Advance racing the
// registration would strand the timer past the advanced window.
func (c *FakeClock) BlockUntil(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.livePendingLocked() < n {
		c.changed.Wait()
	}
}

// livePendingLocked counts registrations that can still fire.
func (c *FakeClock) livePendingLocked() int {
	live := 0
	for _, timer := range c.pending {
		if !timer.stopped && !timer.fired {
			live++
		}
	}
	return live
}

// AfterFunc registers f to run when the clock advances past now+d.
// If d <= 0, f runs synchronously before AfterFunc returns.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) *Timer {
	c.mu.Lock()
	if d <= 0 {
		c.mu.Unlock()
		f()
		return &Timer{stop: func() bool { return false }}
	}

	timer := &fakeTimer{deadline: c.current.Add(d), fn: f}
	c.pending = append(c.pending, timer)
	c.changed.Broadcast()
	c.mu.Unlock()

	return &Timer{stop: func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if timer.fired || timer.stopped {
			return false
		}
		timer.stopped = true
		return true
	}}
}

// NewTicker registers a ticker that fires every d as the clock
// advances. Panics if d <= 0, matching time.NewTicker.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive ticker interval")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ch := make(chan time.Time, 1)
	ticker := &fakeTimer{deadline: c.current.Add(d), ch: ch, interval: d}
	c.pending = append(c.pending, ticker)
	c.changed.Broadcast()

	return &Ticker{C: ch, stop: func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		ticker.stopped = true
	}}
}

// Advance moves the clock forward by d, firing every registration
// whose deadline falls within the window, in deadline order. Tickers
// re-arm and may fire multiple times within one Advance.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.current.Add(d)

	for {
		timer := c.nextDueLocked(target)
		if timer == nil {
			break
		}

		// Move time to the fire point so callbacks observing Now see
		// the deadline, not the final target.
		c.current = timer.deadline

		switch {
		case timer.interval > 0:
			select {
			case timer.ch <- timer.deadline:
			default: // consumer behind, drop the tick
			}
			timer.deadline = timer.deadline.Add(timer.interval)
		case timer.ch != nil:
			timer.fired = true
			timer.ch <- timer.deadline
		default:
			timer.fired = true
			// Run the callback without the lock so it can use the
			// clock (arming new timers, stopping others, reading Now).
			fn := timer.fn
			c.mu.Unlock()
			fn()
			c.mu.Lock()
		}
	}

	c.current = target
	c.compactLocked()
	c.mu.Unlock()
}

// nextDueLocked returns the earliest live registration with a deadline
// at or before target, or nil when none remain.
func (c *FakeClock) nextDueLocked(target time.Time) *fakeTimer {
	live := c.pending[:0]
	for _, timer := range c.pending {
		if !timer.stopped && !timer.fired {
			live = append(live, timer)
		}
	}
	c.pending = live

	sort.SliceStable(c.pending, func(i, j int) bool {
		return c.pending[i].deadline.Before(c.pending[j].deadline)
	})

	if len(c.pending) == 0 || c.pending[0].deadline.After(target) {
		return nil
	}
	return c.pending[0]
}

// compactLocked drops fired and stopped registrations.
func (c *FakeClock) compactLocked() {
	live := c.pending[:0]
	for _, timer := range c.pending {
		if !timer.stopped && !timer.fired {
			live = append(live, timer)
		}
	}
	c.pending = live
}
