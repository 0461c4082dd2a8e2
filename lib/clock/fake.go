// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sync"
	"time"
)

// Fake returns a FakeClock frozen at initial. Time moves only when
// Advance is called.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{current: initial}
	clock.changed = sync.NewCond(&clock.mu)
	return clock
}

// FakeClock is a deterministic Clock for tests. It is safe for
// concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	waiters []*waiter
	changed *sync.Cond
}

// waiter is a pending After, Timer, or Ticker registration.
type waiter struct {
	deadline time.Time
	channel  chan time.Time
	// interval is non-zero for tickers, which are rescheduled after
	// each fire instead of being dropped.
	interval time.Duration
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After returns a channel that receives once the clock has advanced
// by d.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	return c.NewTimer(d).C
}

// NewTimer registers a one-shot waiter. A non-positive d fires
// immediately without registering.
func (c *FakeClock) NewTimer(d time.Duration) *Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return &Timer{C: channel, stop: func() bool { return false }}
	}

	registered := &waiter{deadline: c.current.Add(d), channel: channel}
	c.addLocked(registered)
	return &Timer{C: channel, stop: func() bool { return c.remove(registered) }}
}

// NewTicker registers a periodic waiter. Panics if d <= 0.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	registered := &waiter{deadline: c.current.Add(d), channel: channel, interval: d}
	c.addLocked(registered)

	return &Ticker{
		C:    channel,
		stop: func() { c.remove(registered) },
	}
}

// Advance moves the clock forward by d and fires every waiter whose
// deadline is reached, in deadline order. A ticker spanning several
// intervals fires once per interval; ticks that do not fit in the
// channel buffer are dropped.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.current = c.current.Add(d)
	target := c.current
	c.mu.Unlock()

	for {
		due := c.collectDue(target)
		if len(due) == 0 {
			return
		}
		for _, fired := range due {
			select {
			case fired.channel <- target:
			default:
			}
		}
	}
}

// collectDue removes due one-shot waiters, reschedules due tickers, and
// returns the channels that should fire, earliest deadline first.
func (c *FakeClock) collectDue(target time.Time) []*waiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	type dueWaiter struct {
		deadline time.Time
		waiter   *waiter
	}
	var due []dueWaiter
	remaining := c.waiters[:0]
	for _, pending := range c.waiters {
		if pending.deadline.After(target) {
			remaining = append(remaining, pending)
			continue
		}
		due = append(due, dueWaiter{deadline: pending.deadline, waiter: pending})
		if pending.interval > 0 {
			pending.deadline = pending.deadline.Add(pending.interval)
			remaining = append(remaining, pending)
		}
	}
	c.waiters = remaining

	slices.SortStableFunc(due, func(a, b dueWaiter) int {
		return a.deadline.Compare(b.deadline)
	})
	fired := make([]*waiter, len(due))
	for i, entry := range due {
		fired[i] = entry.waiter
	}
	return fired
}

// WaitForTimers blocks until at least n waiters are pending.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.waiters) < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of registered, unfired waiters.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

// NextDeadline returns the earliest pending deadline relative to the
// current fake time. The second result is false when nothing is
// pending.
func (c *FakeClock) NextDeadline() (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.waiters) == 0 {
		return 0, false
	}
	earliest := c.waiters[0].deadline
	for _, pending := range c.waiters[1:] {
		if pending.deadline.Before(earliest) {
			earliest = pending.deadline
		}
	}
	return earliest.Sub(c.current), true
}

func (c *FakeClock) addLocked(registered *waiter) {
	c.waiters = append(c.waiters, registered)
	c.changed.Broadcast()
}

func (c *FakeClock) remove(registered *waiter) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	index := slices.Index(c.waiters, registered)
	if index < 0 {
		return false
	}
	c.waiters = slices.Delete(c.waiters, index, index+1)
	c.changed.Broadcast()
	return true
}
