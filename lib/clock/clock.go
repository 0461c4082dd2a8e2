// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import "time"

// Clock abstracts the time operations used by the beacon workers.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once d has elapsed. If
	// d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time

	// NewTimer returns a one-shot Timer firing after d. Unlike After,
	// the pending wait can be released with Stop, which interruptible
	// sleeps rely on.
	NewTimer(d time.Duration) *Timer

	// NewTicker returns a Ticker delivering ticks every d. Panics if
	// d <= 0.
	NewTicker(d time.Duration) *Ticker
}

// Timer is a one-shot timer. C has capacity 1.
type Timer struct {
	C <-chan time.Time

	stop func() bool
}

// Stop prevents the timer from firing. Returns false if it already
// fired or was stopped.
func (t *Timer) Stop() bool { return t.stop() }

// Ticker delivers periodic ticks on C. Ticks are dropped when the
// consumer falls behind, matching time.Ticker.
type Ticker struct {
	C <-chan time.Time

	stop func()
}

// Stop turns the ticker off. C is not closed.
func (t *Ticker) Stop() { t.stop() }

// UnixMillis returns t as milliseconds since the Unix epoch. The beacon
// wire format expresses every absolute timestamp this way.
func UnixMillis(t time.Time) int64 { return t.UnixMilli() }
