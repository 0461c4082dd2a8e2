// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides the injectable time source used by every
// beacon worker.
//
// The sending loop, the record cache evictor and the session watchdog
// all sleep, tick, and timestamp records. None of them call the time
// package directly: they hold a Clock, which is Real() in production
// and Fake() in tests. A fake clock only moves when the test calls
// Advance, so backoff sequences like 1s, 2s, 4s, 8s, 16s can be
// asserted exactly instead of being measured.
//
// # Synchronizing with a Fake clock
//
// A worker goroutine registers a waiter when it calls After, NewTimer
// or NewTicker. Tests call WaitForTimers before Advance so that the
// advance cannot race ahead of the registration:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	go worker.Run(ctx, fake)
//	fake.WaitForTimers(1)
//	fake.Advance(time.Second)
//
// Stopped timers are removed from the pending set immediately, so an
// interrupted sleep does not leave a phantom waiter behind.
package clock
