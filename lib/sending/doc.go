// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package sending runs the beacon transmission loop.
//
// One goroutine owns a [Context] and executes a small state machine:
//
//	Init ─┬─> CaptureOn <──> CaptureOff
//	      │        │              │
//	      │        └─> Flush <────┘
//	      └──────────────> Terminal <── Flush
//
// Init fetches the first server configuration with bounded retries.
// CaptureOn configures new sessions and transmits finished ones, and
// open ones once per send interval. CaptureOff checks back with the
// collector every two hours, or after the pause a 429 asked for. Flush
// sends whatever is left when the agent shuts down.
//
// The loop is the only caller of chunk extraction on the record cache,
// so at most one transmission per cached record is ever in flight.
// Sleeps are interrupted by [Context.RequestShutdown]; requests already
// on the wire are allowed to finish.
package sending
