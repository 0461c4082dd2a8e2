// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package session models the sessions a host application records into.
//
// A [Proxy] is the logical session the application holds for its whole
// lifetime. Behind it sits one physical [Session] at a time; the proxy
// splits to a fresh physical session when the server-configured event
// count, maximum duration or idle timeout is reached, or after a crash.
// Each physical session owns one beacon and is registered with the
// sending worker, which transmits it and eventually retires it.
//
// A Session keeps its actions and web request tracers in an arena
// addressed by integer id. The [Action] and [WebRequestTracer] values
// handed to callers are small handles into that arena; the zero handle
// and any handle whose node was closed are inert, so callers never need
// nil checks.
//
// The [Watchdog] drives time-based splitting and closes split-off
// sessions once their open children finished or a grace period ran
// out.
//
// Lock order: Proxy, then Session, then the beacon and record cache.
// The watchdog's own lock is taken after a Proxy's and never held while
// calling into a Proxy or Session.
package session
