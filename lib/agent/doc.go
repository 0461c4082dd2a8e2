// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent assembles a complete beacon agent from its
// configuration.
//
// An [Agent] owns the record cache and the three background workers:
// the cache evictor, the sending loop, and the session watchdog. Host
// applications call [Agent.CreateSession] for each logical session and
// record into the returned proxy from any goroutine. [Agent.Shutdown]
// ends every open session and flushes what is left to the collector,
// bounded by the configured shutdown timeout.
package agent
