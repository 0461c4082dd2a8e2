// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sending

import (
	"context"

	"github.com/bureau-foundation/beacon/lib/transport"
)

// initState fetches the first server configuration. It retries in
// bursts until the collector answers or shutdown is requested.
type initState struct{}

func (initState) Terminal() bool       { return false }
func (initState) ShutdownState() State { return terminalState{} }
func (initState) String() string       { return "Init" }

func (initState) Execute(ctx context.Context, c *Context) {
	response := initialStatusRequest(ctx, c)
	if c.ShutdownRequested() {
		c.InitCompleted(false)
		return
	}

	c.HandleStatusResponse(response)
	c.InitCompleted(true)
	if c.CaptureOn() {
		c.setNextState(captureOnState{})
	} else {
		c.setNextState(captureOffState{})
	}
}

// initialStatusRequest repeats status request bursts, pausing with
// reinitDelays between them, until one succeeds or shutdown is
// requested. A 429 mutes everything and waits the requested pause
// instead.
func initialStatusRequest(ctx context.Context, c *Context) *transport.Response {
	delayIndex := 0
	for {
		now := c.clock.Now()
		c.setLastOpenSessionSend(now)
		c.setLastStatusCheck(now)

		response := sendStatusRequest(ctx, c, statusRetries, initialRetrySleep)
		if c.ShutdownRequested() || successful(response) {
			return response
		}

		delay := reinitDelays[delayIndex]
		if tooManyRequests(response) {
			delay = response.RetryAfter
			c.logger.Warn("collector throttled initialization", "retry_after", delay)
			c.disableCaptureAndClear()
		} else {
			c.logger.Warn("initialization failed, retrying", "delay", delay)
		}
		c.Sleep(ctx, delay)
		delayIndex = min(delayIndex+1, len(reinitDelays)-1)
	}
}
