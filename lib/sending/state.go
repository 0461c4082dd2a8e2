// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sending

import (
	"context"
	"time"

	"github.com/bureau-foundation/beacon/lib/transport"
)

// State is one state of the sending loop. Execute runs the state's
// work once and may choose the next state; a state that does not is
// executed again. Once shutdown is requested the loop moves to
// ShutdownState instead.
type State interface {
	Execute(ctx context.Context, c *Context)
	Terminal() bool
	ShutdownState() State
	String() string
}

// Status request retry policy. A burst is the first request plus up to
// statusRetries retries; the pause doubles after every failure.
const (
	statusRetries     = 5
	initialRetrySleep = 1 * time.Second
	captureOnSleep    = 1 * time.Second
	statusCheckPeriod = 2 * time.Hour
)

// reinitDelays are the pauses between failed Init bursts. The last
// value repeats.
var reinitDelays = [...]time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	15 * time.Minute,
	1 * time.Hour,
	2 * time.Hour,
}

// sendStatusRequest issues a status request, retrying failed and
// missing responses up to retries times with doubling sleeps. A 429 or
// a shutdown request ends the retries. Transport errors are logged and
// reported as a nil response.
func sendStatusRequest(ctx context.Context, c *Context, retries int, sleep time.Duration) *transport.Response {
	for attempt := 0; ; attempt++ {
		response, err := c.transport.SendStatus(ctx, c.parameters())
		if err != nil {
			c.logger.Debug("status request failed", "error", err, "attempt", attempt+1)
			response = nil
		}
		if successful(response) || tooManyRequests(response) || attempt >= retries || c.ShutdownRequested() {
			return response
		}
		c.Sleep(ctx, sleep)
		sleep *= 2
	}
}

func successful(response *transport.Response) bool {
	return response != nil && !response.Erroneous()
}

func tooManyRequests(response *transport.Response) bool {
	return response != nil && response.TooManyRequests()
}

// terminalState ends the loop.
type terminalState struct{}

func (terminalState) Terminal() bool       { return true }
func (terminalState) ShutdownState() State { return terminalState{} }
func (terminalState) String() string       { return "Terminal" }

func (terminalState) Execute(_ context.Context, c *Context) {
	c.RequestShutdown()
	c.InitCompleted(false)
}
