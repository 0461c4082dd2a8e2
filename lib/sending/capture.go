// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sending

import (
	"context"
	"time"

	"github.com/bureau-foundation/beacon/lib/serverconfig"
	"github.com/bureau-foundation/beacon/lib/transport"
)

// captureOnState transmits sessions while the collector wants data.
type captureOnState struct{}

func (captureOnState) Terminal() bool       { return false }
func (captureOnState) ShutdownState() State { return flushState{} }
func (captureOnState) String() string       { return "CaptureOn" }

func (captureOnState) Execute(ctx context.Context, c *Context) {
	c.Sleep(ctx, captureOnSleep)

	last := sendNewSessionRequests(ctx, c)
	if throttled(c, last) {
		return
	}
	if response := sendFinishedSessions(ctx, c); response != nil {
		last = response
	}
	if throttled(c, last) {
		return
	}
	if response := sendOpenSessions(ctx, c); response != nil {
		last = response
	}
	if throttled(c, last) {
		return
	}

	if last == nil {
		return
	}
	c.HandleStatusResponse(last)
	if !c.CaptureOn() {
		c.setNextState(captureOffState{})
	}
}

// throttled moves to CaptureOff with the server's pause when response
// is a 429.
func throttled(c *Context, response *transport.Response) bool {
	if !tooManyRequests(response) {
		return false
	}
	c.logger.Warn("collector throttled sending", "retry_after", response.RetryAfter)
	c.setNextState(captureOffState{sleepOverride: response.RetryAfter})
	return true
}

// The send passes below return the 429 that stopped them, or else the
// last successful response. Failed requests are not returned: the
// sessions involved are retried and the configuration stays as is.

// sendNewSessionRequests asks the collector to configure every session
// that has no configuration yet. A session out of attempts is muted
// and keeps its records. A 429 stops the pass.
func sendNewSessionRequests(ctx context.Context, c *Context) *transport.Response {
	var last *transport.Response
	for _, session := range c.NotConfiguredSessions() {
		if !session.CanSendNewSessionRequest() {
			session.DisableCapture()
			continue
		}

		response, err := c.transport.SendNewSession(ctx, c.parameters())
		if err != nil {
			c.logger.Debug("new session request failed", "error", err)
			response = nil
		}
		switch {
		case successful(response):
			last = response
			session.UpdateServerConfiguration(serverconfig.FromAttributes(c.mergeAttributes(response)))
		case tooManyRequests(response):
			return response
		default:
			session.DecreaseNewSessionRequests()
		}
	}
	return last
}

// sendFinishedSessions transmits ended sessions. A session is retired
// once it was sent completely or may not be sent; a failed session is
// kept for the next pass. A 429 stops the pass.
func sendFinishedSessions(ctx context.Context, c *Context) *transport.Response {
	var last *transport.Response
	for _, session := range c.FinishedAndConfiguredSessions() {
		if session.IsDataSendingAllowed() {
			response, err := session.SendBeacon(ctx, c.transport, c.parameters())
			if tooManyRequests(response) {
				return response
			}
			if successful(response) {
				last = response
			}
			if (err != nil || (response != nil && response.Erroneous())) && !session.IsEmpty() {
				c.logger.Debug("finished session not sent, keeping it", "error", err)
				continue
			}
		}
		c.RemoveSession(session)
		session.ClearCapturedData()
		session.Close()
	}
	return last
}

// sendOpenSessions transmits sessions still in use, at most once per
// send interval. Open sessions that may not be sent lose their
// records. A 429 stops the pass.
func sendOpenSessions(ctx context.Context, c *Context) *transport.Response {
	now := c.clock.Now()
	if !now.After(c.LastOpenSessionSend().Add(c.Configuration().SendInterval)) {
		return nil
	}

	var last *transport.Response
	for _, session := range c.OpenAndConfiguredSessions() {
		if !session.IsDataSendingAllowed() {
			session.ClearCapturedData()
			continue
		}
		response, err := session.SendBeacon(ctx, c.transport, c.parameters())
		if err != nil {
			c.logger.Debug("open session send failed", "error", err)
		}
		if tooManyRequests(response) {
			c.setLastOpenSessionSend(now)
			return response
		}
		if successful(response) {
			last = response
		}
	}
	c.setLastOpenSessionSend(now)
	return last
}

// captureOffState waits while the collector wants no data, checking
// back periodically.
type captureOffState struct {
	// sleepOverride replaces the regular status check pause, after a
	// 429.
	sleepOverride time.Duration
}

func (captureOffState) Terminal() bool       { return false }
func (captureOffState) ShutdownState() State { return flushState{} }
func (captureOffState) String() string       { return "CaptureOff" }

func (s captureOffState) Execute(ctx context.Context, c *Context) {
	c.disableCaptureAndClear()

	sleep := s.sleepOverride
	if sleep <= 0 {
		sleep = statusCheckPeriod - c.clock.Now().Sub(c.LastStatusCheck())
	}
	if sleep > 0 && !c.ShutdownRequested() {
		c.Sleep(ctx, sleep)
	}

	c.setLastStatusCheck(c.clock.Now())
	response := sendStatusRequest(ctx, c, statusRetries, initialRetrySleep)
	if tooManyRequests(response) {
		c.logger.Warn("collector throttled status check", "retry_after", response.RetryAfter)
		c.setNextState(captureOffState{sleepOverride: response.RetryAfter})
		return
	}

	c.HandleStatusResponse(response)
	if c.CaptureOn() {
		c.setNextState(captureOnState{})
	} else {
		c.setNextState(captureOffState{})
	}
}
