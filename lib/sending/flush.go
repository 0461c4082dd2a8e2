// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sending

import "context"

// flushState sends everything left at shutdown and retires every
// session.
type flushState struct{}

func (flushState) Terminal() bool       { return false }
func (flushState) ShutdownState() State { return terminalState{} }
func (flushState) String() string       { return "Flush" }

func (flushState) Execute(ctx context.Context, c *Context) {
	unconfigured := make(map[Session]bool)
	for _, session := range c.NotConfiguredSessions() {
		session.EnableCapture()
		unconfigured[session] = true
	}
	for _, session := range c.Sessions() {
		if !session.IsFinished() {
			session.End(false)
		}
	}

	throttled := false
	for _, session := range c.Sessions() {
		allowed := session.IsDataSendingAllowed() || unconfigured[session]
		if !throttled && allowed {
			response, err := session.SendBeacon(ctx, c.transport, c.parameters())
			if err != nil {
				c.logger.Debug("flush send failed", "error", err)
			}
			if tooManyRequests(response) {
				c.logger.Warn("collector throttled flush, dropping remaining data", "retry_after", response.RetryAfter)
				throttled = true
			}
		}
		session.ClearCapturedData()
		session.Close()
		c.RemoveSession(session)
	}

	c.setNextState(terminalState{})
}
