// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sending

import (
	"context"
	"time"
)

// Sender runs a Context's loop on its own goroutine.
type Sender struct {
	context *Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSender creates a Sender for c. Call Start to run it.
func NewSender(c *Context) *Sender {
	return &Sender{context: c}
}

// Context returns the loop's shared state.
func (s *Sender) Context() *Context { return s.context }

// Start launches the loop. Cancelling ctx stops it without a graceful
// flush of requests in flight.
func (s *Sender) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go func() {
		defer close(s.done)
		s.context.Run(ctx)
	}()
}

// Shutdown requests a flush and waits up to timeout for the loop to
// finish, then aborts whatever is still in flight. Reports whether the
// loop finished within the timeout.
func (s *Sender) Shutdown(timeout time.Duration) bool {
	s.context.RequestShutdown()
	if s.done == nil {
		return true
	}
	defer s.cancel()

	select {
	case <-s.done:
		return true
	case <-s.context.clock.After(timeout):
	}

	s.context.logger.Warn("sending loop did not finish in time, aborting", "timeout", timeout)
	s.cancel()
	<-s.done
	return false
}
