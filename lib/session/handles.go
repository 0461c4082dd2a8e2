// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

// Action is a handle to an open action. The zero Action, and any
// Action that was left or cancelled, ignores every call.
type Action struct {
	session *Session
	id      int32
}

// IsClosed reports whether the handle no longer refers to an open
// action.
func (a Action) IsClosed() bool {
	if a.session == nil {
		return true
	}
	a.session.mu.Lock()
	defer a.session.mu.Unlock()
	return a.session.arena.lookup(a.id, kindAction) == nil
}

// ID returns the wire id of the action, or 0 for a closed handle.
func (a Action) ID() int32 {
	if a.session == nil {
		return 0
	}
	a.session.mu.Lock()
	defer a.session.mu.Unlock()
	if n := a.session.arena.lookup(a.id, kindAction); n != nil {
		return n.actionID
	}
	return 0
}

// with runs fn under the session lock if the action is open.
func (a Action) with(fn func(s *Session, n *node)) bool {
	if a.session == nil {
		return false
	}
	s := a.session
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.arena.lookup(a.id, kindAction)
	if n == nil || s.finished {
		return false
	}
	fn(s, n)
	return true
}

// EnterAction opens a child action.
func (a Action) EnterAction(name string) Action {
	child := Action{}
	a.with(func(s *Session, _ *node) {
		child = Action{session: s, id: s.openActionLocked(a.id, name)}
	})
	return child
}

// LeaveAction closes the action's open children, records the action
// and returns its parent. Leaving a top-level action returns the zero
// Action.
func (a Action) LeaveAction() Action {
	parent := Action{}
	a.with(func(s *Session, _ *node) {
		if id := s.leaveActionLocked(a.id); id != rootID {
			parent = Action{session: s, id: id}
		}
	})
	return parent
}

// CancelAction discards the action and its children without recording
// them, and returns its parent like LeaveAction.
func (a Action) CancelAction() Action {
	parent := Action{}
	a.with(func(s *Session, _ *node) {
		if id := s.cancelActionLocked(a.id); id != rootID {
			parent = Action{session: s, id: id}
		}
	})
	return parent
}

// ReportEvent records a named event inside the action.
func (a Action) ReportEvent(name string) {
	a.with(func(s *Session, n *node) { s.beacon.ReportEvent(n.actionID, name) })
}

// ReportIntValue records an integer value inside the action.
func (a Action) ReportIntValue(name string, value int64) {
	a.with(func(s *Session, n *node) { s.beacon.ReportIntValue(n.actionID, name, value) })
}

// ReportDoubleValue records a floating-point value inside the action.
func (a Action) ReportDoubleValue(name string, value float64) {
	a.with(func(s *Session, n *node) { s.beacon.ReportDoubleValue(n.actionID, name, value) })
}

// ReportStringValue records a string value inside the action.
func (a Action) ReportStringValue(name, value string) {
	a.with(func(s *Session, n *node) { s.beacon.ReportStringValue(n.actionID, name, value) })
}

// ReportError records an error inside the action.
func (a Action) ReportError(name string, code int32, reason string) {
	a.with(func(s *Session, n *node) { s.beacon.ReportError(n.actionID, name, code, reason) })
}

// TraceWebRequest starts tracing a request made by the action.
func (a Action) TraceWebRequest(url string) WebRequestTracer {
	tracer := WebRequestTracer{}
	a.with(func(s *Session, _ *node) {
		tracer = WebRequestTracer{session: s, id: s.openTracerLocked(a.id, url)}
	})
	return tracer
}

// WebRequestTracer is a handle to an open web request trace. The zero
// value, and any stopped tracer, ignores every call.
type WebRequestTracer struct {
	session *Session
	id      int32
}

func (w WebRequestTracer) with(fn func(s *Session, n *node)) {
	if w.session == nil {
		return
	}
	s := w.session
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.arena.lookup(w.id, kindTracer); n != nil && !s.finished {
		fn(s, n)
	}
}

// Tag returns the value for the tracing request header, or "" when
// tracing is not permitted or the tracer is closed.
func (w WebRequestTracer) Tag() string {
	var tag string
	w.with(func(_ *Session, n *node) { tag = n.tag })
	return tag
}

// IsClosed reports whether the tracer was stopped.
func (w WebRequestTracer) IsClosed() bool {
	closed := true
	w.with(func(*Session, *node) { closed = false })
	return closed
}

// Start resets the start time to now, for tracers created ahead of the
// actual request.
func (w WebRequestTracer) Start() WebRequestTracer {
	w.with(func(s *Session, n *node) { n.startTime = s.clock.Now() })
	return w
}

// SetBytesSent records the request body size.
func (w WebRequestTracer) SetBytesSent(bytes int64) WebRequestTracer {
	w.with(func(_ *Session, n *node) { n.bytesSent = bytes })
	return w
}

// SetBytesReceived records the response body size.
func (w WebRequestTracer) SetBytesReceived(bytes int64) WebRequestTracer {
	w.with(func(_ *Session, n *node) { n.bytesReceived = bytes })
	return w
}

// Stop records the request with its response code. A negative code
// means unknown.
func (w WebRequestTracer) Stop(responseCode int) {
	w.with(func(s *Session, _ *node) { s.stopTracerLocked(w.id, int64(responseCode)) })
}
