// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/beacon/lib/beacon"
	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/serverconfig"
	"github.com/bureau-foundation/beacon/lib/transport"
)

// MaxNewSessionRequests is how many new-session requests a session may
// send before it is muted.
const MaxNewSessionRequests = 4

// Session is one physical session: a beacon plus the arena of actions
// and web request tracers recorded into it.
type Session struct {
	beacon *beacon.Beacon
	clock  clock.Clock
	logger *slog.Logger

	// onConfigurationUpdate is called with no lock held after a
	// server configuration was applied. Nil for sessions without a
	// proxy.
	onConfigurationUpdate func(serverconfig.Configuration)

	mu       sync.Mutex
	arena    arena
	finished bool
	// triedForEnding is set by TryEnd when open children prevented
	// ending; the session then ends as soon as its last child closes.
	triedForEnding bool
	// newSessionRequests is the remaining new-session request budget.
	newSessionRequests int
}

func newSession(b *beacon.Beacon, clk clock.Clock, logger *slog.Logger, onConfigurationUpdate func(serverconfig.Configuration)) *Session {
	s := &Session{
		beacon:                b,
		clock:                 clk,
		logger:                logger.With("session", b.Key().String()),
		onConfigurationUpdate: onConfigurationUpdate,
		arena:                 newArena(),
		newSessionRequests:    MaxNewSessionRequests,
	}
	b.StartSession()
	return s
}

// Beacon returns the session's beacon.
func (s *Session) Beacon() *beacon.Beacon { return s.beacon }

// String identifies the session in logs.
func (s *Session) String() string { return "session " + s.beacon.Key().String() }

// EnterAction opens a top-level action.
func (s *Session) EnterAction(name string) Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return Action{}
	}
	return Action{session: s, id: s.openActionLocked(rootID, name)}
}

// TraceWebRequest starts tracing a request made outside any action.
func (s *Session) TraceWebRequest(url string) WebRequestTracer {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return WebRequestTracer{}
	}
	return WebRequestTracer{session: s, id: s.openTracerLocked(rootID, url)}
}

// IdentifyUser tags the session with a user.
func (s *Session) IdentifyUser(userTag string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished {
		s.beacon.IdentifyUser(userTag)
	}
}

// ReportCrash records a crash.
func (s *Session) ReportCrash(name, reason, stacktrace string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished {
		s.beacon.ReportCrash(name, reason, stacktrace)
	}
}

// ReportEvent records a named event at session level.
func (s *Session) ReportEvent(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished {
		s.beacon.ReportEvent(rootID, name)
	}
}

// ReportIntValue records an integer value at session level.
func (s *Session) ReportIntValue(name string, value int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished {
		s.beacon.ReportIntValue(rootID, name, value)
	}
}

// ReportDoubleValue records a floating-point value at session level.
func (s *Session) ReportDoubleValue(name string, value float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished {
		s.beacon.ReportDoubleValue(rootID, name, value)
	}
}

// ReportStringValue records a string value at session level.
func (s *Session) ReportStringValue(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished {
		s.beacon.ReportStringValue(rootID, name, value)
	}
}

// ReportError records an error at session level.
func (s *Session) ReportError(name string, code int32, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.finished {
		s.beacon.ReportError(rootID, name, code, reason)
	}
}

// End closes every open child, writes the session end record when
// sendEndEvent is set, and marks the session finished. Ending twice
// has no effect.
func (s *Session) End(sendEndEvent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked(sendEndEvent)
}

// TryEnd ends the session if it has no open children and reports
// whether the session is now finished. Otherwise the session is marked
// so that it ends itself when its last child closes.
func (s *Session) TryEnd() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return true
	}
	if s.arena.openChildren(rootID) > 0 {
		s.triedForEnding = true
		return false
	}
	s.endLocked(true)
	return true
}

// HasOpenChildren reports whether any action or tracer is still open.
func (s *Session) HasOpenChildren() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.arena.openChildren(rootID) > 0
}

// IsFinished reports whether the session ended.
func (s *Session) IsFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

func (s *Session) endLocked(sendEndEvent bool) {
	if s.finished {
		return
	}
	// Closing the last child must not re-enter endLocked.
	s.triedForEnding = false
	s.closeChildrenLocked(rootID)
	if sendEndEvent {
		s.beacon.EndSession()
	}
	s.finished = true
	s.logger.Debug("session ended", "end_event", sendEndEvent)
}

// Close ends the session without an end record if it is still open.
// The sending worker calls it when retiring a session.
func (s *Session) Close() { s.End(false) }

// IsConfigured reports whether the server configured this session.
func (s *Session) IsConfigured() bool { return s.beacon.IsConfigured() }

// IsDataSendingAllowed reports whether the session may be transmitted.
func (s *Session) IsDataSendingAllowed() bool {
	return s.beacon.IsConfigured() && s.beacon.CaptureEnabled()
}

// CanSendNewSessionRequest reports whether budget remains for another
// new-session request.
func (s *Session) CanSendNewSessionRequest() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newSessionRequests > 0
}

// DecreaseNewSessionRequests consumes one new-session request.
func (s *Session) DecreaseNewSessionRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.newSessionRequests > 0 {
		s.newSessionRequests--
	}
}

// UpdateServerConfiguration applies a server configuration and then
// notifies the owning proxy.
func (s *Session) UpdateServerConfiguration(configuration serverconfig.Configuration) {
	s.beacon.UpdateServerConfiguration(configuration)
	if s.onConfigurationUpdate != nil {
		s.onConfigurationUpdate(configuration)
	}
}

// initializeServerConfiguration pre-configures a split session without
// notifying the proxy, which already holds the configuration.
func (s *Session) initializeServerConfiguration(configuration serverconfig.Configuration) {
	s.beacon.InitializeServerConfiguration(configuration)
}

// DisableCapture mutes the session.
func (s *Session) DisableCapture() { s.beacon.DisableCapture() }

// EnableCapture unmutes the session.
func (s *Session) EnableCapture() { s.beacon.EnableCapture() }

// SendBeacon transmits the session's cached records.
func (s *Session) SendBeacon(ctx context.Context, sender beacon.Sender, params transport.Parameters) (*transport.Response, error) {
	return s.beacon.Send(ctx, sender, params)
}

// IsEmpty reports whether no records are cached for the session.
func (s *Session) IsEmpty() bool { return s.beacon.IsEmpty() }

// ClearCapturedData drops the session's cached records.
func (s *Session) ClearCapturedData() { s.beacon.ClearData() }
