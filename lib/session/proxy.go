// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/serverconfig"
)

// Proxy is a logical session. It forwards every call to its current
// physical session and splits to a new one when the server's splitting
// policy says so.
type Proxy struct {
	factory  *Factory
	creator  *creator
	watchdog *Watchdog
	clock    clock.Clock
	logger   *slog.Logger

	mu       sync.Mutex
	current  *Session
	finished bool
	// topLevelActions counts actions entered on the current session
	// that count towards the event split.
	topLevelActions int
	lastInteraction time.Time
	lastUserTag     string

	configuration serverconfig.Configuration
	configured    bool
	// splitRegistered is set once the proxy was handed to the
	// watchdog for time-based splitting.
	splitRegistered bool
}

func newProxy(f *Factory, c *creator) *Proxy {
	p := &Proxy{
		factory:  f,
		creator:  c,
		watchdog: f.config.Watchdog,
		clock:    f.config.Clock,
		logger:   f.config.Logger,

		configuration: serverconfig.Default(),
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startSessionLocked()
	return p
}

// CurrentSession returns the physical session calls go to right now.
func (p *Proxy) CurrentSession() *Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current
}

// IsFinished reports whether End was called.
func (p *Proxy) IsFinished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished
}

// TopLevelActionCount returns the number of counted actions on the
// current physical session.
func (p *Proxy) TopLevelActionCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.topLevelActions
}

// EnterAction opens a top-level action, splitting first if the event
// limit was reached.
func (p *Proxy) EnterAction(name string) Action {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return Action{}
	}
	current := p.currentSessionLocked()
	p.lastInteraction = p.clock.Now()
	if p.factory.config.Metadata.Privacy.ActionReportingAllowed() {
		p.topLevelActions++
	}
	return current.EnterAction(name)
}

// IdentifyUser tags the session with a user. The tag is re-applied to
// every session split off later.
func (p *Proxy) IdentifyUser(userTag string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return
	}
	current := p.currentSessionLocked()
	p.lastInteraction = p.clock.Now()
	current.IdentifyUser(userTag)
	p.lastUserTag = userTag
}

// ReportCrash records a crash and then always splits: the activity
// after a crash belongs to a fresh session.
func (p *Proxy) ReportCrash(name, reason, stacktrace string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return
	}
	current := p.currentSessionLocked()
	p.lastInteraction = p.clock.Now()
	current.ReportCrash(name, reason, stacktrace)
	p.splitLocked()
}

// TraceWebRequest starts tracing a request made outside any action.
func (p *Proxy) TraceWebRequest(url string) WebRequestTracer {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return WebRequestTracer{}
	}
	current := p.currentSessionLocked()
	p.lastInteraction = p.clock.Now()
	return current.TraceWebRequest(url)
}

// ReportEvent records a session-level named event.
func (p *Proxy) ReportEvent(name string) {
	p.interact(func(s *Session) { s.ReportEvent(name) })
}

// ReportIntValue records a session-level integer value.
func (p *Proxy) ReportIntValue(name string, value int64) {
	p.interact(func(s *Session) { s.ReportIntValue(name, value) })
}

// ReportDoubleValue records a session-level floating-point value.
func (p *Proxy) ReportDoubleValue(name string, value float64) {
	p.interact(func(s *Session) { s.ReportDoubleValue(name, value) })
}

// ReportStringValue records a session-level string value.
func (p *Proxy) ReportStringValue(name, value string) {
	p.interact(func(s *Session) { s.ReportStringValue(name, value) })
}

// ReportError records a session-level error.
func (p *Proxy) ReportError(name string, code int32, reason string) {
	p.interact(func(s *Session) { s.ReportError(name, code, reason) })
}

func (p *Proxy) interact(record func(*Session)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return
	}
	current := p.currentSessionLocked()
	p.lastInteraction = p.clock.Now()
	record(current)
}

// End ends the current physical session and finishes the proxy. Later
// calls on the proxy are ignored.
func (p *Proxy) End() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return
	}
	p.finished = true
	p.current.End(true)
	if p.splitRegistered {
		p.watchdog.removeFromSplitByTime(p)
	}
}

// SplitSessionByTime splits when the idle timeout or the maximum
// session duration has passed, and returns the time the next check is
// due. ok is false when the proxy is finished or the server enabled
// neither policy.
func (p *Proxy) SplitSessionByTime() (next time.Time, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.finished {
		return time.Time{}, false
	}
	deadline, ok := p.splitDeadlineLocked()
	if !ok {
		return time.Time{}, false
	}
	if !p.clock.Now().Before(deadline) {
		p.logger.Debug("splitting session by time", "session", p.current.String())
		p.splitLocked()
		deadline, ok = p.splitDeadlineLocked()
	}
	return deadline, ok
}

// splitDeadlineLocked returns the earlier of the idle and duration
// deadlines among the enabled policies.
func (p *Proxy) splitDeadlineLocked() (time.Time, bool) {
	var deadline time.Time
	found := false
	if p.configuration.SplitByIdleTimeoutEnabled() {
		deadline = p.lastInteraction.Add(p.configuration.SessionTimeout)
		found = true
	}
	if p.configuration.SplitBySessionDurationEnabled() {
		duration := p.current.Beacon().StartTime().Add(p.configuration.MaxSessionDuration)
		if !found || duration.Before(deadline) {
			deadline = duration
		}
		found = true
	}
	return deadline, found
}

// currentSessionLocked returns the current session, splitting first
// when the event limit has been reached.
func (p *Proxy) currentSessionLocked() *Session {
	if p.configuration.SplitByEventsEnabled() && p.topLevelActions >= p.configuration.MaxEventsPerSession {
		p.logger.Debug("splitting session by events",
			"session", p.current.String(),
			"top_level_actions", p.topLevelActions,
		)
		p.splitLocked()
	}
	return p.current
}

// splitLocked retires the current session and starts the next one.
func (p *Proxy) splitLocked() {
	p.watchdog.CloseOrEnqueueForClosing(p.current, p.gracePeriodLocked())
	p.startSessionLocked()
}

// startSessionLocked creates the next physical session, pre-configured
// with everything the proxy already knows, and only then registers it
// for sending.
func (p *Proxy) startSessionLocked() {
	next := p.creator.createSession(p.onServerConfigurationUpdate)
	if p.configured {
		next.initializeServerConfiguration(p.configuration)
	}
	if p.lastUserTag != "" {
		next.IdentifyUser(p.lastUserTag)
	}
	p.current = next
	p.topLevelActions = 0
	p.lastInteraction = next.Beacon().StartTime()
	p.factory.config.Register(next)
}

// gracePeriodLocked is how long a split-off session may keep open
// children before it is closed by force.
func (p *Proxy) gracePeriodLocked() time.Duration {
	if p.configuration.SplitByIdleTimeoutEnabled() {
		return p.configuration.SessionTimeout / 2
	}
	return p.configuration.SendInterval
}

// onServerConfigurationUpdate is called by a physical session, with no
// session lock held, after the server configured it.
func (p *Proxy) onServerConfigurationUpdate(update serverconfig.Configuration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.configured {
		p.configuration = p.configuration.Merge(update)
	} else {
		p.configuration = update
		p.configured = true
	}
	if p.finished || p.splitRegistered {
		return
	}
	if p.configuration.SplitBySessionDurationEnabled() || p.configuration.SplitByIdleTimeoutEnabled() {
		p.splitRegistered = true
		p.watchdog.addToSplitByTime(p)
	}
}

// ClosedProxy returns a finished proxy with no session behind it.
// Every call on it is ignored.
func ClosedProxy() *Proxy {
	return &Proxy{finished: true}
}
