// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sending

import (
	"context"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/bureau-foundation/beacon/lib/beacon"
	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/serverconfig"
	"github.com/bureau-foundation/beacon/lib/transport"
)

// Transport issues collector requests. *transport.Client implements
// it.
type Transport interface {
	beacon.Sender
	SendStatus(ctx context.Context, params transport.Parameters) (*transport.Response, error)
	SendNewSession(ctx context.Context, params transport.Parameters) (*transport.Response, error)
}

// Session is the part of a physical session the loop drives.
// *session.Session implements it.
type Session interface {
	IsConfigured() bool
	IsFinished() bool
	IsDataSendingAllowed() bool
	CanSendNewSessionRequest() bool
	DecreaseNewSessionRequests()
	UpdateServerConfiguration(serverconfig.Configuration)
	DisableCapture()
	EnableCapture()
	SendBeacon(ctx context.Context, sender beacon.Sender, params transport.Parameters) (*transport.Response, error)
	IsEmpty() bool
	ClearCapturedData()
	End(sendEndEvent bool)
	Close()
}

// Config configures a Context.
type Config struct {
	// Transport is required.
	Transport Transport

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Context is the state shared by the states of the sending loop.
type Context struct {
	transport Transport
	clock     clock.Clock
	logger    *slog.Logger

	shutdownOnce sync.Once
	// wake is closed by RequestShutdown and interrupts every sleep.
	wake chan struct{}

	initOnce sync.Once
	initDone chan struct{}
	initOK   bool

	mu            sync.Mutex
	state         State
	next          State
	sessions      []Session
	attributes    serverconfig.Attributes
	configuration serverconfig.Configuration
	// lastOpenSend and lastStatusCheck are written only by the loop
	// goroutine but read by tests through the accessors.
	lastOpenSend    time.Time
	lastStatusCheck time.Time
}

// NewContext creates a Context in the Init state. Panics if no
// transport is configured.
func NewContext(config Config) *Context {
	if config.Transport == nil {
		panic("sending: nil transport")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Context{
		transport:     config.Transport,
		clock:         config.Clock,
		logger:        config.Logger,
		wake:          make(chan struct{}),
		initDone:      make(chan struct{}),
		state:         initState{},
		attributes:    serverconfig.DefaultAttributes(),
		configuration: serverconfig.Default(),
	}
}

// Run executes states until the terminal state is reached. Cancelling
// ctx requests shutdown and also aborts requests in flight.
func (c *Context) Run(ctx context.Context) {
	stop := context.AfterFunc(ctx, c.RequestShutdown)
	defer stop()

	for {
		c.mu.Lock()
		state := c.state
		c.next = nil
		c.mu.Unlock()

		state.Execute(ctx, c)
		if state.Terminal() {
			return
		}

		c.mu.Lock()
		next := c.next
		if c.ShutdownRequested() {
			next = state.ShutdownState()
		} else if next == nil {
			next = state
		}
		c.state = next
		c.mu.Unlock()

		if next.String() != state.String() {
			c.logger.Debug("sending state changed", "from", state.String(), "to", next.String())
		}
	}
}

// State returns the state the loop executes next.
func (c *Context) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Context) setNextState(next State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = next
}

// nextState returns the state set by the last Execute, or nil.
func (c *Context) nextState() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// RequestShutdown asks the loop to flush and stop, and interrupts any
// sleep in progress. Safe to call more than once.
func (c *Context) RequestShutdown() {
	c.shutdownOnce.Do(func() { close(c.wake) })
}

// ShutdownRequested reports whether RequestShutdown was called.
func (c *Context) ShutdownRequested() bool {
	select {
	case <-c.wake:
		return true
	default:
		return false
	}
}

// Sleep pauses the loop for d, returning early on shutdown or when ctx
// is done.
func (c *Context) Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 || c.ShutdownRequested() {
		return
	}
	timer := c.clock.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-c.wake:
	case <-ctx.Done():
	}
}

// InitCompleted records the outcome of initialization and releases
// WaitForInit. Only the first call counts.
func (c *Context) InitCompleted(ok bool) {
	c.initOnce.Do(func() {
		c.initOK = ok
		close(c.initDone)
	})
}

// WaitForInit blocks until initialization finished and reports whether
// it succeeded. Returns false when ctx is done first.
func (c *Context) WaitForInit(ctx context.Context) bool {
	select {
	case <-c.initDone:
		return c.initOK
	case <-ctx.Done():
		return false
	}
}

// AddSession registers a new physical session for sending. While the
// collector has capture switched off, new sessions start muted.
func (c *Context) AddSession(session Session) {
	c.mu.Lock()
	c.sessions = append(c.sessions, session)
	captureOn := c.configuration.CaptureEnabled
	c.mu.Unlock()

	if !captureOn {
		session.DisableCapture()
	}
}

// RemoveSession unregisters a session. Returns false if it was not
// registered.
func (c *Context) RemoveSession(session Session) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	index := slices.Index(c.sessions, session)
	if index < 0 {
		return false
	}
	c.sessions = slices.Delete(c.sessions, index, index+1)
	return true
}

// Sessions returns a snapshot of every registered session.
func (c *Context) Sessions() []Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.sessions)
}

// NotConfiguredSessions returns the sessions still waiting for a
// server configuration, open or finished.
func (c *Context) NotConfiguredSessions() []Session {
	return c.filterSessions(func(s Session) bool { return !s.IsConfigured() })
}

// OpenAndConfiguredSessions returns configured sessions still in use.
func (c *Context) OpenAndConfiguredSessions() []Session {
	return c.filterSessions(func(s Session) bool { return s.IsConfigured() && !s.IsFinished() })
}

// FinishedAndConfiguredSessions returns configured sessions that
// ended.
func (c *Context) FinishedAndConfiguredSessions() []Session {
	return c.filterSessions(func(s Session) bool { return s.IsConfigured() && s.IsFinished() })
}

// filterSessions snapshots the registry and filters it without holding
// the lock: session methods take session locks, and sessions are
// registered by proxies that already hold theirs.
func (c *Context) filterSessions(keep func(Session) bool) []Session {
	var selected []Session
	for _, session := range c.Sessions() {
		if keep(session) {
			selected = append(selected, session)
		}
	}
	return selected
}

// Configuration returns the current agent-wide server configuration.
func (c *Context) Configuration() serverconfig.Configuration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.configuration
}

// CaptureOn reports whether the collector currently wants data.
func (c *Context) CaptureOn() bool {
	return c.Configuration().CaptureEnabled
}

// LastOpenSessionSend returns when open sessions were last sent.
func (c *Context) LastOpenSessionSend() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastOpenSend
}

// LastStatusCheck returns when the last status request was issued.
func (c *Context) LastStatusCheck() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastStatusCheck
}

func (c *Context) setLastOpenSessionSend(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastOpenSend = t
}

func (c *Context) setLastStatusCheck(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastStatusCheck = t
}

// parameters returns the query parameters every request carries.
func (c *Context) parameters() transport.Parameters {
	c.mu.Lock()
	defer c.mu.Unlock()
	var params transport.Parameters
	if c.attributes.IsSet(serverconfig.AttributeTimestamp) {
		params.ConfigurationTimestamp = c.attributes.Timestamp()
	}
	return params
}

// mergeAttributes folds a response into the last known attributes and
// returns the result.
func (c *Context) mergeAttributes(response *transport.Response) serverconfig.Attributes {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attributes = c.attributes.Merge(response.Attributes)
	return c.attributes
}

// HandleStatusResponse applies a status response to the agent-wide
// configuration. A missing or failed response switches capture off and
// drops all captured data.
func (c *Context) HandleStatusResponse(response *transport.Response) {
	if response == nil || response.Code != http.StatusOK {
		c.disableCaptureAndClear()
		return
	}
	attributes := c.mergeAttributes(response)
	c.mu.Lock()
	c.configuration = serverconfig.FromAttributes(attributes)
	captureOn := c.configuration.CaptureEnabled
	c.mu.Unlock()

	if !captureOn {
		c.clearAllSessionData()
	}
}

func (c *Context) disableCaptureAndClear() {
	c.mu.Lock()
	c.configuration = c.configuration.WithCapture(false)
	c.mu.Unlock()
	c.clearAllSessionData()
}

// clearAllSessionData drops the records of every session and forgets
// the finished ones.
func (c *Context) clearAllSessionData() {
	for _, session := range c.Sessions() {
		session.ClearCapturedData()
		if session.IsFinished() {
			c.RemoveSession(session)
		}
	}
}
