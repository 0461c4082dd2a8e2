// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sending

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/beacon/lib/beacon"
	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/serverconfig"
	"github.com/bureau-foundation/beacon/lib/transport"
)

var epoch = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

var errUnreachable = errors.New("connection refused")

// reply is one scripted transport outcome.
type reply struct {
	response *transport.Response
	err      error
}

func ok(attributes serverconfig.Attributes) reply {
	return reply{response: &transport.Response{Code: 200, Attributes: attributes}}
}

func status(code int) reply {
	return reply{response: &transport.Response{Code: code, Attributes: serverconfig.DefaultAttributes()}}
}

func throttle(retryAfter time.Duration) reply {
	return reply{response: &transport.Response{Code: 429, RetryAfter: retryAfter}}
}

func failure() reply { return reply{err: errUnreachable} }

func repeat(r reply, n int) []reply {
	replies := make([]reply, n)
	for i := range replies {
		replies[i] = r
	}
	return replies
}

// fakeTransport answers requests from per-kind scripts. Once a script
// is exhausted every request succeeds with default attributes.
type fakeTransport struct {
	mu         sync.Mutex
	status     []reply
	newSession []reply
	beacon     []reply

	statusCalls     int
	newSessionCalls int
	beaconCalls     int
	params          []transport.Parameters
}

func (f *fakeTransport) next(script *[]reply, calls *int, params transport.Parameters) (*transport.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	*calls++
	f.params = append(f.params, params)
	if len(*script) == 0 {
		r := ok(serverconfig.DefaultAttributes())
		return r.response, nil
	}
	r := (*script)[0]
	*script = (*script)[1:]
	return r.response, r.err
}

func (f *fakeTransport) SendStatus(_ context.Context, params transport.Parameters) (*transport.Response, error) {
	return f.next(&f.status, &f.statusCalls, params)
}

func (f *fakeTransport) SendNewSession(_ context.Context, params transport.Parameters) (*transport.Response, error) {
	return f.next(&f.newSession, &f.newSessionCalls, params)
}

func (f *fakeTransport) SendBeacon(_ context.Context, _ string, _ []byte, params transport.Parameters) (*transport.Response, error) {
	return f.next(&f.beacon, &f.beaconCalls, params)
}

func (f *fakeTransport) calls() (status, newSession, beacon int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statusCalls, f.newSessionCalls, f.beaconCalls
}

func (f *fakeTransport) lastParams() transport.Parameters {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.params[len(f.params)-1]
}

// fakeSession is a scriptable Session. Its "records" are a counter;
// a successful send empties it.
type fakeSession struct {
	mu            sync.Mutex
	name          string
	configured    bool
	finished      bool
	capture       bool
	budget        int
	records       int
	configuration serverconfig.Configuration

	sends    int
	cleared  int
	closed   bool
	endCalls []bool
}

func newFakeSession(name string, configured, finished bool, records int) *fakeSession {
	return &fakeSession{
		name:       name,
		configured: configured,
		finished:   finished,
		capture:    true,
		budget:     4,
		records:    records,
	}
}

func (s *fakeSession) IsConfigured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configured
}

func (s *fakeSession) IsFinished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

func (s *fakeSession) IsDataSendingAllowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.configured && s.capture
}

func (s *fakeSession) CanSendNewSessionRequest() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.budget > 0
}

func (s *fakeSession) DecreaseNewSessionRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.budget--
}

func (s *fakeSession) UpdateServerConfiguration(configuration serverconfig.Configuration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configured = true
	s.configuration = configuration
	s.capture = configuration.CaptureEnabled
}

func (s *fakeSession) DisableCapture() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capture = false
}

func (s *fakeSession) EnableCapture() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.capture = true
}

func (s *fakeSession) SendBeacon(ctx context.Context, sender beacon.Sender, params transport.Parameters) (*transport.Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records == 0 {
		return nil, nil
	}
	s.sends++
	response, err := sender.SendBeacon(ctx, "", []byte(s.name), params)
	if err == nil && response != nil && !response.Erroneous() {
		s.records = 0
	}
	return response, err
}

func (s *fakeSession) IsEmpty() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records == 0
}

func (s *fakeSession) ClearCapturedData() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = 0
	s.cleared++
}

func (s *fakeSession) End(sendEndEvent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endCalls = append(s.endCalls, sendEndEvent)
	s.finished = true
}

func (s *fakeSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.finished = true
}

func (s *fakeSession) snapshot() fakeSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fakeSession{
		configured:    s.configured,
		capture:       s.capture,
		budget:        s.budget,
		records:       s.records,
		configuration: s.configuration,
		sends:         s.sends,
		cleared:       s.cleared,
		closed:        s.closed,
		endCalls:      append([]bool(nil), s.endCalls...),
	}
}

type harness struct {
	clock     *clock.FakeClock
	transport *fakeTransport
	context   *Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		clock:     clock.Fake(epoch),
		transport: &fakeTransport{},
	}
	h.context = NewContext(Config{Transport: h.transport, Clock: h.clock})
	return h
}

// execute runs one state to completion, advancing the fake clock
// through every sleep it takes. Returns the sleeps in order.
func (h *harness) execute(t *testing.T, state State) []time.Duration {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		state.Execute(context.Background(), h.context)
	}()

	var sleeps []time.Duration
	deadline := time.Now().Add(5 * time.Second)
	for {
		select {
		case <-done:
			return sleeps
		default:
		}
		if remaining, pending := h.clock.NextDeadline(); pending {
			sleeps = append(sleeps, remaining)
			h.clock.Advance(remaining)
			continue
		}
		if time.Now().After(deadline) {
			t.Fatalf("%s did not finish; sleeps so far %v", state, sleeps)
		}
		time.Sleep(time.Millisecond)
	}
}
