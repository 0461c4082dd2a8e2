// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/config"
	"github.com/bureau-foundation/beacon/lib/testutil"
)

const configurationBody = `{
	"mobileAgentConfig": {"maxBeaconSizeKb": 150, "sendIntervalSec": 120},
	"appConfig": {"capture": 1, "reportCrashes": 1, "reportErrors": 1},
	"dynamicConfig": {"multiplicity": 1, "serverId": 1},
	"timestamp": 1700000000000
}`

// fakeCollector answers status and new-session requests with a fixed
// configuration and records every beacon body.
type fakeCollector struct {
	t        *testing.T
	throttle bool

	mu          sync.Mutex
	statuses    int
	newSessions int
	beacons     []string
}

func (c *fakeCollector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if c.throttle {
		w.Header().Set("Retry-After", "60")
		w.WriteHeader(http.StatusTooManyRequests)
		return
	}

	if r.Method == http.MethodPost {
		reader, err := gzip.NewReader(r.Body)
		if err != nil {
			c.t.Errorf("beacon body is not gzip: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body, err := io.ReadAll(reader)
		if err != nil {
			c.t.Errorf("reading beacon body: %v", err)
		}
		c.mu.Lock()
		c.beacons = append(c.beacons, string(body))
		c.mu.Unlock()
		w.WriteHeader(http.StatusOK)
		return
	}

	c.mu.Lock()
	if r.URL.Query().Get("ns") == "1" {
		c.newSessions++
	} else {
		c.statuses++
	}
	c.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, configurationBody)
}

func (c *fakeCollector) received() (statuses, newSessions int, beacons []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statuses, c.newSessions, slices.Clone(c.beacons)
}

func newTestAgent(t *testing.T, collector *fakeCollector) (*Agent, *clock.FakeClock) {
	t.Helper()
	collector.t = t
	server := httptest.NewServer(collector)
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Endpoint = server.URL + "/mbeacon"
	cfg.Application.ID = "app-1"
	cfg.Application.Name = "Shop"
	cfg.Device.ID = "42"

	fake := clock.Fake(time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC))
	agent, err := New(Options{Config: cfg, Clock: fake})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return agent, fake
}

func TestAgentEndToEnd(t *testing.T) {
	collector := &fakeCollector{}
	agent, fake := newTestAgent(t, collector)
	agent.Start(context.Background())
	t.Cleanup(agent.Shutdown)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if !agent.WaitForInit(ctx) {
		t.Fatal("initialization failed")
	}

	proxy := agent.CreateSession("192.0.2.7")
	for i := range 4 {
		proxy.EnterAction(fmt.Sprintf("action-%d", i)).LeaveAction()
	}
	current := proxy.CurrentSession()
	proxy.End()

	if !current.IsFinished() {
		t.Fatal("session not finished after End")
	}
	if current.IsEmpty() {
		t.Fatal("session empty before it was sent")
	}
	if got := len(agent.Sending().Sessions()); got != 1 {
		t.Fatalf("registered sessions = %d, want 1", got)
	}

	// Evictor ticker, watchdog timer, and the CaptureOn pause.
	fake.WaitForTimers(3)
	fake.Advance(time.Second)

	testutil.RequireEventually(t, func() bool {
		return current.IsEmpty() && len(agent.Sending().Sessions()) == 0
	}, 5*time.Second, "session was not sent and retired")

	statuses, newSessions, beacons := collector.received()
	if statuses != 1 || newSessions != 1 {
		t.Fatalf("status requests = %d, new session requests = %d; want 1 and 1", statuses, newSessions)
	}
	if len(beacons) != 1 {
		t.Fatalf("beacons = %d, want 1", len(beacons))
	}
	values, err := url.ParseQuery(beacons[0])
	if err != nil {
		t.Fatalf("beacon does not parse: %v", err)
	}
	if got, want := values["et"], []string{"18", "1", "1", "1", "1", "19"}; !slices.Equal(got, want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	if got := values.Get("ap"); got != "app-1" {
		t.Errorf("ap = %q, want app-1", got)
	}
	if got := values.Get("vi"); got != "42" {
		t.Errorf("vi = %q, want 42", got)
	}
	if got := values.Get("ip"); got != "192.0.2.7" {
		t.Errorf("ip = %q, want 192.0.2.7", got)
	}
	if !strings.HasPrefix(beacons[0], "vv=3&") {
		t.Errorf("beacon does not start with the protocol version: %.40q", beacons[0])
	}
}

func TestAgentShutdownFlushesOpenSessions(t *testing.T) {
	collector := &fakeCollector{}
	agent, _ := newTestAgent(t, collector)
	agent.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if !agent.WaitForInit(ctx) {
		t.Fatal("initialization failed")
	}

	proxy := agent.CreateSession("")
	action := proxy.EnterAction("still open")
	action.ReportIntValue("items", 3)

	agent.Shutdown()

	if !proxy.IsFinished() || !action.IsClosed() {
		t.Fatal("shutdown left the session open")
	}
	_, _, beacons := collector.received()
	if len(beacons) != 1 {
		t.Fatalf("beacons = %d, want 1", len(beacons))
	}
	values, err := url.ParseQuery(beacons[0])
	if err != nil {
		t.Fatalf("beacon does not parse: %v", err)
	}
	if got, want := values["et"], []string{"18", "12", "1", "19"}; !slices.Equal(got, want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	if len(agent.Sending().Sessions()) != 0 {
		t.Fatal("sessions left after shutdown")
	}

	if late := agent.CreateSession(""); !late.IsFinished() {
		t.Fatal("session created after shutdown is open")
	}
}

func TestAgentThrottledInitialization(t *testing.T) {
	collector := &fakeCollector{throttle: true}
	agent, _ := newTestAgent(t, collector)
	agent.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if agent.WaitForInit(ctx) {
		t.Fatal("initialization succeeded against a throttling collector")
	}

	agent.Shutdown()
	if agent.WaitForInit(context.Background()) {
		t.Fatal("interrupted initialization reported as successful")
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatal("New accepted a nil config")
	}

	cfg := config.Default()
	cfg.Endpoint = "ftp://collector"
	_, err := New(Options{Config: cfg})
	if err == nil {
		t.Fatal("New accepted an invalid config")
	}
	if !strings.Contains(err.Error(), "application.id is required") {
		t.Fatalf("error %q does not report the missing application id", err)
	}
	var joined interface{ Unwrap() []error }
	if !errors.As(err, &joined) || len(joined.Unwrap()) < 2 {
		t.Fatalf("error %q does not report every problem", err)
	}
}
