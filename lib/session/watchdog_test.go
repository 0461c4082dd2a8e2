// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"context"
	"testing"
	"time"

	"github.com/bureau-foundation/beacon/lib/privacy"
	"github.com/bureau-foundation/beacon/lib/serverconfig"
	"github.com/bureau-foundation/beacon/lib/testutil"
)

// splitWithOpenAction configures a one-action limit and splits while
// the first session still has an open action.
func splitWithOpenAction(t *testing.T, h *harness) (*Proxy, *Session, Action) {
	t.Helper()
	proxy := h.factory.NewProxy("")
	first := proxy.CurrentSession()
	first.UpdateServerConfiguration(configured(serverconfig.DefaultAttributes().WithMaxEventsPerSession(1)))

	open := proxy.EnterAction("long running")
	proxy.EnterAction("next")
	if proxy.CurrentSession() == first {
		t.Fatal("second action did not split")
	}
	if first.IsFinished() {
		t.Fatal("session with an open action ended immediately")
	}
	if h.watchdog.PendingClose() != 1 {
		t.Fatalf("pending close = %d, want 1", h.watchdog.PendingClose())
	}
	return proxy, first, open
}

func TestWatchdogClosesAfterChildrenFinish(t *testing.T) {
	h := newHarness(t, privacy.Default())
	_, first, open := splitWithOpenAction(t, h)

	if sleep := h.watchdog.Tick(); sleep != DefaultWatchdogInterval {
		t.Fatalf("sleep = %v, want %v", sleep, DefaultWatchdogInterval)
	}
	if h.watchdog.PendingClose() != 1 {
		t.Fatal("session dropped while its action is open")
	}

	open.LeaveAction()
	if !first.IsFinished() {
		t.Fatal("session did not end when its last action closed")
	}
	h.watchdog.Tick()
	if h.watchdog.PendingClose() != 0 {
		t.Fatal("ended session still pending")
	}
}

func TestWatchdogForcesCloseAfterGracePeriod(t *testing.T) {
	h := newHarness(t, privacy.Default())
	_, first, open := splitWithOpenAction(t, h)

	// Without idle splitting the grace period is the send interval.
	h.clock.Advance(serverconfig.DefaultSendInterval - time.Second)
	if sleep := h.watchdog.Tick(); sleep != time.Second {
		t.Fatalf("sleep = %v, want 1s", sleep)
	}
	h.clock.Advance(time.Second)
	h.watchdog.Tick()

	if !first.IsFinished() {
		t.Fatal("session not force-closed after the grace period")
	}
	if !open.IsClosed() {
		t.Fatal("open action survived the forced close")
	}
	if got := h.eventTypes(t, first); got != "18,1,19" {
		t.Fatalf("event types = %q, want 18,1,19", got)
	}
	if h.watchdog.PendingClose() != 0 {
		t.Fatal("force-closed session still pending")
	}
}

func TestWatchdogGracePeriodFollowsIdleTimeout(t *testing.T) {
	h := newHarness(t, privacy.Default())
	proxy := h.factory.NewProxy("")
	first := proxy.CurrentSession()
	first.UpdateServerConfiguration(configured(serverconfig.DefaultAttributes().
		WithMaxEventsPerSession(1).
		WithSessionTimeout(10 * time.Minute)))

	proxy.EnterAction("long running")
	proxy.EnterAction("next")

	h.clock.Advance(5 * time.Minute)
	h.watchdog.Tick()
	if !first.IsFinished() {
		t.Fatal("session not closed after half the idle timeout")
	}
}

func TestWatchdogDropsExpiredProxies(t *testing.T) {
	h := newHarness(t, privacy.Default())
	proxy := h.factory.NewProxy("")
	proxy.CurrentSession().UpdateServerConfiguration(configured(serverconfig.DefaultAttributes().WithSessionTimeout(time.Minute)))

	if sleep := h.watchdog.Tick(); sleep != DefaultWatchdogInterval {
		t.Fatalf("sleep = %v, want %v", sleep, DefaultWatchdogInterval)
	}

	// Finish the proxy behind the watchdog's back: the registration
	// lingers until the next tick notices.
	proxy.mu.Lock()
	proxy.finished = true
	proxy.mu.Unlock()
	h.watchdog.Tick()
	if h.watchdog.PendingSplit() != 0 {
		t.Fatal("finished proxy still registered")
	}
}

func TestWatchdogRunSplitsIdleSession(t *testing.T) {
	h := newHarness(t, privacy.Default())
	h.watchdog = NewWatchdog(WatchdogConfig{Clock: h.clock, Interval: time.Hour})
	h.factory.config.Watchdog = h.watchdog

	proxy := h.factory.NewProxy("")
	first := proxy.CurrentSession()
	first.UpdateServerConfiguration(configured(serverconfig.DefaultAttributes().WithSessionTimeout(30 * time.Second)))

	h.watchdog.Start(context.Background())
	defer h.watchdog.Shutdown()

	h.clock.WaitForTimers(1)
	if remaining, _ := h.clock.NextDeadline(); remaining != 30*time.Second {
		t.Fatalf("watchdog sleeps %v, want 30s", remaining)
	}
	h.clock.Advance(30 * time.Second)

	testutil.RequireEventually(t, func() bool {
		return proxy.CurrentSession() != first
	}, 5*time.Second, "idle session was not split by the running watchdog")
	if !first.IsFinished() {
		t.Fatal("idle session was not ended")
	}
}

func TestWatchdogShutdownEndsPendingSessions(t *testing.T) {
	h := newHarness(t, privacy.Default())
	_, first, _ := splitWithOpenAction(t, h)

	h.watchdog.Start(context.Background())
	h.watchdog.Shutdown()

	if !first.IsFinished() {
		t.Fatal("pending session not ended on shutdown")
	}
	if h.watchdog.PendingClose() != 0 {
		t.Fatal("sessions still pending after shutdown")
	}
}
