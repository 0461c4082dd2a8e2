// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"strings"
	"testing"
	"time"

	"github.com/bureau-foundation/beacon/lib/privacy"
	"github.com/bureau-foundation/beacon/lib/serverconfig"
)

func TestSessionRecordsStartEvent(t *testing.T) {
	h := newHarness(t, privacy.Default())
	proxy := h.factory.NewProxy("192.0.2.1")

	sessions := h.sessions()
	if len(sessions) != 1 || sessions[0] != proxy.CurrentSession() {
		t.Fatalf("registered %d sessions, want the current one", len(sessions))
	}
	if got := h.eventTypes(t, sessions[0]); got != "18" {
		t.Fatalf("event types = %q, want 18", got)
	}
}

func TestLeaveActionClosesChildren(t *testing.T) {
	h := newHarness(t, privacy.Default())
	s := h.factory.NewProxy("").CurrentSession()

	parent := s.EnterAction("parent")
	child := parent.EnterAction("child")
	tracer := child.TraceWebRequest("https://example.com/cart?id=7#top")
	h.clock.Advance(250 * time.Millisecond)

	if got := parent.LeaveAction(); !got.IsClosed() {
		t.Fatal("leaving a top-level action returned an open parent")
	}
	if !child.IsClosed() || !tracer.IsClosed() {
		t.Fatal("children still open after the parent was left")
	}

	records := h.records(t, s)
	if len(records) != 4 {
		t.Fatalf("got %d records, want start, web request, child and parent", len(records))
	}
	request, childRecord, parentRecord := records[1], records[2], records[3]
	if request.Get("et") != "30" || request.Get("na") != "https://example.com/cart" {
		t.Errorf("web request record = %v", request)
	}
	if request.Get("rc") != "" {
		t.Errorf("force-stopped tracer has response code %q", request.Get("rc"))
	}
	if request.Get("pa") != childRecord.Get("ca") {
		t.Errorf("web request parent %q, want child action %q", request.Get("pa"), childRecord.Get("ca"))
	}
	if childRecord.Get("na") != "child" || childRecord.Get("pa") != parentRecord.Get("ca") {
		t.Errorf("child record = %v", childRecord)
	}
	if parentRecord.Get("pa") != "0" || parentRecord.Get("t1") != "250" {
		t.Errorf("parent record = %v", parentRecord)
	}
}

func TestLeaveChildReturnsParent(t *testing.T) {
	h := newHarness(t, privacy.Default())
	s := h.factory.NewProxy("").CurrentSession()

	parent := s.EnterAction("parent")
	child := parent.EnterAction("child")
	back := child.LeaveAction()
	if back.IsClosed() || back.ID() != parent.ID() {
		t.Fatalf("LeaveAction returned %d, want parent %d", back.ID(), parent.ID())
	}
	if parent.IsClosed() {
		t.Fatal("parent closed by leaving its child")
	}
}

func TestCancelActionDiscards(t *testing.T) {
	h := newHarness(t, privacy.Default())
	s := h.factory.NewProxy("").CurrentSession()

	action := s.EnterAction("abandoned")
	child := action.EnterAction("inner")
	child.ReportEvent("kept")
	action.CancelAction()

	if !action.IsClosed() || !child.IsClosed() {
		t.Fatal("cancelled actions still open")
	}
	// The event was recorded while the action was open; only the
	// action records themselves are discarded.
	if got := h.eventTypes(t, s); got != "18,10" {
		t.Fatalf("event types = %q, want 18,10", got)
	}
}

func TestClosedHandlesAreInert(t *testing.T) {
	h := newHarness(t, privacy.Default())
	s := h.factory.NewProxy("").CurrentSession()

	action := s.EnterAction("once")
	action.LeaveAction()
	action.ReportEvent("late")
	action.ReportIntValue("late", 1)
	action.LeaveAction()
	if !action.EnterAction("late").IsClosed() {
		t.Fatal("closed action opened a child")
	}
	if action.ID() != 0 {
		t.Fatalf("closed action ID = %d, want 0", action.ID())
	}

	var zero Action
	zero.ReportEvent("nothing")
	if !zero.IsClosed() {
		t.Fatal("zero Action is open")
	}
	var tracer WebRequestTracer
	tracer.SetBytesSent(10).Stop(200)
	if tracer.Tag() != "" {
		t.Fatal("zero tracer has a tag")
	}

	if got := h.eventTypes(t, s); got != "18,1" {
		t.Fatalf("event types = %q, want 18,1", got)
	}
}

func TestWebRequestTracer(t *testing.T) {
	h := newHarness(t, privacy.Default())
	s := h.factory.NewProxy("").CurrentSession()

	tracer := s.TraceWebRequest("https://example.com/api")
	if tag := tracer.Tag(); !strings.HasPrefix(tag, "MT_3_1_17_") {
		t.Fatalf("tag = %q, want MT_3_1_17_ prefix", tag)
	}
	h.clock.Advance(time.Second)
	tracer.Start().SetBytesSent(12).SetBytesReceived(340)
	h.clock.Advance(80 * time.Millisecond)
	tracer.Stop(201)
	if !tracer.IsClosed() {
		t.Fatal("tracer open after Stop")
	}

	records := h.records(t, s)
	if len(records) != 2 {
		t.Fatalf("got %d records, want 2", len(records))
	}
	request := records[1]
	want := map[string]string{"et": "30", "pa": "0", "t0": "1000", "t1": "80", "bs": "12", "br": "340", "rc": "201"}
	for key, value := range want {
		if got := request.Get(key); got != value {
			t.Errorf("%s = %q, want %q", key, got, value)
		}
	}
}

func TestWebRequestTagEmptyWithoutTracingConsent(t *testing.T) {
	h := newHarness(t, privacy.Settings{
		DataCollection: privacy.DataCollectionOff,
		CrashReporting: privacy.CrashReportingOff,
	})
	tracer := h.factory.NewProxy("").CurrentSession().TraceWebRequest("https://example.com")
	if tag := tracer.Tag(); tag != "" {
		t.Fatalf("tag = %q, want empty", tag)
	}
}

func TestTryEndWaitsForChildren(t *testing.T) {
	h := newHarness(t, privacy.Default())
	s := h.factory.NewProxy("").CurrentSession()

	action := s.EnterAction("busy")
	if s.TryEnd() {
		t.Fatal("TryEnd succeeded with an open action")
	}
	if s.IsFinished() {
		t.Fatal("session finished with an open action")
	}
	action.LeaveAction()
	if !s.IsFinished() {
		t.Fatal("session did not end after its last child closed")
	}
	if got := h.eventTypes(t, s); got != "18,1,19" {
		t.Fatalf("event types = %q, want 18,1,19", got)
	}
	if !s.TryEnd() {
		t.Fatal("TryEnd on a finished session reported false")
	}
}

func TestEndClosesChildrenOnce(t *testing.T) {
	h := newHarness(t, privacy.Default())
	s := h.factory.NewProxy("").CurrentSession()

	s.EnterAction("a").EnterAction("b")
	s.TryEnd()
	s.End(true)
	s.End(true)

	if got := h.eventTypes(t, s); got != "18,1,1,19" {
		t.Fatalf("event types = %q, want 18,1,1,19", got)
	}
	if !s.EnterAction("late").IsClosed() {
		t.Fatal("finished session opened an action")
	}
}

func TestCloseSkipsEndEvent(t *testing.T) {
	h := newHarness(t, privacy.Default())
	s := h.factory.NewProxy("").CurrentSession()
	s.Close()
	if !s.IsFinished() {
		t.Fatal("Close did not finish the session")
	}
	if got := h.eventTypes(t, s); got != "18" {
		t.Fatalf("event types = %q, want 18", got)
	}
}

func TestNewSessionRequestBudget(t *testing.T) {
	h := newHarness(t, privacy.Default())
	s := h.factory.NewProxy("").CurrentSession()
	for range MaxNewSessionRequests {
		if !s.CanSendNewSessionRequest() {
			t.Fatal("budget exhausted early")
		}
		s.DecreaseNewSessionRequests()
	}
	if s.CanSendNewSessionRequest() {
		t.Fatal("budget not exhausted")
	}
	s.DecreaseNewSessionRequests()
	if s.CanSendNewSessionRequest() {
		t.Fatal("budget went negative and recovered")
	}
}

func TestDataSendingAllowed(t *testing.T) {
	h := newHarness(t, privacy.Default())
	s := h.factory.NewProxy("").CurrentSession()
	if s.IsDataSendingAllowed() {
		t.Fatal("unconfigured session allowed to send")
	}
	s.UpdateServerConfiguration(configured(serverconfig.DefaultAttributes().WithCapture(true)))
	if !s.IsDataSendingAllowed() {
		t.Fatal("configured session with capture on not allowed to send")
	}
	s.DisableCapture()
	if s.IsDataSendingAllowed() || !s.IsConfigured() {
		t.Fatal("DisableCapture did not mute the session, or dropped its configured flag")
	}
	s.EnableCapture()
	if !s.IsDataSendingAllowed() {
		t.Fatal("EnableCapture did not unmute the session")
	}
}

func TestClearCapturedData(t *testing.T) {
	h := newHarness(t, privacy.Default())
	s := h.factory.NewProxy("").CurrentSession()
	s.ReportEvent("x")
	if s.IsEmpty() {
		t.Fatal("session empty after recording")
	}
	s.ClearCapturedData()
	if !s.IsEmpty() {
		t.Fatal("session not empty after clearing")
	}
}

func TestSessionNumbersFollowPrivacy(t *testing.T) {
	h := newHarness(t, privacy.Default())
	first := h.factory.NewProxy("").CurrentSession().Beacon()
	second := h.factory.NewProxy("").CurrentSession().Beacon()
	if first.SessionNumber() == second.SessionNumber() {
		t.Fatal("two proxies share a session number")
	}
	if first.DeviceID() != 17 || second.DeviceID() != 17 {
		t.Fatalf("device ids %d, %d; want the configured 17", first.DeviceID(), second.DeviceID())
	}

	restricted := newHarness(t, privacy.Settings{
		DataCollection: privacy.DataCollectionPerformance,
		CrashReporting: privacy.CrashReportingOptIn,
	})
	b := restricted.factory.NewProxy("").CurrentSession().Beacon()
	if b.SessionNumber() != 1 {
		t.Fatalf("session number = %d, want 1", b.SessionNumber())
	}
	if b.DeviceID() == 17 {
		t.Fatal("configured device id sent without consent")
	}
}

func TestRestrictedSessionsKeepSeparateRecords(t *testing.T) {
	h := newHarness(t, privacy.Settings{
		DataCollection: privacy.DataCollectionPerformance,
		CrashReporting: privacy.CrashReportingOptIn,
	})
	a := h.factory.NewProxy("")
	b := h.factory.NewProxy("")
	sessionA, sessionB := a.CurrentSession(), b.CurrentSession()

	if sessionA.Beacon().SessionNumber() != 1 || sessionB.Beacon().SessionNumber() != 1 {
		t.Fatalf("session numbers %d, %d; want 1 for both", sessionA.Beacon().SessionNumber(), sessionB.Beacon().SessionNumber())
	}
	if sessionA.Beacon().Key() == sessionB.Beacon().Key() {
		t.Fatalf("both sessions use cache key %s", sessionA.Beacon().Key())
	}

	b.EnterAction("pay").LeaveAction()
	a.End()
	sessionA.ClearCapturedData()

	if !sessionA.IsEmpty() {
		t.Fatal("cleared session still has records")
	}
	if got := h.eventTypes(t, sessionB); got != "18,1" {
		t.Fatalf("second session records = %q, want 18,1", got)
	}
}
