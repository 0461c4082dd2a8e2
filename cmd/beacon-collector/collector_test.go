// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"slices"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/bureau-foundation/beacon/lib/agent"
	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/codec"
	"github.com/bureau-foundation/beacon/lib/config"
	"github.com/bureau-foundation/beacon/lib/serverconfig"
	"github.com/bureau-foundation/beacon/lib/transport"
)

var epoch = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// captured returns a copy of everything written to the capture log.
func captured(c *collector, buffer *bytes.Buffer) []byte {
	c.captureMu.Lock()
	defer c.captureMu.Unlock()
	return bytes.Clone(buffer.Bytes())
}

func gzipBody(t *testing.T, body string) *bytes.Buffer {
	t.Helper()
	var compressed bytes.Buffer
	writer := gzip.NewWriter(&compressed)
	if _, err := io.WriteString(writer, body); err != nil {
		t.Fatalf("compressing: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("compressing: %v", err)
	}
	return &compressed
}

func TestCollectorServesConfiguration(t *testing.T) {
	c := newCollector(collectorConfig{
		Multiplicity:   3,
		MaxEvents:      200,
		SessionTimeout: 30 * time.Second,
	}, nil, clock.Fake(epoch), discardLogger())

	recorder := httptest.NewRecorder()
	c.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/mbeacon?type=m&srvid=1&app=app-1&ns=1", nil))
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}

	attributes, err := serverconfig.ParseResponse(recorder.Body.Bytes())
	if err != nil {
		t.Fatalf("ParseResponse: %v", err)
	}
	if attributes.Multiplicity() != 3 {
		t.Errorf("multiplicity = %d, want 3", attributes.Multiplicity())
	}
	if attributes.MaxEventsPerSession() != 200 {
		t.Errorf("max events = %d, want 200", attributes.MaxEventsPerSession())
	}
	if attributes.SessionTimeout() != 30*time.Second {
		t.Errorf("session timeout = %v, want 30s", attributes.SessionTimeout())
	}
	if !attributes.Capture() {
		t.Error("capture should be on")
	}
	if attributes.Timestamp() != epoch.UnixMilli() {
		t.Errorf("timestamp = %d, want %d", attributes.Timestamp(), epoch.UnixMilli())
	}
	if c.newSessions.Load() != 1 || c.statuses.Load() != 0 {
		t.Errorf("new sessions = %d, statuses = %d, want 1 and 0", c.newSessions.Load(), c.statuses.Load())
	}
}

func TestCollectorRejectsUnknownType(t *testing.T) {
	c := newCollector(collectorConfig{Multiplicity: 1}, nil, clock.Fake(epoch), discardLogger())
	recorder := httptest.NewRecorder()
	c.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/mbeacon?type=x", nil))
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
}

func TestCollectorThrottles(t *testing.T) {
	c := newCollector(collectorConfig{
		Throttle:     2,
		RetryAfter:   45 * time.Second,
		Multiplicity: 1,
	}, nil, clock.Fake(epoch), discardLogger())

	var codes []int
	for range 3 {
		recorder := httptest.NewRecorder()
		c.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, "/mbeacon?type=m", nil))
		codes = append(codes, recorder.Code)
		if recorder.Code == http.StatusTooManyRequests {
			if got := transport.ParseRetryAfter(recorder.Header().Get("Retry-After")); got != 45*time.Second {
				t.Errorf("Retry-After = %v, want 45s", got)
			}
		}
	}
	if want := []int{429, 429, 200}; !slices.Equal(codes, want) {
		t.Fatalf("codes = %v, want %v", codes, want)
	}
}

func TestCollectorCapturesBeacons(t *testing.T) {
	var buffer bytes.Buffer
	c := newCollector(collectorConfig{Multiplicity: 1}, &buffer, clock.Fake(epoch), discardLogger())

	body := "vv=3&va=8.279.1.1002&ap=app-1&mp=1&et=18&it=1&et=1&na=a%26b&et=19"
	request := httptest.NewRequest(http.MethodPost, "/mbeacon?type=m&app=app-1&srvid=1", gzipBody(t, body))
	request.Header.Set("Content-Encoding", "gzip")
	request.Header.Set("X-Client-IP", "203.0.113.9")
	recorder := httptest.NewRecorder()
	c.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", recorder.Code)
	}

	var beacons []capturedBeacon
	err := codec.DecodeSequence(bytes.NewReader(buffer.Bytes()), func(_ int, beacon capturedBeacon) error {
		beacons = append(beacons, beacon)
		return nil
	})
	if err != nil {
		t.Fatalf("DecodeSequence: %v", err)
	}
	if len(beacons) != 1 {
		t.Fatalf("captured %d beacons, want 1", len(beacons))
	}
	beacon := beacons[0]
	if beacon.Application != "app-1" || beacon.ClientIP != "203.0.113.9" || beacon.ServerID != "1" {
		t.Errorf("beacon = %+v", beacon)
	}
	if !beacon.Received.Equal(epoch) {
		t.Errorf("received = %v, want %v", beacon.Received, epoch)
	}
	if beacon.Prefix != "vv=3&va=8.279.1.1002&ap=app-1&mp=1" {
		t.Errorf("prefix = %q", beacon.Prefix)
	}
	if want := []string{"et=18&it=1", "et=1&na=a%26b", "et=19"}; !slices.Equal(beacon.Records, want) {
		t.Errorf("records = %q, want %q", beacon.Records, want)
	}

	var dump strings.Builder
	if err := dumpCapture(bytes.NewReader(buffer.Bytes()), &dump); err != nil {
		t.Fatalf("dumpCapture: %v", err)
	}
	want := "0 2026-07-01T10:00:00Z app=app-1 client_ip=203.0.113.9 records=3 et=18,1,19\n"
	if dump.String() != want {
		t.Errorf("dump = %q, want %q", dump.String(), want)
	}
}

func TestCollectorRejectsCorruptGzip(t *testing.T) {
	c := newCollector(collectorConfig{Multiplicity: 1}, nil, clock.Fake(epoch), discardLogger())
	request := httptest.NewRequest(http.MethodPost, "/mbeacon?type=m", strings.NewReader("not gzip"))
	request.Header.Set("Content-Encoding", "gzip")
	recorder := httptest.NewRecorder()
	c.ServeHTTP(recorder, request)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", recorder.Code)
	}
	if c.beacons.Load() != 0 {
		t.Errorf("beacons = %d, want 0", c.beacons.Load())
	}
}

func TestSplitRecords(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		prefix  string
		records []string
	}{
		{"prefix only", "vv=3&ap=app", "vv=3&ap=app", nil},
		{"records only", "et=1&na=x&et=19", "", []string{"et=1&na=x", "et=19"}},
		{"mixed", "vv=3&et=18&pa=0", "vv=3", []string{"et=18&pa=0"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			prefix, records := splitRecords(test.body)
			if prefix != test.prefix {
				t.Errorf("prefix = %q, want %q", prefix, test.prefix)
			}
			if !slices.Equal(records, test.records) {
				t.Errorf("records = %q, want %q", records, test.records)
			}
		})
	}
}

func TestAgentRoundTrip(t *testing.T) {
	fake := clock.Fake(epoch)
	var buffer bytes.Buffer
	c := newCollector(collectorConfig{Multiplicity: 1}, &buffer, fake, discardLogger())
	server := httptest.NewServer(c)
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Endpoint = server.URL + "/mbeacon"
	cfg.Application.ID = "app-1"
	cfg.Device.ID = "7"
	beaconAgent, err := agent.New(agent.Options{Config: cfg, Clock: fake, Logger: discardLogger()})
	if err != nil {
		t.Fatalf("agent.New: %v", err)
	}
	beaconAgent.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if !beaconAgent.WaitForInit(ctx) {
		t.Fatal("agent initialization failed")
	}

	proxy := beaconAgent.CreateSession("198.51.100.4")
	action := proxy.EnterAction("checkout")
	action.ReportIntValue("items", 3)
	action.LeaveAction()
	proxy.End()
	beaconAgent.Shutdown()

	var dump strings.Builder
	if err := dumpCapture(bytes.NewReader(captured(c, &buffer)), &dump); err != nil {
		t.Fatalf("dumpCapture: %v", err)
	}
	want := "0 2026-07-01T10:00:00Z app=app-1 client_ip=198.51.100.4 records=4 et=18,12,1,19\n"
	if dump.String() != want {
		t.Errorf("dump = %q, want %q", dump.String(), want)
	}
	if c.statuses.Load() != 1 || c.newSessions.Load() != 1 {
		t.Errorf("statuses = %d, new sessions = %d, want 1 and 1", c.statuses.Load(), c.newSessions.Load())
	}
}

func TestDumpDiagnostic(t *testing.T) {
	var buffer bytes.Buffer
	encoder := codec.NewEncoder(&buffer)
	for _, application := range []string{"app-1", "app-2"} {
		if err := encoder.Encode(capturedBeacon{Received: epoch, Application: application, Records: []string{"et=19"}}); err != nil {
			t.Fatalf("Encode: %v", err)
		}
	}

	var dump strings.Builder
	if err := dumpDiagnostic(&buffer, &dump); err != nil {
		t.Fatalf("dumpDiagnostic: %v", err)
	}
	lines := strings.Split(strings.TrimSuffix(dump.String(), "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("dump has %d lines, want 2:\n%s", len(lines), dump.String())
	}
	for index, application := range []string{"app-1", "app-2"} {
		prefix := strconv.Itoa(index) + " {"
		if !strings.HasPrefix(lines[index], prefix) || !strings.Contains(lines[index], `"`+application+`"`) {
			t.Errorf("line %d = %q, want a map naming %s", index, lines[index], application)
		}
	}
}

func TestDumpDiagnosticTruncated(t *testing.T) {
	data, err := codec.Marshal(capturedBeacon{Application: "app-1"})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var dump strings.Builder
	if err := dumpDiagnostic(bytes.NewReader(data[:len(data)-2]), &dump); err == nil {
		t.Fatal("truncated capture diagnosed without error")
	}
}
