// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/beacon/lib/beacon"
	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/privacy"
	"github.com/bureau-foundation/beacon/lib/recordcache"
	"github.com/bureau-foundation/beacon/lib/serverconfig"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	factory  *Factory
	cache    *recordcache.Cache
	clock    *clock.FakeClock
	watchdog *Watchdog

	mu         sync.Mutex
	registered []*Session
}

func newHarness(t *testing.T, settings privacy.Settings) *harness {
	t.Helper()
	h := &harness{
		cache: recordcache.New(),
		clock: clock.Fake(epoch),
	}
	h.watchdog = NewWatchdog(WatchdogConfig{Clock: h.clock})
	h.factory = NewFactory(FactoryConfig{
		Metadata: beacon.Metadata{
			ApplicationID: "app-1",
			AgentVersion:  "8.0",
			Technology:    "go",
			Privacy:       settings,
		},
		DeviceID: "17",
		Cache:    h.cache,
		Watchdog: h.watchdog,
		Register: func(s *Session) {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.registered = append(h.registered, s)
		},
		Clock: h.clock,
	})
	return h
}

func (h *harness) sessions() []*Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*Session(nil), h.registered...)
}

// records returns the cached records of s without consuming them.
func (h *harness) records(t *testing.T, s *Session) []url.Values {
	t.Helper()
	key := s.Beacon().Key()
	chunk := h.cache.NextChunk(key, "", 1<<30, "\n")
	h.cache.RollbackChunk(key)
	if chunk == "" {
		return nil
	}
	var decoded []url.Values
	for _, line := range strings.Split(chunk, "\n")[1:] {
		values, err := url.ParseQuery(line)
		if err != nil {
			t.Fatalf("record %q does not parse: %v", line, err)
		}
		decoded = append(decoded, values)
	}
	return decoded
}

// eventTypes returns the comma-joined "et" values cached for s.
func (h *harness) eventTypes(t *testing.T, s *Session) string {
	t.Helper()
	var types []string
	for _, record := range h.records(t, s) {
		types = append(types, record.Get("et"))
	}
	return strings.Join(types, ",")
}

func configured(attributes serverconfig.Attributes) serverconfig.Configuration {
	return serverconfig.FromAttributes(attributes)
}
