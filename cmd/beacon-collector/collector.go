// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/codec"
	"github.com/bureau-foundation/beacon/lib/netutil"
)

// capturedBeacon is one beacon POST as written to the capture file.
type capturedBeacon struct {
	Received    time.Time `cbor:"received"`
	Application string    `cbor:"application"`
	ServerID    string    `cbor:"server_id,omitempty"`
	ClientIP    string    `cbor:"client_ip,omitempty"`
	Prefix      string    `cbor:"prefix"`
	Records     []string  `cbor:"records"`
}

// collectorConfig is the configuration served to agents.
type collectorConfig struct {
	Throttle       int64
	RetryAfter     time.Duration
	Multiplicity   int
	MaxEvents      int
	SessionTimeout time.Duration
	SendInterval   time.Duration
}

// collector serves the monitor endpoint. Status and new-session
// requests get a JSON configuration, beacon POSTs are appended to the
// capture writer as a CBOR sequence.
type collector struct {
	config collectorConfig
	clock  clock.Clock
	logger *slog.Logger

	requests atomic.Int64

	captureMu sync.Mutex
	capture   *codec.Encoder

	statuses    atomic.Uint64
	newSessions atomic.Uint64
	beacons     atomic.Uint64
}

func newCollector(config collectorConfig, capture io.Writer, clk clock.Clock, logger *slog.Logger) *collector {
	c := &collector{config: config, clock: clk, logger: logger}
	if capture != nil {
		c.capture = codec.NewEncoder(capture)
	}
	return c
}

func (c *collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if c.requests.Add(1) <= c.config.Throttle {
		seconds := int64(c.config.RetryAfter / time.Second)
		w.Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
		w.WriteHeader(http.StatusTooManyRequests)
		c.logger.Debug("throttled request", "method", r.Method, "retry_after", c.config.RetryAfter)
		return
	}

	query := r.URL.Query()
	if query.Get("type") != "m" {
		http.Error(w, "unsupported request type", http.StatusBadRequest)
		return
	}

	switch {
	case r.Method == http.MethodPost:
		c.handleBeacon(w, r)
	case r.Method == http.MethodGet:
		if query.Get("ns") == "1" {
			c.newSessions.Add(1)
		} else {
			c.statuses.Add(1)
		}
		c.writeConfiguration(w)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (c *collector) handleBeacon(w http.ResponseWriter, r *http.Request) {
	var body io.Reader = r.Body
	if r.Header.Get("Content-Encoding") == "gzip" {
		reader, err := gzip.NewReader(r.Body)
		if err != nil {
			http.Error(w, "invalid gzip body", http.StatusBadRequest)
			return
		}
		defer reader.Close()
		body = reader
	}
	data, err := netutil.ReadRequest(body)
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}

	query := r.URL.Query()
	prefix, records := splitRecords(string(data))
	captured := capturedBeacon{
		Received:    c.clock.Now().UTC(),
		Application: query.Get("app"),
		ServerID:    query.Get("srvid"),
		ClientIP:    r.Header.Get("X-Client-IP"),
		Prefix:      prefix,
		Records:     records,
	}
	if err := c.record(captured); err != nil {
		c.logger.Error("writing capture", "error", err)
		http.Error(w, "capture failed", http.StatusInternalServerError)
		return
	}
	c.beacons.Add(1)
	c.logger.Info("beacon received",
		"application", captured.Application,
		"client_ip", captured.ClientIP,
		"records", len(records),
	)
	w.WriteHeader(http.StatusOK)
}

func (c *collector) record(captured capturedBeacon) error {
	if c.capture == nil {
		return nil
	}
	c.captureMu.Lock()
	defer c.captureMu.Unlock()
	if err := c.capture.Encode(captured); err != nil {
		return fmt.Errorf("encoding beacon: %w", err)
	}
	return nil
}

// configurationResponse is the JSON body answering status and
// new-session requests.
type configurationResponse struct {
	AgentConfig struct {
		MaxEventsPerSession int `json:"maxEventsPerSession,omitempty"`
		SessionTimeoutSec   int `json:"sessionTimeoutSec,omitempty"`
		SendIntervalSec     int `json:"sendIntervalSec,omitempty"`
	} `json:"mobileAgentConfig"`
	AppConfig struct {
		Capture       int `json:"capture"`
		ReportCrashes int `json:"reportCrashes"`
		ReportErrors  int `json:"reportErrors"`
	} `json:"appConfig"`
	DynamicConfig struct {
		Multiplicity int `json:"multiplicity"`
		ServerID     int `json:"serverId"`
	} `json:"dynamicConfig"`
	Timestamp int64 `json:"timestamp"`
}

func (c *collector) writeConfiguration(w http.ResponseWriter) {
	var response configurationResponse
	response.AgentConfig.MaxEventsPerSession = c.config.MaxEvents
	response.AgentConfig.SessionTimeoutSec = int(c.config.SessionTimeout / time.Second)
	response.AgentConfig.SendIntervalSec = int(c.config.SendInterval / time.Second)
	response.AppConfig.Capture = 1
	response.AppConfig.ReportCrashes = 1
	response.AppConfig.ReportErrors = 1
	response.DynamicConfig.Multiplicity = c.config.Multiplicity
	response.DynamicConfig.ServerID = 1
	response.Timestamp = clock.UnixMillis(c.clock.Now())

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		c.logger.Warn("writing configuration", "error", err)
	}
}

// splitRecords separates the chunk prefix from the records. Every
// record starts with its event type pair.
func splitRecords(body string) (prefix string, records []string) {
	var current []string
	var prefixPairs []string
	for _, pair := range strings.Split(body, "&") {
		if strings.HasPrefix(pair, "et=") {
			if current != nil {
				records = append(records, strings.Join(current, "&"))
			}
			current = []string{pair}
			continue
		}
		if current == nil {
			prefixPairs = append(prefixPairs, pair)
		} else {
			current = append(current, pair)
		}
	}
	if current != nil {
		records = append(records, strings.Join(current, "&"))
	}
	return strings.Join(prefixPairs, "&"), records
}
