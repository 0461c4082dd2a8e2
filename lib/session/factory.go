// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"log/slog"
	"sync/atomic"

	"github.com/bureau-foundation/beacon/lib/beacon"
	"github.com/bureau-foundation/beacon/lib/clock"
	"github.com/bureau-foundation/beacon/lib/recordcache"
	"github.com/bureau-foundation/beacon/lib/serverconfig"
)

// FactoryConfig holds the agent-wide inputs shared by every session.
type FactoryConfig struct {
	Metadata beacon.Metadata

	// DeviceID is the configured device identifier (see
	// beacon.ResolveDeviceID). Ignored when privacy settings forbid
	// sending it.
	DeviceID string

	// Cache receives every session's records. Required.
	Cache *recordcache.Cache

	// Watchdog closes split-off sessions and drives time-based
	// splits. Required.
	Watchdog *Watchdog

	// Register hands each new physical session to the sending worker.
	// Required.
	Register func(*Session)

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Factory creates proxies. One Factory serves one agent.
type Factory struct {
	config        FactoryConfig
	deviceID      int64
	nextSessionID atomic.Int32
}

// NewFactory creates a Factory. Panics on missing required fields.
func NewFactory(config FactoryConfig) *Factory {
	if config.Cache == nil {
		panic("session: nil record cache")
	}
	if config.Watchdog == nil {
		panic("session: nil watchdog")
	}
	if config.Register == nil {
		panic("session: nil register function")
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Factory{
		config:   config,
		deviceID: beacon.ResolveDeviceID(config.DeviceID),
	}
}

// NewProxy creates a logical session for a client and opens its first
// physical session.
func (f *Factory) NewProxy(clientIP string) *Proxy {
	return newProxy(f, f.newCreator(clientIP))
}

// creator builds the physical sessions of one proxy. Every session it
// creates shares the session id, session number and device id; the
// sequence number counts splits.
type creator struct {
	factory        *Factory
	clientIP       string
	sessionID      int32
	sessionNumber  int32
	deviceID       int64
	sequenceNumber int32
}

func (f *Factory) newCreator(clientIP string) *creator {
	settings := f.config.Metadata.Privacy

	sessionID := f.nextSessionID.Add(1)
	sessionNumber := int32(1)
	if settings.SessionNumberReportingAllowed() {
		sessionNumber = sessionID
	}
	deviceID := f.deviceID
	if !settings.DeviceIDSendingAllowed() {
		deviceID = beacon.RandomDeviceID()
	}
	return &creator{
		factory:       f,
		clientIP:      clientIP,
		sessionID:     sessionID,
		sessionNumber: sessionNumber,
		deviceID:      deviceID,
	}
}

func (c *creator) createSession(onConfigurationUpdate func(serverconfig.Configuration)) *Session {
	config := c.factory.config
	b := beacon.New(beacon.Options{
		Metadata:       config.Metadata,
		Cache:          config.Cache,
		Clock:          config.Clock,
		SessionID:      c.sessionID,
		SessionNumber:  c.sessionNumber,
		SequenceNumber: c.sequenceNumber,
		DeviceID:       c.deviceID,
		ClientIP:       c.clientIP,
	})
	c.sequenceNumber++
	return newSession(b, config.Clock, config.Logger, onConfigurationUpdate)
}
