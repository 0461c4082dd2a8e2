// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package serverconfig

import "time"

// Configuration is the effective server configuration applied to a
// beacon. It is a value: every change produces a new Configuration.
type Configuration struct {
	CaptureEnabled        bool
	CrashReportingEnabled bool
	ErrorReportingEnabled bool
	Multiplicity          int
	ServerID              int
	BeaconSizeBytes       int
	SendInterval          time.Duration
	MaxSessionDuration    time.Duration
	MaxEventsPerSession   int
	SessionTimeout        time.Duration
	VisitStoreVersion     int

	// set records which fields the server actually sent. Fields
	// overridden locally (see WithCapture) keep their flag unchanged.
	set Attribute
}

// Default returns the configuration a beacon uses before the server
// has said anything.
func Default() Configuration {
	return FromAttributes(DefaultAttributes())
}

// FromAttributes derives the effective configuration from a response
// attribute set, carrying over its set flags.
func FromAttributes(a Attributes) Configuration {
	return Configuration{
		CaptureEnabled:        a.capture,
		CrashReportingEnabled: a.crashReporting,
		ErrorReportingEnabled: a.errorReporting,
		Multiplicity:          a.multiplicity,
		ServerID:              a.serverID,
		BeaconSizeBytes:       a.maxBeaconSizeBytes,
		SendInterval:          a.sendInterval,
		MaxSessionDuration:    a.maxSessionDuration,
		MaxEventsPerSession:   a.maxEventsPerSession,
		SessionTimeout:        a.sessionTimeout,
		VisitStoreVersion:     a.visitStoreVersion,
		set:                   a.set,
	}
}

// IsSet reports whether attribute was received from the server.
func (c Configuration) IsSet(attribute Attribute) bool { return c.set&attribute != 0 }

// SendingDataAllowed reports whether records may be captured and sent:
// capture must be on and the session must be sampled in.
func (c Configuration) SendingDataAllowed() bool {
	return c.CaptureEnabled && c.Multiplicity > 0
}

// SplitBySessionDurationEnabled reports whether sessions are split
// once they exceed MaxSessionDuration.
func (c Configuration) SplitBySessionDurationEnabled() bool {
	return c.IsSet(AttributeMaxSessionDuration) && c.MaxSessionDuration > 0
}

// SplitByEventsEnabled reports whether sessions are split after
// MaxEventsPerSession top-level actions.
func (c Configuration) SplitByEventsEnabled() bool {
	return c.IsSet(AttributeMaxEventsPerSession) && c.MaxEventsPerSession > 0
}

// SplitByIdleTimeoutEnabled reports whether sessions are split after
// SessionTimeout without interaction.
func (c Configuration) SplitByIdleTimeoutEnabled() bool {
	return c.IsSet(AttributeSessionTimeout) && c.SessionTimeout > 0
}

// Merge returns c overlaid with every field set on other.
func (c Configuration) Merge(other Configuration) Configuration {
	merged := c
	if other.IsSet(AttributeCapture) {
		merged.CaptureEnabled = other.CaptureEnabled
	}
	if other.IsSet(AttributeCrashReporting) {
		merged.CrashReportingEnabled = other.CrashReportingEnabled
	}
	if other.IsSet(AttributeErrorReporting) {
		merged.ErrorReportingEnabled = other.ErrorReportingEnabled
	}
	if other.IsSet(AttributeMultiplicity) {
		merged.Multiplicity = other.Multiplicity
	}
	if other.IsSet(AttributeServerID) {
		merged.ServerID = other.ServerID
	}
	if other.IsSet(AttributeMaxBeaconSize) {
		merged.BeaconSizeBytes = other.BeaconSizeBytes
	}
	if other.IsSet(AttributeSendInterval) {
		merged.SendInterval = other.SendInterval
	}
	if other.IsSet(AttributeMaxSessionDuration) {
		merged.MaxSessionDuration = other.MaxSessionDuration
	}
	if other.IsSet(AttributeMaxEventsPerSession) {
		merged.MaxEventsPerSession = other.MaxEventsPerSession
	}
	if other.IsSet(AttributeSessionTimeout) {
		merged.SessionTimeout = other.SessionTimeout
	}
	if other.IsSet(AttributeVisitStoreVersion) {
		merged.VisitStoreVersion = other.VisitStoreVersion
	}
	merged.set |= other.set
	return merged
}

// WithCapture returns a local override of the capture switch. The
// sending loop uses it to mute a session that exhausted its
// new-session budget, and to unmute unconfigured sessions before the
// final flush. The set flags are left alone: the server said nothing.
func (c Configuration) WithCapture(enabled bool) Configuration {
	c.CaptureEnabled = enabled
	if !enabled {
		c.Multiplicity = 0
	} else if c.Multiplicity <= 0 {
		c.Multiplicity = DefaultMultiplicity
	}
	return c
}
