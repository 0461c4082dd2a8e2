// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package serverconfig

import "time"

// Attribute identifies one server-controlled field. Values are bit
// flags so a set of received attributes fits in one word.
type Attribute uint32

const (
	AttributeMaxBeaconSize Attribute = 1 << iota
	AttributeMaxSessionDuration
	AttributeMaxEventsPerSession
	AttributeSessionTimeout
	AttributeSendInterval
	AttributeVisitStoreVersion
	AttributeCapture
	AttributeCrashReporting
	AttributeErrorReporting
	AttributeApplicationID
	AttributeMultiplicity
	AttributeServerID
	AttributeStatus
	AttributeTimestamp
)

// Defaults applied to every attribute the server has not sent.
const (
	DefaultMaxBeaconSizeBytes = 150 * 1024
	DefaultSendInterval       = 120 * time.Second
	DefaultVisitStoreVersion  = 1
	DefaultMultiplicity       = 1
	DefaultServerID           = 1
)

// Attributes is the typed attribute set parsed from a server response.
// The zero value is not meaningful; start from [DefaultAttributes].
type Attributes struct {
	maxBeaconSizeBytes  int
	maxSessionDuration  time.Duration
	maxEventsPerSession int
	sessionTimeout      time.Duration
	sendInterval        time.Duration
	visitStoreVersion   int
	capture             bool
	crashReporting      bool
	errorReporting      bool
	applicationID       string
	multiplicity        int
	serverID            int
	status              string
	timestamp           int64

	set Attribute
}

// DefaultAttributes returns the defaults with nothing marked set.
func DefaultAttributes() Attributes {
	return Attributes{
		maxBeaconSizeBytes: DefaultMaxBeaconSizeBytes,
		sendInterval:       DefaultSendInterval,
		visitStoreVersion:  DefaultVisitStoreVersion,
		capture:            true,
		crashReporting:     true,
		errorReporting:     true,
		multiplicity:       DefaultMultiplicity,
		serverID:           DefaultServerID,
	}
}

// IsSet reports whether the server sent attribute.
func (a Attributes) IsSet(attribute Attribute) bool { return a.set&attribute != 0 }

func (a Attributes) MaxBeaconSizeBytes() int           { return a.maxBeaconSizeBytes }
func (a Attributes) MaxSessionDuration() time.Duration { return a.maxSessionDuration }
func (a Attributes) MaxEventsPerSession() int          { return a.maxEventsPerSession }
func (a Attributes) SessionTimeout() time.Duration     { return a.sessionTimeout }
func (a Attributes) SendInterval() time.Duration       { return a.sendInterval }
func (a Attributes) VisitStoreVersion() int            { return a.visitStoreVersion }
func (a Attributes) Capture() bool                     { return a.capture }
func (a Attributes) CrashReporting() bool              { return a.crashReporting }
func (a Attributes) ErrorReporting() bool              { return a.errorReporting }
func (a Attributes) ApplicationID() string             { return a.applicationID }
func (a Attributes) Multiplicity() int                 { return a.multiplicity }
func (a Attributes) ServerID() int                     { return a.serverID }
func (a Attributes) Status() string                    { return a.status }

// Timestamp is the configuration timestamp, echoed back to the server
// as the "cts" query parameter.
func (a Attributes) Timestamp() int64 { return a.timestamp }

// The With* setters return a copy with the field changed and marked
// set. Only response parsers and tests should call them: a set flag
// asserts that the server sent the value.

func (a Attributes) WithMaxBeaconSizeBytes(v int) Attributes {
	a.maxBeaconSizeBytes = v
	a.set |= AttributeMaxBeaconSize
	return a
}

func (a Attributes) WithMaxSessionDuration(v time.Duration) Attributes {
	a.maxSessionDuration = v
	a.set |= AttributeMaxSessionDuration
	return a
}

func (a Attributes) WithMaxEventsPerSession(v int) Attributes {
	a.maxEventsPerSession = v
	a.set |= AttributeMaxEventsPerSession
	return a
}

func (a Attributes) WithSessionTimeout(v time.Duration) Attributes {
	a.sessionTimeout = v
	a.set |= AttributeSessionTimeout
	return a
}

func (a Attributes) WithSendInterval(v time.Duration) Attributes {
	a.sendInterval = v
	a.set |= AttributeSendInterval
	return a
}

func (a Attributes) WithVisitStoreVersion(v int) Attributes {
	a.visitStoreVersion = v
	a.set |= AttributeVisitStoreVersion
	return a
}

func (a Attributes) WithCapture(v bool) Attributes {
	a.capture = v
	a.set |= AttributeCapture
	return a
}

func (a Attributes) WithCrashReporting(v bool) Attributes {
	a.crashReporting = v
	a.set |= AttributeCrashReporting
	return a
}

func (a Attributes) WithErrorReporting(v bool) Attributes {
	a.errorReporting = v
	a.set |= AttributeErrorReporting
	return a
}

func (a Attributes) WithApplicationID(v string) Attributes {
	a.applicationID = v
	a.set |= AttributeApplicationID
	return a
}

func (a Attributes) WithMultiplicity(v int) Attributes {
	a.multiplicity = v
	a.set |= AttributeMultiplicity
	return a
}

func (a Attributes) WithServerID(v int) Attributes {
	a.serverID = v
	a.set |= AttributeServerID
	return a
}

func (a Attributes) WithStatus(v string) Attributes {
	a.status = v
	a.set |= AttributeStatus
	return a
}

func (a Attributes) WithTimestamp(v int64) Attributes {
	a.timestamp = v
	a.set |= AttributeTimestamp
	return a
}

// Merge returns a copy of a overlaid with every attribute set on other.
// Attributes other did not receive keep a's value and a's set flag.
func (a Attributes) Merge(other Attributes) Attributes {
	merged := a
	if other.IsSet(AttributeMaxBeaconSize) {
		merged.maxBeaconSizeBytes = other.maxBeaconSizeBytes
	}
	if other.IsSet(AttributeMaxSessionDuration) {
		merged.maxSessionDuration = other.maxSessionDuration
	}
	if other.IsSet(AttributeMaxEventsPerSession) {
		merged.maxEventsPerSession = other.maxEventsPerSession
	}
	if other.IsSet(AttributeSessionTimeout) {
		merged.sessionTimeout = other.sessionTimeout
	}
	if other.IsSet(AttributeSendInterval) {
		merged.sendInterval = other.sendInterval
	}
	if other.IsSet(AttributeVisitStoreVersion) {
		merged.visitStoreVersion = other.visitStoreVersion
	}
	if other.IsSet(AttributeCapture) {
		merged.capture = other.capture
	}
	if other.IsSet(AttributeCrashReporting) {
		merged.crashReporting = other.crashReporting
	}
	if other.IsSet(AttributeErrorReporting) {
		merged.errorReporting = other.errorReporting
	}
	if other.IsSet(AttributeApplicationID) {
		merged.applicationID = other.applicationID
	}
	if other.IsSet(AttributeMultiplicity) {
		merged.multiplicity = other.multiplicity
	}
	if other.IsSet(AttributeServerID) {
		merged.serverID = other.serverID
	}
	if other.IsSet(AttributeStatus) {
		merged.status = other.status
	}
	if other.IsSet(AttributeTimestamp) {
		merged.timestamp = other.timestamp
	}
	merged.set |= other.set
	return merged
}
