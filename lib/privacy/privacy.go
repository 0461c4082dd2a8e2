// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package privacy holds the user-consent levels that gate what a beacon
// may record. The levels are sent to the collector with every beacon
// (keys "dl" and "cl"), so their numeric values are protocol constants.
package privacy

import "fmt"

// DataCollectionLevel controls how much behavioural data is captured.
type DataCollectionLevel uint8

const (
	// DataCollectionOff captures nothing beyond what crash reporting
	// allows.
	DataCollectionOff DataCollectionLevel = 0
	// DataCollectionPerformance captures anonymous performance data:
	// actions, errors and web requests, but no values, events or user
	// tags, and no stable device or session identity.
	DataCollectionPerformance DataCollectionLevel = 1
	// DataCollectionUserBehavior captures everything.
	DataCollectionUserBehavior DataCollectionLevel = 2
)

// String returns the configuration spelling of the level.
func (level DataCollectionLevel) String() string {
	switch level {
	case DataCollectionOff:
		return "off"
	case DataCollectionPerformance:
		return "performance"
	case DataCollectionUserBehavior:
		return "user_behavior"
	default:
		return fmt.Sprintf("unknown(%d)", level)
	}
}

// ParseDataCollectionLevel parses the configuration spelling.
func ParseDataCollectionLevel(name string) (DataCollectionLevel, error) {
	switch name {
	case "off":
		return DataCollectionOff, nil
	case "performance":
		return DataCollectionPerformance, nil
	case "user_behavior":
		return DataCollectionUserBehavior, nil
	default:
		return 0, fmt.Errorf("unknown data collection level: %q", name)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (level DataCollectionLevel) MarshalText() ([]byte, error) {
	return []byte(level.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (level *DataCollectionLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseDataCollectionLevel(string(text))
	if err != nil {
		return err
	}
	*level = parsed
	return nil
}

// CrashReportingLevel controls whether crashes are reported.
type CrashReportingLevel uint8

const (
	// CrashReportingOff never reports crashes.
	CrashReportingOff CrashReportingLevel = 0
	// CrashReportingOptOut means the user declined crash reporting.
	CrashReportingOptOut CrashReportingLevel = 1
	// CrashReportingOptIn means the user agreed to crash reporting.
	CrashReportingOptIn CrashReportingLevel = 2
)

// String returns the configuration spelling of the level.
func (level CrashReportingLevel) String() string {
	switch level {
	case CrashReportingOff:
		return "off"
	case CrashReportingOptOut:
		return "opt_out"
	case CrashReportingOptIn:
		return "opt_in"
	default:
		return fmt.Sprintf("unknown(%d)", level)
	}
}

// ParseCrashReportingLevel parses the configuration spelling.
func ParseCrashReportingLevel(name string) (CrashReportingLevel, error) {
	switch name {
	case "off":
		return CrashReportingOff, nil
	case "opt_out":
		return CrashReportingOptOut, nil
	case "opt_in":
		return CrashReportingOptIn, nil
	default:
		return 0, fmt.Errorf("unknown crash reporting level: %q", name)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (level CrashReportingLevel) MarshalText() ([]byte, error) {
	return []byte(level.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (level *CrashReportingLevel) UnmarshalText(text []byte) error {
	parsed, err := ParseCrashReportingLevel(string(text))
	if err != nil {
		return err
	}
	*level = parsed
	return nil
}

// Settings combines both levels and answers the per-record questions
// the beacon asks before serializing anything.
type Settings struct {
	DataCollection DataCollectionLevel
	CrashReporting CrashReportingLevel
}

// Default is the most permissive setting, used when the host
// application does not configure consent explicitly.
func Default() Settings {
	return Settings{
		DataCollection: DataCollectionUserBehavior,
		CrashReporting: CrashReportingOptIn,
	}
}

func (s Settings) DeviceIDSendingAllowed() bool {
	return s.DataCollection == DataCollectionUserBehavior
}

func (s Settings) SessionNumberReportingAllowed() bool {
	return s.DataCollection == DataCollectionUserBehavior
}

func (s Settings) WebRequestTracingAllowed() bool {
	return s.DataCollection != DataCollectionOff
}

func (s Settings) SessionReportingAllowed() bool {
	return s.DataCollection != DataCollectionOff
}

func (s Settings) ActionReportingAllowed() bool {
	return s.DataCollection != DataCollectionOff
}

func (s Settings) ValueReportingAllowed() bool {
	return s.DataCollection == DataCollectionUserBehavior
}

func (s Settings) EventReportingAllowed() bool {
	return s.DataCollection == DataCollectionUserBehavior
}

func (s Settings) ErrorReportingAllowed() bool {
	return s.DataCollection != DataCollectionOff
}

func (s Settings) CrashReportingAllowed() bool {
	return s.CrashReporting == CrashReportingOptIn
}

func (s Settings) UserIdentificationAllowed() bool {
	return s.DataCollection == DataCollectionUserBehavior
}
