// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package beacon

import "time"

// ActionRecord describes a completed action.
type ActionRecord struct {
	ID            int32
	ParentID      int32
	Name          string
	StartTime     time.Time
	EndTime       time.Time
	StartSequence int32
	EndSequence   int32
}

// WebRequestRecord describes a completed traced web request. Negative
// byte counts and response codes mean "unknown" and are omitted.
type WebRequestRecord struct {
	ParentID      int32
	URL           string
	StartTime     time.Time
	EndTime       time.Time
	StartSequence int32
	EndSequence   int32
	BytesSent     int64
	BytesReceived int64
	ResponseCode  int64
}

// AddAction records a completed action.
func (b *Beacon) AddAction(action ActionRecord) {
	if !b.CaptureEnabled() || !b.metadata.Privacy.ActionReportingAllowed() {
		return
	}
	e := b.recordHeader(eventAction, action.Name)
	e.addInt(keyActionID, int64(action.ID))
	e.addInt(keyParentActionID, int64(action.ParentID))
	e.addInt(keyStartSequence, int64(action.StartSequence))
	e.addInt(keyStartTime, b.RelativeTime(action.StartTime))
	e.addInt(keyEndSequence, int64(action.EndSequence))
	e.addInt(keyEndTime, action.EndTime.Sub(action.StartTime).Milliseconds())
	b.cache.Add(b.key, action.StartTime, e.String())
}

// StartSession records the session start event.
func (b *Beacon) StartSession() {
	if !b.CaptureEnabled() || !b.metadata.Privacy.SessionReportingAllowed() {
		return
	}
	b.addEvent(eventSessionStart, "", 0, b.startTime)
}

// EndSession records the session end event.
func (b *Beacon) EndSession() {
	if !b.CaptureEnabled() || !b.metadata.Privacy.SessionReportingAllowed() {
		return
	}
	b.addEvent(eventSessionEnd, "", 0, b.clock.Now())
}

// ReportIntValue records an integer value under parentID.
func (b *Beacon) ReportIntValue(parentID int32, name string, value int64) {
	if !b.CaptureEnabled() || !b.metadata.Privacy.ValueReportingAllowed() {
		return
	}
	now := b.clock.Now()
	e := b.eventHeader(eventIntValue, name, parentID, now)
	e.addInt(keyValue, value)
	b.cache.Add(b.key, now, e.String())
}

// ReportDoubleValue records a floating-point value under parentID.
func (b *Beacon) ReportDoubleValue(parentID int32, name string, value float64) {
	if !b.CaptureEnabled() || !b.metadata.Privacy.ValueReportingAllowed() {
		return
	}
	now := b.clock.Now()
	e := b.eventHeader(eventDoubleValue, name, parentID, now)
	e.addFloat(keyValue, value)
	b.cache.Add(b.key, now, e.String())
}

// ReportStringValue records a string value under parentID. The value is
// truncated like a name; an empty value is omitted.
func (b *Beacon) ReportStringValue(parentID int32, name, value string) {
	if !b.CaptureEnabled() || !b.metadata.Privacy.ValueReportingAllowed() {
		return
	}
	now := b.clock.Now()
	e := b.eventHeader(eventStringValue, name, parentID, now)
	e.addIfPresent(keyValue, truncate(value, maxNameLength))
	b.cache.Add(b.key, now, e.String())
}

// ReportEvent records a named event under parentID.
func (b *Beacon) ReportEvent(parentID int32, name string) {
	if !b.CaptureEnabled() || !b.metadata.Privacy.EventReportingAllowed() {
		return
	}
	b.addEvent(eventNamedEvent, name, parentID, b.clock.Now())
}

// ReportError records an error with a numeric code. The server can
// switch error reporting off independently of capture.
func (b *Beacon) ReportError(parentID int32, name string, code int32, reason string) {
	if !b.CaptureEnabled() || !b.metadata.Privacy.ErrorReportingAllowed() {
		return
	}
	if !b.Configuration().ErrorReportingEnabled {
		return
	}
	now := b.clock.Now()
	e := b.eventHeader(eventError, name, parentID, now)
	e.addInt(keyErrorValue, int64(code))
	e.addIfPresent(keyReason, truncate(reason, maxReasonLength))
	b.cache.Add(b.key, now, e.String())
}

// ReportCrash records a crash. Crashes are reported only with opt-in
// consent and while the server allows crash reporting.
func (b *Beacon) ReportCrash(name, reason, stacktrace string) {
	if !b.CaptureEnabled() || !b.metadata.Privacy.CrashReportingAllowed() {
		return
	}
	if !b.Configuration().CrashReportingEnabled {
		return
	}
	now := b.clock.Now()
	e := b.eventHeader(eventCrash, name, 0, now)
	e.addIfPresent(keyReason, truncate(reason, maxReasonLength))
	e.addIfPresent(keyStacktrace, truncate(stacktrace, maxStacktraceLength))
	b.cache.Add(b.key, now, e.String())
}

// AddWebRequest records a completed traced web request.
func (b *Beacon) AddWebRequest(request WebRequestRecord) {
	if !b.CaptureEnabled() || !b.metadata.Privacy.WebRequestTracingAllowed() {
		return
	}
	e := b.recordHeader(eventWebRequest, request.URL)
	e.addInt(keyParentActionID, int64(request.ParentID))
	e.addInt(keyStartSequence, int64(request.StartSequence))
	e.addInt(keyStartTime, b.RelativeTime(request.StartTime))
	e.addInt(keyEndSequence, int64(request.EndSequence))
	e.addInt(keyEndTime, request.EndTime.Sub(request.StartTime).Milliseconds())
	e.addIfKnown(keyBytesSent, request.BytesSent)
	e.addIfKnown(keyBytesReceived, request.BytesReceived)
	e.addIfKnown(keyResponseCode, request.ResponseCode)
	b.cache.Add(b.key, request.StartTime, e.String())
}

// IdentifyUser tags the session with userTag. An empty tag clears the
// identification on the collector side.
func (b *Beacon) IdentifyUser(userTag string) {
	if !b.CaptureEnabled() || !b.metadata.Privacy.UserIdentificationAllowed() {
		return
	}
	b.addEvent(eventIdentifyUser, userTag, 0, b.clock.Now())
}

func (b *Beacon) addEvent(eventType int64, name string, parentID int32, at time.Time) {
	e := b.eventHeader(eventType, name, parentID, at)
	b.cache.Add(b.key, at, e.String())
}

// eventHeader writes the fields shared by point-in-time records.
func (b *Beacon) eventHeader(eventType int64, name string, parentID int32, at time.Time) *encoder {
	e := b.recordHeader(eventType, name)
	e.addInt(keyParentActionID, int64(parentID))
	e.addInt(keyStartSequence, int64(b.CreateSequenceNumber()))
	e.addInt(keyStartTime, b.RelativeTime(at))
	return e
}

func (b *Beacon) recordHeader(eventType int64, name string) *encoder {
	e := &encoder{}
	e.addInt(keyEventType, eventType)
	e.addIfPresent(keyName, truncate(name, maxNameLength))
	e.addInt(keyThreadID, int64(b.threadID))
	return e
}
