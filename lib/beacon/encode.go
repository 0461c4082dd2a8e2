// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package beacon

import (
	"net/url"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Record keys.
const (
	keyEventType      = "et"
	keyName           = "na"
	keyThreadID       = "it"
	keyActionID       = "ca"
	keyParentActionID = "pa"
	keyStartSequence  = "s0"
	keyStartTime      = "t0"
	keyEndSequence    = "s1"
	keyEndTime        = "t1"
	keyValue          = "vl"
	keyErrorValue     = "ev"
	keyReason         = "rs"
	keyStacktrace     = "st"
	keyResponseCode   = "rc"
	keyBytesSent      = "bs"
	keyBytesReceived  = "br"
)

// Basic data keys, written once per chunk.
const (
	keyProtocolVersion     = "vv"
	keyAgentVersion        = "va"
	keyApplicationID       = "ap"
	keyApplicationName     = "an"
	keyApplicationVersion  = "vn"
	keyPlatformType        = "pt"
	keyAgentTechnology     = "tt"
	keyVisitorID           = "vi"
	keySessionNumber       = "sn"
	keyClientIP            = "ip"
	keyOperatingSystem     = "os"
	keyManufacturer        = "mf"
	keyModel               = "md"
	keyDataCollectionLevel = "dl"
	keyCrashReportingLevel = "cl"
)

// Transmission keys, rebuilt for every chunk.
const (
	keyMultiplicity     = "mp"
	keyVisitStore       = "vs"
	keySequenceNumber   = "ss"
	keyTransmissionTime = "tx"
	keySessionStartTime = "tv"
)

// Event types.
const (
	eventAction       = 1
	eventNamedEvent   = 10
	eventStringValue  = 11
	eventIntValue     = 12
	eventDoubleValue  = 13
	eventSessionStart = 18
	eventSessionEnd   = 19
	eventWebRequest   = 30
	eventError        = 40
	eventCrash        = 50
	eventIdentifyUser = 60
)

const (
	protocolVersion = 3
	platformType    = 1

	// maxNameLength bounds names and string values.
	maxNameLength = 250

	// maxReasonLength bounds error and crash reasons.
	maxReasonLength = 1000

	// maxStacktraceLength bounds crash stack traces.
	maxStacktraceLength = 128_000
)

// encoder builds one key=value&key=value record.
type encoder struct {
	builder strings.Builder
}

func (e *encoder) add(key, value string) {
	if e.builder.Len() > 0 {
		e.builder.WriteByte('&')
	}
	e.builder.WriteString(key)
	e.builder.WriteByte('=')
	e.builder.WriteString(percentEncode(value))
}

// addIfPresent skips empty values: absent optional fields are omitted.
func (e *encoder) addIfPresent(key, value string) {
	if value != "" {
		e.add(key, value)
	}
}

func (e *encoder) addInt(key string, value int64) {
	e.add(key, strconv.FormatInt(value, 10))
}

// addIfKnown skips negative values, which mean "not measured".
func (e *encoder) addIfKnown(key string, value int64) {
	if value >= 0 {
		e.addInt(key, value)
	}
}

func (e *encoder) addFloat(key string, value float64) {
	e.add(key, strconv.FormatFloat(value, 'g', -1, 64))
}

func (e *encoder) String() string { return e.builder.String() }

// percentEncode escapes everything outside the RFC 3986 unreserved set.
// Spaces become %20, not '+', because collectors decode records as
// URI components rather than form values.
func percentEncode(value string) string {
	return strings.ReplaceAll(url.QueryEscape(value), "+", "%20")
}

// truncate trims surrounding whitespace and cuts value to at most
// limit runes.
func truncate(value string, limit int) string {
	value = strings.TrimSpace(value)
	if utf8.RuneCountInString(value) <= limit {
		return value
	}
	count := 0
	for index := range value {
		if count == limit {
			return value[:index]
		}
		count++
	}
	return value
}
