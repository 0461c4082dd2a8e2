// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package serverconfig

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
)

// ErrMalformedResponse is returned (wrapped) for response bodies that
// are neither valid JSON nor a key-value "type=m" body.
var ErrMalformedResponse = errors.New("malformed server response")

// keyValuePrefix starts every legacy key-value response body.
const keyValuePrefix = "type=m"

// ParseResponse parses a response body into attributes layered over
// the defaults. An empty body yields the defaults with nothing set:
// beacon responses frequently carry no configuration at all.
func ParseResponse(body []byte) (Attributes, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return DefaultAttributes(), nil
	}
	if bytes.HasPrefix(trimmed, []byte(keyValuePrefix)) {
		return parseKeyValue(string(trimmed))
	}
	return parseJSON(trimmed)
}

// jsonResponse mirrors the JSON body. Pointer fields distinguish
// "absent" from "zero" so only received values are marked set.
type jsonResponse struct {
	AgentConfig *struct {
		MaxBeaconSizeKb        *int `json:"maxBeaconSizeKb"`
		MaxSessionDurationMins *int `json:"maxSessionDurationMins"`
		MaxEventsPerSession    *int `json:"maxEventsPerSession"`
		SessionTimeoutSec      *int `json:"sessionTimeoutSec"`
		SendIntervalSec        *int `json:"sendIntervalSec"`
		VisitStoreVersion      *int `json:"visitStoreVersion"`
	} `json:"mobileAgentConfig"`
	AppConfig *struct {
		Capture       *int    `json:"capture"`
		ReportCrashes *int    `json:"reportCrashes"`
		ReportErrors  *int    `json:"reportErrors"`
		ApplicationID *string `json:"applicationId"`
	} `json:"appConfig"`
	DynamicConfig *struct {
		Multiplicity *int    `json:"multiplicity"`
		ServerID     *int    `json:"serverId"`
		Status       *string `json:"status"`
	} `json:"dynamicConfig"`
	Timestamp *int64 `json:"timestamp"`
}

func parseJSON(body []byte) (Attributes, error) {
	var response jsonResponse
	if err := json.Unmarshal(jsonc.ToJSON(body), &response); err != nil {
		return Attributes{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	attributes := DefaultAttributes()
	if agent := response.AgentConfig; agent != nil {
		if agent.MaxBeaconSizeKb != nil {
			attributes = attributes.WithMaxBeaconSizeBytes(*agent.MaxBeaconSizeKb * 1024)
		}
		if agent.MaxSessionDurationMins != nil {
			attributes = attributes.WithMaxSessionDuration(time.Duration(*agent.MaxSessionDurationMins) * time.Minute)
		}
		if agent.MaxEventsPerSession != nil {
			attributes = attributes.WithMaxEventsPerSession(*agent.MaxEventsPerSession)
		}
		if agent.SessionTimeoutSec != nil {
			attributes = attributes.WithSessionTimeout(time.Duration(*agent.SessionTimeoutSec) * time.Second)
		}
		if agent.SendIntervalSec != nil {
			attributes = attributes.WithSendInterval(time.Duration(*agent.SendIntervalSec) * time.Second)
		}
		if agent.VisitStoreVersion != nil {
			attributes = attributes.WithVisitStoreVersion(*agent.VisitStoreVersion)
		}
	}
	if app := response.AppConfig; app != nil {
		if app.Capture != nil {
			attributes = attributes.WithCapture(*app.Capture == 1)
		}
		if app.ReportCrashes != nil {
			attributes = attributes.WithCrashReporting(*app.ReportCrashes != 0)
		}
		if app.ReportErrors != nil {
			attributes = attributes.WithErrorReporting(*app.ReportErrors != 0)
		}
		if app.ApplicationID != nil {
			attributes = attributes.WithApplicationID(*app.ApplicationID)
		}
	}
	if dynamic := response.DynamicConfig; dynamic != nil {
		if dynamic.Multiplicity != nil {
			attributes = attributes.WithMultiplicity(*dynamic.Multiplicity)
		}
		if dynamic.ServerID != nil {
			attributes = attributes.WithServerID(*dynamic.ServerID)
		}
		if dynamic.Status != nil {
			attributes = attributes.WithStatus(*dynamic.Status)
		}
	}
	if response.Timestamp != nil {
		attributes = attributes.WithTimestamp(*response.Timestamp)
	}
	return attributes, nil
}

// parseKeyValue handles "type=m&cp=1&si=120&bl=30&id=5&mp=1&cr=1&er=1".
// Unknown keys are ignored for forward compatibility.
func parseKeyValue(body string) (Attributes, error) {
	attributes := DefaultAttributes()
	for _, pair := range strings.Split(body, "&") {
		if pair == "" {
			continue
		}
		key, value, found := strings.Cut(pair, "=")
		if !found {
			return Attributes{}, fmt.Errorf("%w: key-value pair %q has no value", ErrMalformedResponse, pair)
		}
		if key == "type" {
			continue
		}
		number, err := strconv.Atoi(value)
		if err != nil {
			return Attributes{}, fmt.Errorf("%w: %s=%q is not an integer", ErrMalformedResponse, key, value)
		}
		switch key {
		case "cp":
			attributes = attributes.WithCapture(number == 1)
		case "cr":
			attributes = attributes.WithCrashReporting(number != 0)
		case "er":
			attributes = attributes.WithErrorReporting(number != 0)
		case "si":
			attributes = attributes.WithSendInterval(time.Duration(number) * time.Second)
		case "bl":
			attributes = attributes.WithMaxBeaconSizeBytes(number * 1024)
		case "id":
			attributes = attributes.WithServerID(number)
		case "mp":
			attributes = attributes.WithMultiplicity(number)
		}
	}
	return attributes, nil
}
