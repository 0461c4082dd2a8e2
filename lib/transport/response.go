// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/bureau-foundation/beacon/lib/serverconfig"
)

// DefaultRetryAfter is the pause applied on a 429 without a usable
// Retry-After header.
const DefaultRetryAfter = 10 * time.Minute

// Response is the outcome of one collector request.
type Response struct {
	// Code is the HTTP status code.
	Code int

	// Attributes holds the parsed configuration for successful
	// responses. Erroneous responses carry empty attributes.
	Attributes serverconfig.Attributes

	// RetryAfter is the server-requested pause. Meaningful only when
	// TooManyRequests is true.
	RetryAfter time.Duration
}

// Erroneous reports whether the request failed at the HTTP level.
func (r *Response) Erroneous() bool { return r.Code >= 400 }

// TooManyRequests reports whether the collector throttled the request.
func (r *Response) TooManyRequests() bool { return r.Code == http.StatusTooManyRequests }

// ParseRetryAfter converts a Retry-After header value in seconds into a
// duration. Missing, non-numeric, negative and unrepresentable values
// yield DefaultRetryAfter. HTTP-date values are not used by collectors and
// also fall back to the default.
func ParseRetryAfter(value string) time.Duration {
	if value == "" {
		return DefaultRetryAfter
	}
	seconds, err := strconv.ParseInt(value, 10, 64)
	if err != nil || seconds < 0 || seconds > math.MaxInt64/int64(time.Second) {
		return DefaultRetryAfter
	}
	return time.Duration(seconds) * time.Second
}
