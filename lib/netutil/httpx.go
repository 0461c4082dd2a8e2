// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil provides HTTP I/O utilities for the beacon transport
// and the mock collector.
//
// Response helpers bound every body read so a misbehaving collector or
// a runaway client cannot exhaust memory. Collector configuration
// responses are a few hundred bytes; beacon bodies are capped by the
// server-advertised beacon size, well under the request limit.
package netutil

import (
	"fmt"
	"io"
)

// MaxResponseSize bounds collector response body reads: 1 MB.
const MaxResponseSize int64 = 1 << 20

// MaxRequestSize bounds beacon request body reads on the collector
// side, after decompression: 16 MB.
const MaxRequestSize int64 = 16 << 20

// ReadResponse reads a response body up to MaxResponseSize bytes. A
// body exceeding the limit is an error rather than a silent
// truncation, because a truncated configuration would parse into
// wrong values.
func ReadResponse(body io.Reader) ([]byte, error) {
	return readLimited(body, MaxResponseSize)
}

// ReadRequest reads a request body up to MaxRequestSize bytes.
func ReadRequest(body io.Reader) ([]byte, error) {
	return readLimited(body, MaxRequestSize)
}

// ErrorBody reads an HTTP error response body and returns it as a
// string for diagnostic error messages. Read errors are ignored.
func ErrorBody(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 4096))
	return string(data)
}

func readLimited(body io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("body exceeds %d bytes", limit)
	}
	return data, nil
}
