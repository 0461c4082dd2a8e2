// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package transport is the HTTP client the sending worker uses to talk
// to a beacon collector.
//
// Three request kinds share one endpoint and differ only in query
// parameters and method:
//
//   - status (GET): fetch the current server configuration
//   - new session (GET, ns=1): fetch configuration for one session,
//     including its sampling multiplicity
//   - beacon (POST): deliver a chunk of serialized records, gzip
//     compressed
//
// Every method returns a [Response] or an error. Callers treat an error
// exactly like an erroneous response: the request failed and nothing
// about the server configuration changed. A 429 response is never an
// error: it carries the server's Retry-After delay and callers must
// pause instead of retrying.
package transport
