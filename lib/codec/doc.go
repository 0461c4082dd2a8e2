// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR encoding configuration shared by the
// beacon tooling.
//
// The agent speaks the percent-encoded beacon format to collectors and
// JSON or key-value text for configuration responses. CBOR appears only
// on disk: the mock collector appends every received beacon to a
// capture file as a CBOR sequence, one item per request, and the dump
// mode reads the sequence back. Core Deterministic Encoding (RFC 8949
// §4.2) keeps capture files byte-stable across runs, so two captures of
// the same traffic can be compared with cmp(1).
//
//	encoder := codec.NewEncoder(file)
//	err := encoder.Encode(entry)
//
//	decoder := codec.NewDecoder(file)
//	for {
//		var entry Entry
//		if err := decoder.Decode(&entry); err == io.EOF { break }
//	}
//
// Types persisted through this package carry `cbor` struct tags.
package codec
