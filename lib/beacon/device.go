// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package beacon

import (
	"encoding/binary"
	"math"
	"math/rand/v2"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

// ResolveDeviceID converts a configured device identifier into the
// numeric id sent on the wire. Decimal integers are used verbatim;
// any other non-empty string is hashed with BLAKE3 and reduced to a
// positive 63-bit value, so the same identifier always maps to the
// same id. An empty identifier yields a random id.
func ResolveDeviceID(configured string) int64 {
	configured = strings.TrimSpace(configured)
	if configured == "" {
		return RandomDeviceID()
	}
	if numeric, err := strconv.ParseInt(configured, 10, 64); err == nil {
		return numeric
	}
	digest := blake3.Sum256([]byte(configured))
	return int64(binary.BigEndian.Uint64(digest[:8]) & math.MaxInt64)
}

// RandomDeviceID returns a random positive 63-bit id. It replaces the
// configured id when privacy settings forbid sending it.
func RandomDeviceID() int64 {
	return rand.Int64N(math.MaxInt64) + 1
}
