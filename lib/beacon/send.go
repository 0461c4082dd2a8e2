// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package beacon

import (
	"context"
	"errors"

	"github.com/bureau-foundation/beacon/lib/transport"
)

// chunkReserve is kept free in every chunk for the transport's own
// framing, matching the collector's accounting of beacon size.
const chunkReserve = 1024

var errNoResponse = errors.New("beacon: sender returned neither response nor error")

// Sender delivers a serialized chunk. *transport.Client implements it.
type Sender interface {
	SendBeacon(ctx context.Context, clientIP string, body []byte, params transport.Parameters) (*transport.Response, error)
}

// Send transmits every cached record of this beacon, one chunk at a
// time. A chunk is committed when the collector accepts it and rolled
// back on any failure, after which Send stops and returns the failing
// response (nil with a transport error). Returns the last successful
// response, or nil when there was nothing to send.
func (b *Beacon) Send(ctx context.Context, sender Sender, params transport.Parameters) (*transport.Response, error) {
	var last *transport.Response
	for {
		maxSize := b.Configuration().BeaconSizeBytes - chunkReserve
		chunk := b.cache.NextChunk(b.key, b.chunkPrefix(b.clock.Now()), maxSize, "&")
		if chunk == "" {
			return last, nil
		}

		response, err := sender.SendBeacon(ctx, b.clientIP, []byte(chunk), params)
		if err == nil && response == nil {
			err = errNoResponse
		}
		if err != nil || response == nil || response.Erroneous() {
			b.cache.RollbackChunk(b.key)
			return response, err
		}
		b.cache.CommitChunk(b.key)
		last = response
	}
}
