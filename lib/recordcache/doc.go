// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package recordcache buffers serialized beacon records per session
// until the sending loop has transmitted them.
//
// Each session key owns two ordered lists. Application goroutines
// append to the pending list through [Cache.Add]. The sending loop
// calls [Cache.NextChunk], which moves whole records from pending into
// a holding list and returns them joined behind a prefix; after the
// transmission it either commits the chunk (the holding list is
// discarded) or rolls it back (the holding list is put back at the
// front of pending, order preserved). Until one of those happens,
// NextChunk keeps returning the same chunk instead of pulling more
// records, so a record is never in flight twice.
//
// The [Evictor] bounds memory on a ticker: records older than a
// maximum age are dropped first, then, if the cache holds more than an
// upper bound of records, the globally oldest are dropped until a lower
// bound is reached. Records in a holding list are in flight and are
// never evicted.
//
// Every method takes the cache mutex for the duration of one call only.
package recordcache
