// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package beacon serializes the activity of one physical session into
// beacon records and ships them to a collector.
//
// A [Beacon] is owned by exactly one session. Every record operation
// checks two gates before writing anything: the session's server
// configuration must allow capture (capture on, multiplicity > 0), and
// the privacy settings must allow the record kind. Accepted records are
// percent-encoded key=value text appended to the shared
// [recordcache.Cache] under the beacon's session key.
//
// [Beacon.Send] drains that cache entry in chunks bounded by the
// server-advertised beacon size. Each chunk starts with the basic data
// identifying the application, device and session, followed by the
// transmission fields, and is committed only once the collector
// accepts it.
package beacon
