// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package serverconfig models what the collector tells the agent to do.
//
// Every status, new-session and beacon response may carry a set of
// [Attributes]: capture on/off, multiplicity, beacon size, send
// interval, and the three session-splitting policies. An attribute is
// "set" only when the server actually sent it. [Attributes.Merge] and
// [Configuration.Merge] overlay only the set fields of the argument, so
// a later response that omits a field never resets it to a default.
//
// [Configuration] is the effective view the rest of the agent reads:
// defaults filled in, durations as time.Duration, and derived predicates
// such as [Configuration.SendingDataAllowed] and the split-policy
// switches.
//
// [ParseResponse] accepts both body encodings the collector speaks: JSON
// (parsed through tidwall/jsonc so comments and trailing commas are
// tolerated) and the legacy "type=m&key=value" form.
package serverconfig
