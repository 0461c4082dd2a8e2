// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for the beacon
// packages.
//
// Worker tests drive time through a fake clock, so the only real
// wall-clock waits in the test suite are the hang-prevention timeouts
// in this package: [RequireReceive], [RequireClosed] and
// [RequireEventually]. A test that hits one of these timeouts has a
// bug, not a slow machine.
//
// All helpers call t.Fatalf on failure.
package testutil
