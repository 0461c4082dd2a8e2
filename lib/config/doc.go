// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the beacon
// agent.
//
// Configuration is loaded from a single file specified by either the
// BEACON_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks and no automatic file
// search.
//
// The endpoint and device fields accept ${VAR} and ${VAR:-default}
// expansion so one file can serve several collectors. No other
// environment variables override config values.
//
// Key exports:
//
//   - [Config] -- master struct with Application, Device, Privacy,
//     Cache and Sending sections
//   - [Default] -- returns a Config with development defaults
//   - [Load] and [LoadFile] -- the two entry points for loading
//   - [Config.Validate] -- reports every problem at once
package config
