// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/beacon/lib/privacy"
)

// EnvironmentVariable names the variable [Load] reads the config path
// from.
const EnvironmentVariable = "BEACON_CONFIG"

// ErrNoConfig is returned by [Load] when BEACON_CONFIG is unset.
var ErrNoConfig = errors.New(EnvironmentVariable + " environment variable not set")

// Config is the master configuration for a beacon agent.
type Config struct {
	// Endpoint is the collector URL that status, new-session and
	// beacon requests are sent to.
	Endpoint string `yaml:"endpoint"`

	// Application identifies the monitored application.
	Application ApplicationConfig `yaml:"application"`

	// Device describes the host. Only ID influences the wire format
	// beyond the basic data fields.
	Device DeviceConfig `yaml:"device"`

	// Privacy sets the data collection and crash reporting levels.
	Privacy PrivacyConfig `yaml:"privacy"`

	// Cache bounds the record cache.
	Cache CacheConfig `yaml:"cache"`

	// Sending configures the sending worker.
	Sending SendingConfig `yaml:"sending"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
}

// ApplicationConfig identifies the monitored application.
type ApplicationConfig struct {
	// ID is the application id assigned by the collector.
	ID string `yaml:"id"`

	// Name is the human-readable application name (wire key "an").
	Name string `yaml:"name"`

	// Version is the application version (wire key "vn").
	Version string `yaml:"version"`

	// Technology is the agent technology type sent as "tt".
	// Default: go
	Technology string `yaml:"technology"`
}

// DeviceConfig describes the host device.
type DeviceConfig struct {
	// ID is the device identifier. Numeric IDs are sent verbatim;
	// other strings are hashed. Empty means a random id per agent.
	ID string `yaml:"id"`

	OperatingSystem string `yaml:"os"`
	Manufacturer    string `yaml:"manufacturer"`
	Model           string `yaml:"model"`
}

// PrivacyConfig sets the privacy levels.
type PrivacyConfig struct {
	// DataCollection is off, performance or user_behavior.
	DataCollection privacy.DataCollectionLevel `yaml:"data_collection"`

	// CrashReporting is off, opt_out or opt_in.
	CrashReporting privacy.CrashReportingLevel `yaml:"crash_reporting"`
}

// Settings returns the privacy settings for the beacon layer.
func (p PrivacyConfig) Settings() privacy.Settings {
	return privacy.Settings{DataCollection: p.DataCollection, CrashReporting: p.CrashReporting}
}

// CacheConfig bounds the record cache.
type CacheConfig struct {
	// MaxRecordAge is the longest a record may wait. Negative
	// disables age eviction.
	// Default: 1h45m
	MaxRecordAge time.Duration `yaml:"max_record_age"`

	// LowerBound is the record count size eviction shrinks to.
	// Default: 80000
	LowerBound int `yaml:"lower_bound"`

	// UpperBound is the record count that triggers size eviction.
	// Zero disables size eviction.
	// Default: 100000
	UpperBound int `yaml:"upper_bound"`

	// EvictionInterval is how often the evictor runs.
	// Default: 1m
	EvictionInterval time.Duration `yaml:"eviction_interval"`
}

// SendingConfig configures the sending worker.
type SendingConfig struct {
	// ShutdownTimeout bounds how long Shutdown waits for the final
	// flush.
	// Default: 10s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// RequestTimeout bounds each HTTP request.
	// Default: 30s
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// Default returns the default configuration. The endpoint and
// application id have no default: the file must name them.
func Default() *Config {
	return &Config{
		Application: ApplicationConfig{
			Technology: "go",
		},
		Privacy: PrivacyConfig{
			DataCollection: privacy.DataCollectionUserBehavior,
			CrashReporting: privacy.CrashReportingOptIn,
		},
		Cache: CacheConfig{
			MaxRecordAge:     105 * time.Minute,
			LowerBound:       80_000,
			UpperBound:       100_000,
			EvictionInterval: time.Minute,
		},
		Sending: SendingConfig{
			ShutdownTimeout: 10 * time.Second,
			RequestTimeout:  30 * time.Second,
		},
		LogLevel: "info",
	}
}

// Load loads configuration from the BEACON_CONFIG environment
// variable. There are no fallbacks: if it is unset this fails.
func Load() (*Config, error) {
	configPath := os.Getenv(EnvironmentVariable)
	if configPath == "" {
		return nil, fmt.Errorf("%w; set it to the path of your agent config file, or use --config flag", ErrNoConfig)
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, layered over
// [Default], and expands ${VAR} patterns in the endpoint and device
// fields. The result is not validated.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML data layered over [Default].
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	cfg.expandVariables()
	return cfg, nil
}

func (c *Config) expandVariables() {
	c.Endpoint = expandVars(c.Endpoint)
	c.Application.ID = expandVars(c.Application.ID)
	c.Device.ID = expandVars(c.Device.ID)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars expands ${VAR} and ${VAR:-default} patterns from the
// process environment.
func expandVars(s string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}
		if value := os.Getenv(parts[1]); value != "" {
			return value
		}
		if len(parts) >= 3 {
			return parts[2]
		}
		return ""
	})
}

// Validate checks the configuration for errors, reporting all of them.
func (c *Config) Validate() error {
	var errs []error

	if c.Endpoint == "" {
		errs = append(errs, fmt.Errorf("endpoint is required"))
	} else if parsed, err := url.Parse(c.Endpoint); err != nil {
		errs = append(errs, fmt.Errorf("endpoint: %w", err))
	} else if parsed.Scheme != "http" && parsed.Scheme != "https" {
		errs = append(errs, fmt.Errorf("endpoint must be an http or https URL, got %q", c.Endpoint))
	}

	if c.Application.ID == "" {
		errs = append(errs, fmt.Errorf("application.id is required"))
	}

	if c.Cache.EvictionInterval <= 0 {
		errs = append(errs, fmt.Errorf("cache.eviction_interval must be positive, got %v", c.Cache.EvictionInterval))
	}
	if c.Cache.UpperBound < 0 {
		errs = append(errs, fmt.Errorf("cache.upper_bound must not be negative, got %d", c.Cache.UpperBound))
	}
	if c.Cache.LowerBound < 0 {
		errs = append(errs, fmt.Errorf("cache.lower_bound must not be negative, got %d", c.Cache.LowerBound))
	}
	if c.Cache.UpperBound > 0 && c.Cache.LowerBound > c.Cache.UpperBound {
		errs = append(errs, fmt.Errorf("cache.lower_bound %d exceeds cache.upper_bound %d", c.Cache.LowerBound, c.Cache.UpperBound))
	}

	if c.Sending.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("sending.shutdown_timeout must be positive, got %v", c.Sending.ShutdownTimeout))
	}
	if c.Sending.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("sending.request_timeout must be positive, got %v", c.Sending.RequestTimeout))
	}

	if _, err := c.SlogLevel(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// SlogLevel converts LogLevel to a slog.Level.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", c.LogLevel)
	}
	return level, nil
}
