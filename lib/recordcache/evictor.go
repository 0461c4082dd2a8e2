// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package recordcache

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/beacon/lib/clock"
)

// EvictorConfig bounds the cache.
type EvictorConfig struct {
	// MaxRecordAge is how long a record may wait to be sent. Negative
	// disables age eviction.
	MaxRecordAge time.Duration

	// UpperBound is the record count that triggers size eviction.
	// Zero or negative disables size eviction.
	UpperBound int

	// LowerBound is the record count size eviction shrinks the cache
	// to. Must not exceed UpperBound.
	LowerBound int

	// Interval is the tick period. Must be positive.
	Interval time.Duration

	// Clock defaults to clock.Real().
	Clock clock.Clock

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// Evictor runs both eviction policies against a Cache on a ticker.
type Evictor struct {
	cache  *Cache
	config EvictorConfig
}

// NewEvictor creates an Evictor. Panics on a non-positive interval or
// inverted bounds: both are configuration bugs that config.Validate
// rejects earlier.
func NewEvictor(cache *Cache, config EvictorConfig) *Evictor {
	if config.Interval <= 0 {
		panic(fmt.Sprintf("recordcache: eviction interval must be positive, got %v", config.Interval))
	}
	if config.UpperBound > 0 && config.LowerBound > config.UpperBound {
		panic(fmt.Sprintf("recordcache: lower bound %d exceeds upper bound %d", config.LowerBound, config.UpperBound))
	}
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	return &Evictor{cache: cache, config: config}
}

// Run ticks until ctx is cancelled.
func (e *Evictor) Run(ctx context.Context) {
	ticker := e.config.Clock.NewTicker(e.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			e.Evict()
		case <-ctx.Done():
			return
		}
	}
}

// Evict runs one eviction pass: age first, then size. Returns the
// number of records each policy dropped.
func (e *Evictor) Evict() (byAge, bySize int) {
	if e.config.MaxRecordAge >= 0 {
		cutoff := e.config.Clock.Now().Add(-e.config.MaxRecordAge)
		byAge = e.cache.EvictByAge(cutoff)
	}
	if e.config.UpperBound > 0 {
		bySize = e.cache.EvictBySize(e.config.UpperBound, e.config.LowerBound)
	}
	if byAge > 0 || bySize > 0 {
		e.config.Logger.Debug("evicted cached records",
			"by_age", byAge,
			"by_size", bySize,
			"remaining", e.cache.Len(),
		)
	}
	return byAge, bySize
}
