// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package recordcache

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Key identifies one physical session: the agent-unique id of its
// logical session plus the split sequence number. SessionID is never
// shared between two logical sessions, whatever session number they
// report.
type Key struct {
	SessionID      int32
	SequenceNumber int32
}

func (k Key) String() string {
	return fmt.Sprintf("%d/%d", k.SessionID, k.SequenceNumber)
}

// record is one serialized beacon record. Immutable once created.
type record struct {
	timestamp time.Time
	text      string
}

// entry holds a session's records. holding is non-empty exactly while
// a chunk is in flight.
type entry struct {
	pending []record
	holding []record
}

// Cache is the per-session record buffer. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	entries map[Key]*entry
	// count is the number of records across all entries, pending and
	// holding combined.
	count int
}

// New creates an empty Cache.
func New() *Cache {
	return &Cache{entries: make(map[Key]*entry)}
}

// Add appends a record to key's pending list.
func (c *Cache) Add(key Key, timestamp time.Time, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.entries[key]
	if current == nil {
		current = &entry{}
		c.entries[key] = current
	}
	current.pending = append(current.pending, record{timestamp: timestamp, text: text})
	c.count++
}

// NextChunk returns prefix followed by delimiter-joined records of
// key, at most maxSizeBytes long. The first record of a chunk is always
// included, even when it alone exceeds the limit, so that an oversized
// record cannot block a session forever. Returns "" when there is
// nothing to send.
//
// While a previous chunk is neither committed nor rolled back, the same
// chunk is rebuilt and returned.
func (c *Cache) NextChunk(key Key, prefix string, maxSizeBytes int, delimiter string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	current := c.entries[key]
	if current == nil {
		return ""
	}

	var builder strings.Builder
	builder.WriteString(prefix)
	for _, held := range current.holding {
		builder.WriteString(delimiter)
		builder.WriteString(held.text)
	}

	if len(current.holding) == 0 {
		taken := 0
		for _, next := range current.pending {
			size := builder.Len() + len(delimiter) + len(next.text)
			if taken > 0 && size > maxSizeBytes {
				break
			}
			builder.WriteString(delimiter)
			builder.WriteString(next.text)
			taken++
		}
		current.holding = append(current.holding, current.pending[:taken]...)
		current.pending = current.pending[taken:]
	}

	if len(current.holding) == 0 {
		return ""
	}
	return builder.String()
}

// CommitChunk discards key's in-flight chunk after a successful
// transmission.
func (c *Cache) CommitChunk(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.entries[key]
	if current == nil {
		return
	}
	c.count -= len(current.holding)
	current.holding = nil
}

// RollbackChunk returns key's in-flight chunk to the front of the
// pending list, in its original order.
func (c *Cache) RollbackChunk(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.entries[key]
	if current == nil || len(current.holding) == 0 {
		return
	}
	restored := make([]record, 0, len(current.holding)+len(current.pending))
	restored = append(restored, current.holding...)
	restored = append(restored, current.pending...)
	current.pending = restored
	current.holding = nil
}

// Delete drops every record of key, in flight or not.
func (c *Cache) Delete(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.entries[key]
	if current == nil {
		return
	}
	c.count -= len(current.pending) + len(current.holding)
	delete(c.entries, key)
}

// IsEmpty reports whether key has no records at all.
func (c *Cache) IsEmpty(key Key) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.entries[key]
	return current == nil || len(current.pending)+len(current.holding) == 0
}

// RecordCount returns the number of records of key, pending and
// holding combined.
func (c *Cache) RecordCount(key Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	current := c.entries[key]
	if current == nil {
		return 0
	}
	return len(current.pending) + len(current.holding)
}

// Len returns the total number of records in the cache.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Keys returns every key with an entry, sorted for deterministic
// iteration.
func (c *Cache) Keys() []Key {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]Key, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].SessionID != keys[j].SessionID {
			return keys[i].SessionID < keys[j].SessionID
		}
		return keys[i].SequenceNumber < keys[j].SequenceNumber
	})
	return keys
}

// EvictByAge drops pending records timestamped before cutoff. Returns
// the number of records dropped.
func (c *Cache) EvictByAge(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for _, current := range c.entries {
		kept := current.pending[:0]
		for _, pending := range current.pending {
			if pending.timestamp.Before(cutoff) {
				evicted++
				continue
			}
			kept = append(kept, pending)
		}
		clear(current.pending[len(kept):])
		current.pending = kept
	}
	c.count -= evicted
	return evicted
}

// EvictBySize drops the oldest pending records across all sessions
// until at most lowerBound records remain, but only once the cache
// holds more than upperBound. Returns the number of records dropped.
// Stops early when only in-flight records are left.
func (c *Cache) EvictBySize(upperBound, lowerBound int) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.count <= upperBound {
		return 0
	}

	evicted := 0
	for c.count > lowerBound {
		var oldest *entry
		for _, current := range c.entries {
			if len(current.pending) == 0 {
				continue
			}
			if oldest == nil || current.pending[0].timestamp.Before(oldest.pending[0].timestamp) {
				oldest = current
			}
		}
		if oldest == nil {
			break
		}
		oldest.pending[0] = record{}
		oldest.pending = oldest.pending[1:]
		c.count--
		evicted++
	}
	return evicted
}
