/**
 * @description
 * This file provides a process-wide expiring cache for ego-score lookups.
 * Entries carry their insertion time and are evicted lazily on read plus
 * explicitly via Sweep. The clock is injectable so tests control expiry.
 *
 * @dependencies
 * - sync, time: Standard Go libraries.
 */

package app

import (
	"sync"
	"time"
)

type scoreEntry struct {
	score    float64
	storedAt time.Time
}

// ScoreCache is a TTL cache keyed by graph identity.
type ScoreCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]scoreEntry
}

// NewScoreCache creates a cache whose entries expire after ttl.
func NewScoreCache(ttl time.Duration) *ScoreCache {
	return &ScoreCache{
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]scoreEntry),
	}
}

// Get returns a fresh cached score. An expired entry is removed and reported
// as a miss.
func (c *ScoreCache) Get(identity string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[identity]
	if !ok {
		return 0, false
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		delete(c.entries, identity)
		return 0, false
	}
	return entry.score, true
}

// Put stores a score with the current timestamp.
func (c *ScoreCache) Put(identity string, score float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[identity] = scoreEntry{score: score, storedAt: c.now()}
}

// Sweep removes every expired entry and returns how many were evicted.
func (c *ScoreCache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	cutoff := c.now()
	for identity, entry := range c.entries {
		if cutoff.Sub(entry.storedAt) > c.ttl {
			delete(c.entries, identity)
			evicted++
		}
	}
	return evicted
}

// Len reports the number of live entries, expired or not.
func (c *ScoreCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
