package session

import (
	"strconv"
	"sync"
	"time"
)

// Summary cache bounds used when MemoryConfig leaves them unset.
const (
	DefaultSummaryCacheSize = 256
	DefaultSummaryCacheTTL  = 10 * time.Minute
)

// summaryKey identifies one cached condensation. A session accumulates a
// new key every turn, so stale keys age out by TTL and capacity rather
// than explicit invalidation.
type summaryKey struct {
	sessionID string
	turnCount int
}

// flight returns the singleflight key string.
func (k summaryKey) flight() string {
	return k.sessionID + ":" + strconv.Itoa(k.turnCount)
}

type summaryEntry struct {
	text    string
	created time.Time
}

// summaryCache is a bounded, TTL'd map of generated summaries. It has its
// own mutex; collapsing concurrent generation for one key is the caller's
// job (Memory uses singleflight around the miss path).
type summaryCache struct {
	mu      sync.Mutex
	entries map[summaryKey]summaryEntry
	cap     int
	ttl     time.Duration
	clock   Clock
}

func newSummaryCache(capacity int, ttl time.Duration, clock Clock) *summaryCache {
	if capacity < 1 {
		capacity = DefaultSummaryCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultSummaryCacheTTL
	}
	if clock == nil {
		clock = time.Now
	}
	return &summaryCache{
		entries: make(map[summaryKey]summaryEntry),
		cap:     capacity,
		ttl:     ttl,
		clock:   clock,
	}
}

// get returns the cached text when present and fresh. A stale hit is
// deleted and reported as a miss.
func (c *summaryCache) get(key summaryKey) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return "", false
	}
	if c.clock().Sub(e.created) > c.ttl {
		delete(c.entries, key)
		return "", false
	}
	return e.text, true
}

// set stores text, evicting the oldest entry when the cache is full.
func (c *summaryCache) set(key summaryKey, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.cap {
		c.evictOldestLocked()
	}
	c.entries[key] = summaryEntry{text: text, created: c.clock()}
}

func (c *summaryCache) evictOldestLocked() {
	var oldestKey summaryKey
	var oldestAt time.Time
	first := true
	for k, e := range c.entries {
		if first || e.created.Before(oldestAt) {
			oldestKey, oldestAt, first = k, e.created, false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}

// purgeSession drops every cached summary for one session.
func (c *summaryCache) purgeSession(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.entries {
		if k.sessionID == sessionID {
			delete(c.entries, k)
		}
	}
}

// removeExpired drops entries past TTL and returns how many. Called by the
// sweeper as cache housekeeping.
func (c *summaryCache) removeExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock()
	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.created) > c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// size returns the current entry count.
func (c *summaryCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
