// Package cache holds recently resolved draws keyed by ISO date.
package cache

import (
	"sync"
	"time"

	"github.com/sells-group/drawsync/internal/model"
)

// DefaultTTL is how long a resolved draw is served from memory.
const DefaultTTL = 30 * time.Minute

type entry struct {
	draw     *model.Draw
	storedAt time.Time
}

// DrawCache is a TTL cache of draws keyed by "YYYY-MM-DD". Expired entries
// are dropped lazily on Get and in bulk by Purge.
type DrawCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry
	now     func() time.Time
}

// New creates a cache. A non-positive ttl uses DefaultTTL.
func New(ttl time.Duration) *DrawCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &DrawCache{
		ttl:     ttl,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// WithClock replaces the time source. Intended for tests.
func (c *DrawCache) WithClock(now func() time.Time) *DrawCache {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
	return c
}

// TTL returns the configured time-to-live.
func (c *DrawCache) TTL() time.Duration {
	return c.ttl
}

// Get returns the draw stored under dateKey if it has not expired.
func (c *DrawCache) Get(dateKey string) (*model.Draw, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[dateKey]
	if !ok {
		return nil, false
	}
	if c.now().Sub(e.storedAt) >= c.ttl {
		delete(c.entries, dateKey)
		return nil, false
	}
	return e.draw, true
}

// Put stores d under dateKey, superseding any previous entry.
func (c *DrawCache) Put(dateKey string, d *model.Draw) {
	if d == nil {
		return
	}
	c.mu.Lock()
	c.entries[dateKey] = entry{draw: d, storedAt: c.now()}
	c.mu.Unlock()
}

// Delete removes dateKey.
func (c *DrawCache) Delete(dateKey string) {
	c.mu.Lock()
	delete(c.entries, dateKey)
	c.mu.Unlock()
}

// Len returns the number of entries, including expired ones not yet purged.
func (c *DrawCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Purge drops every expired entry and returns how many were removed.
func (c *DrawCache) Purge() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if now.Sub(e.storedAt) >= c.ttl {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}
