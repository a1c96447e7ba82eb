// Package geo annotates reports with a coarse reporter location. The
// cache is an explicit, owner-scoped object with a TTL, not shared
// module state; lookups are best-effort and never block ingestion.
package geo

import (
	"context"
	"sync"
	"time"
)

// Location is a coarse reporter location.
type Location struct {
	Country string
	City    string
}

// Locator resolves a client address to a location. Accuracy is owned by
// the implementation; the engine only stores what it gets back.
type Locator interface {
	Locate(ctx context.Context, addr string) (Location, error)
}

// Cache memoizes locator results per address with a TTL.
type Cache struct {
	locator    Locator
	ttl        time.Duration
	maxEntries int

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	loc       Location
	expiresAt time.Time
}

// NewCache wraps locator with a TTL cache. locator may be nil, in which
// case lookups return an empty location.
func NewCache(locator Locator, ttl time.Duration, maxEntries int) *Cache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &Cache{
		locator:    locator,
		ttl:        ttl,
		maxEntries: maxEntries,
		entries:    make(map[string]cacheEntry),
	}
}

// Lookup returns the location for addr. Locator failures degrade to an
// empty location and are not cached.
func (c *Cache) Lookup(ctx context.Context, addr string) Location {
	if c.locator == nil || addr == "" {
		return Location{}
	}

	c.mu.RLock()
	entry, ok := c.entries[addr]
	c.mu.RUnlock()
	if ok && time.Now().Before(entry.expiresAt) {
		return entry.loc
	}

	loc, err := c.locator.Locate(ctx, addr)
	if err != nil {
		return Location{}
	}

	c.mu.Lock()
	if len(c.entries) >= c.maxEntries {
		c.evictExpiredLocked()
		if len(c.entries) >= c.maxEntries {
			c.entries = make(map[string]cacheEntry)
		}
	}
	c.entries[addr] = cacheEntry{loc: loc, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()

	return loc
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *Cache) evictExpiredLocked() {
	now := time.Now()
	for addr, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, addr)
		}
	}
}
