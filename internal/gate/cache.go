package gate

import (
	"sync"
	"time"
)

// cacheEntry is one cached command-check result.
type cacheEntry struct {
	result    CheckResult
	expiresAt time.Time

	// lastAccessed tracks LRU eviction
	lastAccessed time.Time
}

// Cache memoizes expensive command-check results across evaluations, with
// TTL expiry and LRU eviction. Store-backed checks (memory, traceability,
// evidence) are never cached here: they must see fresh store state.
// Evaluation-scoped memoization happens separately and is always on.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*cacheEntry
	ttl        time.Duration
	maxEntries int
	metrics    *Metrics
}

// NewCache creates a cache with the given TTL and maximum entry count.
// A non-positive TTL disables caching entirely.
func NewCache(ttl time.Duration, maxEntries int) *Cache {
	if maxEntries <= 0 {
		maxEntries = 64
	}
	return &Cache{
		entries:    make(map[string]*cacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

// SetMetrics attaches a metrics tracker. Optional.
func (c *Cache) SetMetrics(m *Metrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metrics = m
}

// Enabled reports whether the cache stores anything at all.
func (c *Cache) Enabled() bool {
	return c != nil && c.ttl > 0
}

// Get returns the cached result for a check signature, if present and
// unexpired. Expired entries are removed on access.
func (c *Cache) Get(signature string) (CheckResult, bool) {
	if !c.Enabled() {
		return CheckResult{}, false
	}

	c.mu.RLock()
	entry, exists := c.entries[signature]
	metrics := c.metrics
	c.mu.RUnlock()

	if !exists {
		if metrics != nil {
			metrics.RecordCacheMiss()
		}
		return CheckResult{}, false
	}

	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, signature)
		if c.metrics != nil {
			c.metrics.SetCacheSize(len(c.entries))
		}
		c.mu.Unlock()

		if metrics != nil {
			metrics.RecordCacheMiss()
		}
		return CheckResult{}, false
	}

	c.mu.Lock()
	entry.lastAccessed = time.Now()
	c.mu.Unlock()

	if metrics != nil {
		metrics.RecordCacheHit()
	}
	return entry.result, true
}

// Set stores a check result. At capacity the least recently used entry is
// evicted first.
func (c *Cache) Set(signature string, result CheckResult) {
	if !c.Enabled() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if len(c.entries) >= c.maxEntries {
		if _, exists := c.entries[signature]; !exists {
			c.evictLRU()
		}
	}

	c.entries[signature] = &cacheEntry{
		result:       result,
		expiresAt:    now.Add(c.ttl),
		lastAccessed: now,
	}

	if c.metrics != nil {
		c.metrics.SetCacheSize(len(c.entries))
	}
}

// Clear drops every entry.
func (c *Cache) Clear() {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry)
	if c.metrics != nil {
		c.metrics.SetCacheSize(0)
	}
}

// evictLRU removes the least recently used entry. Caller holds the write
// lock.
func (c *Cache) evictLRU() {
	var oldestKey string
	var oldestTime time.Time

	first := true
	for key, entry := range c.entries {
		if first || entry.lastAccessed.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.lastAccessed
			first = false
		}
	}

	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
