package detection

import (
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Result cache: per-wallet TTL + LRU
// ---------------------------------------------------------------------------

// CacheConfig bounds the result cache.
type CacheConfig struct {
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
}

// DefaultCacheConfig returns the reference defaults: 5 minute TTL, 100 entries.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		TTL:        5 * time.Minute,
		MaxEntries: 100,
	}
}

// CacheStats is a point-in-time snapshot of cache counters.
type CacheStats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}

type cacheEntry struct {
	result       *DetectionResult
	cachedAt     time.Time
	expiresAt    time.Time
	lastAccessed time.Time
}

// ResultCache stores detection results keyed by normalized wallet address.
// Entries expire after their TTL; at capacity the entry read furthest in the
// past is evicted. Eviction is a linear scan, which is fine at the default
// capacity of 100. Safe for concurrent use.
type ResultCache struct {
	mu      sync.Mutex
	config  CacheConfig
	entries map[string]*cacheEntry

	hits      int64
	misses    int64
	evictions int64

	// now is replaceable in tests.
	now func() time.Time
}

// NewResultCache creates a cache with the given bounds. Zero fields fall back
// to DefaultCacheConfig.
func NewResultCache(config CacheConfig) *ResultCache {
	def := DefaultCacheConfig()
	if config.TTL <= 0 {
		config.TTL = def.TTL
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = def.MaxEntries
	}
	return &ResultCache{
		config:  config,
		entries: make(map[string]*cacheEntry),
		now:     time.Now,
	}
}

func normalizeKey(key string) string {
	return strings.TrimSpace(key)
}

// Get returns the cached result for the wallet, if present and fresh.
// An expired entry is deleted on observation and counted as a miss.
func (c *ResultCache) Get(key string) (*DetectionResult, bool) {
	key = normalizeKey(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.misses++
		return nil, false
	}

	now := c.now()
	if now.After(entry.expiresAt) {
		delete(c.entries, key)
		c.misses++
		return nil, false
	}

	entry.lastAccessed = now
	c.hits++
	return entry.result, true
}

// Set stores a result under the wallet key. A non-positive ttl uses the
// cache default. Inserting a new key at capacity first evicts the entry with
// the oldest lastAccessed.
func (c *ResultCache) Set(key string, result *DetectionResult, ttl time.Duration) {
	key = normalizeKey(key)
	if ttl <= 0 {
		ttl = c.config.TTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.config.MaxEntries {
		c.evictOldestLocked()
	}

	now := c.now()
	c.entries[key] = &cacheEntry{
		result:       result,
		cachedAt:     now,
		expiresAt:    now.Add(ttl),
		lastAccessed: now,
	}
}

// Invalidate removes the entry for the wallet. Returns whether one existed.
func (c *ResultCache) Invalidate(key string) bool {
	key = normalizeKey(key)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[key]; !ok {
		return false
	}
	delete(c.entries, key)
	return true
}

// PruneExpired sweeps out every expired entry and returns how many were
// removed. Never invoked automatically; the owning process decides when.
func (c *ResultCache) PruneExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.expiresAt) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Stats returns a snapshot of the hit/miss/eviction counters and live size.
func (c *ResultCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.entries),
	}
}

// evictOldestLocked removes the entry with the smallest lastAccessed.
// Caller holds c.mu.
func (c *ResultCache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	first := true

	for key, entry := range c.entries {
		if first || entry.lastAccessed.Before(oldest) {
			oldestKey = key
			oldest = entry.lastAccessed
			first = false
		}
	}

	if !first {
		delete(c.entries, oldestKey)
		c.evictions++
		log.Debug().Str("wallet", oldestKey).Msg("cache: evicted least recently used entry")
	}
}
