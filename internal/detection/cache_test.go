package detection

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock lets tests advance cache time deterministically.
type fakeClock struct {
	t time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

func testResult(wallet string) *DetectionResult {
	return &DetectionResult{
		Meta: ScanMetadata{Wallet: wallet, ScanComplete: true},
	}
}

func TestCache_RoundTrip(t *testing.T) {
	c := NewResultCache(DefaultCacheConfig())

	want := testResult("w1")
	c.Set("w1", want, 5*time.Second)

	got, ok := c.Get("w1")
	require.True(t, ok)
	assert.Same(t, want, got)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Hits)
	assert.Equal(t, int64(0), stats.Misses)
	assert.Equal(t, 1, stats.Size)
}

func TestCache_KeyNormalization(t *testing.T) {
	c := NewResultCache(DefaultCacheConfig())

	c.Set("  w1  ", testResult("w1"), 0)

	_, ok := c.Get("w1")
	assert.True(t, ok)
}

func TestCache_MissOnAbsentKey(t *testing.T) {
	c := NewResultCache(DefaultCacheConfig())

	_, ok := c.Get("unknown")
	assert.False(t, ok)
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestCache_ExpiryDeletesAndCountsMiss(t *testing.T) {
	clock := newFakeClock()
	c := NewResultCache(DefaultCacheConfig())
	c.now = clock.Now

	c.Set("w", testResult("w"), 5*time.Second)
	assert.Equal(t, 1, c.Stats().Size)

	clock.Advance(6 * time.Second)

	got, ok := c.Get("w")
	assert.False(t, ok)
	assert.Nil(t, got)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, 0, stats.Size, "expired entry must be deleted on observation")
}

func TestCache_DefaultTTLApplied(t *testing.T) {
	clock := newFakeClock()
	c := NewResultCache(CacheConfig{TTL: 10 * time.Second, MaxEntries: 10})
	c.now = clock.Now

	c.Set("w", testResult("w"), 0) // 0 -> default TTL

	clock.Advance(9 * time.Second)
	_, ok := c.Get("w")
	assert.True(t, ok)

	clock.Advance(2 * time.Second)
	_, ok = c.Get("w")
	assert.False(t, ok)
}

func TestCache_LRUEvictionOrder(t *testing.T) {
	clock := newFakeClock()
	c := NewResultCache(CacheConfig{TTL: time.Hour, MaxEntries: 2})
	c.now = clock.Now

	c.Set("a", testResult("a"), 0)
	clock.Advance(time.Second)
	c.Set("b", testResult("b"), 0)
	clock.Advance(time.Second)

	// Refresh "a" so "b" becomes the least recently used entry.
	_, ok := c.Get("a")
	require.True(t, ok)
	clock.Advance(time.Second)

	c.Set("c", testResult("c"), 0)

	_, ok = c.Get("b")
	assert.False(t, ok, `"b" should have been evicted`)
	_, ok = c.Get("a")
	assert.True(t, ok)
	_, ok = c.Get("c")
	assert.True(t, ok)

	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Evictions)
	assert.Equal(t, 2, stats.Size)
}

func TestCache_BoundedAtCapacity(t *testing.T) {
	clock := newFakeClock()
	max := 5
	c := NewResultCache(CacheConfig{TTL: time.Hour, MaxEntries: max})
	c.now = clock.Now

	for i := 0; i < max+1; i++ {
		c.Set(fmt.Sprintf("w%d", i), testResult("w"), 0)
		clock.Advance(time.Second)
	}

	stats := c.Stats()
	assert.Equal(t, max, stats.Size)
	assert.Equal(t, int64(1), stats.Evictions)

	// Exactly the oldest-accessed entry is gone.
	_, ok := c.Get("w0")
	assert.False(t, ok)
	for i := 1; i <= max; i++ {
		_, ok := c.Get(fmt.Sprintf("w%d", i))
		assert.True(t, ok, "w%d should survive", i)
	}
}

func TestCache_OverwriteExistingKeyDoesNotEvict(t *testing.T) {
	c := NewResultCache(CacheConfig{TTL: time.Hour, MaxEntries: 2})

	c.Set("a", testResult("a"), 0)
	c.Set("b", testResult("b"), 0)
	c.Set("a", testResult("a2"), 0)

	stats := c.Stats()
	assert.Equal(t, 2, stats.Size)
	assert.Equal(t, int64(0), stats.Evictions)
}

func TestCache_Invalidate(t *testing.T) {
	c := NewResultCache(DefaultCacheConfig())

	c.Set("w", testResult("w"), 0)
	assert.True(t, c.Invalidate("w"))
	assert.False(t, c.Invalidate("w"))

	_, ok := c.Get("w")
	assert.False(t, ok)
}

func TestCache_PruneExpired(t *testing.T) {
	clock := newFakeClock()
	c := NewResultCache(CacheConfig{TTL: time.Hour, MaxEntries: 10})
	c.now = clock.Now

	c.Set("short1", testResult("short1"), time.Second)
	c.Set("short2", testResult("short2"), time.Second)
	c.Set("long", testResult("long"), time.Hour)

	clock.Advance(2 * time.Second)

	removed := c.PruneExpired()
	assert.Equal(t, 2, removed)
	assert.Equal(t, 1, c.Stats().Size)

	_, ok := c.Get("long")
	assert.True(t, ok)
}
