package contextengine

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cachedSnap(userID string, tokens int) CachedResult {
	return CachedResult{Snapshot: ContextSnapshot{UserID: userID, TotalTokens: tokens}}
}

func TestCacheRoundTrip(t *testing.T) {
	t.Parallel()

	c := NewResultCache(time.Minute, 16, time.Minute)
	defer c.Stop()

	key := CacheKey("u1", LevelLight, "what is a derivative", OptimizeOptions{})
	c.Put(key, cachedSnap("u1", 42), 0)

	got, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "u1", got.Snapshot.UserID)
	assert.Equal(t, 42, got.Snapshot.TotalTokens)
}

func TestCacheExpiry(t *testing.T) {
	t.Parallel()

	c := NewResultCache(time.Minute, 16, time.Minute)
	defer c.Stop()

	key := CacheKey("u1", LevelLight, "", OptimizeOptions{})
	c.Put(key, cachedSnap("u1", 1), 20*time.Millisecond)

	_, ok := c.Get(key)
	require.True(t, ok)

	time.Sleep(50 * time.Millisecond)
	_, ok = c.Get(key)
	assert.False(t, ok)
}

func TestCacheSweepRemovesExpired(t *testing.T) {
	t.Parallel()

	c := NewResultCache(time.Minute, 16, time.Hour)
	defer c.Stop()

	c.Put(1, cachedSnap("a", 1), 10*time.Millisecond)
	c.Put(2, cachedSnap("b", 1), time.Minute)
	time.Sleep(30 * time.Millisecond)

	evicted := c.Sweep()
	assert.Equal(t, 1, evicted)
	assert.Equal(t, 1, c.Len())
}

func TestCacheEvictsOldestWhenFull(t *testing.T) {
	t.Parallel()

	c := NewResultCache(time.Minute, 2, time.Minute)
	defer c.Stop()

	c.Put(1, cachedSnap("first", 1), 0)
	time.Sleep(5 * time.Millisecond)
	c.Put(2, cachedSnap("second", 1), 0)
	time.Sleep(5 * time.Millisecond)
	c.Put(3, cachedSnap("third", 1), 0)

	_, ok := c.Get(1)
	assert.False(t, ok, "oldest entry should be evicted")
	_, ok = c.Get(2)
	assert.True(t, ok)
	_, ok = c.Get(3)
	assert.True(t, ok)
}

func TestCacheOverwriteIsLastWriteWins(t *testing.T) {
	t.Parallel()

	c := NewResultCache(time.Minute, 16, time.Minute)
	defer c.Stop()

	c.Put(7, cachedSnap("old", 1), 0)
	c.Put(7, cachedSnap("new", 2), 0)

	got, ok := c.Get(7)
	require.True(t, ok)
	assert.Equal(t, "new", got.Snapshot.UserID)
}

func TestCacheConcurrentAccess(t *testing.T) {
	t.Parallel()

	c := NewResultCache(time.Minute, 64, time.Minute)
	defer c.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				key := uint64(n*100 + j%10)
				c.Put(key, cachedSnap("u", j), 0)
				c.Get(key)
			}
		}(i)
	}
	wg.Wait()
}

func TestCacheStats(t *testing.T) {
	t.Parallel()

	c := NewResultCache(time.Minute, 16, time.Minute)
	defer c.Stop()

	c.Put(1, cachedSnap("a", 1), 0)
	c.Get(1)
	c.Get(2)

	stats := c.Stats()
	assert.Equal(t, 1, stats.Entries)
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
}

func TestCacheKeyStability(t *testing.T) {
	t.Parallel()

	opts := OptimizeOptions{Strategy: StrategyHierarchical, Preserve: PreserveFlags{Critical: true}}
	a := CacheKey("u1", LevelFull, "some question", opts)
	b := CacheKey("u1", LevelFull, "some question", opts)
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, CacheKey("u2", LevelFull, "some question", opts))
	assert.NotEqual(t, a, CacheKey("u1", LevelLight, "some question", opts))
	assert.NotEqual(t, a, CacheKey("u1", LevelFull, "another question", opts))
}

func TestCacheKeyTruncatesQueryFingerprint(t *testing.T) {
	t.Parallel()

	long := make([]byte, 500)
	for i := range long {
		long[i] = 'q'
	}
	base := string(long)

	// Queries differing only past the fingerprint length share a key.
	a := CacheKey("u1", LevelFull, base+"tail-one", OptimizeOptions{})
	b := CacheKey("u1", LevelFull, base+"tail-two", OptimizeOptions{})
	assert.Equal(t, a, b)
}

func TestCacheStopIsIdempotent(t *testing.T) {
	t.Parallel()

	c := NewResultCache(time.Minute, 16, time.Minute)
	c.Stop()
	c.Stop()
}

func TestCacheExpiredGetKeepsConcurrentRefresh(t *testing.T) {
	t.Parallel()

	c := NewResultCache(time.Minute, 16, time.Minute)
	defer c.Stop()

	key := CacheKey("u1", LevelLight, "", OptimizeOptions{})
	for i := 0; i < 200; i++ {
		c.Put(key, cachedSnap("stale", 1), time.Nanosecond)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.Get(key)
		}()
		go func() {
			defer wg.Done()
			c.Put(key, cachedSnap("fresh", 2), time.Hour)
		}()
		wg.Wait()

		// The refreshed entry must survive a racing expired-entry delete.
		got, ok := c.Get(key)
		require.True(t, ok)
		assert.Equal(t, "fresh", got.Snapshot.UserID)
	}
}
