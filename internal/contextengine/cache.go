package contextengine

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
	"time"
)

const (
	defaultCacheTTL      = 10 * time.Minute
	defaultCacheCapacity = 512
	defaultSweepInterval = 5 * time.Minute
	queryFingerprintLen  = 64
)

// CacheKey derives a stable key from the request parameters. The query is
// truncated to a fixed-length fingerprint so unbounded input cannot bloat
// key derivation.
func CacheKey(userID string, level Level, query string, opts OptimizeOptions) uint64 {
	fp := strings.ToLower(strings.TrimSpace(query))
	if len(fp) > queryFingerprintLen {
		fp = fp[:queryFingerprintLen]
	}
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%t|%t",
		userID, level, fp, opts.Strategy, opts.BudgetStrategy,
		opts.Preserve.Critical, opts.Preserve.Recent)
	return h.Sum64()
}

// CachedResult is the value stored per key: the built snapshot and, when
// an optimization ran, its result.
type CachedResult struct {
	Snapshot ContextSnapshot     `json:"snapshot"`
	Result   *OptimizationResult `json:"result,omitempty"`
}

type cacheEntry struct {
	key       uint64
	value     CachedResult
	createdAt time.Time
	expiresAt time.Time
}

// ResultCache is a capacity-bounded TTL cache of build/optimization
// results. It is the engine's only shared mutable state and is safe for
// concurrent use. It is purely a latency optimization: misses always fall
// through to rebuilding.
type ResultCache struct {
	mu       sync.RWMutex
	entries  map[uint64]*cacheEntry
	ttl      time.Duration
	capacity int

	done     chan struct{}
	stopOnce sync.Once

	hits   uint64
	misses uint64
}

// NewResultCache creates the cache and starts the background sweep
// goroutine. Call Stop to release it.
func NewResultCache(ttl time.Duration, capacity int, sweepInterval time.Duration) *ResultCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if capacity <= 0 {
		capacity = defaultCacheCapacity
	}
	if sweepInterval <= 0 {
		sweepInterval = defaultSweepInterval
	}
	c := &ResultCache{
		entries:  make(map[uint64]*cacheEntry),
		ttl:      ttl,
		capacity: capacity,
		done:     make(chan struct{}),
	}
	go c.sweepLoop(sweepInterval)
	return c
}

// Get returns the cached value for key if present and unexpired.
func (c *ResultCache) Get(key uint64) (CachedResult, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		c.mu.Lock()
		// A Put may have refreshed the key between the two locks; only
		// remove the exact entry observed as expired.
		if cur, still := c.entries[key]; still && cur == e {
			delete(c.entries, key)
		}
		c.misses++
		c.mu.Unlock()
		return CachedResult{}, false
	}

	c.mu.Lock()
	c.hits++
	c.mu.Unlock()
	return e.value, true
}

// Put stores value under key. A zero ttl uses the cache default. When the
// cache is full the oldest entry by creation time is evicted first;
// overwriting an existing key is last-write-wins.
func (c *ResultCache) Put(key uint64, value CachedResult, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.capacity {
		c.evictOldestLocked()
	}
	c.entries[key] = &cacheEntry{
		key:       key,
		value:     value,
		createdAt: now,
		expiresAt: now.Add(ttl),
	}
}

// evictOldestLocked removes the entry with the earliest creation time.
// Age-based, not LRU: access order is irrelevant.
func (c *ResultCache) evictOldestLocked() {
	var oldestKey uint64
	var oldest time.Time
	first := true
	for k, e := range c.entries {
		if first || e.createdAt.Before(oldest) {
			oldestKey, oldest = k, e.createdAt
			first = false
		}
	}
	if !first {
		delete(c.entries, oldestKey)
	}
}

// Sweep removes all expired entries and returns how many were evicted.
func (c *ResultCache) Sweep() int {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted := 0
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			evicted++
		}
	}
	return evicted
}

func (c *ResultCache) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.Sweep()
		case <-c.done:
			return
		}
	}
}

// Stop terminates the background sweep goroutine.
func (c *ResultCache) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// Len returns the number of live entries, expired or not.
func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// CacheStats is a point-in-time view of cache effectiveness.
type CacheStats struct {
	Entries  int    `json:"entries"`
	Capacity int    `json:"capacity"`
	Hits     uint64 `json:"hits"`
	Misses   uint64 `json:"misses"`
}

// Stats returns current counters.
func (c *ResultCache) Stats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{
		Entries:  len(c.entries),
		Capacity: c.capacity,
		Hits:     c.hits,
		Misses:   c.misses,
	}
}
