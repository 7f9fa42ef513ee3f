package actions

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// IdemPrefix marks cache keys derived from client idempotency keys.
// Prefixed entries are TTL-evicted but never counted against the size
// bound.
const IdemPrefix = "idem:"

// Cache stores dispatch results for replay. Implementations treat Get
// misses and expired entries identically.
type Cache interface {
	Get(ctx context.Context, key string) (Result, bool, error)
	Set(ctx context.Context, key string, res Result) error
}

const (
	defaultCacheTTL  = 5 * time.Minute
	defaultCacheSize = 10000
)

type cacheEntry struct {
	res      Result
	storedAt time.Time
}

type cacheSnapshot map[string]cacheEntry

// MemoryCache is an immutable-snapshot map. Readers load the current
// snapshot without locking; writers rebuild and swap under a mutex.
// Every Set drops TTL-expired entries, then trims the oldest
// non-idempotency keys until the size bound holds.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	snap    atomic.Pointer[cacheSnapshot]

	now func() time.Time
}

// NewMemoryCache builds a cache with the given TTL and size bound.
// Zero values select the defaults (5 minutes, 10000 entries).
func NewMemoryCache(ttl time.Duration, maxSize int) *MemoryCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if maxSize <= 0 {
		maxSize = defaultCacheSize
	}

	c := &MemoryCache{ttl: ttl, maxSize: maxSize, now: time.Now}
	empty := cacheSnapshot{}
	c.snap.Store(&empty)

	return c
}

func (c *MemoryCache) Get(_ context.Context, key string) (Result, bool, error) {
	snap := *c.snap.Load()

	e, ok := snap[key]
	if !ok || c.now().Sub(e.storedAt) > c.ttl {
		return Result{}, false, nil
	}

	return e.res, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, res Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	old := *c.snap.Load()

	next := make(cacheSnapshot, len(old)+1)
	for k, e := range old {
		if now.Sub(e.storedAt) > c.ttl {
			continue
		}
		next[k] = e
	}
	next[key] = cacheEntry{res: res, storedAt: now}

	c.trimLocked(next)
	c.snap.Store(&next)

	return nil
}

// trimLocked removes the oldest unprefixed entries until at most
// maxSize remain. Idempotency-prefixed entries only ever age out.
func (c *MemoryCache) trimLocked(snap cacheSnapshot) {
	count := 0
	for k := range snap {
		if !isIdemKey(k) {
			count++
		}
	}

	for count > c.maxSize {
		oldestKey := ""
		var oldestAt time.Time
		for k, e := range snap {
			if isIdemKey(k) {
				continue
			}
			if oldestKey == "" || e.storedAt.Before(oldestAt) {
				oldestKey = k
				oldestAt = e.storedAt
			}
		}

		delete(snap, oldestKey)
		count--
	}
}

// Len reports live entries. Test helper.
func (c *MemoryCache) Len() int {
	return len(*c.snap.Load())
}

func isIdemKey(k string) bool {
	return len(k) >= len(IdemPrefix) && k[:len(IdemPrefix)] == IdemPrefix
}

var _ Cache = (*MemoryCache)(nil)
