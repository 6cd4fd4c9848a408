package estimate

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Cache memoizes encoded estimates.
type Cache interface {
	// Get returns ok false on a miss.
	Get(ctx context.Context, key string) (val []byte, ok bool, err error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Close() error
}

type cacheEntry struct {
	val       []byte
	expiresAt time.Time
}

// MemoryCache is a process-local Cache with a background sweep of expired
// entries. Suitable for single-instance deployments and tests.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]cacheEntry
	maxEntries int

	stopChan  chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewMemoryCache returns a cache holding at most maxEntries values
// (unbounded when maxEntries <= 0).
func NewMemoryCache(maxEntries int, sweepEvery time.Duration) *MemoryCache {
	c := &MemoryCache{
		entries:    make(map[string]cacheEntry),
		maxEntries: maxEntries,
		stopChan:   make(chan struct{}),
	}
	if sweepEvery > 0 {
		c.wg.Add(1)
		go c.sweepLoop(sweepEvery)
	}
	return c
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || time.Now().After(e.expiresAt) {
		return nil, false, nil
	}
	return e.val, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictLocked()
	}
	c.entries[key] = cacheEntry{
		val:       append([]byte(nil), val...),
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}

// evictLocked drops expired entries, or an arbitrary one when none expired.
func (c *MemoryCache) evictLocked() {
	now := time.Now()
	removed := false
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
			removed = true
		}
	}
	if removed {
		return
	}
	for k := range c.entries {
		delete(c.entries, k)
		return
	}
}

// Len returns the number of stored entries, expired or not.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MemoryCache) sweepLoop(every time.Duration) {
	defer c.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopChan:
			return
		}
	}
}

func (c *MemoryCache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// Close stops the sweeper.
func (c *MemoryCache) Close() error {
	c.closeOnce.Do(func() {
		close(c.stopChan)
		c.wg.Wait()
	})
	return nil
}

// CacheConfig selects a cache backend.
type CacheConfig struct {
	Driver        string // none, memory, redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// OpenCache builds the configured cache. An unreachable redis falls back to
// the in-memory cache. A nil Cache disables memoization.
func OpenCache(ctx context.Context, cfg CacheConfig, log zerolog.Logger) Cache {
	log = log.With().Str("component", "cache").Logger()
	switch cfg.Driver {
	case "none":
		log.Info().Msg("estimate cache disabled")
		return nil
	case "redis":
		rc, err := NewRedisCache(ctx, RedisConfig{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
		if err == nil {
			log.Info().Str("addr", cfg.RedisAddr).Msg("using redis estimate cache")
			return rc
		}
		log.Warn().Err(err).Msg("redis unavailable, falling back to in-memory estimate cache")
	}
	return NewMemoryCache(10000, time.Minute)
}
