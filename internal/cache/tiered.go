// Package cache provides the tiered read cache: a Redis volatile tier with a
// transparent in-process fallback. The cache is never authoritative; every
// miss is answerable from the canonical store.
package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"shrike/internal/metrics"

	"github.com/charmbracelet/log"
	"github.com/redis/go-redis/v9"
)

// Volatile is the subset of redis.Client commands the cache needs. Tests
// substitute a fake that fails on demand.
type Volatile interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

type memoryEntry struct {
	value  string
	expiry time.Time
}

type TieredCache struct {
	volatile Volatile

	mu     sync.Mutex
	memory map[string]memoryEntry

	degraded atomic.Bool
}

// New builds a cache over the given volatile store. A nil store means the
// cache runs on the in-process tier only (cold Redis, tests, dev).
func New(volatile Volatile) *TieredCache {
	c := &TieredCache{
		volatile: volatile,
		memory:   make(map[string]memoryEntry),
	}
	if volatile == nil {
		c.degraded.Store(true)
	}
	return c
}

// Get returns the cached value and whether it was found. Volatile-store
// errors degrade to the memory tier; callers never see them.
func (c *TieredCache) Get(ctx context.Context, key string) (string, bool) {
	if c.volatile != nil {
		val, err := c.volatile.Get(ctx, key).Result()
		switch {
		case err == nil:
			c.markHealthy()
			metrics.CacheRequests.WithLabelValues("volatile", "hit").Inc()
			return val, true
		case errors.Is(err, redis.Nil):
			c.markHealthy()
			metrics.CacheRequests.WithLabelValues("volatile", "miss").Inc()
		default:
			c.markDegraded(err)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, found := c.memory[key]
	if !found || time.Now().After(entry.expiry) {
		if found {
			delete(c.memory, key)
		}
		metrics.CacheRequests.WithLabelValues("memory", "miss").Inc()
		return "", false
	}
	metrics.CacheRequests.WithLabelValues("memory", "hit").Inc()
	return entry.value, true
}

// Set stores the value with the given TTL. It never fails: a volatile-store
// write error only moves the value to the memory tier.
func (c *TieredCache) Set(ctx context.Context, key, value string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = time.Minute
	}

	if c.volatile != nil {
		if err := c.volatile.Set(ctx, key, value, ttl).Err(); err == nil {
			c.markHealthy()
			return
		} else {
			c.markDegraded(err)
		}
	}

	c.mu.Lock()
	c.memory[key] = memoryEntry{value: value, expiry: time.Now().Add(ttl)}
	c.mu.Unlock()
}

// Invalidate drops every key under the prefix in both tiers. It runs
// synchronously so a read issued after a merge cannot observe entries older
// than that merge.
func (c *TieredCache) Invalidate(ctx context.Context, prefix string) {
	c.mu.Lock()
	for key := range c.memory {
		if strings.HasPrefix(key, prefix) {
			delete(c.memory, key)
		}
	}
	c.mu.Unlock()

	if c.volatile == nil {
		return
	}

	var cursor uint64
	for {
		keys, next, err := c.volatile.Scan(ctx, cursor, prefix+"*", 256).Result()
		if err != nil {
			c.markDegraded(err)
			return
		}
		if len(keys) > 0 {
			if err := c.volatile.Del(ctx, keys...).Err(); err != nil {
				c.markDegraded(err)
				return
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	c.markHealthy()
}

// Healthy reports whether the volatile tier is serving.
func (c *TieredCache) Healthy() bool {
	return c.volatile != nil && !c.degraded.Load()
}

// Tier names the tier currently serving reads, for health reporting.
func (c *TieredCache) Tier() string {
	if c.Healthy() {
		return "volatile"
	}
	return "memory"
}

func (c *TieredCache) markDegraded(err error) {
	if c.degraded.CompareAndSwap(false, true) {
		log.Warn("Volatile cache unavailable, serving from memory tier", "error", err)
	}
}

func (c *TieredCache) markHealthy() {
	if c.volatile != nil && c.degraded.CompareAndSwap(true, false) {
		log.Info("Volatile cache recovered")
	}
}
