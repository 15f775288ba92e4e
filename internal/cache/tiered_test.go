package cache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

// fakeVolatile is an in-memory stand-in for the Redis tier whose failure
// mode can be toggled mid-test.
type fakeVolatile struct {
	mu     sync.Mutex
	data   map[string]string
	failed bool
}

func newFakeVolatile() *fakeVolatile {
	return &fakeVolatile{data: make(map[string]string)}
}

func (f *fakeVolatile) fail(on bool) {
	f.mu.Lock()
	f.failed = on
	f.mu.Unlock()
}

func (f *fakeVolatile) Get(ctx context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failed {
		return redis.NewStringResult("", errors.New("connection refused"))
	}
	val, found := f.data[key]
	if !found {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(val, nil)
}

func (f *fakeVolatile) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failed {
		return redis.NewStatusResult("", errors.New("connection refused"))
	}
	f.data[key] = value.(string)
	return redis.NewStatusResult("OK", nil)
}

func (f *fakeVolatile) Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failed {
		return redis.NewScanCmdResult(nil, 0, errors.New("connection refused"))
	}

	prefix := strings.TrimSuffix(match, "*")
	var keys []string
	for key := range f.data {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return redis.NewScanCmdResult(keys, 0, nil)
}

func (f *fakeVolatile) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failed {
		return redis.NewIntResult(0, errors.New("connection refused"))
	}
	var removed int64
	for _, key := range keys {
		if _, found := f.data[key]; found {
			delete(f.data, key)
			removed++
		}
	}
	return redis.NewIntResult(removed, nil)
}

func TestTieredCacheSetGet(t *testing.T) {
	fake := newFakeVolatile()
	c := New(fake)
	ctx := context.Background()

	c.Set(ctx, "shrike:view:effective", `["203.0.113.5"]`, time.Minute)

	got, found := c.Get(ctx, "shrike:view:effective")
	if !found {
		t.Fatal("value not found after Set")
	}
	if got != `["203.0.113.5"]` {
		t.Fatalf("Get returned %q", got)
	}
	if !c.Healthy() || c.Tier() != "volatile" {
		t.Fatalf("cache reports tier %q, want volatile", c.Tier())
	}
}

func TestTieredCacheMissing(t *testing.T) {
	c := New(newFakeVolatile())

	if _, found := c.Get(context.Background(), "absent"); found {
		t.Fatal("Get reported a hit for a missing key")
	}
}

func TestTieredCacheFallsBackToMemory(t *testing.T) {
	fake := newFakeVolatile()
	c := New(fake)
	ctx := context.Background()

	fake.fail(true)

	c.Set(ctx, "key", "value", time.Minute)

	got, found := c.Get(ctx, "key")
	if !found || got != "value" {
		t.Fatalf("memory tier returned (%q, %v)", got, found)
	}
	if c.Healthy() || c.Tier() != "memory" {
		t.Fatalf("cache reports tier %q while degraded", c.Tier())
	}
}

func TestTieredCacheRecovers(t *testing.T) {
	fake := newFakeVolatile()
	c := New(fake)
	ctx := context.Background()

	fake.fail(true)
	c.Set(ctx, "key", "value", time.Minute)
	if c.Healthy() {
		t.Fatal("cache healthy while the volatile tier is failing")
	}

	fake.fail(false)
	c.Set(ctx, "key", "value", time.Minute)
	if !c.Healthy() {
		t.Fatal("cache did not recover after the volatile tier came back")
	}
}

func TestTieredCacheNilVolatile(t *testing.T) {
	c := New(nil)
	ctx := context.Background()

	c.Set(ctx, "key", "value", time.Minute)

	got, found := c.Get(ctx, "key")
	if !found || got != "value" {
		t.Fatalf("memory-only cache returned (%q, %v)", got, found)
	}
	if c.Tier() != "memory" {
		t.Fatalf("memory-only cache reports tier %q", c.Tier())
	}
}

func TestTieredCacheMemoryTTL(t *testing.T) {
	c := New(nil)
	ctx := context.Background()

	c.Set(ctx, "key", "value", 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)

	if _, found := c.Get(ctx, "key"); found {
		t.Fatal("memory entry survived its TTL")
	}
}

func TestTieredCacheInvalidatePrefix(t *testing.T) {
	fake := newFakeVolatile()
	c := New(fake)
	ctx := context.Background()

	c.Set(ctx, "shrike:view:effective", "a", time.Minute)
	c.Set(ctx, "shrike:view:statistics", "b", time.Minute)
	c.Set(ctx, "shrike:other", "c", time.Minute)

	c.Invalidate(ctx, "shrike:view:")

	if _, found := c.Get(ctx, "shrike:view:effective"); found {
		t.Fatal("invalidated key still readable")
	}
	if _, found := c.Get(ctx, "shrike:view:statistics"); found {
		t.Fatal("invalidated key still readable")
	}
	if _, found := c.Get(ctx, "shrike:other"); !found {
		t.Fatal("invalidate removed a key outside the prefix")
	}
}

func TestTieredCacheInvalidateCoversBothTiers(t *testing.T) {
	fake := newFakeVolatile()
	c := New(fake)
	ctx := context.Background()

	// Seed the memory tier while the volatile tier is down, then recover.
	fake.fail(true)
	c.Set(ctx, "shrike:view:effective", "stale", time.Minute)
	fake.fail(false)
	c.Set(ctx, "shrike:view:effective", "fresh", time.Minute)

	c.Invalidate(ctx, "shrike:view:")

	fake.fail(true)
	if _, found := c.Get(ctx, "shrike:view:effective"); found {
		t.Fatal("stale memory-tier entry survived invalidation")
	}
}
