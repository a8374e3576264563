package engine

import (
	"fmt"
	"testing"
	"time"

	"github.com/vjranagit/tsdiff/pkg/types"
)

func cacheKey(rc *ResultCache, signal string, baseVer, candVer uint64) string {
	cfg := types.CompareConfig{Sync: types.SyncBaseline, Interp: types.InterpLinear}
	return rc.Key(cfg, signal, baseVer, candVer)
}

func TestResultCache(t *testing.T) {
	cache := NewResultCache(100, time.Minute)

	key := cacheKey(cache, "x", 1, 1)
	if _, ok := cache.Get(key); ok {
		t.Error("Expected cache miss, got hit")
	}

	result := &types.CompareResult{SignalName: "x", MaxAbsDiff: 42.0}
	cache.Put(key, result)

	cached, ok := cache.Get(key)
	if !ok {
		t.Fatal("Expected cache hit, got miss")
	}
	if cached.MaxAbsDiff != 42.0 {
		t.Errorf("Expected max abs diff 42.0, got %f", cached.MaxAbsDiff)
	}
}

func TestResultCacheVersionedKeys(t *testing.T) {
	cache := NewResultCache(100, time.Minute)

	cache.Put(cacheKey(cache, "x", 1, 1), &types.CompareResult{MaxAbsDiff: 1})

	// A version bump produces a different key, so stale entries are never
	// served after a run mutates.
	if _, ok := cache.Get(cacheKey(cache, "x", 2, 1)); ok {
		t.Error("Expected miss for bumped baseline version")
	}
	if _, ok := cache.Get(cacheKey(cache, "x", 1, 2)); ok {
		t.Error("Expected miss for bumped candidate version")
	}
	if _, ok := cache.Get(cacheKey(cache, "x", 1, 1)); !ok {
		t.Error("Expected hit for original versions")
	}
}

func TestResultCacheTTL(t *testing.T) {
	cache := NewResultCache(100, 50*time.Millisecond)

	key := cacheKey(cache, "x", 1, 1)
	cache.Put(key, &types.CompareResult{})

	if _, ok := cache.Get(key); !ok {
		t.Error("Expected cache hit")
	}

	time.Sleep(80 * time.Millisecond)

	if _, ok := cache.Get(key); ok {
		t.Error("Expected cache miss after TTL expiry")
	}
}

func TestResultCacheLRUEviction(t *testing.T) {
	cache := NewResultCache(3, time.Minute)

	keys := make([]string, 4)
	for i := 0; i < 4; i++ {
		keys[i] = cacheKey(cache, fmt.Sprintf("signal_%d", i), 1, 1)
		cache.Put(keys[i], &types.CompareResult{})
	}

	if cache.Size() != 3 {
		t.Errorf("Expected cache size 3, got %d", cache.Size())
	}
	if _, ok := cache.Get(keys[0]); ok {
		t.Error("Expected oldest entry to be evicted")
	}
	if _, ok := cache.Get(keys[3]); !ok {
		t.Error("Expected newest entry to be in cache")
	}
}

func TestResultCacheStats(t *testing.T) {
	cache := NewResultCache(100, time.Minute)

	key := cacheKey(cache, "x", 1, 1)
	cache.Get(key)
	cache.Put(key, &types.CompareResult{})
	cache.Get(key)

	stats := cache.Stats()
	if stats.Size != 1 {
		t.Errorf("Expected size 1, got %d", stats.Size)
	}
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Errorf("Expected 1 hit and 1 miss, got %d/%d", stats.Hits, stats.Misses)
	}
	if rate := cache.HitRate(); rate != 50.0 {
		t.Errorf("Expected 50%% hit rate, got %f", rate)
	}
}
