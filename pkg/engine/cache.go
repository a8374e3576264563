package engine

import (
	"container/list"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/vjranagit/tsdiff/pkg/types"
)

// ResultCache is an LRU + TTL cache for comparison results. Keys include
// the run versions of both sides, so a stale entry for a mutated run is
// simply never looked up again and ages out.
type ResultCache struct {
	capacity int
	ttl      time.Duration
	mu       sync.Mutex
	entries  map[string]*cacheEntry
	lru      *list.List

	hits   uint64
	misses uint64
}

type cacheEntry struct {
	key     string
	result  *types.CompareResult
	stored  time.Time
	element *list.Element
}

// NewResultCache creates a cache holding up to capacity results for ttl
func NewResultCache(capacity int, ttl time.Duration) *ResultCache {
	return &ResultCache{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]*cacheEntry),
		lru:      list.New(),
	}
}

// Key derives the cache key for one signal comparison
func (rc *ResultCache) Key(cfg types.CompareConfig, signal string, baseVersion, candVersion uint64) string {
	data, _ := json.Marshal(map[string]interface{}{
		"cfg":    cfg,
		"signal": signal,
		"base":   baseVersion,
		"cand":   candVersion,
	})
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)
}

// Get retrieves a cached result
func (rc *ResultCache) Get(key string) (*types.CompareResult, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	entry, ok := rc.entries[key]
	if !ok {
		rc.misses++
		return nil, false
	}
	if time.Since(entry.stored) > rc.ttl {
		rc.removeLocked(key)
		rc.misses++
		return nil, false
	}
	rc.lru.MoveToFront(entry.element)
	rc.hits++
	return entry.result, true
}

// Put stores a result, evicting the least recently used entry when full
func (rc *ResultCache) Put(key string, result *types.CompareResult) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if entry, ok := rc.entries[key]; ok {
		entry.result = result
		entry.stored = time.Now()
		rc.lru.MoveToFront(entry.element)
		return
	}

	entry := &cacheEntry{key: key, result: result, stored: time.Now()}
	entry.element = rc.lru.PushFront(entry)
	rc.entries[key] = entry

	if rc.lru.Len() > rc.capacity {
		if oldest := rc.lru.Back(); oldest != nil {
			rc.removeLocked(oldest.Value.(*cacheEntry).key)
		}
	}
}

func (rc *ResultCache) removeLocked(key string) {
	if entry, ok := rc.entries[key]; ok {
		rc.lru.Remove(entry.element)
		delete(rc.entries, key)
	}
}

// Clear drops all entries
func (rc *ResultCache) Clear() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.entries = make(map[string]*cacheEntry)
	rc.lru = list.New()
}

// Size returns the number of cached results
func (rc *ResultCache) Size() int {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return len(rc.entries)
}

// CacheStats reports occupancy and hit/miss counts
type CacheStats struct {
	Size     int
	Capacity int
	Hits     uint64
	Misses   uint64
}

// Stats returns cache statistics
func (rc *ResultCache) Stats() CacheStats {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return CacheStats{
		Size:     len(rc.entries),
		Capacity: rc.capacity,
		Hits:     rc.hits,
		Misses:   rc.misses,
	}
}

// HitRate returns the hit rate as a percentage
func (rc *ResultCache) HitRate() float64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	total := rc.hits + rc.misses
	if total == 0 {
		return 0.0
	}
	return float64(rc.hits) / float64(total) * 100.0
}
