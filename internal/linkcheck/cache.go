package linkcheck

import (
	"encoding/json"

	"github.com/cespare/xxhash/v2"

	"github.com/bearcove/dodeca-sub000/internal/query/cache"
)

const (
	externalCacheQueryName = "linkcheck_external"
	externalCacheVersion   = 1
)

// StoreCache adapts the shared query-result Store into a Cache,
// persisting external-link probe results in the same on-disk database
// as every other cached query result (§4.K "cached by (url,
// day_bucket)" — the day bucket is folded into the cache key so a
// result recorded today is a miss again tomorrow).
type StoreCache struct {
	store *cache.Store
}

// NewStoreCache wraps an already-open Store.
func NewStoreCache(store *cache.Store) *StoreCache {
	return &StoreCache{store: store}
}

func externalCacheKey(url, dayBucket string) uint64 {
	return xxhash.Sum64String(dayBucket + "\x00" + url)
}

func (c *StoreCache) Get(url, dayBucket string) (ExternalResult, bool) {
	raw, ok := c.store.Get(externalCacheQueryName, externalCacheKey(url, dayBucket), externalCacheVersion)
	if !ok {
		return ExternalResult{}, false
	}
	var result ExternalResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return ExternalResult{}, false
	}
	return result, true
}

func (c *StoreCache) Put(url, dayBucket string, result ExternalResult) {
	raw, err := json.Marshal(result)
	if err != nil {
		return
	}
	_ = c.store.Put(externalCacheQueryName, externalCacheKey(url, dayBucket), externalCacheVersion, raw)
}

// MemoryCache is an in-process Cache, used by tests and by one-shot
// invocations that don't want an on-disk database at all.
type MemoryCache struct {
	entries map[string]ExternalResult
}

// NewMemoryCache builds an empty in-memory Cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]ExternalResult)}
}

func (c *MemoryCache) Get(url, dayBucket string) (ExternalResult, bool) {
	result, ok := c.entries[dayBucket+"\x00"+url]
	return result, ok
}

func (c *MemoryCache) Put(url, dayBucket string, result ExternalResult) {
	c.entries[dayBucket+"\x00"+url] = result
}
