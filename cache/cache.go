// SPDX-License-Identifier: GPL-3.0-or-later

// Package cache is an in-memory store of previously resolved IPv4
// addresses, keyed by fully qualified query name.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

const DefaultMinTTL = 10 * time.Second // always cache for at least this long
const DefaultMaxTTL = 6 * time.Hour    // never cache for longer than this

// Cache maps query names to resolved addresses with an expiry per
// entry. Expired entries are evicted lazily on Get and in bulk by
// Clean. All methods are safe for concurrent use.
type Cache struct {
	MinTTL  time.Duration
	MaxTTL  time.Duration
	count   atomic.Uint64
	hits    atomic.Uint64
	mu      sync.RWMutex
	entries map[string]cacheValue
}

type cacheValue struct {
	addresses []uint32
	expires   time.Time
}

func New() *Cache {
	return &Cache{
		MinTTL:  DefaultMinTTL,
		MaxTTL:  DefaultMaxTTL,
		entries: make(map[string]cacheValue),
	}
}

// Set stores the addresses for qname, clamping ttl to the configured
// [MinTTL, MaxTTL] window. Empty address lists are not stored.
func (cache *Cache) Set(qname string, addresses []uint32, ttl time.Duration) {
	if cache != nil && len(addresses) > 0 {
		ttl = min(cache.MaxTTL, max(cache.MinTTL, ttl))
		value := cacheValue{
			addresses: append([]uint32(nil), addresses...),
			expires:   time.Now().Add(ttl),
		}
		cache.mu.Lock()
		cache.entries[qname] = value
		cache.mu.Unlock()
	}
}

// Get returns the cached addresses for qname, or nil on a miss. An
// entry found expired is deleted on the spot.
func (cache *Cache) Get(qname string) (addresses []uint32) {
	if cache != nil {
		cache.count.Add(1)
		cache.mu.RLock()
		value, ok := cache.entries[qname]
		cache.mu.RUnlock()
		if ok {
			if time.Since(value.expires) < 0 {
				cache.hits.Add(1)
				return value.addresses
			}
			cache.mu.Lock()
			delete(cache.entries, qname)
			cache.mu.Unlock()
		}
	}
	return nil
}

// Entries returns the number of entries in the cache.
func (cache *Cache) Entries() (n int) {
	if cache != nil {
		cache.mu.RLock()
		n = len(cache.entries)
		cache.mu.RUnlock()
	}
	return
}

// HitRatio returns the hit ratio as a percentage.
func (cache *Cache) HitRatio() (n float64) {
	if cache != nil {
		if count := cache.count.Load(); count > 0 {
			n = float64(cache.hits.Load()*100) / float64(count)
		}
	}
	return
}

// Clean removes every entry expired at the given time.
func (cache *Cache) Clean(now time.Time) {
	if cache != nil {
		cache.mu.Lock()
		defer cache.mu.Unlock()
		for qname, value := range cache.entries {
			if now.After(value.expires) {
				delete(cache.entries, qname)
			}
		}
	}
}

// Clear removes all entries.
func (cache *Cache) Clear() {
	if cache != nil {
		cache.mu.Lock()
		cache.entries = make(map[string]cacheValue)
		cache.mu.Unlock()
	}
}
