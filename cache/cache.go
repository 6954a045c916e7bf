package cache

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sweetpotato0/ragline/pkg/telemetry"
)

// Default shapes of the three process-global caches.
const (
	ResponseTTL       = 5 * time.Minute
	ResponseCapacity  = 200
	RetrievalTTL      = 2 * time.Minute
	RetrievalCapacity = 200
	WebSearchTTL      = 10 * time.Minute
	WebSearchCapacity = 100
)

// Cache is a TTL + LRU map from normalized string keys to V. Reads and
// writes both refresh recency; inserting over capacity evicts the
// least-recently-used key first. Expired entries are never returned.
type Cache[V any] struct {
	name string
	lru  *expirable.LRU[string, V]
}

// New creates a named cache with the given TTL and capacity. The name tags
// the hit-rate gauge and eviction counter.
func New[V any](name string, ttl time.Duration, capacity int) *Cache[V] {
	c := &Cache[V]{name: name}
	c.lru = expirable.NewLRU[string, V](capacity, func(string, V) {
		telemetry.M().CacheEviction(context.Background(), c.name)
	}, ttl)
	return c
}

// Get returns the live value for key. Every call updates the hit-rate gauge
// (1 for hit, 0 for miss).
func (c *Cache[V]) Get(key string) (V, bool) {
	v, ok := c.lru.Get(key)
	telemetry.M().ObserveCacheAccess(context.Background(), c.name, ok)
	return v, ok
}

// Set inserts or refreshes the value for key.
func (c *Cache[V]) Set(key string, value V) {
	c.lru.Add(key, value)
}

// Clear empties the cache.
func (c *Cache[V]) Clear() {
	c.lru.Purge()
}

// Len returns the number of live entries.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}

// Name returns the cache's metric tag.
func (c *Cache[V]) Name() string { return c.name }

var whitespaceRun = regexp.MustCompile(`\s+`)

// Normalize lowercases and collapses runs of whitespace. Callers normalize
// keys before Get/Set.
func Normalize(key string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(strings.ToLower(key), " "))
}
