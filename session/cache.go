package session

import (
	"fmt"
	"time"

	"github.com/dgraph-io/ristretto/v2"
)

const (
	defaultCacheSize = 10_000
	defaultCacheTTL  = time.Minute
)

// RevokedCache memoizes positive revocation lookups in process memory.
// Revocation is permanent for the life of a marker, so a cached "revoked"
// answer can never be wrong; only the absence of an entry sends the lookup
// to the store. A nil *RevokedCache is valid and caches nothing.
type RevokedCache struct {
	cache *ristretto.Cache[string, struct{}]
	ttl   time.Duration
}

// NewRevokedCache creates a cache holding up to size entries, each kept for ttl.
func NewRevokedCache(size int64, ttl time.Duration) (*RevokedCache, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	c, err := ristretto.NewCache(&ristretto.Config[string, struct{}]{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("revoked cache: %w", err)
	}
	return &RevokedCache{cache: c, ttl: ttl}, nil
}

// Revoked reports whether key is known to be revoked.
func (c *RevokedCache) Revoked(key string) bool {
	if c == nil {
		return false
	}
	_, ok := c.cache.Get(key)
	return ok
}

// MarkRevoked records key as revoked.
func (c *RevokedCache) MarkRevoked(key string) {
	if c == nil {
		return
	}
	c.cache.SetWithTTL(key, struct{}{}, 1, c.ttl)
	c.cache.Wait()
}

// Close releases the cache's background goroutines.
func (c *RevokedCache) Close() {
	if c == nil {
		return
	}
	c.cache.Close()
}
