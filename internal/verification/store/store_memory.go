// Package store caches registry answers so a re-submitted document does not
// spend registry calls on queries answered moments ago. Transport failures
// are never cached.
package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"sync"
	"time"

	"fiscaldoc/internal/verification/metrics"
	"fiscaldoc/internal/verification/models"
	"fiscaldoc/pkg/platform/sentinel"
)

type cachedResponse struct {
	response models.Response
	storedAt time.Time
}

// InMemoryCache keeps answers in a map with TTL expiry on read.
type InMemoryCache struct {
	mu       sync.RWMutex
	entries  map[string]cachedResponse
	cacheTTL time.Duration
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewInMemoryCache creates a cache whose entries live for cacheTTL.
func NewInMemoryCache(cacheTTL time.Duration, m *metrics.Metrics) *InMemoryCache {
	return &InMemoryCache{
		entries:  make(map[string]cachedResponse),
		cacheTTL: cacheTTL,
		metrics:  m,
		now:      time.Now,
	}
}

// Find returns the cached answer for q, or sentinel.ErrNotFound when absent
// or older than the TTL.
func (c *InMemoryCache) Find(_ context.Context, q models.Query) (models.Response, error) {
	c.mu.RLock()
	cached, ok := c.entries[cacheKey(q)]
	c.mu.RUnlock()
	if !ok || c.now().Sub(cached.storedAt) >= c.cacheTTL {
		c.metrics.RecordCacheMiss()
		return models.Response{}, sentinel.ErrNotFound
	}
	c.metrics.RecordCacheHit()
	resp := cached.response
	resp.Observations = slices.Clone(resp.Observations)
	return resp, nil
}

func (c *InMemoryCache) Save(_ context.Context, q models.Query, resp models.Response) error {
	resp.Observations = slices.Clone(resp.Observations)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey(q)] = cachedResponse{response: resp, storedAt: c.now()}
	return nil
}

// cacheKey hashes the query so keys stay short and carry no raw identifiers.
func cacheKey(q models.Query) string {
	sum := sha256.Sum256([]byte(q.Key()))
	return hex.EncodeToString(sum[:])
}
