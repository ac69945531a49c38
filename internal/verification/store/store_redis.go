package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"fiscaldoc/internal/verification/metrics"
	"fiscaldoc/internal/verification/models"
	"fiscaldoc/pkg/platform/sentinel"
)

const redisKeyPrefix = "fiscaldoc:registry:"

// RedisCache shares registry answers between instances. Expiry is left to
// Redis via SET EX.
type RedisCache struct {
	client   redis.UniversalClient
	cacheTTL time.Duration
	metrics  *metrics.Metrics
}

// NewRedisCache constructs a Redis-backed answer cache.
func NewRedisCache(client redis.UniversalClient, cacheTTL time.Duration, m *metrics.Metrics) *RedisCache {
	return &RedisCache{client: client, cacheTTL: cacheTTL, metrics: m}
}

func (c *RedisCache) Find(ctx context.Context, q models.Query) (models.Response, error) {
	raw, err := c.client.Get(ctx, redisKeyPrefix+cacheKey(q)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			c.metrics.RecordCacheMiss()
			return models.Response{}, sentinel.ErrNotFound
		}
		return models.Response{}, fmt.Errorf("find registry answer: %w", err)
	}
	var resp models.Response
	if err := json.Unmarshal(raw, &resp); err != nil {
		return models.Response{}, fmt.Errorf("decode registry answer: %w", err)
	}
	c.metrics.RecordCacheHit()
	return resp, nil
}

func (c *RedisCache) Save(ctx context.Context, q models.Query, resp models.Response) error {
	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("encode registry answer: %w", err)
	}
	if err := c.client.Set(ctx, redisKeyPrefix+cacheKey(q), raw, c.cacheTTL).Err(); err != nil {
		return fmt.Errorf("save registry answer: %w", err)
	}
	return nil
}
