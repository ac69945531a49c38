//go:build integration

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	docmodels "fiscaldoc/internal/document/models"
	"fiscaldoc/internal/verification/models"
	"fiscaldoc/internal/verification/store"
	"fiscaldoc/pkg/platform/sentinel"
	"fiscaldoc/pkg/testutil/containers"
)

type RedisCacheSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	cache *store.RedisCache
}

func TestRedisCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisCacheSuite))
}

func (s *RedisCacheSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.redis = mgr.GetRedis(s.T())
	s.cache = store.NewRedisCache(s.redis.Client, 5*time.Minute, nil)
}

func (s *RedisCacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisCacheSuite) TestRoundTrip() {
	ctx := context.Background()
	q := models.Query{
		IssuerID:  "20100017491",
		TypeCode:  "01",
		Series:    "F001",
		Number:    "00012345",
		IssueDate: docmodels.IssueDate{Day: 15, Month: 3, Year: 2025},
	}
	resp := models.Response{Success: true, DocumentStatus: "2", IssuerStatus: "00"}

	_, err := s.cache.Find(ctx, q)
	s.ErrorIs(err, sentinel.ErrNotFound)

	s.Require().NoError(s.cache.Save(ctx, q, resp))
	got, err := s.cache.Find(ctx, q)
	s.Require().NoError(err)
	s.Equal(resp, got)

	ttl, err := s.redis.Client.TTL(ctx, "fiscaldoc:registry:"+store.CacheKey(q)).Result()
	s.Require().NoError(err)
	s.Greater(ttl, 4*time.Minute)
}
