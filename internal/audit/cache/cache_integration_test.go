//go:build integration

package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"chronicle/internal/audit"
	"chronicle/internal/audit/cache"
	"chronicle/internal/platform/config"
	platformredis "chronicle/internal/platform/redis"
	"chronicle/pkg/testutil/containers"
)

type CacheSuite struct {
	suite.Suite
	redis  *containers.RedisContainer
	client *platformredis.Client
}

func TestCacheSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(CacheSuite))
}

func (s *CacheSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())

	client, err := platformredis.New(config.RedisConfig{URL: s.redis.URL})
	s.Require().NoError(err)
	s.client = client
}

func (s *CacheSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *CacheSuite) sampleReport() *audit.IntegrityReport {
	return &audit.IntegrityReport{
		CorrelationReport: audit.CorrelationReport{
			TotalCustomer:      1000,
			TotalInternal:      1000,
			CorrelationPercent: 99.7,
		},
		MatchedCount:     997,
		IntegrityPercent: 99.7,
		PassesThreshold:  true,
	}
}

func (s *CacheSuite) TestRoundTrip() {
	ctx := context.Background()
	c := cache.New(s.client, time.Minute, nil)

	_, ok := c.Get(ctx)
	s.False(ok, "empty cache misses")

	report := s.sampleReport()
	c.Set(ctx, report)

	got, ok := c.Get(ctx)
	s.Require().True(ok)
	s.Equal(report, got)
}

func (s *CacheSuite) TestEntryExpires() {
	ctx := context.Background()
	c := cache.New(s.client, 100*time.Millisecond, nil)

	c.Set(ctx, s.sampleReport())
	_, ok := c.Get(ctx)
	s.Require().True(ok)

	time.Sleep(200 * time.Millisecond)
	_, ok = c.Get(ctx)
	s.False(ok, "expired entries miss")
}
