// Package cache holds the Redis-backed integrity report cache. Cache misses
// and Redis failures are treated the same: the caller recomputes the report.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"chronicle/internal/audit"
	platformredis "chronicle/internal/platform/redis"
)

const reportKey = "chronicle:integrity:report"

// IntegrityCache stores the latest integrity report in Redis with a TTL so
// repeated compliance polls within the window skip the orphan scans.
type IntegrityCache struct {
	client *platformredis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func New(client *platformredis.Client, ttl time.Duration, logger *slog.Logger) *IntegrityCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &IntegrityCache{client: client, ttl: ttl, logger: logger}
}

// Get returns the cached report, or false on miss or any Redis error.
func (c *IntegrityCache) Get(ctx context.Context) (*audit.IntegrityReport, bool) {
	raw, err := c.client.Get(ctx, reportKey).Bytes()
	if err != nil {
		return nil, false
	}
	var report audit.IntegrityReport
	if err := json.Unmarshal(raw, &report); err != nil {
		c.logger.WarnContext(ctx, "discarding malformed cached integrity report", "error", err)
		return nil, false
	}
	return &report, true
}

// Set stores the report. Failures are logged and swallowed; the cache is an
// optimization, not a source of truth.
func (c *IntegrityCache) Set(ctx context.Context, report *audit.IntegrityReport) {
	raw, err := json.Marshal(report)
	if err != nil {
		c.logger.WarnContext(ctx, "failed to encode integrity report for cache", "error", err)
		return
	}
	if err := c.client.Set(ctx, reportKey, raw, c.ttl).Err(); err != nil {
		c.logger.WarnContext(ctx, "failed to cache integrity report", "error", err)
	}
}
