package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/meterline/internal/config"
	"github.com/smallbiznis/meterline/pkg/lock"
	"go.uber.org/fx"
)

const (
	keyUsageIngestTenant = "meterline:usage:ingest:tenant:%s"
	keyUsageIngestLock   = "usage:ingest:%s:%s"
)

var ErrRedisRequired = errors.New("rate limit requires redis")

type Params struct {
	fx.In

	Config config.Config
	Redis  *redis.Client `optional:"true"`
	Locker lock.Locker   `optional:"true"`
}

// UsageIngestLimiter throttles usage recording per tenant and, optionally,
// rejects concurrent writes for the same tenant and metric.
type UsageIngestLimiter struct {
	enabled     bool
	bucket      *TokenBucket
	locker      lock.Locker
	tenantRate  float64
	tenantBurst int
	concurrency bool
}

// NewUsageIngestLimiter returns nil when rate limiting is disabled.
func NewUsageIngestLimiter(p Params) (*UsageIngestLimiter, error) {
	cfg := p.Config.RateLimit
	if !cfg.Enabled {
		return nil, nil
	}
	if p.Redis == nil {
		return nil, ErrRedisRequired
	}
	if cfg.UsageTenantRate <= 0 || cfg.UsageTenantBurst <= 0 {
		return nil, errors.New("usage ingest tenant rate limit must be positive")
	}
	locker := p.Locker
	if locker == nil {
		locker = lock.NewRedis(p.Redis, cfg.UsageLockTTL, nil)
	}
	return &UsageIngestLimiter{
		enabled:     true,
		bucket:      NewTokenBucket(p.Redis),
		locker:      locker,
		tenantRate:  cfg.UsageTenantRate,
		tenantBurst: cfg.UsageTenantBurst,
		concurrency: cfg.UsageConcurrency,
	}, nil
}

func (l *UsageIngestLimiter) Enabled() bool {
	return l != nil && l.enabled
}

func (l *UsageIngestLimiter) AllowTenant(ctx context.Context, tenantID string) (*RateLimitResult, error) {
	if !l.Enabled() {
		return &RateLimitResult{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, fmt.Sprintf(keyUsageIngestTenant, strings.TrimSpace(tenantID)), l.tenantRate, l.tenantBurst)
}

// TryLockTenantMetric guards a single in-flight write per tenant and metric.
// It always succeeds when the concurrency guard is off.
func (l *UsageIngestLimiter) TryLockTenantMetric(ctx context.Context, tenantID, metricType string) (func(), bool, error) {
	if !l.Enabled() || !l.concurrency {
		return func() {}, true, nil
	}
	key := fmt.Sprintf(keyUsageIngestLock, strings.TrimSpace(tenantID), strings.TrimSpace(metricType))
	release, ok, err := l.locker.TryLock(ctx, key)
	if err != nil || !ok {
		return nil, ok, err
	}
	return release, true, nil
}
