// Package quota computes current-period usage against plan quotas.
package quota

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/smallbiznis/meterline/internal/clock"
	"github.com/smallbiznis/meterline/internal/config"
	obsmetrics "github.com/smallbiznis/meterline/internal/observability/metrics"
	"github.com/smallbiznis/meterline/internal/pricing"
	"github.com/smallbiznis/meterline/internal/tenant"
	"github.com/smallbiznis/meterline/internal/usage/aggregate"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// ZeroQuotaPolicy decides how a quota of 0 is read.
type ZeroQuotaPolicy string

const (
	// ZeroQuotaNeverAlert reports 0% and checks admission arithmetically.
	ZeroQuotaNeverAlert ZeroQuotaPolicy = "never_alert"
	// ZeroQuotaUnlimited reports 0% and admits every request.
	ZeroQuotaUnlimited ZeroQuotaPolicy = "unlimited"
	// ZeroQuotaAlwaysOver reports 100% once any usage exists and denies
	// every positive request.
	ZeroQuotaAlwaysOver ZeroQuotaPolicy = "always_over"
)

var (
	ErrInvalidAmount = errors.New("invalid_amount")
	ErrInvalidMetric = errors.New("invalid_metric")
	ErrInvalidPolicy = errors.New("invalid_zero_quota_policy")
)

func ParseZeroQuotaPolicy(raw string) (ZeroQuotaPolicy, error) {
	switch p := ZeroQuotaPolicy(strings.ToLower(strings.TrimSpace(raw))); p {
	case "":
		return ZeroQuotaNeverAlert, nil
	case ZeroQuotaNeverAlert, ZeroQuotaUnlimited, ZeroQuotaAlwaysOver:
		return p, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPolicy, raw)
	}
}

type QuotaUsage struct {
	Quota      float64 `json:"quota"`
	Current    float64 `json:"current"`
	Percentage float64 `json:"percentage"`
}

// TenantQuotaSnapshot is derived on demand and never persisted.
type TenantQuotaSnapshot struct {
	TenantID    string                                `json:"tenant_id"`
	Plan        string                                `json:"plan"`
	PeriodStart time.Time                             `json:"period_start"`
	PeriodEnd   time.Time                             `json:"period_end"`
	Metrics     map[usagedomain.MetricType]QuotaUsage `json:"metrics"`
}

// Current returns the aggregate usage per metric.
func (s *TenantQuotaSnapshot) Current() map[usagedomain.MetricType]float64 {
	out := make(map[usagedomain.MetricType]float64, len(s.Metrics))
	for m, u := range s.Metrics {
		out[m] = u.Current
	}
	return out
}

type Service interface {
	GetQuotas(ctx context.Context, tenantID string) (*TenantQuotaSnapshot, error)
	// CheckQuotaLimit reports whether current + amount stays within quota.
	// The answer is advisory; no capacity is reserved.
	CheckQuotaLimit(ctx context.Context, tenantID string, metric usagedomain.MetricType, amount float64) (bool, error)
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Config     config.Config
	Tenants    tenant.Directory
	Catalog    pricing.Provider
	Ledger     usagedomain.Ledger
	Clock      clock.Clock         `optional:"true"`
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type evaluator struct {
	log        *zap.Logger
	tenants    tenant.Directory
	catalog    pricing.Provider
	ledger     usagedomain.Ledger
	clock      clock.Clock
	obsMetrics *obsmetrics.Metrics
	zeroPolicy ZeroQuotaPolicy
}

func NewService(p Params) (Service, error) {
	policy, err := ParseZeroQuotaPolicy(p.Config.Alert.ZeroQuotaPolicy)
	if err != nil {
		return nil, err
	}
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	return &evaluator{
		log:        p.Log.Named("quota.service"),
		tenants:    p.Tenants,
		catalog:    p.Catalog,
		ledger:     p.Ledger,
		clock:      clk,
		obsMetrics: p.ObsMetrics,
		zeroPolicy: policy,
	}, nil
}

func (e *evaluator) GetQuotas(ctx context.Context, tenantID string) (*TenantQuotaSnapshot, error) {
	t, err := e.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	tier, err := e.catalog.Catalog().GetTier(t.Plan)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: %w", t.ID, err)
	}

	start, end := aggregate.MonthPeriod(e.clock.Now())
	samples, err := e.ledger.Query(ctx, t.ID, start, end)
	if err != nil {
		return nil, err
	}
	totals := aggregate.Samples(samples)

	snap := &TenantQuotaSnapshot{
		TenantID:    t.ID,
		Plan:        tier.Name,
		PeriodStart: start,
		PeriodEnd:   end,
		Metrics:     make(map[usagedomain.MetricType]QuotaUsage, len(totals)),
	}
	for _, m := range usagedomain.MetricTypes() {
		quota := tier.Quota(m)
		current := totals.Get(m)
		snap.Metrics[m] = QuotaUsage{
			Quota:      quota,
			Current:    current,
			Percentage: e.percentage(current, quota),
		}
	}
	return snap, nil
}

func (e *evaluator) CheckQuotaLimit(ctx context.Context, tenantID string, metric usagedomain.MetricType, amount float64) (bool, error) {
	if !metric.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidMetric, metric)
	}
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount < 0 {
		return false, fmt.Errorf("%w: %v", ErrInvalidAmount, amount)
	}

	snap, err := e.GetQuotas(ctx, tenantID)
	if err != nil {
		return false, err
	}
	usage := snap.Metrics[metric]
	allowed := e.admits(usage.Current, amount, usage.Quota)
	e.obsMetrics.RecordQuotaCheck(ctx, string(metric), allowed)
	return allowed, nil
}

func (e *evaluator) percentage(current, quota float64) float64 {
	if quota > 0 {
		return current * 100 / quota
	}
	if e.zeroPolicy == ZeroQuotaAlwaysOver && current > 0 {
		return 100
	}
	return 0
}

func (e *evaluator) admits(current, amount, quota float64) bool {
	if quota == 0 {
		switch e.zeroPolicy {
		case ZeroQuotaUnlimited:
			return true
		case ZeroQuotaAlwaysOver:
			return amount == 0
		}
	}
	return current+amount <= quota
}
