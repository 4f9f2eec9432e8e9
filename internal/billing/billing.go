// Package billing estimates the cost of a tenant's usage over a date range.
package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	obsmetrics "github.com/smallbiznis/meterline/internal/observability/metrics"
	"github.com/smallbiznis/meterline/internal/pricing"
	"github.com/smallbiznis/meterline/internal/tenant"
	"github.com/smallbiznis/meterline/internal/usage/aggregate"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// CostPrecision is the number of decimal places estimated costs are
// rounded to.
const CostPrecision = 4

var (
	ErrInvalidRange = errors.New("invalid_range")
	ErrInvalidMonth = errors.New("invalid_month")
)

var bytesPerGiB = decimal.NewFromInt(1 << 30)

// BillingUsage is the aggregate usage of a tenant over [From, To] and its
// estimated cost. To is a date and covers that whole day.
type BillingUsage struct {
	TenantID      string                             `json:"tenant_id"`
	From          time.Time                          `json:"from"`
	To            time.Time                          `json:"to"`
	Plan          string                             `json:"plan"`
	Metrics       map[usagedomain.MetricType]float64 `json:"metrics"`
	EstimatedCost decimal.Decimal                    `json:"estimated_cost"`
}

type Service interface {
	GetUsage(ctx context.Context, tenantID string, from, to time.Time) (*BillingUsage, error)
	CalculateMonthlyBill(ctx context.Context, tenantID string, year int, month time.Month) (decimal.Decimal, error)
}

type Params struct {
	fx.In

	Log        *zap.Logger
	Tenants    tenant.Directory
	Catalog    pricing.Provider
	Ledger     usagedomain.Ledger
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

type calculator struct {
	log        *zap.Logger
	tenants    tenant.Directory
	catalog    pricing.Provider
	ledger     usagedomain.Ledger
	obsMetrics *obsmetrics.Metrics
}

func NewService(p Params) Service {
	return &calculator{
		log:        p.Log.Named("billing.service"),
		tenants:    p.Tenants,
		catalog:    p.Catalog,
		ledger:     p.Ledger,
		obsMetrics: p.ObsMetrics,
	}
}

func (c *calculator) GetUsage(ctx context.Context, tenantID string, from, to time.Time) (*BillingUsage, error) {
	if from.After(to) {
		return nil, fmt.Errorf("%w: from %s is after to %s", ErrInvalidRange, from.Format(time.DateOnly), to.Format(time.DateOnly))
	}
	start, end := aggregate.DayRange(from, to)

	t, err := c.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	tier, err := c.catalog.Catalog().GetTier(t.Plan)
	if err != nil {
		return nil, fmt.Errorf("tenant %s: %w", t.ID, err)
	}

	samples, err := c.ledger.Query(ctx, t.ID, start, end)
	if err != nil {
		return nil, err
	}
	totals := aggregate.Samples(samples)

	usage := &BillingUsage{
		TenantID:      t.ID,
		From:          from,
		To:            to,
		Plan:          tier.Name,
		Metrics:       make(map[usagedomain.MetricType]float64, len(totals)),
		EstimatedCost: Cost(tier, totals),
	}
	for m, v := range totals {
		usage.Metrics[m] = v
	}
	c.obsMetrics.RecordBillCalculation(ctx, tier.Name)
	return usage, nil
}

// CalculateMonthlyBill returns the estimated cost of the given calendar
// month. It always agrees with GetUsage over the first and last day of that
// month.
func (c *calculator) CalculateMonthlyBill(ctx context.Context, tenantID string, year int, month time.Month) (decimal.Decimal, error) {
	if month < time.January || month > time.December {
		return decimal.Zero, fmt.Errorf("%w: %d", ErrInvalidMonth, month)
	}
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)

	usage, err := c.GetUsage(ctx, tenantID, first, last)
	if err != nil {
		return decimal.Zero, err
	}
	return usage.EstimatedCost, nil
}

// Cost prices totals against tier. Storage is billed per GiB, everything
// else per unit.
func Cost(tier pricing.PlanTier, totals aggregate.Totals) decimal.Decimal {
	total := decimal.Zero
	for _, m := range usagedomain.MetricTypes() {
		qty := decimal.NewFromFloat(totals.Get(m))
		if m == usagedomain.MetricStorageBytes {
			qty = qty.Div(bytesPerGiB)
		}
		total = total.Add(qty.Mul(tier.Price(m)))
	}
	return total.Round(CostPrecision)
}
