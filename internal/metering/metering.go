// Package metering is the entry point other services use to record usage
// and read quotas, bills and alerts.
package metering

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	alertdomain "github.com/smallbiznis/meterline/internal/alert/domain"
	"github.com/smallbiznis/meterline/internal/billing"
	obslogger "github.com/smallbiznis/meterline/internal/observability/logger"
	"github.com/smallbiznis/meterline/internal/quota"
	"github.com/smallbiznis/meterline/internal/tenant"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type RecordUsageRequest struct {
	TenantID          string                 `json:"tenant_id"`
	ServiceInstanceID string                 `json:"service_instance_id"`
	MetricType        usagedomain.MetricType `json:"metric_type"`
	Value             float64                `json:"value"`
	Timestamp         time.Time              `json:"timestamp"`
}

type Service interface {
	RecordUsage(ctx context.Context, req RecordUsageRequest) (*usagedomain.UsageSample, error)
	GetTenantUsage(ctx context.Context, tenantID string, from, to time.Time) (*billing.BillingUsage, error)
	GetTenantQuotas(ctx context.Context, tenantID string) (*quota.TenantQuotaSnapshot, error)
	GetRunningTotals(ctx context.Context, tenantID string) (map[usagedomain.MetricType]float64, error)
	CheckQuotaLimit(ctx context.Context, tenantID string, metric usagedomain.MetricType, amount float64) (bool, error)
	GetBillingAlerts(ctx context.Context, tenantID string) ([]alertdomain.BillingAlert, error)
	CalculateMonthlyBill(ctx context.Context, tenantID string, year int, month time.Month) (decimal.Decimal, error)
	ResolveAlert(ctx context.Context, alertID snowflake.ID) error
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Tenants tenant.Directory
	Totals  tenant.TotalsCache
	Ledger  usagedomain.Ledger
	Quotas  quota.Service
	Billing billing.Service
	Alerts  alertdomain.Service
}

type service struct {
	log     *zap.Logger
	tenants tenant.Directory
	totals  tenant.TotalsCache
	ledger  usagedomain.Ledger
	quotas  quota.Service
	billing billing.Service
	alerts  alertdomain.Service
}

func NewService(p Params) Service {
	return &service{
		log:     p.Log.Named("metering.service"),
		tenants: p.Tenants,
		totals:  p.Totals,
		ledger:  p.Ledger,
		quotas:  p.Quotas,
		billing: p.Billing,
		alerts:  p.Alerts,
	}
}

// RecordUsage appends a sample for a known tenant and bumps its running
// totals. A totals failure is logged; the sample stays recorded.
func (s *service) RecordUsage(ctx context.Context, req RecordUsageRequest) (*usagedomain.UsageSample, error) {
	if req.TenantID == "" {
		return nil, usagedomain.ErrInvalidTenant
	}
	if _, err := s.tenants.Get(ctx, req.TenantID); err != nil {
		return nil, err
	}

	sample, err := s.ledger.Record(ctx, usagedomain.RecordRequest{
		TenantID:          req.TenantID,
		ServiceInstanceID: req.ServiceInstanceID,
		MetricType:        req.MetricType,
		Value:             req.Value,
		ObservedAt:        req.Timestamp,
	})
	if err != nil {
		return nil, err
	}

	if err := s.totals.Add(ctx, sample.TenantID, sample.MetricType, sample.Value); err != nil {
		obslogger.WithContext(ctx, s.log).Warn("update running totals failed",
			zap.String("tenant_id", sample.TenantID),
			zap.String("metric", string(sample.MetricType)),
			zap.Error(err),
		)
	}
	return sample, nil
}

func (s *service) GetTenantUsage(ctx context.Context, tenantID string, from, to time.Time) (*billing.BillingUsage, error) {
	return s.billing.GetUsage(ctx, tenantID, from, to)
}

func (s *service) GetTenantQuotas(ctx context.Context, tenantID string) (*quota.TenantQuotaSnapshot, error) {
	return s.quotas.GetQuotas(ctx, tenantID)
}

// GetRunningTotals reads the cached totals of a known tenant. Every metric
// type is present; metrics with no recorded usage read as zero.
func (s *service) GetRunningTotals(ctx context.Context, tenantID string) (map[usagedomain.MetricType]float64, error) {
	if _, err := s.tenants.Get(ctx, tenantID); err != nil {
		return nil, err
	}
	cached, err := s.totals.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("read running totals: %w", err)
	}
	out := make(map[usagedomain.MetricType]float64, len(usagedomain.MetricTypes()))
	for _, m := range usagedomain.MetricTypes() {
		out[m] = cached[m]
	}
	return out, nil
}

func (s *service) CheckQuotaLimit(ctx context.Context, tenantID string, metric usagedomain.MetricType, amount float64) (bool, error) {
	return s.quotas.CheckQuotaLimit(ctx, tenantID, metric, amount)
}

func (s *service) GetBillingAlerts(ctx context.Context, tenantID string) ([]alertdomain.BillingAlert, error) {
	if _, err := s.tenants.Get(ctx, tenantID); err != nil {
		return nil, err
	}
	return s.alerts.ListActiveAlerts(ctx, tenantID)
}

func (s *service) CalculateMonthlyBill(ctx context.Context, tenantID string, year int, month time.Month) (decimal.Decimal, error) {
	return s.billing.CalculateMonthlyBill(ctx, tenantID, year, month)
}

func (s *service) ResolveAlert(ctx context.Context, alertID snowflake.ID) error {
	return s.alerts.ResolveAlert(ctx, alertID)
}
