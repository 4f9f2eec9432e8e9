package metering

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	alertdomain "github.com/smallbiznis/meterline/internal/alert/domain"
	alertservice "github.com/smallbiznis/meterline/internal/alert/service"
	"github.com/smallbiznis/meterline/internal/billing"
	"github.com/smallbiznis/meterline/internal/clock"
	"github.com/smallbiznis/meterline/internal/config"
	"github.com/smallbiznis/meterline/internal/pricing"
	"github.com/smallbiznis/meterline/internal/quota"
	"github.com/smallbiznis/meterline/internal/tenant"
	"github.com/smallbiznis/meterline/internal/testutil"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
	usageservice "github.com/smallbiznis/meterline/internal/usage/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var now = time.Date(2025, 6, 20, 9, 30, 0, 0, time.UTC)

type fixture struct {
	svc    Service
	alerts alertdomain.Service
	totals tenant.TotalsCache
}

func setup(t *testing.T) fixture {
	t.Helper()
	conn := testutil.OpenSQLite(t, &tenant.Tenant{}, &usagedomain.UsageSample{}, &alertdomain.BillingAlert{})
	require.NoError(t, conn.Create([]tenant.Tenant{
		{ID: "acme", Plan: "free", Active: true},
		{ID: "globex", Plan: "pro", Active: true},
	}).Error)

	var cfg config.Config
	cfg.Alert.WarningThreshold = 80
	cfg.Alert.CriticalThreshold = 95

	log := zap.NewNop()
	clk := clock.NewFakeClock(now)
	node := testutil.Node(t)
	directory := tenant.NewGormDirectory(conn)
	catalog := pricing.Static(pricing.DefaultCatalog())
	totals := tenant.NewMemoryTotals()

	ledger := usageservice.NewService(usageservice.ServiceParam{DB: conn, Log: log, GenID: node, Clock: clk})
	quotas, err := quota.NewService(quota.Params{
		Log: log, Config: cfg, Tenants: directory, Catalog: catalog, Ledger: ledger, Clock: clk,
	})
	require.NoError(t, err)
	alerts, err := alertservice.NewService(alertservice.ServiceParam{
		DB: conn, Log: log, GenID: node, Config: cfg, Clock: clk,
	})
	require.NoError(t, err)

	svc := NewService(Params{
		Log:     log,
		Tenants: directory,
		Totals:  totals,
		Ledger:  ledger,
		Quotas:  quotas,
		Billing: billing.NewService(billing.Params{Log: log, Tenants: directory, Catalog: catalog, Ledger: ledger}),
		Alerts:  alerts,
	})
	return fixture{svc: svc, alerts: alerts, totals: totals}
}

func (f fixture) recordUsage(t *testing.T, tenantID string, metric usagedomain.MetricType, value float64) {
	t.Helper()
	_, err := f.svc.RecordUsage(context.Background(), RecordUsageRequest{
		TenantID:          tenantID,
		ServiceInstanceID: "inst-1",
		MetricType:        metric,
		Value:             value,
		Timestamp:         now.Add(-time.Hour),
	})
	require.NoError(t, err)
}

func TestQuotaBreachRaisesSingleCriticalAlert(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.recordUsage(t, "acme", usagedomain.MetricAPICalls, 950)

	snap, err := f.svc.GetTenantQuotas(ctx, "acme")
	require.NoError(t, err)
	pct := snap.Metrics[usagedomain.MetricAPICalls].Percentage
	assert.InDelta(t, 95, pct, 1e-9)

	for i := 0; i < 3; i++ {
		_, err := f.alerts.EvaluateAndAlert(ctx, "acme", usagedomain.MetricAPICalls, pct)
		require.NoError(t, err)
	}
	active, err := f.svc.GetBillingAlerts(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, alertdomain.LevelCritical, active[0].Level)

	ok, err := f.svc.CheckQuotaLimit(ctx, "acme", usagedomain.MetricAPICalls, 50)
	require.NoError(t, err)
	assert.True(t, ok)

	f.recordUsage(t, "acme", usagedomain.MetricAPICalls, 50)
	snap, err = f.svc.GetTenantQuotas(ctx, "acme")
	require.NoError(t, err)
	assert.InDelta(t, 100, snap.Metrics[usagedomain.MetricAPICalls].Percentage, 1e-9)

	ok, err = f.svc.CheckQuotaLimit(ctx, "acme", usagedomain.MetricAPICalls, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.svc.ResolveAlert(ctx, active[0].ID))
	active, err = f.svc.GetBillingAlerts(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRecordUsageUpdatesRunningTotals(t *testing.T) {
	f := setup(t)
	f.recordUsage(t, "globex", usagedomain.MetricQueueMessages, 12)
	f.recordUsage(t, "globex", usagedomain.MetricQueueMessages, 30)

	totals, err := f.totals.Get(context.Background(), "globex")
	require.NoError(t, err)
	assert.Equal(t, 42.0, totals[usagedomain.MetricQueueMessages])
}

func TestGetRunningTotals(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.recordUsage(t, "globex", usagedomain.MetricAPICalls, 100)
	f.recordUsage(t, "globex", usagedomain.MetricAPICalls, 25)
	f.recordUsage(t, "globex", usagedomain.MetricStorageBytes, 4096)
	f.recordUsage(t, "globex", usagedomain.MetricStorageBytes, 1024)

	got, err := f.svc.GetRunningTotals(ctx, "globex")
	require.NoError(t, err)
	assert.Len(t, got, len(usagedomain.MetricTypes()))
	assert.Equal(t, 125.0, got[usagedomain.MetricAPICalls])
	assert.Equal(t, 1024.0, got[usagedomain.MetricStorageBytes])
	assert.Zero(t, got[usagedomain.MetricQueueMessages])

	_, err = f.svc.GetRunningTotals(ctx, "initech")
	assert.ErrorIs(t, err, tenant.ErrTenantNotFound)
}

func TestRecordUsageRejectsUnknownTenant(t *testing.T) {
	f := setup(t)
	_, err := f.svc.RecordUsage(context.Background(), RecordUsageRequest{
		TenantID:   "initech",
		MetricType: usagedomain.MetricAPICalls,
		Value:      1,
	})
	if !errors.Is(err, tenant.ErrTenantNotFound) {
		t.Fatalf("expected tenant not found, got %v", err)
	}

	_, err = f.svc.RecordUsage(context.Background(), RecordUsageRequest{TenantID: "acme", MetricType: "cpu", Value: 1})
	assert.ErrorIs(t, err, usagedomain.ErrInvalidSample)
}

func TestMonthlyBillAgreesWithUsageRange(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.recordUsage(t, "globex", usagedomain.MetricDatabaseQueries, 250_000)
	f.recordUsage(t, "globex", usagedomain.MetricStorageBytes, 50*pricing.GiB)

	bill, err := f.svc.CalculateMonthlyBill(ctx, "globex", 2025, time.June)
	require.NoError(t, err)

	usage, err := f.svc.GetTenantUsage(ctx, "globex",
		time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC),
	)
	require.NoError(t, err)
	assert.True(t, bill.Equal(usage.EstimatedCost))
	// 250000 * 0.00008 + 50 GiB * 0.08
	assert.True(t, bill.Equal(decimal.RequireFromString("24")), "got %s", bill)
}
