package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	alertdomain "github.com/smallbiznis/meterline/internal/alert/domain"
	alertservice "github.com/smallbiznis/meterline/internal/alert/service"
	"github.com/smallbiznis/meterline/internal/clock"
	"github.com/smallbiznis/meterline/internal/config"
	"github.com/smallbiznis/meterline/internal/pricing"
	"github.com/smallbiznis/meterline/internal/provisioning"
	"github.com/smallbiznis/meterline/internal/quota"
	"github.com/smallbiznis/meterline/internal/tenant"
	"github.com/smallbiznis/meterline/internal/testutil"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
	usageservice "github.com/smallbiznis/meterline/internal/usage/service"
	pkgdb "github.com/smallbiznis/meterline/pkg/db"
	"github.com/smallbiznis/meterline/pkg/lock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var start = time.Date(2025, 6, 15, 10, 0, 0, 0, time.UTC)

type stubInstances struct {
	mu        sync.Mutex
	instances []provisioning.ServiceInstance
	err       error
	calls     int
}

func (s *stubInstances) GetRunningServiceInstances(context.Context) ([]provisioning.ServiceInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.instances, s.err
}

type stubSource struct {
	serviceType string
	values      map[string]float64
	err         error
}

func (s stubSource) ServiceType() string { return s.serviceType }

func (s stubSource) Snapshot(context.Context, provisioning.ServiceInstance) (provisioning.MetricSnapshot, error) {
	if s.err != nil {
		return provisioning.MetricSnapshot{}, s.err
	}
	return provisioning.MetricSnapshot{Values: s.values}, nil
}

type recordingDispatcher struct {
	mu     sync.Mutex
	failOn map[string]bool
	sent   []alertdomain.BillingAlert
}

func (d *recordingDispatcher) Notify(_ context.Context, alert alertdomain.BillingAlert) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failOn[alert.TenantID] {
		return errors.New("smtp unreachable")
	}
	d.sent = append(d.sent, alert)
	return nil
}

type fixture struct {
	worker     *Worker
	params     Params
	db         *gorm.DB
	clock      *clock.FakeClock
	instances  *stubInstances
	ledger     usagedomain.Ledger
	alerts     alertdomain.Service
	totals     tenant.TotalsCache
	locker     lock.Locker
	dispatcher *recordingDispatcher
}

func setup(t *testing.T) *fixture {
	t.Helper()
	conn := testutil.OpenSQLite(t,
		&tenant.Tenant{},
		&usagedomain.UsageSample{},
		&alertdomain.BillingAlert{},
	)
	require.NoError(t, conn.Create([]tenant.Tenant{
		{ID: "t-1", Plan: "free", Active: true},
		{ID: "t-2", Plan: "gold", Active: true},
		{ID: "t-3", Plan: "free", Active: true},
		{ID: "t-off", Plan: "free", Active: true},
	}).Error)
	require.NoError(t, conn.Model(&tenant.Tenant{}).Where("id = ?", "t-off").Update("active", false).Error)

	var cfg config.Config
	cfg.Alert.WarningThreshold = 80
	cfg.Alert.CriticalThreshold = 95

	log := zap.NewNop()
	clk := clock.NewFakeClock(start)
	node := testutil.Node(t)
	locker := lock.NewLocal()
	directory := tenant.NewGormDirectory(conn)
	totals := tenant.NewMemoryTotals()

	ledger := usageservice.NewService(usageservice.ServiceParam{DB: conn, Log: log, GenID: node, Clock: clk})
	quotas, err := quota.NewService(quota.Params{
		Log:     log,
		Config:  cfg,
		Tenants: directory,
		Catalog: pricing.Static(pricing.DefaultCatalog()),
		Ledger:  ledger,
		Clock:   clk,
	})
	require.NoError(t, err)
	alerts, err := alertservice.NewService(alertservice.ServiceParam{
		DB:     conn,
		Log:    log,
		GenID:  node,
		Config: cfg,
		Locker: locker,
		Clock:  clk,
	})
	require.NoError(t, err)

	instances := &stubInstances{}
	dispatcher := &recordingDispatcher{failOn: map[string]bool{}}
	registry := provisioning.NewRegistry(time.Second,
		stubSource{serviceType: "stub", values: map[string]float64{
			"api_calls":     10,
			"storage_bytes": 2048,
			"cpu_seconds":   3,
		}},
		stubSource{serviceType: "broken", err: errors.New("connection refused")},
	)

	params := Params{
		Log: log,
		Config: Config{
			MetricsInterval: time.Minute,
			BillingInterval: time.Hour,
			NotifyInterval:  2 * time.Minute,
			BackoffInitial:  10 * time.Second,
			BackoffMax:      40 * time.Second,
		},
		Clock:      clk,
		Instances:  instances,
		Registry:   registry,
		Tenants:    directory,
		Totals:     totals,
		Ledger:     ledger,
		Quotas:     quotas,
		Alerts:     alerts,
		Dispatcher: dispatcher,
		Locker:     locker,
	}
	w, err := New(params)
	require.NoError(t, err)

	return &fixture{
		worker:     w,
		params:     params,
		db:         conn,
		clock:      clk,
		instances:  instances,
		ledger:     ledger,
		alerts:     alerts,
		totals:     totals,
		locker:     locker,
		dispatcher: dispatcher,
	}
}

func (f *fixture) record(t *testing.T, tenantID string, metric usagedomain.MetricType, value float64) {
	t.Helper()
	_, err := f.ledger.Record(context.Background(), usagedomain.RecordRequest{
		TenantID:   tenantID,
		MetricType: metric,
		Value:      value,
	})
	require.NoError(t, err)
}

func (f *fixture) samples(t *testing.T, tenantID string) []usagedomain.UsageSample {
	t.Helper()
	rows, err := f.ledger.Query(context.Background(), tenantID, start.AddDate(-1, 0, 0), start.AddDate(1, 0, 0))
	require.NoError(t, err)
	return rows
}

func TestNewRejectsMissingDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestCollectOnceIsolatesFailingInstances(t *testing.T) {
	f := setup(t)
	f.instances.instances = []provisioning.ServiceInstance{
		{ID: "i-1", TenantID: "t-1", ServiceType: "stub", Status: provisioning.StatusRunning},
		{ID: "i-2", TenantID: "t-2", ServiceType: "broken", Status: provisioning.StatusRunning},
		{ID: "i-3", TenantID: "t-3", ServiceType: "stub", Status: provisioning.StatusRunning},
		{ID: "i-4", TenantID: "t-3", ServiceType: "unregistered", Status: provisioning.StatusRunning},
	}

	require.NoError(t, f.worker.CollectOnce(context.Background()))

	t1 := f.samples(t, "t-1")
	require.Len(t, t1, 2, "unknown metric names are skipped")
	for _, s := range t1 {
		assert.Equal(t, "i-1", s.ServiceInstanceID)
		assert.Equal(t, start, s.ObservedAt.UTC())
		assert.Equal(t, "stub", s.Metadata["service_type"])
	}
	assert.Empty(t, f.samples(t, "t-2"))
	assert.Len(t, f.samples(t, "t-3"), 2)

	totals, err := f.totals.Get(context.Background(), "t-1")
	require.NoError(t, err)
	assert.Equal(t, 10.0, totals[usagedomain.MetricAPICalls])
	assert.Equal(t, 2048.0, totals[usagedomain.MetricStorageBytes])
}

func TestCollectOnceKeepsStorageLevelAcrossCycles(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.instances.instances = []provisioning.ServiceInstance{
		{ID: "i-1", TenantID: "t-1", ServiceType: "stub", Status: provisioning.StatusRunning},
	}

	for i := 0; i < 3; i++ {
		require.NoError(t, f.worker.CollectOnce(ctx))
		f.clock.Advance(time.Minute)
	}

	totals, err := f.totals.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, 2048.0, totals[usagedomain.MetricStorageBytes])
	assert.Equal(t, 30.0, totals[usagedomain.MetricAPICalls])
	assert.Len(t, f.samples(t, "t-1"), 6)
}

func TestCollectOnceFailsWhenListingFails(t *testing.T) {
	f := setup(t)
	f.instances.err = errors.New("provisioning api down")
	assert.Error(t, f.worker.CollectOnce(context.Background()))
}

func TestCollectOnceFailsWhenStoreIsDown(t *testing.T) {
	f := setup(t)
	f.instances.instances = []provisioning.ServiceInstance{
		{ID: "i-1", TenantID: "t-1", ServiceType: "stub", Status: provisioning.StatusRunning},
	}
	testutil.CloseDB(t, f.db)

	err := f.worker.CollectOnce(context.Background())
	assert.ErrorIs(t, err, pkgdb.ErrStoreUnavailable)
}

func TestEvaluateOnceRaisesAlertsAndIsolatesTenants(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.record(t, "t-1", usagedomain.MetricAPICalls, 950)
	f.record(t, "t-2", usagedomain.MetricAPICalls, 999)
	f.record(t, "t-3", usagedomain.MetricAPICalls, 850)
	f.record(t, "t-off", usagedomain.MetricAPICalls, 1000)

	require.NoError(t, f.worker.EvaluateOnce(ctx))

	t1, err := f.alerts.ListActiveAlerts(ctx, "t-1")
	require.NoError(t, err)
	require.Len(t, t1, 1)
	assert.Equal(t, alertdomain.LevelCritical, t1[0].Level)
	assert.InDelta(t, 95, t1[0].Percentage, 1e-9)

	t3, err := f.alerts.ListActiveAlerts(ctx, "t-3")
	require.NoError(t, err)
	require.Len(t, t3, 1)
	assert.Equal(t, alertdomain.LevelWarning, t3[0].Level)

	for _, id := range []string{"t-2", "t-off"} {
		none, err := f.alerts.ListActiveAlerts(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, none, id)
	}

	totals, err := f.totals.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, 950.0, totals[usagedomain.MetricAPICalls])

	require.NoError(t, f.worker.EvaluateOnce(ctx))
	var count int64
	require.NoError(t, f.db.Model(&alertdomain.BillingAlert{}).Count(&count).Error)
	assert.Equal(t, int64(2), count, "re-evaluation must not duplicate alerts")
}

type staticTenants struct {
	tenant.Directory
	active []tenant.Tenant
}

func (s staticTenants) GetActiveTenants(context.Context) ([]tenant.Tenant, error) {
	return s.active, nil
}

func TestEvaluateOnceFailsWhenStoreIsDown(t *testing.T) {
	f := setup(t)
	p := f.params
	p.Tenants = staticTenants{
		Directory: p.Tenants,
		active:    []tenant.Tenant{{ID: "t-1", Plan: "free", Active: true}},
	}
	w, err := New(p)
	require.NoError(t, err)
	testutil.CloseDB(t, f.db)

	err = w.EvaluateOnce(context.Background())
	require.ErrorIs(t, err, pkgdb.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "evaluate tenants")
}

func TestEvaluateOnceSkipsWhenAnotherReplicaHoldsTheLock(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.record(t, "t-1", usagedomain.MetricAPICalls, 990)

	release, ok, err := f.locker.TryLock(ctx, billingLockKey)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, f.worker.EvaluateOnce(ctx))
	active, err := f.alerts.ListActiveAlerts(ctx, "t-1")
	require.NoError(t, err)
	assert.Empty(t, active)

	release()
	require.NoError(t, f.worker.EvaluateOnce(ctx))
	active, err = f.alerts.ListActiveAlerts(ctx, "t-1")
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestEvaluateOncePrunesExpiredSamples(t *testing.T) {
	f := setup(t)
	f.record(t, "t-1", usagedomain.MetricAPICalls, 5)

	f.clock.Advance(89 * 24 * time.Hour)
	require.NoError(t, f.worker.EvaluateOnce(context.Background()))
	assert.Len(t, f.samples(t, "t-1"), 1)

	f.clock.Advance(2 * 24 * time.Hour)
	require.NoError(t, f.worker.EvaluateOnce(context.Background()))
	assert.Empty(t, f.samples(t, "t-1"))
}

func TestNotifyOnceMarksDeliveredAlerts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_, err := f.alerts.EvaluateAndAlert(ctx, "t-1", usagedomain.MetricAPICalls, 96)
	require.NoError(t, err)
	_, err = f.alerts.EvaluateAndAlert(ctx, "t-3", usagedomain.MetricAPICalls, 85)
	require.NoError(t, err)
	f.dispatcher.failOn["t-3"] = true

	require.NoError(t, f.worker.NotifyOnce(ctx))
	require.Len(t, f.dispatcher.sent, 1)
	assert.Equal(t, "t-1", f.dispatcher.sent[0].TenantID)

	pending, err := f.alerts.PendingNotifications(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "t-3", pending[0].TenantID)

	f.dispatcher.failOn["t-3"] = false
	require.NoError(t, f.worker.NotifyOnce(ctx))
	pending, err = f.alerts.PendingNotifications(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Len(t, f.dispatcher.sent, 2)
}

func TestRunLoopBacksOffAfterFailures(t *testing.T) {
	f := setup(t)
	delays := make(chan time.Duration, 16)
	f.worker.scheduled = func(_ string, d time.Duration) { delays <- d }

	var mu sync.Mutex
	failures := 4
	runs := 0
	l := loop{name: "test", interval: time.Minute, run: func(context.Context) error {
		mu.Lock()
		defer mu.Unlock()
		runs++
		if runs <= failures {
			return errors.New("store down")
		}
		return nil
	}}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.worker.runLoop(ctx, l)
	}()

	want := []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second, 40 * time.Second, time.Minute, time.Minute}
	for i, d := range want {
		select {
		case got := <-delays:
			assert.Equal(t, d, got, "cycle %d", i+1)
		case <-time.After(2 * time.Second):
			t.Fatalf("cycle %d was not scheduled", i+1)
		}
		if i == len(want)-1 {
			break
		}
		f.clock.Advance(d - time.Second)
		select {
		case <-delays:
			t.Fatalf("cycle %d ran before its delay elapsed", i+2)
		case <-time.After(20 * time.Millisecond):
		}
		f.clock.Advance(time.Second)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not stop after cancellation")
	}
	mu.Lock()
	assert.Equal(t, 6, runs)
	mu.Unlock()
}

func TestRunForeverStopsOnCancel(t *testing.T) {
	f := setup(t)
	scheduled := make(chan string, 8)
	f.worker.scheduled = func(loop string, _ time.Duration) { scheduled <- loop }

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.worker.RunForever(ctx)
	}()

	seen := map[string]bool{}
	for len(seen) < 3 {
		select {
		case name := <-scheduled:
			seen[name] = true
		case <-time.After(2 * time.Second):
			t.Fatalf("loops did not run their first cycle, saw %v", seen)
		}
	}
	assert.True(t, seen[LoopMetrics] && seen[LoopBilling] && seen[LoopNotifications])

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}

func TestConfigBackoff(t *testing.T) {
	cfg := Config{BackoffInitial: time.Minute, BackoffMax: 5 * time.Minute}.withDefaults()
	var d time.Duration
	var got []time.Duration
	for i := 0; i < 5; i++ {
		d = cfg.nextBackoff(d)
		got = append(got, d)
	}
	assert.Equal(t, []time.Duration{time.Minute, 2 * time.Minute, 4 * time.Minute, 5 * time.Minute, 5 * time.Minute}, got)
}
