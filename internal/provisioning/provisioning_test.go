package provisioning

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/meterline/internal/clock"
	"github.com/smallbiznis/meterline/internal/config"
	"github.com/smallbiznis/meterline/internal/observability/metrics"
	"github.com/smallbiznis/meterline/internal/testutil"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
)

type stubSource struct {
	serviceType string
	snap        MetricSnapshot
	err         error
	block       bool
}

func (s stubSource) ServiceType() string { return s.serviceType }

func (s stubSource) Snapshot(ctx context.Context, _ ServiceInstance) (MetricSnapshot, error) {
	if s.block {
		<-ctx.Done()
		return MetricSnapshot{}, ctx.Err()
	}
	return s.snap, s.err
}

func TestRegistryDispatchesByServiceType(t *testing.T) {
	want := MetricSnapshot{Values: map[string]float64{"api_calls": 3}}
	r := NewRegistry(time.Second, stubSource{serviceType: "queue", snap: want})

	got, err := r.Snapshot(context.Background(), ServiceInstance{ID: "i-1", ServiceType: "queue"})
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, []string{"queue"}, r.ServiceTypes())
}

func TestRegistryUnknownServiceType(t *testing.T) {
	r := NewRegistry(time.Second)
	_, err := r.Snapshot(context.Background(), ServiceInstance{ID: "i-1", ServiceType: "mainframe"})
	if !errors.Is(err, ErrCollectorUnavailable) {
		t.Fatalf("expected ErrCollectorUnavailable, got %v", err)
	}
	assert.Equal(t, metrics.WorkerReasonCollector, metrics.ClassifyWorkerReason(err))
}

func TestRegistryTimesOut(t *testing.T) {
	r := NewRegistry(20*time.Millisecond, stubSource{serviceType: "function", block: true})
	_, err := r.Snapshot(context.Background(), ServiceInstance{ID: "i-1", ServiceType: "function"})
	if !errors.Is(err, ErrCollectorTimeout) {
		t.Fatalf("expected ErrCollectorTimeout, got %v", err)
	}
	var collectorErr *CollectorError
	require.ErrorAs(t, err, &collectorErr)
	assert.Equal(t, "i-1", collectorErr.InstanceID)
}

func TestRegistryWrapsSourceFailure(t *testing.T) {
	r := NewRegistry(time.Second, stubSource{serviceType: "queue", err: errors.New("broker down")})
	_, err := r.Snapshot(context.Background(), ServiceInstance{ID: "i-2", ServiceType: "queue"})
	assert.ErrorIs(t, err, ErrCollectorUnavailable)
}

func TestEmulatorsReportKnownMetrics(t *testing.T) {
	clk := clock.NewFakeClock(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC))
	for _, src := range DefaultEmulators(clk) {
		snap, err := src.Snapshot(context.Background(), ServiceInstance{ID: "i", ServiceType: src.ServiceType()})
		require.NoError(t, err)
		assert.True(t, snap.Timestamp.Equal(clk.Now()))
		require.NotEmpty(t, snap.Values, src.ServiceType())
		for name, v := range snap.Values {
			metric, ok := usagedomain.ParseMetricType(name)
			require.True(t, ok, name)
			assert.GreaterOrEqual(t, v, 0.0)
			if !metric.IsGauge() {
				assert.Equal(t, float64(int64(v)), v)
			}
		}
	}
}

func TestGormInstanceDirectoryListsRunning(t *testing.T) {
	conn := testutil.OpenSQLite(t, &ServiceInstance{})
	require.NoError(t, conn.Create([]ServiceInstance{
		{ID: "i-2", TenantID: "t-1", ServiceType: ServiceQueue, Status: StatusRunning},
		{ID: "i-1", TenantID: "t-1", ServiceType: ServiceFunction, Status: StatusRunning},
		{ID: "i-3", TenantID: "t-2", ServiceType: ServiceQueue, Status: "stopped"},
	}).Error)

	rows, err := NewGormInstanceDirectory(conn).GetRunningServiceInstances(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "i-1", rows[0].ID)
	assert.Equal(t, "i-2", rows[1].ID)
}

func TestModuleWiresDirectoryAndRegistry(t *testing.T) {
	conn := testutil.OpenSQLite(t, &ServiceInstance{})
	require.NoError(t, conn.Create(&ServiceInstance{
		ID: "i-1", TenantID: "t-1", ServiceType: ServiceObjectStorage, Status: StatusRunning,
	}).Error)

	var (
		dir      InstanceDirectory
		registry *Registry
	)
	app := fxtest.New(t,
		Module,
		fx.Supply(conn, config.Config{}),
		fx.Provide(func() clock.Clock { return clock.NewFakeClock(time.Now()) }),
		fx.Populate(&dir, &registry),
	)
	app.RequireStart()
	defer app.RequireStop()

	running, err := dir.GetRunningServiceInstances(context.Background())
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Contains(t, registry.ServiceTypes(), ServiceObjectStorage)
}
