package tenant

import (
	"context"
	"errors"
	"testing"

	"github.com/smallbiznis/meterline/internal/testutil"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
	pkgdb "github.com/smallbiznis/meterline/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGormDirectory(t *testing.T) {
	conn := testutil.OpenSQLite(t, &Tenant{})
	require.NoError(t, conn.Create([]Tenant{
		{ID: "t-2", Plan: "pro", Active: true},
		{ID: "t-1", Plan: "free", Active: true},
	}).Error)
	require.NoError(t, conn.Create(&Tenant{ID: "t-3", Plan: "free", Active: true}).Error)
	require.NoError(t, conn.Model(&Tenant{}).Where("id = ?", "t-3").Update("active", false).Error)

	dir := NewGormDirectory(conn)
	ctx := context.Background()

	got, err := dir.Get(ctx, "t-2")
	require.NoError(t, err)
	assert.Equal(t, "pro", got.Plan)

	_, err = dir.Get(ctx, "missing")
	if !errors.Is(err, ErrTenantNotFound) {
		t.Fatalf("expected ErrTenantNotFound, got %v", err)
	}

	active, err := dir.GetActiveTenants(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, "t-1", active[0].ID)
	assert.Equal(t, "t-2", active[1].ID)
}

func TestGormDirectoryStoreUnavailable(t *testing.T) {
	conn := testutil.OpenSQLite(t, &Tenant{})
	testutil.CloseDB(t, conn)

	_, err := NewGormDirectory(conn).GetActiveTenants(context.Background())
	assert.ErrorIs(t, err, pkgdb.ErrStoreUnavailable)
}

type countingDirectory struct {
	Directory
	gets int
}

func (c *countingDirectory) Get(ctx context.Context, id string) (Tenant, error) {
	c.gets++
	return c.Directory.Get(ctx, id)
}

func TestCachedDirectoryMemoizesGet(t *testing.T) {
	conn := testutil.OpenSQLite(t, &Tenant{})
	require.NoError(t, conn.Create(&Tenant{ID: "t-1", Plan: "free", Active: true}).Error)

	inner := &countingDirectory{Directory: NewGormDirectory(conn)}
	dir := NewCachedDirectory(inner, 0)

	for i := 0; i < 3; i++ {
		_, err := dir.Get(context.Background(), "t-1")
		require.NoError(t, err)
	}
	assert.Equal(t, 1, inner.gets)

	_, err := dir.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestMemoryTotals(t *testing.T) {
	totals := NewMemoryTotals()
	ctx := context.Background()

	require.NoError(t, totals.Add(ctx, "t-1", usagedomain.MetricAPICalls, 10))
	require.NoError(t, totals.Add(ctx, "t-1", usagedomain.MetricAPICalls, 5))
	got, err := totals.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, 15.0, got[usagedomain.MetricAPICalls])

	require.NoError(t, totals.Set(ctx, "t-1", map[usagedomain.MetricType]float64{usagedomain.MetricStorageBytes: 20}))
	got, err = totals.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, map[usagedomain.MetricType]float64{usagedomain.MetricStorageBytes: 20}, got)

	got[usagedomain.MetricStorageBytes] = 99
	again, _ := totals.Get(ctx, "t-1")
	assert.Equal(t, 20.0, again[usagedomain.MetricStorageBytes])
}

func TestMemoryTotalsKeepsLatestGaugeLevel(t *testing.T) {
	totals := NewMemoryTotals()
	ctx := context.Background()

	for _, level := range []float64{2048, 4096, 1024} {
		require.NoError(t, totals.Add(ctx, "t-1", usagedomain.MetricStorageBytes, level))
	}
	got, err := totals.Get(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, 1024.0, got[usagedomain.MetricStorageBytes])
}
