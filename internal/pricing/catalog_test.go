package pricing

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/meterline/internal/config"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDefaultCatalogReferenceQuotas(t *testing.T) {
	c := DefaultCatalog()

	free, err := c.GetTier("Free")
	require.NoError(t, err)
	assert.Equal(t, GiB, free.Quota(usagedomain.MetricStorageBytes))
	assert.Equal(t, 1000.0, free.Quota(usagedomain.MetricAPICalls))
	assert.Equal(t, 10000.0, free.Quota(usagedomain.MetricDatabaseQueries))

	pro, err := c.GetTier("pro")
	require.NoError(t, err)
	assert.Equal(t, 100*GiB, pro.Quota(usagedomain.MetricStorageBytes))
	assert.Equal(t, 1_000_000.0, pro.Quota(usagedomain.MetricQueueMessages))

	ent, err := c.GetTier(" ENTERPRISE ")
	require.NoError(t, err)
	assert.Equal(t, TiB, ent.Quota(usagedomain.MetricStorageBytes))
	assert.True(t, ent.Price(usagedomain.MetricStorageBytes).Equal(decimal.RequireFromString("0.05")))
}

func TestGetTierUnknownPlan(t *testing.T) {
	_, err := DefaultCatalog().GetTier("platinum")
	if !errors.Is(err, ErrUnknownPlan) {
		t.Fatalf("expected ErrUnknownPlan, got %v", err)
	}
}

func TestGetTierIgnoresCase(t *testing.T) {
	tier, err := DefaultCatalog().GetTier(" Pro ")
	require.NoError(t, err)
	assert.Equal(t, "Pro", tier.Name)
}

func TestGetTierReturnsCopy(t *testing.T) {
	c := DefaultCatalog()
	tier, err := c.GetTier("free")
	require.NoError(t, err)
	tier.Quotas[usagedomain.MetricAPICalls] = 1

	again, err := c.GetTier("free")
	require.NoError(t, err)
	assert.Equal(t, 1000.0, again.Quota(usagedomain.MetricAPICalls))
}

func TestNewCatalogValidation(t *testing.T) {
	missingPrice := DefaultTiers()[0]
	delete(missingPrice.Prices, usagedomain.MetricStreamRecords)
	_, err := NewCatalog("v", missingPrice)
	assert.ErrorIs(t, err, ErrInvalidCatalog)

	negative := DefaultTiers()[0]
	negative.Quotas[usagedomain.MetricAPICalls] = -1
	_, err = NewCatalog("v", negative)
	assert.ErrorIs(t, err, ErrInvalidCatalog)

	_, err = NewCatalog("v", DefaultTiers()[1])
	assert.ErrorIs(t, err, ErrInvalidCatalog, "default tenant plan is required")

	_, err = NewCatalog("v", DefaultTiers()[0], DefaultTiers()[0])
	assert.ErrorIs(t, err, ErrInvalidCatalog)
}

func TestCatalogHolderLoadsFile(t *testing.T) {
	holder, err := NewCatalogHolder(config.Config{PricingFile: filepath.Join("testdata", "pricing.yml")}, zap.NewNop())
	require.NoError(t, err)

	c := holder.Catalog()
	assert.Equal(t, "2025-06", c.Version())
	assert.Equal(t, []string{"Free", "Startup"}, c.Plans())

	startup, err := c.GetTier("startup")
	require.NoError(t, err)
	assert.Equal(t, 0.0, startup.Quota(usagedomain.MetricStreamRecords))
	assert.True(t, startup.Price(usagedomain.MetricQueueMessages).Equal(decimal.RequireFromString("0.000045")))
}

func TestCatalogHolderIgnoresInvalidReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "pricing.yml")
	raw, err := os.ReadFile(filepath.Join("testdata", "pricing.yml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	holder, err := NewCatalogHolder(config.Config{PricingFile: path}, zap.NewNop())
	require.NoError(t, err)
	before := holder.Catalog()

	require.NoError(t, os.WriteFile(path, []byte("pricing:\n  plans: []\n"), 0o600))
	v := newViperFor(t, path)
	holder.reload(v, path)

	assert.Same(t, before, holder.Catalog())
}

func TestStaticProvider(t *testing.T) {
	c := DefaultCatalog()
	assert.Same(t, c, Static(c).Catalog())
}
