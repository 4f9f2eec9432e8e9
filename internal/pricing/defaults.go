package pricing

import (
	"github.com/shopspring/decimal"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
)

const (
	GiB = float64(1 << 30)
	TiB = float64(1 << 40)
)

const defaultVersion = "builtin"

// DefaultTiers returns the built-in Free, Pro and Enterprise plans.
func DefaultTiers() []PlanTier {
	return []PlanTier{
		{
			Name:   "Free",
			Quotas: quotas(GiB, 1_000, 10_000, 1_000, 10_000, 10_000),
			Prices: prices("0.10", "0.001", "0.0001", "0.0002", "0.00005", "0.00001"),
		},
		{
			Name:   "Pro",
			Quotas: quotas(100*GiB, 100_000, 1_000_000, 100_000, 1_000_000, 1_000_000),
			Prices: prices("0.08", "0.0008", "0.00008", "0.00015", "0.00004", "0.000008"),
		},
		{
			Name:   "Enterprise",
			Quotas: quotas(TiB, 10_000_000, 100_000_000, 10_000_000, 100_000_000, 100_000_000),
			Prices: prices("0.05", "0.0005", "0.00005", "0.0001", "0.00002", "0.000005"),
		},
	}
}

// DefaultCatalog returns the built-in catalog.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(defaultVersion, DefaultTiers()...)
	if err != nil {
		panic(err)
	}
	return c
}

func quotas(storage, api, db, fn, queue, stream float64) map[usagedomain.MetricType]float64 {
	return map[usagedomain.MetricType]float64{
		usagedomain.MetricStorageBytes:        storage,
		usagedomain.MetricAPICalls:            api,
		usagedomain.MetricDatabaseQueries:     db,
		usagedomain.MetricFunctionInvocations: fn,
		usagedomain.MetricQueueMessages:       queue,
		usagedomain.MetricStreamRecords:       stream,
	}
}

func prices(storage, api, db, fn, queue, stream string) map[usagedomain.MetricType]decimal.Decimal {
	return map[usagedomain.MetricType]decimal.Decimal{
		usagedomain.MetricStorageBytes:        decimal.RequireFromString(storage),
		usagedomain.MetricAPICalls:            decimal.RequireFromString(api),
		usagedomain.MetricDatabaseQueries:     decimal.RequireFromString(db),
		usagedomain.MetricFunctionInvocations: decimal.RequireFromString(fn),
		usagedomain.MetricQueueMessages:       decimal.RequireFromString(queue),
		usagedomain.MetricStreamRecords:       decimal.RequireFromString(stream),
	}
}
