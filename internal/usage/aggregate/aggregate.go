// Package aggregate folds usage samples into per-metric totals.
package aggregate

import (
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
)

// Totals maps each metric type to its aggregate over a range.
type Totals map[usagedomain.MetricType]float64

// Get returns the aggregate for m, zero when no samples were seen.
func (t Totals) Get(m usagedomain.MetricType) float64 {
	return t[m]
}

// Samples sums counter metrics and averages gauge metrics. Every metered
// metric type is present in the result.
func Samples(samples []usagedomain.UsageSample) Totals {
	sums := make(map[usagedomain.MetricType]float64, len(samples))
	counts := make(map[usagedomain.MetricType]int, len(samples))
	for _, s := range samples {
		sums[s.MetricType] += s.Value
		counts[s.MetricType]++
	}

	out := make(Totals, len(usagedomain.MetricTypes()))
	for _, m := range usagedomain.MetricTypes() {
		total := sums[m]
		if m.IsGauge() && counts[m] > 0 {
			total /= float64(counts[m])
		}
		out[m] = total
	}
	return out
}
