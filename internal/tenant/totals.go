package tenant

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	redis "github.com/redis/go-redis/v9"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
)

const totalsKey = "meterline:totals:%s"

// TotalsCache holds denormalized running usage per tenant and metric. It is
// an optimization only; the ledger stays authoritative.
type TotalsCache interface {
	// Add accumulates counter metrics. Gauge metrics keep the latest
	// reported level instead.
	Add(ctx context.Context, tenantID string, metric usagedomain.MetricType, value float64) error
	Set(ctx context.Context, tenantID string, totals map[usagedomain.MetricType]float64) error
	Get(ctx context.Context, tenantID string) (map[usagedomain.MetricType]float64, error)
}

type memoryTotals struct {
	mu     sync.RWMutex
	totals map[string]map[usagedomain.MetricType]float64
}

func NewMemoryTotals() TotalsCache {
	return &memoryTotals{totals: make(map[string]map[usagedomain.MetricType]float64)}
}

func (m *memoryTotals) Add(_ context.Context, tenantID string, metric usagedomain.MetricType, value float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.totals[tenantID]
	if !ok {
		row = make(map[usagedomain.MetricType]float64)
		m.totals[tenantID] = row
	}
	if metric.IsGauge() {
		row[metric] = value
	} else {
		row[metric] += value
	}
	return nil
}

func (m *memoryTotals) Set(_ context.Context, tenantID string, totals map[usagedomain.MetricType]float64) error {
	row := make(map[usagedomain.MetricType]float64, len(totals))
	for k, v := range totals {
		row[k] = v
	}
	m.mu.Lock()
	m.totals[tenantID] = row
	m.mu.Unlock()
	return nil
}

func (m *memoryTotals) Get(_ context.Context, tenantID string) (map[usagedomain.MetricType]float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[usagedomain.MetricType]float64, len(m.totals[tenantID]))
	for k, v := range m.totals[tenantID] {
		out[k] = v
	}
	return out, nil
}

type redisTotals struct {
	client *redis.Client
}

// NewRedisTotals shares running totals across nodes in one hash per tenant.
func NewRedisTotals(client *redis.Client) TotalsCache {
	return &redisTotals{client: client}
}

func (r *redisTotals) Add(ctx context.Context, tenantID string, metric usagedomain.MetricType, value float64) error {
	key := fmt.Sprintf(totalsKey, tenantID)
	if metric.IsGauge() {
		return r.client.HSet(ctx, key, string(metric), strconv.FormatFloat(value, 'f', -1, 64)).Err()
	}
	return r.client.HIncrByFloat(ctx, key, string(metric), value).Err()
}

func (r *redisTotals) Set(ctx context.Context, tenantID string, totals map[usagedomain.MetricType]float64) error {
	key := fmt.Sprintf(totalsKey, tenantID)
	values := make(map[string]any, len(totals))
	for k, v := range totals {
		values[string(k)] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		if len(values) > 0 {
			pipe.HSet(ctx, key, values)
		}
		return nil
	})
	return err
}

func (r *redisTotals) Get(ctx context.Context, tenantID string) (map[usagedomain.MetricType]float64, error) {
	raw, err := r.client.HGetAll(ctx, fmt.Sprintf(totalsKey, tenantID)).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[usagedomain.MetricType]float64, len(raw))
	for k, v := range raw {
		metric, ok := usagedomain.ParseMetricType(k)
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			continue
		}
		out[metric] = f
	}
	return out, nil
}
