package domain

import (
	"context"
	"errors"
	"time"
)

type RecordRequest struct {
	TenantID          string         `json:"tenant_id"`
	ServiceInstanceID string         `json:"service_instance_id"`
	MetricType        MetricType     `json:"metric_type"`
	Value             float64        `json:"value"`
	ObservedAt        time.Time      `json:"observed_at"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// Ledger is the append-only store of usage samples.
type Ledger interface {
	Record(ctx context.Context, req RecordRequest) (*UsageSample, error)
	// Query returns samples with from <= observed_at < to.
	Query(ctx context.Context, tenantID string, from, to time.Time) ([]UsageSample, error)
	// Prune deletes samples created before olderThan and returns the count.
	Prune(ctx context.Context, olderThan time.Time) (int64, error)
}

type Repository interface {
	Insert(ctx context.Context, sample *UsageSample) error
	FindByTenantRange(ctx context.Context, tenantID string, from, to time.Time) ([]UsageSample, error)
	DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

var (
	ErrInvalidSample = errors.New("invalid_sample")
	ErrInvalidTenant = errors.New("invalid_tenant")
	ErrInvalidRange  = errors.New("invalid_range")
)
