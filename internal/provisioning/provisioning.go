// Package provisioning is the metering side of the provisioning subsystem:
// the running service instances and the sources that report their metrics.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"time"

	pkgdb "github.com/smallbiznis/meterline/pkg/db"
	"github.com/smallbiznis/meterline/pkg/repository"
	"gorm.io/gorm"
)

const StatusRunning = "running"

var (
	ErrCollectorTimeout     = errors.New("collector_timeout")
	ErrCollectorUnavailable = errors.New("collector_unavailable")
)

// ServiceInstance is a provisioned emulated resource owned by a tenant.
type ServiceInstance struct {
	ID          string    `gorm:"primaryKey;type:text" json:"id"`
	TenantID    string    `gorm:"type:text;not null;index" json:"tenant_id"`
	ServiceType string    `gorm:"type:text;not null" json:"service_type"`
	Status      string    `gorm:"type:text;not null;default:running;index" json:"status"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (ServiceInstance) TableName() string { return "service_instances" }

// MetricSnapshot is one reading of an instance's metrics keyed by metric name.
type MetricSnapshot struct {
	Timestamp time.Time
	Values    map[string]float64
}

// InstanceDirectory lists instances the worker should collect from.
type InstanceDirectory interface {
	GetRunningServiceInstances(ctx context.Context) ([]ServiceInstance, error)
}

// MetricSource reports metrics for instances of one service type.
type MetricSource interface {
	ServiceType() string
	Snapshot(ctx context.Context, instance ServiceInstance) (MetricSnapshot, error)
}

// CollectorError marks a per-instance collection failure.
type CollectorError struct {
	InstanceID string
	Err        error
}

func (e *CollectorError) Error() string {
	return fmt.Sprintf("collect %s: %v", e.InstanceID, e.Err)
}

func (e *CollectorError) Unwrap() error { return e.Err }

func (e *CollectorError) CollectorFailure() bool { return true }

type gormInstanceDirectory struct {
	store repository.Repository[ServiceInstance]
}

func NewGormInstanceDirectory(db *gorm.DB) InstanceDirectory {
	return &gormInstanceDirectory{store: repository.ProvideStore[ServiceInstance](db)}
}

func (d *gormInstanceDirectory) GetRunningServiceInstances(ctx context.Context) ([]ServiceInstance, error) {
	rows, err := d.store.Find(ctx, &ServiceInstance{Status: StatusRunning}, repository.OrderBy("tenant_id ASC, id ASC"))
	if err != nil {
		return nil, fmt.Errorf("list running instances: %w", pkgdb.Classify(err))
	}
	out := make([]ServiceInstance, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return out, nil
}
