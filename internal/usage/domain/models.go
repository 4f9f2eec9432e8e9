// Package domain contains the usage ledger model and contracts.
package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// MetricType enumerates the metered resource categories.
type MetricType string

const (
	MetricStorageBytes        MetricType = "storage_bytes"
	MetricAPICalls            MetricType = "api_calls"
	MetricDatabaseQueries     MetricType = "database_queries"
	MetricFunctionInvocations MetricType = "function_invocations"
	MetricQueueMessages       MetricType = "queue_messages"
	MetricStreamRecords       MetricType = "stream_records"
)

var metricTypes = []MetricType{
	MetricStorageBytes,
	MetricAPICalls,
	MetricDatabaseQueries,
	MetricFunctionInvocations,
	MetricQueueMessages,
	MetricStreamRecords,
}

// MetricTypes returns every metered metric in a stable order.
func MetricTypes() []MetricType {
	out := make([]MetricType, len(metricTypes))
	copy(out, metricTypes)
	return out
}

// ParseMetricType returns the metric type for name, or false when unknown.
func ParseMetricType(name string) (MetricType, bool) {
	for _, m := range metricTypes {
		if string(m) == name {
			return m, true
		}
	}
	return "", false
}

// IsGauge reports whether samples of m describe a level rather than a count.
// Gauges aggregate by average, counters by sum.
func (m MetricType) IsGauge() bool {
	return m == MetricStorageBytes
}

func (m MetricType) Valid() bool {
	_, ok := ParseMetricType(string(m))
	return ok
}

// UsageSample is one immutable observation of a metric for a tenant's
// service instance.
type UsageSample struct {
	ID                snowflake.ID      `gorm:"primaryKey" json:"id"`
	TenantID          string            `gorm:"type:text;not null;index:idx_usage_samples_tenant_observed,priority:1" json:"tenant_id"`
	ServiceInstanceID string            `gorm:"type:text;not null;default:''" json:"service_instance_id"`
	MetricType        MetricType        `gorm:"type:text;not null" json:"metric_type"`
	Value             float64           `gorm:"not null" json:"value"`
	ObservedAt        time.Time         `gorm:"not null;index:idx_usage_samples_tenant_observed,priority:2" json:"observed_at"`
	Metadata          datatypes.JSONMap `json:"metadata,omitempty"`
	CreatedAt         time.Time         `gorm:"not null;index" json:"created_at"`
}

// TableName sets the database table name.
func (UsageSample) TableName() string { return "usage_samples" }
