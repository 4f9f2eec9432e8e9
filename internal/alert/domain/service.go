package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
	"gorm.io/gorm"
)

// Service is the alert manager.
type Service interface {
	// EvaluateAndAlert ensures the alert matching pct's band is active. It
	// returns the alert created by this call, or nil when none was needed or
	// one was already active.
	EvaluateAndAlert(ctx context.Context, tenantID string, metric usagedomain.MetricType, pct float64) (*BillingAlert, error)
	ListActiveAlerts(ctx context.Context, tenantID string) ([]BillingAlert, error)
	ResolveAlert(ctx context.Context, id snowflake.ID) error
	PendingNotifications(ctx context.Context, limit int) ([]BillingAlert, error)
	MarkNotified(ctx context.Context, id snowflake.ID, at time.Time) error
}

type Repository interface {
	// InsertIfAbsent inserts alert unless an active alert with the same
	// tenant, metric and level exists. It reports whether a row was written.
	InsertIfAbsent(ctx context.Context, db *gorm.DB, alert *BillingAlert) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*BillingAlert, error)
	ListActive(ctx context.Context, db *gorm.DB, tenantID string) ([]BillingAlert, error)
	ListPendingNotification(ctx context.Context, db *gorm.DB, limit int) ([]BillingAlert, error)
	Resolve(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (int64, error)
	ResolveMetric(ctx context.Context, db *gorm.DB, tenantID string, metric usagedomain.MetricType, at time.Time) (int64, error)
	MarkNotified(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error
}

var (
	ErrAlertNotFound     = errors.New("alert_not_found")
	ErrInvalidThresholds = errors.New("invalid_thresholds")
	ErrInvalidPercentage = errors.New("invalid_percentage")
	ErrInvalidTenant     = errors.New("invalid_tenant")
	ErrInvalidMetric     = errors.New("invalid_metric")
)
