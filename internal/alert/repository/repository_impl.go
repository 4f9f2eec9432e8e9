package repository

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	alertdomain "github.com/smallbiznis/meterline/internal/alert/domain"
	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() alertdomain.Repository {
	return &repo{}
}

// InsertIfAbsent reports false when an active alert with the same tenant,
// metric and level exists. MySQL ignores the conflict target; there the
// ux_billing_alerts_active key over the generated active_key column decides.
func (r *repo) InsertIfAbsent(ctx context.Context, db *gorm.DB, alert *alertdomain.BillingAlert) (bool, error) {
	result := db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{
				{Name: "tenant_id"},
				{Name: "metric_type"},
				{Name: "level"},
			},
			TargetWhere: clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "active"}}},
			DoNothing:   true,
		}).
		Create(alert)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*alertdomain.BillingAlert, error) {
	var alert alertdomain.BillingAlert
	err := db.WithContext(ctx).Where("id = ?", id).First(&alert).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

func (r *repo) ListActive(ctx context.Context, db *gorm.DB, tenantID string) ([]alertdomain.BillingAlert, error) {
	var rows []alertdomain.BillingAlert
	err := db.WithContext(ctx).
		Where("tenant_id = ? AND active = ?", tenantID, true).
		Order("created_at DESC, id DESC").
		Find(&rows).Error
	return rows, err
}

func (r *repo) ListPendingNotification(ctx context.Context, db *gorm.DB, limit int) ([]alertdomain.BillingAlert, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []alertdomain.BillingAlert
	err := db.WithContext(ctx).
		Where("active = ? AND notified_at IS NULL", true).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *repo) Resolve(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) (int64, error) {
	result := db.WithContext(ctx).
		Model(&alertdomain.BillingAlert{}).
		Where("id = ? AND active = ?", id, true).
		Updates(map[string]any{"active": false, "resolved_at": at})
	return result.RowsAffected, result.Error
}

func (r *repo) ResolveMetric(ctx context.Context, db *gorm.DB, tenantID string, metric usagedomain.MetricType, at time.Time) (int64, error) {
	result := db.WithContext(ctx).
		Model(&alertdomain.BillingAlert{}).
		Where("tenant_id = ? AND metric_type = ? AND active = ?", tenantID, metric, true).
		Updates(map[string]any{"active": false, "resolved_at": at})
	return result.RowsAffected, result.Error
}

func (r *repo) MarkNotified(ctx context.Context, db *gorm.DB, id snowflake.ID, at time.Time) error {
	return db.WithContext(ctx).
		Model(&alertdomain.BillingAlert{}).
		Where("id = ? AND notified_at IS NULL", id).
		Update("notified_at", at).Error
}
