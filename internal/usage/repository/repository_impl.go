package repository

import (
	"context"
	"time"

	usagedomain "github.com/smallbiznis/meterline/internal/usage/domain"
	"gorm.io/gorm"
)

type repo struct {
	db *gorm.DB
}

func Provide(db *gorm.DB) usagedomain.Repository {
	return &repo{db: db}
}

func (r *repo) Insert(ctx context.Context, sample *usagedomain.UsageSample) error {
	return r.db.WithContext(ctx).Create(sample).Error
}

func (r *repo) FindByTenantRange(ctx context.Context, tenantID string, from, to time.Time) ([]usagedomain.UsageSample, error) {
	var rows []usagedomain.UsageSample
	err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND observed_at >= ? AND observed_at < ?", tenantID, from, to).
		Order("observed_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) DeleteCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&usagedomain.UsageSample{})
	return result.RowsAffected, result.Error
}
