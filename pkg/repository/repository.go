// Package repository offers a small generic gorm store for collaborator
// tables that need plain lookups.
package repository

import (
	"context"

	"gorm.io/gorm"
)

// QueryOption narrows a gorm statement.
type QueryOption func(*gorm.DB) *gorm.DB

// Where adds a raw condition.
func Where(query string, args ...any) QueryOption {
	return func(db *gorm.DB) *gorm.DB { return db.Where(query, args...) }
}

// OrderBy sets the ordering clause.
func OrderBy(order string) QueryOption {
	return func(db *gorm.DB) *gorm.DB { return db.Order(order) }
}

// Limit caps the number of rows; n <= 0 means no limit.
func Limit(n int) QueryOption {
	return func(db *gorm.DB) *gorm.DB {
		if n <= 0 {
			return db
		}
		return db.Limit(n)
	}
}

type Repository[T any] interface {
	WithTrx(tx *gorm.DB) Repository[T]
	Find(ctx context.Context, query *T, opts ...QueryOption) ([]*T, error)
	FindOne(ctx context.Context, query *T, opts ...QueryOption) (*T, error)
	Create(ctx context.Context, resource *T) error
	BatchCreate(ctx context.Context, resources []*T) error
	Count(ctx context.Context, query *T, opts ...QueryOption) (int64, error)
}
