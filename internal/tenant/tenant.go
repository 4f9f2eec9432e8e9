// Package tenant exposes the tenant directory owned by the provisioning
// subsystem and the running usage totals kept per tenant.
package tenant

import (
	"context"
	"errors"
	"time"
)

var ErrTenantNotFound = errors.New("tenant_not_found")

// Tenant is the metering view of a tenant account.
type Tenant struct {
	ID        string    `gorm:"primaryKey;type:text" json:"id"`
	Plan      string    `gorm:"type:text;not null;default:free" json:"plan"`
	Active    bool      `gorm:"not null;default:true;index" json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Tenant) TableName() string { return "tenants" }

// Directory resolves tenants by id and lists the ones being billed.
type Directory interface {
	Get(ctx context.Context, tenantID string) (Tenant, error)
	GetActiveTenants(ctx context.Context) ([]Tenant, error)
}
