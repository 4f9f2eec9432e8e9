package tenant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/smallbiznis/meterline/internal/cache"
	pkgdb "github.com/smallbiznis/meterline/pkg/db"
	"github.com/smallbiznis/meterline/pkg/repository"
	"gorm.io/gorm"
)

const defaultTenantTTL = 30 * time.Second

type gormDirectory struct {
	store repository.Repository[Tenant]
}

// NewGormDirectory reads the tenants table.
func NewGormDirectory(db *gorm.DB) Directory {
	return &gormDirectory{store: repository.ProvideStore[Tenant](db)}
}

func (d *gormDirectory) Get(ctx context.Context, tenantID string) (Tenant, error) {
	tenantID = strings.TrimSpace(tenantID)
	if tenantID == "" {
		return Tenant{}, ErrTenantNotFound
	}
	row, err := d.store.FindOne(ctx, &Tenant{ID: tenantID})
	if err != nil {
		return Tenant{}, fmt.Errorf("get tenant: %w", pkgdb.Classify(err))
	}
	if row == nil {
		return Tenant{}, fmt.Errorf("%w: %s", ErrTenantNotFound, tenantID)
	}
	return *row, nil
}

func (d *gormDirectory) GetActiveTenants(ctx context.Context) ([]Tenant, error) {
	rows, err := d.store.Find(ctx, nil,
		repository.Where("active = ?", true),
		repository.OrderBy("id ASC"),
	)
	if err != nil {
		return nil, fmt.Errorf("list active tenants: %w", pkgdb.Classify(err))
	}
	out := make([]Tenant, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	return out, nil
}

type cachedDirectory struct {
	next    Directory
	tenants cache.Cache[string, Tenant]
	ttl     time.Duration
}

// NewCachedDirectory memoizes Get lookups for ttl. Listing is never cached.
func NewCachedDirectory(next Directory, ttl time.Duration) Directory {
	if ttl <= 0 {
		ttl = defaultTenantTTL
	}
	return &cachedDirectory{
		next:    next,
		tenants: cache.NewTTLCache[string, Tenant](),
		ttl:     ttl,
	}
}

func (d *cachedDirectory) Get(ctx context.Context, tenantID string) (Tenant, error) {
	key := strings.TrimSpace(tenantID)
	if t, ok := d.tenants.Get(key); ok {
		return t, nil
	}
	t, err := d.next.Get(ctx, key)
	if err != nil {
		return Tenant{}, err
	}
	d.tenants.Set(key, t, d.ttl)
	return t, nil
}

func (d *cachedDirectory) GetActiveTenants(ctx context.Context) ([]Tenant, error) {
	tenants, err := d.next.GetActiveTenants(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tenants {
		d.tenants.Set(t.ID, t, d.ttl)
	}
	return tenants, nil
}
