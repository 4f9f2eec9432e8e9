package tenant

import (
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Redis *redis.Client `optional:"true"`
}

func provideDirectory(p Params) Directory {
	return NewCachedDirectory(NewGormDirectory(p.DB), defaultTenantTTL)
}

func provideTotals(p Params) TotalsCache {
	if p.Redis != nil {
		return NewRedisTotals(p.Redis)
	}
	return NewMemoryTotals()
}

var Module = fx.Module("tenant",
	fx.Provide(provideDirectory, provideTotals),
)
