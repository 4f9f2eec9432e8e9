package lock

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/meterline/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
	Redis  *redis.Client `optional:"true"`
}

// New picks the redis locker when a client is configured.
func New(p Params) Locker {
	if p.Redis != nil {
		return NewRedis(p.Redis, p.Config.Redis.LockTTL, p.Log.Named("lock"))
	}
	return NewLocal()
}

var Module = fx.Module("lock",
	fx.Provide(New),
)
