package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

const (
	defaultTTL          = 30 * time.Second
	defaultPollInterval = 50 * time.Millisecond
	keyPrefix           = "meterline:lock:"
)

// Redis is a Locker backed by SET NX with a token-checked release. The TTL
// bounds how long a crashed holder can keep a key.
type Redis struct {
	client       *redis.Client
	script       *redis.Script
	ttl          time.Duration
	pollInterval time.Duration
	log          *zap.Logger
}

func NewRedis(client *redis.Client, ttl time.Duration, log *zap.Logger) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Redis{
		client:       client,
		script:       redis.NewScript(releaseScript),
		ttl:          ttl,
		pollInterval: defaultPollInterval,
		log:          log,
	}
}

func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	for {
		release, ok, err := r.TryLock(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			return release, nil
		}
		timer := time.NewTimer(r.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (r *Redis) TryLock(ctx context.Context, key string) (func(), bool, error) {
	if r == nil || r.client == nil {
		return nil, false, ErrNotConfigured
	}
	if key == "" {
		return nil, false, ErrEmptyKey
	}

	fullKey := keyPrefix + key
	token := uuid.NewString()
	ok, err := r.client.SetNX(ctx, fullKey, token, r.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	return func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := r.script.Run(releaseCtx, r.client, []string{fullKey}, token).Err(); err != nil {
			r.log.Warn("lock release failed", zap.String("key", key), zap.Error(err))
		}
	}, true, nil
}
