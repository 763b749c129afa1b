package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/rl1809/market-orders/internal/port"
)

const (
	lockKeyPrefix        = "lock:"
	idempotencyKeyPrefix = "idem:"
)

// releaseLockScript deletes the lock only while it still carries the
// caller's token.
var releaseLockScript = redis.NewScript(`
local key = KEYS[1]
local token = ARGV[1]

if redis.call('GET', key) == token then
	return redis.call('DEL', key)
end

return 0
`)

// RedisAdapter backs both the buyer lock and the idempotency keys, so
// several service instances share one view of who holds what.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) Acquire(ctx context.Context, key string, ttl time.Duration) (port.Lease, error) {
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, lockKeyPrefix+key, token, ttl).Result()
	if err != nil {
		return port.Lease{}, err
	}
	if !ok {
		return port.Lease{}, port.ErrLockNotAcquired
	}

	return port.Lease{Key: key, Token: token}, nil
}

func (r *RedisAdapter) Release(ctx context.Context, lease port.Lease) error {
	return releaseLockScript.Run(ctx, r.client, []string{lockKeyPrefix + lease.Key}, lease.Token).Err()
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, ttl).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
