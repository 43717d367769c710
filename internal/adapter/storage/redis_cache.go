package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
)

const (
	availableKeyPrefix = "stock:"
	claimKeyPrefix     = "claim:"
	claimTTL           = 24 * time.Hour
)

// adjustAvailableScript applies a delta only when the mirror entry exists,
// so the mirror never invents stock for keys it has not been seeded with.
var adjustAvailableScript = redis.NewScript(`
local key = KEYS[1]
local delta = tonumber(ARGV[1])

if redis.call('EXISTS', key) == 0 then
	return -1
end

return redis.call('INCRBY', key, delta)
`)

// RedisCache mirrors on-hand quantities and filters replayed reservation
// calls. It is advisory: the store remains the source of truth.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (r *RedisCache) SetAvailable(ctx context.Context, key domain.StockKey, quantity int) error {
	return r.client.Set(ctx, availableKeyPrefix+key.String(), quantity, 0).Err()
}

func (r *RedisCache) Available(ctx context.Context, key domain.StockKey) (int, bool, error) {
	qty, err := r.client.Get(ctx, availableKeyPrefix+key.String()).Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return qty, true, nil
}

func (r *RedisCache) AdjustAvailable(ctx context.Context, key domain.StockKey, delta int) error {
	return adjustAvailableScript.Run(ctx, r.client, []string{availableKeyPrefix + key.String()}, delta).Err()
}

func (r *RedisCache) ClaimOnce(ctx context.Context, marker string) (bool, error) {
	return r.client.SetNX(ctx, claimKeyPrefix+marker, 1, claimTTL).Result()
}

func (r *RedisCache) ReleaseClaim(ctx context.Context, marker string) error {
	return r.client.Del(ctx, claimKeyPrefix+marker).Err()
}
