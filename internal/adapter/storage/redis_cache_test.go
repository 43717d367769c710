package storage

import (
	"context"
	"os"
	"testing"

	"github.com/redis/go-redis/v9"

	"github.com/rl1809/inventory-ledger/internal/core/domain"
)

func getRedis(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	return rdb
}

func TestRedisCache_AvailableMirror(t *testing.T) {
	rdb := getRedis(t)
	defer rdb.Close()

	ctx := context.Background()
	cache := NewRedisCache(rdb)
	key := domain.StockKey{ProductID: 900010, LocationID: 1}
	rdb.Del(ctx, "stock:"+key.String())

	// Unknown key: not found, not zero.
	if _, found, err := cache.Available(ctx, key); err != nil || found {
		t.Fatalf("expected miss, got found=%v err=%v", found, err)
	}

	// Adjusting an unseeded key must not create it.
	if err := cache.AdjustAvailable(ctx, key, -3); err != nil {
		t.Fatal(err)
	}
	if _, found, _ := cache.Available(ctx, key); found {
		t.Error("adjust created an unseeded mirror entry")
	}

	if err := cache.SetAvailable(ctx, key, 10); err != nil {
		t.Fatal(err)
	}
	if err := cache.AdjustAvailable(ctx, key, -4); err != nil {
		t.Fatal(err)
	}

	qty, found, err := cache.Available(ctx, key)
	if err != nil || !found {
		t.Fatalf("expected hit, got found=%v err=%v", found, err)
	}
	if qty != 6 {
		t.Errorf("expected 6, got %d", qty)
	}
}

func TestRedisCache_ClaimOnce(t *testing.T) {
	rdb := getRedis(t)
	defer rdb.Close()

	ctx := context.Background()
	cache := NewRedisCache(rdb)
	marker := "resv:reserve:test-claim"
	rdb.Del(ctx, "claim:"+marker)

	ok, err := cache.ClaimOnce(ctx, marker)
	if err != nil || !ok {
		t.Fatalf("first claim: ok=%v err=%v", ok, err)
	}
	ok, err = cache.ClaimOnce(ctx, marker)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("second claim should fail")
	}

	if err := cache.ReleaseClaim(ctx, marker); err != nil {
		t.Fatal(err)
	}
	ok, err = cache.ClaimOnce(ctx, marker)
	if err != nil || !ok {
		t.Errorf("claim after release: ok=%v err=%v", ok, err)
	}

	rdb.Del(ctx, "claim:"+marker)
}
