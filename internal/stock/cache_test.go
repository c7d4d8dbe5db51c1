package stock

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*Cache, func()) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewCache(client, time.Minute)
	return cache, func() {
		_ = client.Close()
		mr.Close()
	}
}

func TestCacheServesSecondLoadWithoutLoader(t *testing.T) {
	cache, cleanup := newTestCache(t)
	defer cleanup()
	ctx := context.Background()

	calls := 0
	loader := func(ctx context.Context) ([]Level, error) {
		calls++
		return []Level{{ItemID: 1, WarehouseID: 1, Quantity: decimal.RequireFromString("50")}}, nil
	}

	first, err := cache.Levels(ctx, LevelFilter{Limit: 10}, loader)
	require.NoError(t, err)
	require.Len(t, first, 1)
	require.Equal(t, 1, calls)

	second, err := cache.Levels(ctx, LevelFilter{Limit: 10}, loader)
	require.NoError(t, err)
	require.Len(t, second, 1)
	require.True(t, second[0].Quantity.Equal(decimal.RequireFromString("50")))
	require.Equal(t, 1, calls)
}

func TestBumpInvalidatesSnapshots(t *testing.T) {
	cache, cleanup := newTestCache(t)
	defer cleanup()
	ctx := context.Background()

	calls := 0
	loader := func(ctx context.Context) ([]Level, error) {
		calls++
		return []Level{{ItemID: 1, WarehouseID: 1}}, nil
	}

	_, err := cache.Levels(ctx, LevelFilter{Limit: 10}, loader)
	require.NoError(t, err)
	require.Equal(t, 1, calls)

	require.NoError(t, cache.Bump(ctx))

	_, err = cache.Levels(ctx, LevelFilter{Limit: 10}, loader)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestDistinctFiltersUseDistinctKeys(t *testing.T) {
	cache, cleanup := newTestCache(t)
	defer cleanup()
	ctx := context.Background()

	calls := 0
	loader := func(ctx context.Context) ([]Level, error) {
		calls++
		return []Level{}, nil
	}

	_, err := cache.Levels(ctx, LevelFilter{WarehouseID: 1, Limit: 10}, loader)
	require.NoError(t, err)
	_, err = cache.Levels(ctx, LevelFilter{WarehouseID: 2, Limit: 10}, loader)
	require.NoError(t, err)
	require.Equal(t, 2, calls)
}

func TestNilCacheFallsThrough(t *testing.T) {
	var cache *Cache
	calls := 0
	loader := func(ctx context.Context) ([]Level, error) {
		calls++
		return []Level{}, nil
	}
	_, err := cache.Levels(context.Background(), LevelFilter{}, loader)
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}
