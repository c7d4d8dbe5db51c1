package stock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const cacheVersionKey = "stock:levels:version"

// Cache keeps level snapshots in Redis with a version counter invalidation
// scheme: every posted movement bumps the version, orphaning older keys.
// Concurrent loads of the same key collapse through a singleflight group.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCache instantiates the cache helper. A nil client degrades to
// pass-through loading.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

// Levels loads a level snapshot from cache, falling back to loader.
func (c *Cache) Levels(ctx context.Context, filter LevelFilter, loader func(context.Context) ([]Level, error)) ([]Level, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key, err := c.buildKey(ctx, filter)
	if err != nil {
		return nil, err
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var levels []Level
		if err := json.Unmarshal(payload, &levels); err == nil {
			return levels, nil
		}
		// fall through on decode failure and reload
	} else if err != redis.Nil {
		return nil, err
	}
	result := c.group.DoChan(key, func() (interface{}, error) {
		levels, err := loader(ctx)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(levels)
		if err != nil {
			return nil, err
		}
		if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
			return nil, err
		}
		return levels, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-result:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]Level), nil
	}
}

// Bump invalidates all cached snapshots by incrementing the version.
func (c *Cache) Bump(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Incr(ctx, cacheVersionKey).Err()
}

func (c *Cache) version(ctx context.Context) (int64, error) {
	ver, err := c.client.Get(ctx, cacheVersionKey).Int64()
	if err == redis.Nil {
		if err := c.client.Set(ctx, cacheVersionKey, 1, 0).Err(); err != nil {
			return 0, err
		}
		return 1, nil
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

func (c *Cache) buildKey(ctx context.Context, filter LevelFilter) (string, error) {
	ver, err := c.version(ctx)
	if err != nil {
		return "", err
	}
	parts := []string{
		"stock", "levels",
		fmt.Sprintf("%d", filter.WarehouseID),
		fmt.Sprintf("%d", filter.ItemID),
		fmt.Sprintf("%d", filter.Limit),
		fmt.Sprintf("%d", filter.Offset),
		fmt.Sprintf("%d", ver),
	}
	return strings.Join(parts, ":"), nil
}
