package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// Source is the uncached directory backend.
type Source interface {
	Lookup(ctx context.Context, companyID, userID int64) (Actor, error)
	Warehouse(ctx context.Context, companyID, id int64) (Warehouse, error)
	DefaultCostCenter(ctx context.Context, branchID int64) (int64, error)
	WarehouseManagers(ctx context.Context, warehouseID int64) ([]int64, error)
}

// CachedDirectory caches actor and warehouse lookups in Redis. Concurrent
// misses for the same key share one backend call.
type CachedDirectory struct {
	source Source
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

// NewCachedDirectory wraps source with a Redis cache. A nil client disables caching.
func NewCachedDirectory(source Source, client *redis.Client, ttl time.Duration) *CachedDirectory {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &CachedDirectory{source: source, client: client, ttl: ttl}
}

// Lookup resolves an actor through the cache.
func (c *CachedDirectory) Lookup(ctx context.Context, companyID, userID int64) (Actor, error) {
	key := fmt.Sprintf("identity:actor:%d:%d", companyID, userID)
	return fetch(ctx, c, key, func(ctx context.Context) (Actor, error) {
		return c.source.Lookup(ctx, companyID, userID)
	})
}

// Warehouse resolves a warehouse through the cache.
func (c *CachedDirectory) Warehouse(ctx context.Context, companyID, id int64) (Warehouse, error) {
	key := fmt.Sprintf("identity:warehouse:%d:%d", companyID, id)
	return fetch(ctx, c, key, func(ctx context.Context) (Warehouse, error) {
		return c.source.Warehouse(ctx, companyID, id)
	})
}

// DefaultCostCenter always reads through to the source.
func (c *CachedDirectory) DefaultCostCenter(ctx context.Context, branchID int64) (int64, error) {
	return c.source.DefaultCostCenter(ctx, branchID)
}

// WarehouseManagers delegates to the source.
func (c *CachedDirectory) WarehouseManagers(ctx context.Context, warehouseID int64) ([]int64, error) {
	return c.source.WarehouseManagers(ctx, warehouseID)
}

// InvalidateActor drops a cached assignment after a role change.
func (c *CachedDirectory) InvalidateActor(ctx context.Context, companyID, userID int64) error {
	if c.client == nil {
		return nil
	}
	return c.client.Del(ctx, fmt.Sprintf("identity:actor:%d:%d", companyID, userID)).Err()
}

func fetch[T any](ctx context.Context, c *CachedDirectory, key string, load func(context.Context) (T, error)) (T, error) {
	var zero T
	if c.client != nil {
		payload, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			var cached T
			if err := json.Unmarshal(payload, &cached); err == nil {
				return cached, nil
			}
		} else if !errors.Is(err, redis.Nil) && ctx.Err() != nil {
			return zero, ctx.Err()
		}
	}

	ch := c.group.DoChan(key, func() (interface{}, error) {
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		if c.client != nil {
			if raw, err := json.Marshal(value); err == nil {
				_ = c.client.Set(ctx, key, raw, c.ttl).Err()
			}
		}
		return value, nil
	})
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}
