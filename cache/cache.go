// Package cache is a small TTL read-through cache with a memory and a redis
// backend.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrMiss is returned by a Store when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Store keeps opaque values for a limited time.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// Cache wraps a Store with a default TTL and coalesces concurrent misses of
// the same key into one load.
type Cache struct {
	store  Store
	ttl    time.Duration
	logger *zap.Logger
	group  singleflight.Group
}

func New(store Store, ttl time.Duration, logger *zap.Logger) *Cache {
	return &Cache{store: store, ttl: ttl, logger: logger.With(zap.String("component", "cache"))}
}

// Open picks the redis store when addr is set and the memory store otherwise.
func Open(ctx context.Context, addr string, ttl time.Duration, logger *zap.Logger) (*Cache, error) {
	if addr == "" {
		return New(NewMemoryStore(), ttl, logger), nil
	}
	store, err := NewRedisStore(ctx, addr)
	if err != nil {
		return nil, err
	}
	logger.Info("using redis cache", zap.String("addr", addr))
	return New(store, ttl, logger), nil
}

func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}

func (c *Cache) Close() error {
	return c.store.Close()
}

// ReadThrough returns the cached value of key, calling load and storing its
// result on a miss. A broken store degrades to calling load directly.
func ReadThrough[T any](ctx context.Context, c *Cache, key string, load func(context.Context) (T, error)) (T, error) {
	var zero T
	raw, err := c.store.Get(ctx, key)
	switch {
	case err == nil:
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
		c.logger.Warn("dropping undecodable cache entry", zap.String("key", key))
	case !errors.Is(err, ErrMiss):
		c.logger.Warn("cache read failed", zap.String("key", key), zap.Error(err))
	}

	res, err, _ := c.group.Do(key, func() (any, error) {
		v, err := load(ctx)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", key, err)
		}
		if err := c.store.Set(ctx, key, data, c.ttl); err != nil {
			c.logger.Warn("cache write failed", zap.String("key", key), zap.Error(err))
		}
		return v, nil
	})
	if err != nil {
		return zero, err
	}
	return res.(T), nil
}
