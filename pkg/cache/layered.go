package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

// LayeredCache reads through a process-local MemoryCache in front of a shared
// RedisCache. Writes go to Redis before the local copy; locks are Redis only.
type LayeredCache struct {
	near    *MemoryCache
	far     *RedisCache
	nearTTL time.Duration

	nearHits atomic.Int64
	farHits  atomic.Int64
	misses   atomic.Int64
}

// LayerStats counts where Get found its value.
type LayerStats struct {
	NearHits int64
	FarHits  int64
	Misses   int64
}

func NewLayeredCache(far *RedisCache, opts ...LayeredOption) *LayeredCache {
	cfg := defaultLayeredConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &LayeredCache{
		near:    NewMemoryCache(WithMemoryMaxSize(cfg.MemoryMaxSize)),
		far:     far,
		nearTTL: cfg.MemoryTTL,
	}
}

func (lc *LayeredCache) Get(ctx context.Context, key string, dest any) error {
	if lc.near.Get(ctx, key, dest) == nil {
		lc.nearHits.Add(1)
		return nil
	}
	err := lc.far.Get(ctx, key, dest)
	switch {
	case errors.Is(err, ErrCacheMiss):
		lc.misses.Add(1)
		return err
	case err != nil:
		return err
	}
	lc.farHits.Add(1)
	_ = lc.near.Set(ctx, key, dest, lc.nearTTL)
	return nil
}

func (lc *LayeredCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	if err := lc.far.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	nearTTL := lc.nearTTL
	if ttl > 0 && ttl < nearTTL {
		nearTTL = ttl
	}
	return lc.near.Set(ctx, key, value, nearTTL)
}

// Delete removes keys from Redis first so a concurrent Get cannot refill the
// local layer from a stale shared copy afterwards.
func (lc *LayeredCache) Delete(ctx context.Context, keys ...string) error {
	err := lc.far.Delete(ctx, keys...)
	_ = lc.near.Delete(ctx, keys...)
	return err
}

func (lc *LayeredCache) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return lc.far.TryLock(ctx, key, ttl)
}

func (lc *LayeredCache) Unlock(ctx context.Context, key string) error {
	return lc.far.Unlock(ctx, key)
}

func (lc *LayeredCache) Stats() LayerStats {
	return LayerStats{
		NearHits: lc.nearHits.Load(),
		FarHits:  lc.farHits.Load(),
		Misses:   lc.misses.Load(),
	}
}

// Close stops the local janitor and closes the Redis client.
func (lc *LayeredCache) Close() error {
	return errors.Join(lc.near.Close(), lc.far.Close())
}
