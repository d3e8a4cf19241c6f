package redisad

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"taxsale/internal/adapters/observability"
	"taxsale/internal/domain"
)

const DefaultTTL = 10 * time.Minute

// Cache mirrors store reads in redis. It is an accelerator only: reads degrade to a miss
// and writes report domain.ErrCacheUnavailable when redis is down or not configured.
type Cache struct {
	c   *redis.Client
	ttl time.Duration
}

// New returns a disabled cache when addr is empty.
func New(addr, pass string, db int, defaultTTL time.Duration) *Cache {
	if defaultTTL <= 0 {
		defaultTTL = DefaultTTL
	}
	if addr == "" {
		return &Cache{ttl: defaultTTL}
	}
	return &Cache{c: redis.NewClient(&redis.Options{Addr: addr, Password: pass, DB: db}), ttl: defaultTTL}
}

func (r *Cache) Close() error {
	if r.c == nil {
		return nil
	}
	return r.c.Close()
}

func (r *Cache) Ping(ctx context.Context) error {
	if r.c == nil {
		return domain.ErrCacheUnavailable
	}
	if err := r.c.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
	}
	return nil
}

func (r *Cache) Get(ctx context.Context, key string, dst any) (bool, error) {
	if r.c == nil {
		return false, nil
	}
	v, err := r.c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		observability.ObserveCache("redis", "miss")
		return false, nil
	}
	if err != nil {
		observability.ObserveCache("redis", "error")
		log.Warn().Err(err).Str("key", key).Msg("cache get failed, treating as miss")
		return false, nil
	}
	if err := json.Unmarshal(v, dst); err != nil {
		// stale shape after a deploy; drop it
		observability.ObserveCache("redis", "miss")
		_ = r.c.Del(ctx, key).Err()
		return false, nil
	}
	observability.ObserveCache("redis", "hit")
	return true, nil
}

// Set stores v as JSON. ttl <= 0 uses the default TTL.
func (r *Cache) Set(ctx context.Context, key string, v any, ttl time.Duration) error {
	if r.c == nil {
		return domain.ErrCacheUnavailable
	}
	if ttl <= 0 {
		ttl = r.ttl
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	observability.ObserveCache("redis", "set")
	return unavailable(r.c.Set(ctx, key, b, ttl).Err())
}

func (r *Cache) Del(ctx context.Context, key string) error {
	if r.c == nil {
		return domain.ErrCacheUnavailable
	}
	observability.ObserveCache("redis", "del")
	return unavailable(r.c.Del(ctx, key).Err())
}

// FlushPattern deletes every key starting with prefix. Keys are collected before any
// delete so the scan cursor never skips entries that deletions shifted.
func (r *Cache) FlushPattern(ctx context.Context, prefix string) error {
	if r.c == nil {
		return domain.ErrCacheUnavailable
	}
	observability.ObserveCache("redis", "flush")
	var keys []string
	it := r.c.Scan(ctx, 0, prefix+"*", flushBatch).Iterator()
	for it.Next(ctx) {
		keys = append(keys, it.Val())
	}
	if err := it.Err(); err != nil {
		return unavailable(err)
	}
	for len(keys) > 0 {
		n := min(flushBatch, len(keys))
		if err := r.c.Del(ctx, keys[:n]...).Err(); err != nil {
			return unavailable(err)
		}
		keys = keys[n:]
	}
	return nil
}

const flushBatch = 200

func unavailable(err error) error {
	if err == nil {
		return nil
	}
	observability.ObserveCache("redis", "error")
	return fmt.Errorf("%w: %v", domain.ErrCacheUnavailable, err)
}
