// Package rediscache implements internal/cache.Cache on top of
// go-redis/v9, the way the rest of the retrieval pack reaches for Redis
// for session and rate-limit state.
package rediscache

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/lavente-care/aim-core/internal/cache"
)

type Cache struct {
	client *redis.Client
}

func New(addr string, db int) *Cache {
	return &Cache{client: redis.NewClient(&redis.Options{Addr: addr, DB: db})}
}

func NewFromClient(client *redis.Client) *Cache {
	return &Cache{client: client}
}

func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *Cache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return v, true, nil
}

func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return nil
}

func (c *Cache) DeletePrefix(ctx context.Context, prefix string) error {
	iter := c.client.Scan(ctx, 0, prefix+"*", 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return nil
}

func (c *Cache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return incr.Val(), nil
}

// SlidingWindowAdd implements the §4.E algorithm over a Redis sorted
// set: trim members older than now-window, count survivors, and admit
// the new timestamp only if the count is still under limit.
func (c *Cache) SlidingWindowAdd(ctx context.Context, key string, now time.Time, window time.Duration, limit int64) (int64, bool, error) {
	nowMs := now.UnixMilli()
	minMs := now.Add(-window).UnixMilli()

	pipe := c.client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(minMs-1, 10))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, false, fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}

	count := countCmd.Val()
	if count >= limit {
		return count, false, nil
	}

	member := fmt.Sprintf("%d-%s", nowMs, randomSuffix())
	pipe = c.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(nowMs), Member: member})
	pipe.Expire(ctx, key, window)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, false, fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}

	return count + 1, true, nil
}

func (c *Cache) ListPush(ctx context.Context, key, value string) error {
	if err := c.client.RPush(ctx, key, value).Err(); err != nil {
		return fmt.Errorf("%w: %v", cache.ErrUnavailable, err)
	}
	return nil
}

var seq int64

// randomSuffix disambiguates sorted-set members minted in the same
// millisecond; it doesn't need to be cryptographically random.
func randomSuffix() string {
	return strconv.FormatInt(atomic.AddInt64(&seq, 1), 36)
}
