// Package memcache is an in-process implementation of cache.Cache used
// by service unit tests in place of a real Redis instance.
package memcache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lavente-care/aim-core/internal/cache"
)

type entry struct {
	value   string
	expires time.Time
	hasTTL  bool
}

// Cache is safe for concurrent use; it never returns ErrUnavailable,
// since tests that need degradation simulate it separately.
type Cache struct {
	mu      sync.Mutex
	values  map[string]entry
	windows map[string]map[string]int64 // key -> member -> score(ms)
	seq     int64
}

func New() *Cache {
	return &Cache{
		values:  map[string]entry{},
		windows: map[string]map[string]int64{},
	}
}

func (c *Cache) isExpired(e entry) bool {
	return e.hasTTL && time.Now().After(e.expires)
}

func (c *Cache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.values[key]
	if !ok || c.isExpired(e) {
		return "", false, nil
	}
	return e.value, true, nil
}

func (c *Cache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry{value: value}
	if ttl > 0 {
		e.hasTTL = true
		e.expires = time.Now().Add(ttl)
	}
	c.values[key] = e
	return nil
}

func (c *Cache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

func (c *Cache) DeletePrefix(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.values {
		if strings.HasPrefix(k, prefix) {
			delete(c.values, k)
		}
	}
	return nil
}

func (c *Cache) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.values[key]
	if !ok || c.isExpired(e) {
		e = entry{value: "0", hasTTL: ttl > 0, expires: time.Now().Add(ttl)}
	}
	n, _ := strconv.ParseInt(e.value, 10, 64)
	n++
	e.value = strconv.FormatInt(n, 10)
	c.values[key] = e
	return n, nil
}

func (c *Cache) SlidingWindowAdd(_ context.Context, key string, now time.Time, window time.Duration, limit int64) (int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	set, ok := c.windows[key]
	if !ok {
		set = map[string]int64{}
		c.windows[key] = set
	}
	minMs := now.Add(-window).UnixMilli()
	for member, score := range set {
		if score < minMs {
			delete(set, member)
		}
	}

	count := int64(len(set))
	if count >= limit {
		return count, false, nil
	}

	c.seq++
	set[strconv.FormatInt(c.seq, 10)] = now.UnixMilli()
	return count + 1, true, nil
}

func (c *Cache) ListPush(_ context.Context, key, value string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.values[key]
	if !ok {
		e = entry{value: ""}
	}
	if e.value == "" {
		e.value = value
	} else {
		e.value = e.value + "\x1f" + value
	}
	c.values[key] = e
	return nil
}

var _ cache.Cache = (*Cache)(nil)
