// Package ratelimit implements the Rate Limiter: sliding-window
// counters over the fast cache, keyed by (scope, identifier).
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/lavente-care/aim-core/internal/cache"
	"github.com/lavente-care/aim-core/internal/clock"
)

// Result is the outcome of a Check call.
type Result struct {
	Allowed bool
	Current int64
	ResetAt time.Time
}

type Limiter struct {
	cache cache.Cache
	clock clock.Clock
}

func New(c cache.Cache, clk clock.Clock) *Limiter {
	return &Limiter{cache: c, clock: clk}
}

// Check atomically trims the window, counts, and — if under limit —
// admits the current instant.
func (l *Limiter) Check(ctx context.Context, scope, identifier string, limit int64, window time.Duration) (Result, error) {
	key := fmt.Sprintf("ratelimit:%s:%s", scope, identifier)
	now := l.clock.Now()

	count, allowed, err := l.cache.SlidingWindowAdd(ctx, key, now, window, limit)
	if err != nil {
		return Result{}, fmt.Errorf("ratelimit: check %s: %w", key, err)
	}

	return Result{
		Allowed: allowed,
		Current: count,
		ResetAt: now.Add(window),
	}, nil
}
