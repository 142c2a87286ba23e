package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lavente-care/aim-core/internal/cache/memcache"
	"github.com/lavente-care/aim-core/internal/clock"
)

func TestCheck_AllowsUnderLimitAndRejectsAtLimit(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	lim := New(memcache.New(), clock.Frozen{At: now})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		res, err := lim.Check(ctx, "login:email", "alice@example.com", 5, 15*time.Minute)
		require.NoError(t, err)
		assert.True(t, res.Allowed, "attempt %d should be allowed", i+1)
	}

	res, err := lim.Check(ctx, "login:email", "alice@example.com", 5, 15*time.Minute)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(5), res.Current)
}

func TestCheck_ScopesAreIndependent(t *testing.T) {
	lim := New(memcache.New(), clock.Real{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := lim.Check(ctx, "login:email", "bob@example.com", 5, time.Minute)
		require.NoError(t, err)
	}
	res, err := lim.Check(ctx, "login:ip", "bob@example.com", 5, time.Minute)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}
