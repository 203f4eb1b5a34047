package dispatcher

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T, limits map[string]ChannelLimit) *RateLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return NewRateLimiter(rdb, limits)
}

func TestRateLimiterPerSecond(t *testing.T) {
	rl := newTestLimiter(t, map[string]ChannelLimit{
		"email": {PerSecond: 2, PerMinute: 100},
	})
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return fixed }
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := rl.Allow(ctx, "email")
		require.NoError(t, err)
		assert.True(t, allowed, "call %d should fit in per-second budget", i+1)
	}

	allowed, err := rl.Allow(ctx, "email")
	require.NoError(t, err)
	assert.False(t, allowed)

	// Next second is a fresh window.
	rl.now = func() time.Time { return fixed.Add(time.Second) }
	allowed, err = rl.Allow(ctx, "email")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestRateLimiterPerMinute(t *testing.T) {
	rl := newTestLimiter(t, map[string]ChannelLimit{
		"sms": {PerSecond: 100, PerMinute: 3},
	})
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ctx := context.Background()

	// Spread over three seconds so only the minute window can deny.
	for i := 0; i < 3; i++ {
		at := fixed.Add(time.Duration(i) * time.Second)
		rl.now = func() time.Time { return at }
		allowed, err := rl.Allow(ctx, "sms")
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	rl.now = func() time.Time { return fixed.Add(3 * time.Second) }
	allowed, err := rl.Allow(ctx, "sms")
	require.NoError(t, err)
	assert.False(t, allowed)
}

func TestRateLimiterDenialConsumesNoBudget(t *testing.T) {
	rl := newTestLimiter(t, map[string]ChannelLimit{
		"email": {PerSecond: 1, PerMinute: 2},
	})
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return fixed }
	ctx := context.Background()

	allowed, err := rl.Allow(ctx, "email")
	require.NoError(t, err)
	assert.True(t, allowed)

	// Repeated denials in the same second must not touch the minute counter.
	for i := 0; i < 5; i++ {
		allowed, err = rl.Allow(ctx, "email")
		require.NoError(t, err)
		assert.False(t, allowed)
	}

	rl.now = func() time.Time { return fixed.Add(time.Second) }
	allowed, err = rl.Allow(ctx, "email")
	require.NoError(t, err)
	assert.True(t, allowed, "minute budget should have one send left")
}

func TestRateLimiterUnconfiguredChannelUnthrottled(t *testing.T) {
	rl := newTestLimiter(t, map[string]ChannelLimit{
		"email": {PerSecond: 1, PerMinute: 1},
	})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		allowed, err := rl.Allow(ctx, "push")
		require.NoError(t, err)
		assert.True(t, allowed)
	}
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := newTestLimiter(t, nil)
	assert.Equal(t, DefaultChannelLimits, rl.limits)
}
