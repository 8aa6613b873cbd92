package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterBlocksAfterMax(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	limiter := NewRateLimiter(rdb, 3, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := limiter.CheckLoginAttempt(ctx, "1.2.3.4", "a@b.c")
		require.NoError(t, err)
		assert.True(t, allowed)
	}

	allowed, remaining, err := limiter.CheckLoginAttempt(ctx, "1.2.3.4", "a@b.c")
	require.NoError(t, err)
	assert.False(t, allowed)
	assert.Zero(t, remaining)

	require.NoError(t, limiter.ResetLoginAttempts(ctx, "1.2.3.4", "a@b.c"))
	left, err := limiter.GetRemainingAttempts(ctx, "1.2.3.4", "a@b.c")
	require.NoError(t, err)
	assert.Equal(t, int64(3), left)
}

func TestRateLimiterWindowExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	limiter := NewRateLimiter(rdb, 1, time.Minute)
	ctx := context.Background()

	_, _, err := limiter.CheckLoginAttempt(ctx, "ip", "e")
	require.NoError(t, err)
	allowed, _, _ := limiter.CheckLoginAttempt(ctx, "ip", "e")
	require.False(t, allowed)

	mr.FastForward(2 * time.Minute)

	allowed, _, err = limiter.CheckLoginAttempt(ctx, "ip", "e")
	require.NoError(t, err)
	assert.True(t, allowed)
}

func TestBlacklist(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	bl := NewBlacklist(rdb)
	ctx := context.Background()

	listed, err := bl.IsTokenBlacklisted(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, listed)

	require.NoError(t, bl.BlacklistToken(ctx, "jti-1", time.Minute))
	require.NoError(t, bl.BlacklistToken(ctx, "jti-2", 0))

	listed, err = bl.IsTokenBlacklisted(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, listed)

	listed, err = bl.IsTokenBlacklisted(ctx, "jti-2")
	require.NoError(t, err)
	assert.False(t, listed)

	mr.FastForward(2 * time.Minute)
	listed, err = bl.IsTokenBlacklisted(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, listed)
}
