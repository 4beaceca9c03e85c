package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalRateLimiter_PerKeyBurst(t *testing.T) {
	l := NewLocalRateLimiter(0.001, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.Allow(ctx, "u1")
	assert.False(t, ok, "burst exhausted")

	ok, _ = l.Allow(ctx, "u2")
	assert.True(t, ok, "other keys have their own bucket")
}

func TestTokenBucketRateLimiter(t *testing.T) {
	_, client := newTestRedis(t)
	l := NewTokenBucketRateLimiter(client, "test", 0.001, 2)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(ctx, "u1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.Allow(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.Allow(ctx, "u2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestTokenBucketRateLimiter_NoClient(t *testing.T) {
	l := NewTokenBucketRateLimiter(nil, "test", 1, 1)
	_, err := l.Allow(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrRedisNotAvailable)
}
