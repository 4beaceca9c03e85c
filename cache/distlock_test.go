package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type locker interface {
	WithLock(ctx context.Context, name string, expiry time.Duration, fn func(ctx context.Context) error) error
}

func exerciseLocker(t *testing.T, l locker) {
	ctx := context.Background()

	ran := false
	err := l.WithLock(ctx, "job", time.Second, func(ctx context.Context) error {
		ran = true
		inner := l.WithLock(ctx, "job", time.Second, func(context.Context) error {
			t.Fatal("lock acquired twice")
			return nil
		})
		assert.ErrorIs(t, inner, ErrLockNotAcquired)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	// released after the first holder returned
	require.NoError(t, l.WithLock(ctx, "job", time.Second, func(context.Context) error { return nil }))
}

func TestLocalLocker(t *testing.T) {
	exerciseLocker(t, NewLocalLocker())
}

func TestDistributedLockService(t *testing.T) {
	_, client := newTestRedis(t)
	exerciseLocker(t, NewLockService(client))
}
