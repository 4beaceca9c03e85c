package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

// DistributedLockService runs jobs under a Redis lock shared by all instances.
type DistributedLockService struct {
	rs *redsync.Redsync
}

func NewLockService(client *redis.Client) *DistributedLockService {
	return &DistributedLockService{rs: redsync.New(goredis.NewPool(client))}
}

// WithLock tries once to take the lock and runs fn while holding it. It
// returns ErrLockNotAcquired when another instance holds the lock.
func (s *DistributedLockService) WithLock(ctx context.Context, name string, expiry time.Duration, fn func(ctx context.Context) error) error {
	mutex := s.rs.NewMutex(name,
		redsync.WithExpiry(expiry),
		redsync.WithTries(1),
		redsync.WithDriftFactor(0.01),
	)

	if err := mutex.TryLockContext(ctx); err != nil {
		var taken *redsync.ErrTaken
		if errors.Is(err, redsync.ErrFailed) || errors.As(err, &taken) {
			return fmt.Errorf("%w: %s", ErrLockNotAcquired, name)
		}
		return err
	}
	defer func() {
		// a fresh context so a cancelled job still releases the lock
		unlockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = mutex.UnlockContext(unlockCtx)
	}()

	lockCtx, cancel := context.WithDeadline(ctx, mutex.Until())
	defer cancel()
	return fn(lockCtx)
}

// LocalLocker is the single-process Locker used without Redis.
type LocalLocker struct {
	mu   sync.Mutex
	held map[string]bool
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{held: make(map[string]bool)}
}

func (l *LocalLocker) WithLock(ctx context.Context, name string, expiry time.Duration, fn func(ctx context.Context) error) error {
	l.mu.Lock()
	if l.held[name] {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrLockNotAcquired, name)
	}
	l.held[name] = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		delete(l.held, name)
		l.mu.Unlock()
	}()

	if expiry > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, expiry)
		defer cancel()
	}
	return fn(ctx)
}
