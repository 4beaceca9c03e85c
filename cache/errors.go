package cache

import "errors"

var (
	ErrRedisNotAvailable = errors.New("redis not available")

	// ErrLockNotAcquired is returned when another holder owns the lock.
	ErrLockNotAcquired = errors.New("lock not acquired")

	ErrKeyNotFound = errors.New("key not found")
)
