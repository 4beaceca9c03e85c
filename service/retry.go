package service

import (
	"context"
	"errors"
	"time"
)

// RetryOnConflict calls fn until it returns something other than ErrConflict,
// up to attempts times, sleeping backoff*n between tries.
func RetryOnConflict(ctx context.Context, attempts int, backoff time.Duration, fn func(ctx context.Context) error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil || !errors.Is(err, ErrConflict) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(backoff * time.Duration(i+1)):
		}
	}
	return err
}
