package db

import (
	"context"
	"errors"
)

// ErrConcurrentModification signals a lost optimistic-version race. The
// losing writer saw stale state; callers retry with a fresh read.
var ErrConcurrentModification = errors.New("concurrent_modification")

// WithRetry runs fn up to attempts times, retrying only when it loses a
// version race. Any other error is returned immediately.
func WithRetry(ctx context.Context, attempts int, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		err = fn()
		if !errors.Is(err, ErrConcurrentModification) {
			return err
		}
	}
	return err
}
