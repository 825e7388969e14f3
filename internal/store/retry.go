package store

import (
	"context"
	"fmt"
	"time"
)

// retrySleepFunc is swapped out in tests
var retrySleepFunc = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Retry runs fn up to attempts times with exponential backoff starting at base.
// It stops early when ctx is done.
func Retry(ctx context.Context, attempts int, base time.Duration, fn func(ctx context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}

	var err error
	delay := base
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%w (after %d attempts): %w", ctx.Err(), i+1, err)
		}
		if i == attempts-1 {
			break
		}
		if sleepErr := retrySleepFunc(ctx, delay); sleepErr != nil {
			return fmt.Errorf("%w (after %d attempts): %w", sleepErr, i+1, err)
		}
		delay *= 2
	}
	return fmt.Errorf("after %d attempts: %w", attempts, err)
}
