package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

const DefaultMaxAttempts = 3

const maxBackoff = 100 * time.Millisecond

// RetryOnConflict runs fn until it succeeds, fails with something other than
// ErrConcurrentModification, or maxAttempts is used up.
func RetryOnConflict(ctx context.Context, maxAttempts int, fn func(attempt int) error) error {
	if maxAttempts < 1 {
		maxAttempts = DefaultMaxAttempts
	}

	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err = fn(attempt)
		if err == nil || !errors.Is(err, ErrConcurrentModification) {
			return err
		}
		if attempt == maxAttempts {
			break
		}

		backoff := min(time.Duration(attempt*attempt)*5*time.Millisecond, maxBackoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
	return fmt.Errorf("gave up after %d attempts: %w", maxAttempts, err)
}
