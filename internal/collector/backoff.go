package collector

import (
	"context"
	"time"
)

const (
	maxAuthRetries = 3
	backoffBase    = 2 * time.Second
	backoffCap     = 30 * time.Second
)

// withBackoff runs fn up to attempts times, doubling the delay between tries
// from base up to cap. The loop is explicitly bounded; there is no retry
// beyond the cap under any input.
func withBackoff(ctx context.Context, attempts int, base, cap time.Duration, fn func(attempt int) error) error {
	if attempts < 1 {
		attempts = 1
	}

	delay := base
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(attempt)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		delay *= 2
		if delay > cap {
			delay = cap
		}
	}

	return lastErr
}
