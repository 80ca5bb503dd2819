package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRetry is returned (or wrapped) by an attempt that should be tried again.
var ErrRetry = errors.New("retry")

// ErrExhausted is returned when every attempt asked for a retry.
var ErrExhausted = errors.New("retry attempts exhausted")

// Sleep blocks for d or until ctx is done.
//
// # Returns
//
// - error: nil after d elapsed, ctx.Err() if the context ended first.
type Sleep func(ctx context.Context, d time.Duration) error

// SleepContext is the Sleep used outside tests.
func SleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer func() {
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Policy is a bounded retry with a fixed delay between attempts.
type Policy struct {
	Attempts int
	Delay    time.Duration

	// Sleep defaults to SleepContext.
	Sleep Sleep
}

// Fixed returns a policy of n attempts, d apart.
func Fixed(n int, d time.Duration) Policy {
	return Policy{Attempts: n, Delay: d}
}

// Blocking calls f until it returns nil or a non-retry error, at most p.Attempts times.
//
// # Args
//
// - ctx: context. Cancelling it interrupts the delay between attempts.
//
// - p: retry policy. No delay precedes the first attempt or follows the last one.
//
// - f: attempt function, called with the 1-based attempt number.
// If f returns ErrRetry, Blocking calls f again after p.Delay.
//
// # Returns
//
// - T: last return value of f
//
// - error: nil on success, f's error if it is not a retry, or ErrExhausted wrapping the last retry error.
func Blocking[T any](ctx context.Context, p Policy, f func(attempt int) (T, error)) (T, error) {
	sleep := p.Sleep
	if sleep == nil {
		sleep = SleepContext
	}
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}

	last := *new(T)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, p.Delay); err != nil {
				return last, err
			}
		}

		last, lastErr = f(attempt)
		if lastErr == nil {
			return last, nil
		}
		if !errors.Is(lastErr, ErrRetry) {
			return last, lastErr
		}
	}
	return last, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}
