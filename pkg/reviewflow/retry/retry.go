package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int

	// InitialBackoff is the starting backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffFactor is the multiplier applied after each attempt.
	BackoffFactor float64

	// Jitter is the random jitter factor (0.0-1.0).
	Jitter float64

	// RetryableFunc optionally overrides the default retryability check.
	RetryableFunc func(error) bool
}

// Default is the standard retry configuration for remote calls.
var Default = Config{
	MaxAttempts:    3,
	InitialBackoff: 1 * time.Second,
	MaxBackoff:     30 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// None disables retries.
var None = Config{
	MaxAttempts: 1,
}

// Result contains the outcome of a retried operation.
type Result[T any] struct {
	// Value is the result if successful.
	Value T

	// Err is the final classified error if all attempts failed.
	Err error

	// Attempts is the number of attempts made.
	Attempts int

	// Duration is the total time spent, including backoff.
	Duration time.Duration
}

// Do executes fn with retries, respecting context cancellation. Transient
// and rate-limited failures retry with exponential backoff; rate-limited
// failures double the computed backoff.
func Do[T any](ctx context.Context, cfg Config, fn func(context.Context) (T, error)) Result[T] {
	start := time.Now()
	backoff := cfg.InitialBackoff
	var lastErr error

	isRetryable := cfg.RetryableFunc
	if isRetryable == nil {
		isRetryable = func(err error) bool {
			cat := Categorize(err)
			return cat == CategoryTransient || cat == CategoryRateLimited
		}
	}

	for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result[T]{
				Err:      &ClassifiedError{Err: err, Category: CategoryPermanent, Attempts: attempt, Op: "context cancelled"},
				Attempts: attempt,
				Duration: time.Since(start),
			}
		}

		value, err := fn(ctx)
		if err == nil {
			return Result[T]{
				Value:    value,
				Attempts: attempt + 1,
				Duration: time.Since(start),
			}
		}

		lastErr = err

		if !isRetryable(err) {
			return Result[T]{
				Err:      &ClassifiedError{Err: err, Category: Categorize(err), Attempts: attempt + 1},
				Attempts: attempt + 1,
				Duration: time.Since(start),
			}
		}

		// No sleep after the last attempt.
		if attempt < cfg.MaxAttempts-1 {
			sleep := withJitter(backoff, cfg.Jitter)
			if Categorize(err) == CategoryRateLimited {
				sleep *= 2
			}
			select {
			case <-ctx.Done():
				return Result[T]{
					Err:      &ClassifiedError{Err: ctx.Err(), Category: CategoryPermanent, Attempts: attempt + 1, Op: "context cancelled during backoff"},
					Attempts: attempt + 1,
					Duration: time.Since(start),
				}
			case <-time.After(sleep):
			}

			backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
			if backoff > cfg.MaxBackoff {
				backoff = cfg.MaxBackoff
			}
		}
	}

	return Result[T]{
		Err: &ClassifiedError{
			Err:      lastErr,
			Category: Categorize(lastErr),
			Attempts: cfg.MaxAttempts,
			Op:       "max retries exceeded",
		},
		Attempts: cfg.MaxAttempts,
		Duration: time.Since(start),
	}
}

// withJitter applies random jitter to a backoff duration.
func withJitter(d time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return d
	}
	delta := float64(d) * jitter * (rand.Float64()*2 - 1)
	return time.Duration(float64(d) + delta)
}
