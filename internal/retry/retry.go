// Package retry runs an operation with bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Defaults used by DefaultConfig
const (
	DefaultMaxRetries = 3
	DefaultBaseDelay  = 10 * time.Millisecond
	DefaultMaxDelay   = 500 * time.Millisecond
	DefaultMultiplier = 2.0
)

// ErrExhausted wraps the last error once every attempt has failed
var ErrExhausted = errors.New("retries exhausted")

// Config configures exponential backoff retry behavior
type Config struct {
	MaxRetries int           // Maximum number of attempts, including the first
	BaseDelay  time.Duration // Initial delay between retries
	MaxDelay   time.Duration // Maximum delay between retries
	Multiplier float64       // Exponential backoff multiplier

	// OnRetry is called before each backoff wait with the attempt that failed
	OnRetry func(attempt int, err error)
}

// DefaultConfig returns the defaults for contention retry
func DefaultConfig() Config {
	return Config{
		MaxRetries: DefaultMaxRetries,
		BaseDelay:  DefaultBaseDelay,
		MaxDelay:   DefaultMaxDelay,
		Multiplier: DefaultMultiplier,
	}
}

// Do executes fn with exponential backoff. Errors for which retryable returns
// false are returned immediately; a nil retryable retries every error. When
// all attempts fail the last error is returned wrapped in ErrExhausted.
// Retry is skipped on context cancellation.
func Do[T any](ctx context.Context, config Config, retryable func(error) bool, fn func(attempt int) (T, error)) (T, error) {
	var zero T
	var lastErr error

	attempts := config.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	multiplier := config.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	backoff := config.BaseDelay

	for attempt := 1; attempt <= attempts; attempt++ {
		result, err := fn(attempt)
		if err == nil {
			return result, nil
		}
		if retryable != nil && !retryable(err) {
			return zero, err
		}

		lastErr = err

		// Don't retry on context cancellation
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		if attempt == attempts {
			break
		}

		if config.OnRetry != nil {
			config.OnRetry(attempt, err)
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(backoff):
			backoff = time.Duration(float64(backoff) * multiplier)
			if config.MaxDelay > 0 && backoff > config.MaxDelay {
				backoff = config.MaxDelay
			}
		}
	}

	return zero, fmt.Errorf("%w after %d attempts: %w", ErrExhausted, attempts, lastErr)
}

// Run is Do for operations without a result
func Run(ctx context.Context, config Config, retryable func(error) bool, fn func(attempt int) error) error {
	_, err := Do(ctx, config, retryable, func(attempt int) (struct{}, error) {
		return struct{}{}, fn(attempt)
	})
	return err
}
