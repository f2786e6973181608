package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func TestDo(t *testing.T) {
	t.Run("success on first attempt", func(t *testing.T) {
		callCount := 0
		result, err := Do(context.Background(), DefaultConfig(), nil, func(int) (string, error) {
			callCount++
			return "ok", nil
		})
		require.NoError(t, err)
		assert.Equal(t, "ok", result)
		assert.Equal(t, 1, callCount)
	})

	t.Run("success after transient failure", func(t *testing.T) {
		config := Config{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}

		callCount := 0
		result, err := Do(context.Background(), config, nil, func(attempt int) (int, error) {
			callCount++
			if attempt < 2 {
				return 0, errTransient
			}
			return attempt, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 2, result)
		assert.Equal(t, 2, callCount, "Should retry once and succeed on second attempt")
	})

	t.Run("exponential backoff timing", func(t *testing.T) {
		config := Config{MaxRetries: 3, BaseDelay: 10 * time.Millisecond, MaxDelay: 100 * time.Millisecond, Multiplier: 2}

		callCount := 0
		start := time.Now()
		err := Run(context.Background(), config, nil, func(int) error {
			callCount++
			return errTransient
		})
		elapsed := time.Since(start)

		assert.ErrorIs(t, err, ErrExhausted)
		assert.ErrorIs(t, err, errTransient)
		assert.Equal(t, 3, callCount)
		// 10ms + 20ms
		assert.GreaterOrEqual(t, elapsed.Milliseconds(), int64(30))
	})

	t.Run("last error is kept", func(t *testing.T) {
		config := Config{MaxRetries: 5, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond, Multiplier: 2}

		callCount := 0
		err := Run(context.Background(), config, nil, func(int) error {
			callCount++
			return fmt.Errorf("error %d", callCount)
		})
		require.Error(t, err)
		assert.Equal(t, 5, callCount)
		assert.Contains(t, err.Error(), "error 5")
	})

	t.Run("non retryable error stops immediately", func(t *testing.T) {
		fatal := errors.New("fatal")
		callCount := 0
		err := Run(context.Background(), DefaultConfig(), func(err error) bool {
			return errors.Is(err, errTransient)
		}, func(int) error {
			callCount++
			return fatal
		})
		assert.Equal(t, fatal, err)
		assert.NotErrorIs(t, err, ErrExhausted)
		assert.Equal(t, 1, callCount)
	})

	t.Run("zero retries still runs once", func(t *testing.T) {
		callCount := 0
		err := Run(context.Background(), Config{}, nil, func(int) error {
			callCount++
			return errTransient
		})
		assert.ErrorIs(t, err, ErrExhausted)
		assert.Equal(t, 1, callCount)
	})

	t.Run("on retry hook", func(t *testing.T) {
		var seen []int
		config := Config{
			MaxRetries: 3,
			BaseDelay:  time.Millisecond,
			Multiplier: 1,
			OnRetry:    func(attempt int, err error) { seen = append(seen, attempt) },
		}
		_ = Run(context.Background(), config, nil, func(int) error { return errTransient })
		assert.Equal(t, []int{1, 2}, seen)
	})

	t.Run("context cancellation during backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		config := Config{MaxRetries: 10, BaseDelay: 50 * time.Millisecond, Multiplier: 1}

		callCount := 0
		err := Run(ctx, config, nil, func(int) error {
			callCount++
			if callCount == 1 {
				go func() {
					time.Sleep(5 * time.Millisecond)
					cancel()
				}()
			}
			return errTransient
		})
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 1, callCount)
	})
}
