package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		BaseDelay:     time.Millisecond,
		MaxDelay:      5 * time.Millisecond,
		BackoffFactor: 2.0,
		JitterFactor:  0.1,
	}
}

func TestRetryWithBackoff(t *testing.T) {
	ctx := context.Background()

	t.Run("SucceedsAfterTransientFailures", func(t *testing.T) {
		attempts := 0
		err := RetryWithBackoff(ctx, fastRetryConfig(), func() error {
			attempts++
			if attempts < 3 {
				return errors.New("503 service unavailable")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, attempts)
	})

	t.Run("StopsOnNonRetryableError", func(t *testing.T) {
		attempts := 0
		cause := errors.New("column does not exist")
		err := RetryWithBackoff(ctx, fastRetryConfig(), func() error {
			attempts++
			return cause
		})
		require.ErrorIs(t, err, cause)
		assert.Equal(t, 1, attempts)
	})

	t.Run("ExhaustsAttempts", func(t *testing.T) {
		attempts := 0
		err := RetryWithBackoff(ctx, fastRetryConfig(), func() error {
			attempts++
			return errors.New("connection reset by peer")
		})
		require.Error(t, err)
		assert.Equal(t, 3, attempts)
		assert.Contains(t, err.Error(), "after 3 attempts")
	})

	t.Run("RespectsContextCancellation", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		err := RetryWithBackoff(cancelled, fastRetryConfig(), func() error {
			return errors.New("503 service unavailable")
		})
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, IsRetryableError(nil))
	assert.True(t, IsRetryableError(errors.New("429 too many requests")))
	assert.True(t, IsRetryableError(errors.New("502 Bad Gateway")))
	assert.False(t, IsRetryableError(errors.New("permission denied")))

	// Explicit markers override classification
	assert.True(t, IsRetryableError(RetryableError{Err: errors.New("custom"), Retryable: true}))
	assert.False(t, IsRetryableError(RetryableError{Err: errors.New("503"), Retryable: false}))

	// Duplicate keys are benign under upsert, never retried
	assert.False(t, IsRetryableError(errors.New(`duplicate key value violates unique constraint "sqp_natural_key"`)))
}
