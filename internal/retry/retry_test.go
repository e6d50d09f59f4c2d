package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:  attempts,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func TestWithExponentialBackoff_SucceedsAfterFailures(t *testing.T) {
	calls := 0
	result := WithExponentialBackoff(context.Background(), fastConfig(5), func(ctx context.Context, attempt int) error {
		calls++
		if attempt < 3 {
			return errors.New("transient")
		}
		return nil
	})

	assert.True(t, result.Success)
	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, calls)
	assert.NoError(t, result.LastError)
}

func TestWithExponentialBackoff_StopsOnPermanent(t *testing.T) {
	calls := 0
	sentinel := errors.New("bad request")
	result := WithExponentialBackoff(context.Background(), fastConfig(5), func(ctx context.Context, attempt int) error {
		calls++
		return Permanent(sentinel)
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, result.LastError, sentinel)
}

func TestWithExponentialBackoff_ExhaustsAttempts(t *testing.T) {
	err := Do(context.Background(), fastConfig(3), func(ctx context.Context, attempt int) error {
		return errors.New("still failing")
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestWithExponentialBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &RetryConfig{MaxAttempts: 5, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}

	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	result := WithExponentialBackoff(ctx, cfg, func(ctx context.Context, attempt int) error {
		return errors.New("fail")
	})

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.Attempts)
	assert.ErrorIs(t, result.LastError, context.Canceled)
}

func TestRetryAfterOverridesDelay(t *testing.T) {
	cfg := &RetryConfig{MaxAttempts: 2, InitialDelay: time.Hour, MaxDelay: time.Hour, Multiplier: 1}
	start := time.Now()

	result := WithExponentialBackoff(context.Background(), cfg, func(ctx context.Context, attempt int) error {
		if attempt == 1 {
			return RetryAfter(errors.New("429"), 5*time.Millisecond)
		}
		return nil
	})

	assert.True(t, result.Success)
	assert.Less(t, time.Since(start), time.Second)
}

func TestCalculateDelay(t *testing.T) {
	cfg := &RetryConfig{InitialDelay: time.Second, MaxDelay: 5 * time.Second, Multiplier: 2}
	assert.Equal(t, time.Second, calculateDelay(cfg, 1))
	assert.Equal(t, 2*time.Second, calculateDelay(cfg, 2))
	assert.Equal(t, 4*time.Second, calculateDelay(cfg, 3))
	assert.Equal(t, 5*time.Second, calculateDelay(cfg, 4))
}
