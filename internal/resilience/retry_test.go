package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetry_SucceedsOnSecondAttempt(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), RetryOptions{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    time.Millisecond * 10,
	}, func() error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetry_ExhaustsAttempts(t *testing.T) {
	attempts := 0
	permanent := errors.New("down")
	err := Retry(context.Background(), RetryOptions{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
	}, func() error {
		attempts++
		return permanent
	})

	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 3, attempts)
}

func TestRetry_StopsOnNonRetryableError(t *testing.T) {
	attempts := 0
	nonRetryable := errors.New("bad request")
	err := Retry(context.Background(), RetryOptions{
		MaxAttempts: 5,
		BaseDelay:   time.Millisecond,
		IsRetryable: func(err error) bool { return !errors.Is(err, nonRetryable) },
	}, func() error {
		attempts++
		return nonRetryable
	})

	assert.ErrorIs(t, err, nonRetryable)
	assert.Equal(t, 1, attempts)
}

func TestRetry_RespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := Retry(ctx, RetryOptions{
		MaxAttempts: 3,
		BaseDelay:   time.Hour,
	}, func() error {
		attempts++
		return errors.New("down")
	})

	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}

func TestBackoffDelay_NeverExceedsMaxDelay(t *testing.T) {
	opts := RetryOptions{
		BaseDelay: time.Second,
		MaxDelay:  5 * time.Second,
		Jitter:    1.0,
	}.withDefaults()

	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffDelay(opts, attempt)
		assert.LessOrEqual(t, d, opts.MaxDelay)
		assert.GreaterOrEqual(t, d, time.Duration(0))
	}
}
