package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryOptions configures exponential backoff with symmetric jitter.
type RetryOptions struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// Jitter scales the random component of the delay, in [0,1]. The actual
	// delay is drawn uniformly from [backoff*(1-Jitter), backoff*(1+Jitter)];
	// 0 means no jitter at all - every retry waits exactly the computed
	// backoff.
	Jitter float64
	// IsRetryable decides whether an error should trigger another attempt.
	// nil means every error is retryable.
	IsRetryable func(err error) bool
}

func (o RetryOptions) withDefaults() RetryOptions {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	return o
}

// Retry runs fn up to MaxAttempts times, sleeping with exponential backoff
// and symmetric jitter between attempts. It returns the last error if every
// attempt fails, or nil as soon as one succeeds. It stops early, without
// sleeping again, if ctx is cancelled or fn's error isn't retryable.
func Retry(ctx context.Context, opts RetryOptions, fn func() error) error {
	opts = opts.withDefaults()

	var lastErr error
	for attempt := 0; attempt < opts.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(opts, attempt)
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if opts.IsRetryable != nil && !opts.IsRetryable(err) {
			return err
		}
	}
	return lastErr
}

// backoffDelay computes d = min(MaxDelay, BaseDelay * 2^(attempt-1)) and
// then applies symmetric jitter: the jittered delay is drawn uniformly from
// [d*(1-Jitter), d*(1+Jitter)], then clamped back to MaxDelay so jitter can
// never push a delay past the configured ceiling.
func backoffDelay(opts RetryOptions, attempt int) time.Duration {
	d := float64(opts.BaseDelay) * math.Pow(2, float64(attempt-1))
	if d > float64(opts.MaxDelay) {
		d = float64(opts.MaxDelay)
	}
	if opts.Jitter <= 0 {
		return time.Duration(d)
	}
	lo := d * (1 - opts.Jitter)
	spread := 2 * opts.Jitter * d
	jittered := lo + rand.Float64()*spread
	if jittered > float64(opts.MaxDelay) {
		jittered = float64(opts.MaxDelay)
	}
	return time.Duration(jittered)
}
