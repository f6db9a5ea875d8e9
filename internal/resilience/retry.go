package resilience

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryConfig tunes [Retry].
type RetryConfig struct {
	// MaxRetries is the number of additional attempts after the first one.
	// Zero disables retrying.
	MaxRetries int

	// InitialInterval is the delay before the first retry. Default: 250ms.
	InitialInterval time.Duration

	// MaxInterval caps the exponential delay. Default: 5s.
	MaxInterval time.Duration

	// Retryable reports whether err is worth another attempt. Nil retries
	// everything except context cancellation and [ErrAllFailed] wrapping
	// only open breakers.
	Retryable func(err error) bool

	// Name labels log lines.
	Name string
}

// Retry runs op until it succeeds, returns a non-retryable error, or has been
// attempted MaxRetries+1 times. Delays grow exponentially with jitter.
// Cancellation of ctx ends the loop immediately.
func Retry[T any](ctx context.Context, cfg RetryConfig, op func(ctx context.Context) (T, error)) (T, error) {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 250 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 5 * time.Second
	}
	retryable := cfg.Retryable
	if retryable == nil {
		retryable = defaultRetryable
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		v, err := op(ctx)
		if err == nil {
			return v, nil
		}
		if ctx.Err() != nil || !retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(max(cfg.MaxRetries, 0)+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, d time.Duration) {
			slog.Debug("retrying after error",
				"name", cfg.Name,
				"attempt", attempt,
				"delay", d,
				"error", err)
		}),
	)
}

func defaultRetryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrCircuitOpen):
		return false
	}
	return true
}
