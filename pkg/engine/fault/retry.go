package fault

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/surpriz/cloud-waste-sub010/pkg/config"
)

// Policy bounds the retries of one call. Retry state is local to each Do call.
type Policy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	Jitter          float64
}

// PolicyFrom converts the configured retry settings.
func PolicyFrom(c config.RetryConfig) Policy {
	return Policy{
		MaxAttempts:     c.MaxAttempts,
		InitialInterval: c.InitialInterval,
		MaxInterval:     c.MaxInterval,
		Multiplier:      c.Multiplier,
		Jitter:          c.Jitter,
	}
}

// DefaultPolicy mirrors config.DefaultRetryConfig.
func DefaultPolicy() Policy {
	return PolicyFrom(config.DefaultRetryConfig())
}

func (p Policy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialInterval > 0 {
		b.InitialInterval = p.InitialInterval
	}
	if p.MaxInterval > 0 {
		b.MaxInterval = p.MaxInterval
	}
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	b.RandomizationFactor = p.Jitter
	// Attempts bound the loop, not elapsed time.
	b.MaxElapsedTime = 0

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
}

// Do runs op until it succeeds, fails with a non-retryable error, or the attempt
// cap is reached. onRetry, if set, observes each failed attempt before the wait.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context) (T, error), onRetry func(err error, wait time.Duration)) (T, error) {
	return backoff.RetryNotifyWithData(func() (T, error) {
		v, err := op(ctx)
		if err != nil && !Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, p.backOff(ctx), onRetry)
}
