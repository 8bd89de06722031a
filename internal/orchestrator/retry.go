package orchestrator

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/adforge/api/internal/client"
)

// RetryPolicy bounds every remote-call step of the pipeline. It is explicit
// orchestrator configuration, not a queue default, so the bounds are
// verifiable in tests.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// Do runs op with exponential backoff and jitter until it succeeds, returns
// a permanent error, or MaxAttempts calls have been made. op receives the
// 1-based attempt number so callers can record per-attempt state.
func (p RetryPolicy) Do(ctx context.Context, op func(attempt int) error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.BaseDelay
	bo.MaxInterval = p.MaxDelay
	bo.MaxElapsedTime = 0 // bounded by attempt count, not wall clock

	attempt := 0
	wrapped := func() error {
		attempt++
		err := op(attempt)
		if err == nil {
			return nil
		}
		if !client.IsTransient(err) {
			return backoff.Permanent(err)
		}
		if attempt >= p.MaxAttempts {
			return backoff.Permanent(err)
		}
		return err
	}

	return backoff.Retry(wrapped, backoff.WithContext(bo, ctx))
}
