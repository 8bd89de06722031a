package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adforge/api/internal/client"
)

func testRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
	}
}

func transientErr() error {
	return &client.RemoteError{Service: "test", Op: "op", Status: 503, Transient: true}
}

func permanentErr() error {
	return &client.RemoteError{Service: "test", Op: "op", Status: 400, Transient: false}
}

func TestRetryDoSucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := testRetryPolicy().Do(context.Background(), func(attempt int) error {
		calls++
		assert.Equal(t, calls, attempt)
		if calls < 3 {
			return transientErr()
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryDoBoundedAttempts(t *testing.T) {
	calls := 0
	err := testRetryPolicy().Do(context.Background(), func(int) error {
		calls++
		return transientErr()
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls, "transient failures must stop at MaxAttempts")
	assert.True(t, client.IsTransient(err))
}

func TestRetryDoPermanentStopsImmediately(t *testing.T) {
	calls := 0
	err := testRetryPolicy().Do(context.Background(), func(int) error {
		calls++
		return permanentErr()
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryDoRespectsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryPolicy{MaxAttempts: 100, BaseDelay: 50 * time.Millisecond, MaxDelay: time.Second}.
		Do(ctx, func(int) error {
			calls++
			cancel()
			return transientErr()
		})
	require.Error(t, err)
	assert.LessOrEqual(t, calls, 2)
}
