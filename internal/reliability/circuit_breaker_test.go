package reliability

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBroker = errors.New("broker unavailable")

func newTestBreaker(now *time.Time, options ...CircuitBreakerOption) *CircuitBreaker {
	cb := NewCircuitBreaker(options...)
	cb.now = func() time.Time { return *now }
	return cb
}

func fail() error    { return errBroker }
func succeed() error { return nil }

func TestCircuitBreaker(t *testing.T) {
	ctx := context.Background()

	t.Run("starts closed", func(t *testing.T) {
		cb := NewCircuitBreaker()
		assert.Equal(t, StateClosed, cb.State())
		assert.NoError(t, cb.Execute(ctx, succeed))
	})

	t.Run("opens after consecutive failures", func(t *testing.T) {
		now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		cb := newTestBreaker(&now, WithFailureThreshold(3), WithName("rabbit"))

		for i := 0; i < 3; i++ {
			assert.ErrorIs(t, cb.Execute(ctx, fail), errBroker)
		}
		assert.Equal(t, StateOpen, cb.State())

		called := false
		err := cb.Execute(ctx, func() error {
			called = true
			return nil
		})
		assert.False(t, called)
		assert.ErrorIs(t, err, ErrCircuitOpen)

		var cbErr *CircuitBreakerError
		require.ErrorAs(t, err, &cbErr)
		assert.Equal(t, "rabbit", cbErr.Name)
		assert.Equal(t, 3, cbErr.Failures)
	})

	t.Run("success resets the failure count", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(2))

		_ = cb.Execute(ctx, fail)
		_ = cb.Execute(ctx, succeed)
		_ = cb.Execute(ctx, fail)

		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("probe after timeout closes the circuit", func(t *testing.T) {
		now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		cb := newTestBreaker(&now, WithFailureThreshold(1), WithTimeout(time.Minute))

		_ = cb.Execute(ctx, fail)
		require.Equal(t, StateOpen, cb.State())

		now = now.Add(time.Minute)
		require.NoError(t, cb.Execute(ctx, succeed))
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("failed probe reopens the circuit", func(t *testing.T) {
		now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		cb := newTestBreaker(&now, WithFailureThreshold(1), WithTimeout(time.Minute))

		_ = cb.Execute(ctx, fail)
		now = now.Add(time.Minute)
		_ = cb.Execute(ctx, fail)

		assert.Equal(t, StateOpen, cb.State())
		assert.ErrorIs(t, cb.Execute(ctx, succeed), ErrCircuitOpen)
	})

	t.Run("half-open admits a limited number of probes", func(t *testing.T) {
		now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
		cb := newTestBreaker(&now, WithFailureThreshold(1), WithTimeout(time.Second))

		_ = cb.Execute(ctx, fail)
		now = now.Add(time.Second)

		err := cb.Execute(ctx, func() error {
			assert.Equal(t, StateHalfOpen, cb.State())
			var cbErr *CircuitBreakerError
			nested := cb.Execute(ctx, succeed)
			require.ErrorAs(t, nested, &cbErr)
			assert.Equal(t, StateHalfOpen, cbErr.State)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("context errors are not failures", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(1))

		_ = cb.Execute(ctx, func() error { return context.DeadlineExceeded })

		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("cancelled context is rejected", func(t *testing.T) {
		cb := NewCircuitBreaker()
		cancelled, cancel := context.WithCancel(ctx)
		cancel()

		assert.ErrorIs(t, cb.Execute(cancelled, succeed), context.Canceled)
	})

	t.Run("reset closes the circuit", func(t *testing.T) {
		cb := NewCircuitBreaker(WithFailureThreshold(1))
		_ = cb.Execute(ctx, fail)

		cb.Reset()

		assert.Equal(t, StateClosed, cb.State())
		assert.NoError(t, cb.Execute(ctx, succeed))
	})
}
