package circuitbreaker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"webhook-delivery/internal/common/errors"
	"webhook-delivery/internal/common/logging"
)

func TestBreaker(t *testing.T) {
	logger := logging.GetGlobalLogger()

	t.Run("basic operation", func(t *testing.T) {
		cb := New("test-basic", Config{
			MaxFailures:           2,
			Timeout:               100 * time.Millisecond,
			MaxConcurrentRequests: 1,
		}, logger)

		assert.Equal(t, StateClosed, cb.State())

		err := cb.Execute(context.Background(), func() error {
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("circuit opens after transport failures", func(t *testing.T) {
		cb := New("test-failures", Config{
			MaxFailures:           3,
			Timeout:               100 * time.Millisecond,
			MaxConcurrentRequests: 1,
		}, logger)

		for i := 0; i < 3; i++ {
			err := cb.Execute(context.Background(), func() error {
				return errors.TransportError(fmt.Sprintf("failure %d", i), nil)
			})
			assert.Error(t, err)
		}

		assert.Equal(t, StateOpen, cb.State())
		assert.True(t, cb.IsOpen())

		// Calls are rejected without invoking fn.
		err := cb.Execute(context.Background(), func() error {
			t.Fatal("fn must not be called while the breaker is open")
			return nil
		})
		assert.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
		// An open breaker reads as a retryable infrastructure failure.
		assert.True(t, errors.IsRetryable(err))
	})

	t.Run("circuit recovers through half-open", func(t *testing.T) {
		cb := New("test-half-open", Config{
			MaxFailures:           2,
			Timeout:               50 * time.Millisecond,
			MaxConcurrentRequests: 1,
		}, logger)

		for i := 0; i < 2; i++ {
			cb.Execute(context.Background(), func() error {
				return errors.ConnectionError("down", nil)
			})
		}
		assert.Equal(t, StateOpen, cb.State())

		time.Sleep(60 * time.Millisecond)

		err := cb.Execute(context.Background(), func() error {
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("rejected credentials do not trip breaker", func(t *testing.T) {
		cb := New("test-rejected", Config{
			MaxFailures:           2,
			Timeout:               100 * time.Millisecond,
			MaxConcurrentRequests: 1,
		}, logger)

		for i := 0; i < 5; i++ {
			err := cb.Execute(context.Background(), func() error {
				return errors.AuthRejectedError("invalid_grant")
			})
			assert.Error(t, err)
		}

		assert.Equal(t, StateClosed, cb.State())
	})

	t.Run("cancelled context short-circuits", func(t *testing.T) {
		cb := New("test-cancel", DefaultConfig(), logger)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		err := cb.Execute(ctx, func() error {
			t.Fatal("fn must not be called with a cancelled context")
			return nil
		})
		assert.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeTimeout))
	})

	t.Run("invalid config falls back to defaults", func(t *testing.T) {
		cb := New("test-invalid", Config{}, logger)

		err := cb.Execute(context.Background(), func() error {
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, StateClosed, cb.State())
	})
}

func TestManager(t *testing.T) {
	logger := logging.GetGlobalLogger()

	t.Run("same key returns same breaker", func(t *testing.T) {
		m := NewManager(DeliveryConfig, logger)

		a := m.Get("api.example.com")
		b := m.Get("api.example.com")
		assert.Same(t, a, b)
	})

	t.Run("different keys are isolated", func(t *testing.T) {
		m := NewManager(Config{
			MaxFailures:           1,
			Timeout:               time.Minute,
			MaxConcurrentRequests: 1,
		}, logger)

		m.Get("bad.example.com").Execute(context.Background(), func() error {
			return errors.ConnectionError("refused", nil)
		})

		assert.True(t, m.Get("bad.example.com").IsOpen())
		assert.False(t, m.Get("good.example.com").IsOpen())
	})

	t.Run("stats covers all breakers", func(t *testing.T) {
		m := NewManager(DeliveryConfig, logger)
		m.Get("one")
		m.Get("two")

		stats := m.Stats()
		assert.Len(t, stats, 2)
	})
}
