// Package circuitbreaker wraps Sony's gobreaker for the two outbound call
// sites of the delivery engine: OAuth2 token-endpoint requests and, per
// target host, webhook deliveries themselves.
package circuitbreaker

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"webhook-delivery/internal/common/errors"
	"webhook-delivery/internal/common/logging"
)

// Config holds the tunables for one circuit breaker.
type Config struct {
	// MaxFailures is the number of consecutive failures that opens the breaker
	MaxFailures int
	// Timeout is how long the breaker stays open before probing half-open
	Timeout time.Duration
	// MaxConcurrentRequests limits requests allowed through in half-open state
	MaxConcurrentRequests int
}

// Validate checks if the configuration is usable.
func (c Config) Validate() error {
	if c.MaxFailures <= 0 {
		return fmt.Errorf("MaxFailures must be positive, got %d", c.MaxFailures)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("Timeout must be positive, got %v", c.Timeout)
	}
	if c.MaxConcurrentRequests <= 0 {
		return fmt.Errorf("MaxConcurrentRequests must be positive, got %d", c.MaxConcurrentRequests)
	}
	return nil
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		MaxFailures:           5,
		Timeout:               60 * time.Second,
		MaxConcurrentRequests: 1,
	}
}

// Predefined configurations for the engine's call sites.
var (
	// OAuthConfig is for token-endpoint requests, which are critical but
	// retried by the single-flight refresh path.
	OAuthConfig = Config{
		MaxFailures:           5,
		Timeout:               60 * time.Second,
		MaxConcurrentRequests: 1,
	}

	// DeliveryConfig is for outbound webhook calls per target host.
	DeliveryConfig = Config{
		MaxFailures:           10,
		Timeout:               30 * time.Second,
		MaxConcurrentRequests: 2,
	}
)

// State represents the current state of a circuit breaker.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Stats is a snapshot of one breaker's counters.
type Stats struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	Failures  int    `json:"failures"`
	Successes int    `json:"successes"`
}

// Breaker wraps a gobreaker circuit breaker.
type Breaker struct {
	name    string
	breaker *gobreaker.CircuitBreaker
	logger  logging.Logger
}

// New creates a circuit breaker with the given name and configuration.
func New(name string, config Config, logger logging.Logger) *Breaker {
	if err := config.Validate(); err != nil {
		if logger != nil {
			logger.Warn("Invalid circuit breaker config, using defaults",
				logging.Field{Key: "breaker", Value: name},
				logging.Field{Key: "error", Value: err.Error()},
			)
		}
		config = DefaultConfig()
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(config.MaxConcurrentRequests),
		Interval:    time.Minute,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(config.MaxFailures)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				logging.Field{Key: "breaker", Value: name},
				logging.Field{Key: "from", Value: from.String()},
				logging.Field{Key: "to", Value: to.String()},
			)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			// Only infrastructure failures should open the breaker. A
			// rejected credential or a validation error says nothing
			// about whether the remote endpoint is reachable.
			return !errors.IsRetryable(err)
		},
	}

	return &Breaker{
		name:    name,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
	}
}

// Execute runs fn inside the breaker. When the breaker is open the call is
// rejected with a connection error without invoking fn, which the retry
// policy treats as a retryable failure.
func (b *Breaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return errors.TimeoutError(b.name)
	}

	_, err := b.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})

	if err == gobreaker.ErrOpenState {
		return errors.ConnectionError(fmt.Sprintf("circuit breaker %q is open", b.name), err)
	}
	if err == gobreaker.ErrTooManyRequests {
		return errors.ConnectionError(fmt.Sprintf("circuit breaker %q is half-open and saturated", b.name), err)
	}
	return err
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	switch b.breaker.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// IsOpen reports whether the breaker currently rejects calls.
func (b *Breaker) IsOpen() bool {
	return b.breaker.State() == gobreaker.StateOpen
}

// Stats returns a snapshot of the breaker's counters.
func (b *Breaker) Stats() Stats {
	counts := b.breaker.Counts()
	return Stats{
		Name:      b.name,
		State:     b.State().String(),
		Failures:  int(counts.TotalFailures),
		Successes: int(counts.TotalSuccesses),
	}
}
