// Package health tracks per-endpoint delivery outcomes and disables
// subscriptions whose endpoints fail persistently. The tracker owns the
// consecutive-failure counter and a rolling outcome window; the storage
// layer owns the durable enabled flag.
package health

import (
	"context"
	"sync"
	"time"

	"webhook-delivery/internal/common/errors"
	"webhook-delivery/internal/common/logging"
)

const (
	DefaultDisableThreshold  = 5
	DefaultRecoveryThreshold = 3
	DefaultWindowSize        = 50
)

// Store is the subset of the storage layer the tracker writes through.
type Store interface {
	// DisableSubscription flips the enabled flag off and records when.
	DisableSubscription(ctx context.Context, subscriptionID string, at time.Time) error
	// FailWaitingAttempts terminates every Waiting attempt for the
	// subscription and returns how many were drained.
	FailWaitingAttempts(ctx context.Context, subscriptionID, reason string) (int, error)
}

// Notifier is told when a subscription crosses a health boundary.
type Notifier interface {
	NotifyDisabled(ctx context.Context, subscriptionID string, consecutiveFailures int)
	NotifyRecovered(ctx context.Context, subscriptionID string)
}

// LogNotifier is the default Notifier. It only logs.
type LogNotifier struct {
	Logger logging.Logger
}

func (n LogNotifier) NotifyDisabled(ctx context.Context, subscriptionID string, consecutiveFailures int) {
	n.Logger.Warn("subscription auto-disabled",
		logging.String("subscription_id", subscriptionID),
		logging.Int("consecutive_failures", consecutiveFailures))
}

func (n LogNotifier) NotifyRecovered(ctx context.Context, subscriptionID string) {
	n.Logger.Info("subscription recovered",
		logging.String("subscription_id", subscriptionID))
}

// Status is a point-in-time view of one endpoint's health.
type Status struct {
	SubscriptionID       string     `json:"subscription_id"`
	ConsecutiveFailures  int        `json:"consecutive_failures"`
	ConsecutiveSuccesses int        `json:"consecutive_successes"`
	WindowSuccessRate    float64    `json:"window_success_rate"`
	Disabled             bool       `json:"disabled"`
	DisabledAt           *time.Time `json:"disabled_at,omitempty"`
}

type endpointState struct {
	consecutiveFailures  int
	consecutiveSuccesses int
	window               []bool
	windowPos            int
	windowFilled         int
	disabled             bool
	disabledAt           time.Time
}

// Options tune the tracker thresholds. Zero values take defaults.
type Options struct {
	DisableThreshold  int
	RecoveryThreshold int
	WindowSize        int
	Notifier          Notifier
}

// Tracker watches delivery outcomes per subscription and auto-disables
// endpoints after too many consecutive failures.
type Tracker struct {
	mu     sync.Mutex
	states map[string]*endpointState

	store             Store
	notifier          Notifier
	logger            logging.Logger
	disableThreshold  int
	recoveryThreshold int
	windowSize        int
	now               func() time.Time
}

func NewTracker(store Store, logger logging.Logger, opts Options) (*Tracker, error) {
	if store == nil {
		return nil, errors.ConfigError("health tracker requires a store")
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if opts.DisableThreshold == 0 {
		opts.DisableThreshold = DefaultDisableThreshold
	}
	if opts.RecoveryThreshold == 0 {
		opts.RecoveryThreshold = DefaultRecoveryThreshold
	}
	if opts.WindowSize == 0 {
		opts.WindowSize = DefaultWindowSize
	}
	if opts.DisableThreshold < 1 || opts.RecoveryThreshold < 1 || opts.WindowSize < 1 {
		return nil, errors.ConfigError("health tracker thresholds must be positive")
	}
	if opts.Notifier == nil {
		opts.Notifier = LogNotifier{Logger: logger}
	}
	return &Tracker{
		states:            make(map[string]*endpointState),
		store:             store,
		notifier:          opts.Notifier,
		logger:            logger,
		disableThreshold:  opts.DisableThreshold,
		recoveryThreshold: opts.RecoveryThreshold,
		windowSize:        opts.WindowSize,
		now:               time.Now,
	}, nil
}

// RecordSuccess notes a successful delivery. While the endpoint is marked
// disabled (it was manually re-enabled and deliveries are flowing again),
// enough consecutive successes clear the disabled marker.
func (t *Tracker) RecordSuccess(ctx context.Context, subscriptionID string) {
	t.mu.Lock()
	state := t.state(subscriptionID)
	state.consecutiveFailures = 0
	state.consecutiveSuccesses++
	t.push(state, true)

	recovered := false
	if state.disabled && state.consecutiveSuccesses >= t.recoveryThreshold {
		state.disabled = false
		state.disabledAt = time.Time{}
		recovered = true
	}
	t.mu.Unlock()

	if recovered {
		t.notifier.NotifyRecovered(ctx, subscriptionID)
	}
}

// RecordFailure notes a terminal delivery failure. Crossing the disable
// threshold flips the subscription off, drains its Waiting attempts and
// fires the notifier. The returned error reports a failed disable write;
// the in-memory counter keeps counting so the write is retried on the
// next failure.
func (t *Tracker) RecordFailure(ctx context.Context, subscriptionID string) error {
	t.mu.Lock()
	state := t.state(subscriptionID)
	state.consecutiveSuccesses = 0
	state.consecutiveFailures++
	t.push(state, false)

	shouldDisable := !state.disabled && state.consecutiveFailures >= t.disableThreshold
	failures := state.consecutiveFailures
	t.mu.Unlock()

	if !shouldDisable {
		return nil
	}
	return t.disable(ctx, subscriptionID, failures)
}

func (t *Tracker) disable(ctx context.Context, subscriptionID string, failures int) error {
	disabledAt := t.now().UTC()
	if err := t.store.DisableSubscription(ctx, subscriptionID, disabledAt); err != nil {
		t.logger.Error("failed to disable unhealthy subscription", err,
			logging.String("subscription_id", subscriptionID))
		return err
	}

	drained, err := t.store.FailWaitingAttempts(ctx, subscriptionID, "subscription auto-disabled")
	if err != nil {
		t.logger.Error("failed to drain waiting attempts", err,
			logging.String("subscription_id", subscriptionID))
	}

	t.mu.Lock()
	state := t.state(subscriptionID)
	state.disabled = true
	state.disabledAt = disabledAt
	t.mu.Unlock()

	t.logger.Warn("subscription disabled after consecutive failures",
		logging.String("subscription_id", subscriptionID),
		logging.Int("consecutive_failures", failures),
		logging.Int("drained_attempts", drained))
	t.notifier.NotifyDisabled(ctx, subscriptionID, failures)
	return nil
}

// Reset clears the tracked state for a subscription. Called on manual
// re-enable so old failures do not immediately re-trip the threshold.
func (t *Tracker) Reset(subscriptionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, subscriptionID)
}

// Status reports the tracked health of one subscription.
func (t *Tracker) Status(subscriptionID string) Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.states[subscriptionID]
	if !ok {
		return Status{SubscriptionID: subscriptionID, WindowSuccessRate: 1}
	}
	return t.status(subscriptionID, state)
}

// Snapshot reports every tracked subscription, for the stats endpoint.
func (t *Tracker) Snapshot() []Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Status, 0, len(t.states))
	for id, state := range t.states {
		out = append(out, t.status(id, state))
	}
	return out
}

func (t *Tracker) status(subscriptionID string, state *endpointState) Status {
	s := Status{
		SubscriptionID:       subscriptionID,
		ConsecutiveFailures:  state.consecutiveFailures,
		ConsecutiveSuccesses: state.consecutiveSuccesses,
		WindowSuccessRate:    windowRate(state),
		Disabled:             state.disabled,
	}
	if state.disabled {
		at := state.disabledAt
		s.DisabledAt = &at
	}
	return s
}

func (t *Tracker) state(subscriptionID string) *endpointState {
	state, ok := t.states[subscriptionID]
	if !ok {
		state = &endpointState{window: make([]bool, t.windowSize)}
		t.states[subscriptionID] = state
	}
	return state
}

func (t *Tracker) push(state *endpointState, success bool) {
	state.window[state.windowPos] = success
	state.windowPos = (state.windowPos + 1) % len(state.window)
	if state.windowFilled < len(state.window) {
		state.windowFilled++
	}
}

func windowRate(state *endpointState) float64 {
	if state.windowFilled == 0 {
		return 1
	}
	successes := 0
	for i := 0; i < state.windowFilled; i++ {
		if state.window[i] {
			successes++
		}
	}
	return float64(successes) / float64(state.windowFilled)
}
