package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"webhook-delivery/internal/auth"
	"webhook-delivery/internal/circuitbreaker"
	"webhook-delivery/internal/common/errors"
	"webhook-delivery/internal/common/logging"
	"webhook-delivery/internal/common/utils"
	"webhook-delivery/internal/health"
	"webhook-delivery/internal/queue"
	"webhook-delivery/internal/secrets"
	"webhook-delivery/internal/signature"
)

// maxResponseRef bounds how much of the response body is kept on the
// attempt record.
const maxResponseRef = 1024

// Store is the persistence the state machine writes through. Every
// transition is durable before the job is acknowledged.
type Store interface {
	GetAttempt(ctx context.Context, id string) (*RequestAttempt, error)
	UpdateAttempt(ctx context.Context, attempt *RequestAttempt) error
	// PromoteAttempt atomically finalizes a due Waiting attempt and
	// creates its Pending successor with the next attempt number.
	PromoteAttempt(ctx context.Context, waitingID string) (*RequestAttempt, error)
	GetEvent(ctx context.Context, id string) (*Event, error)
	GetSubscription(ctx context.Context, id string) (*Subscription, error)
}

// MachineConfig carries the delivery knobs from the process configuration.
type MachineConfig struct {
	Backoff          BackoffPolicy
	ConnectTimeout   time.Duration
	TotalTimeout     time.Duration
	SignatureHeader  string
	SSRFCheckEnabled bool
	EventTypeHeader  string
	EventIDHeader    string
}

func (c *MachineConfig) applyDefaults() {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 10 * time.Second
	}
	if c.TotalTimeout <= 0 {
		c.TotalTimeout = 30 * time.Second
	}
	if c.SignatureHeader == "" {
		c.SignatureHeader = "X-Webhook-Signature"
	}
	if c.EventTypeHeader == "" {
		c.EventTypeHeader = "X-Event-Type"
	}
	if c.EventIDHeader == "" {
		c.EventIDHeader = "X-Event-Id"
	}
}

// Machine executes request attempts. One Machine is shared by every worker;
// it holds no per-attempt state.
type Machine struct {
	store    Store
	auth     *auth.Resolver
	secrets  *secrets.Resolver
	codec    *signature.Codec
	breakers *circuitbreaker.Manager
	tracker  *health.Tracker
	auditor  *auth.Auditor
	sink     queue.Sink
	guard    *TargetGuard
	config   MachineConfig
	logger   logging.Logger
	now      func() time.Time
}

func NewMachine(
	store Store,
	authResolver *auth.Resolver,
	secretResolver *secrets.Resolver,
	codec *signature.Codec,
	breakers *circuitbreaker.Manager,
	tracker *health.Tracker,
	auditor *auth.Auditor,
	sink queue.Sink,
	config MachineConfig,
	logger logging.Logger,
) (*Machine, error) {
	if store == nil || authResolver == nil || secretResolver == nil || codec == nil {
		return nil, errors.ConfigError("delivery machine is missing a dependency")
	}
	if err := config.Backoff.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if breakers == nil {
		breakers = circuitbreaker.NewManager(circuitbreaker.DeliveryConfig, logger)
	}
	return &Machine{
		store:    store,
		auth:     authResolver,
		secrets:  secretResolver,
		codec:    codec,
		breakers: breakers,
		tracker:  tracker,
		auditor:  auditor,
		sink:     sink,
		guard:    NewTargetGuard(config.SSRFCheckEnabled),
		config:   config,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// Process drives one job to a durable outcome. A nil return means the
// outcome is recorded and the job may be acknowledged; an error means the
// queue should redeliver.
func (m *Machine) Process(ctx context.Context, job queue.Job) error {
	if err := job.Validate(); err != nil {
		// Malformed jobs can never succeed; drop them.
		m.logger.Error("dropping malformed job", err)
		return nil
	}

	attempt, err := m.store.GetAttempt(ctx, job.RequestAttemptID)
	if err != nil {
		if errors.IsType(err, errors.ErrTypeNotFound) {
			m.logger.Warn("job references unknown attempt",
				logging.String("request_attempt_id", job.RequestAttemptID))
			return nil
		}
		return err
	}

	// Redelivered job for a settled attempt: no state change, no call.
	if attempt.Status.Terminal() {
		return nil
	}

	if attempt.Status == StatusWaiting {
		attempt, err = m.promote(ctx, attempt)
		if err != nil || attempt == nil {
			return err
		}
	}

	subscription, err := m.store.GetSubscription(ctx, attempt.SubscriptionID)
	if err != nil {
		return err
	}
	if !subscription.Enabled {
		return m.completeFailed(ctx, attempt, ReasonSubscriptionDisabled,
			"subscription is disabled", nil, false)
	}

	event, err := m.store.GetEvent(ctx, attempt.EventID)
	if err != nil {
		return err
	}

	if err := m.markInProgress(ctx, attempt); err != nil {
		return err
	}

	status, body, deliverErr := m.deliver(ctx, attempt, subscription, event)
	if deliverErr == nil {
		return m.completeSuccessful(ctx, attempt, status, body)
	}
	return m.handleFailure(ctx, attempt, status, deliverErr)
}

// promote turns a due Waiting attempt into its Pending successor. An
// attempt picked before its due time is pushed back onto the queue.
func (m *Machine) promote(ctx context.Context, attempt *RequestAttempt) (*RequestAttempt, error) {
	if attempt.NextAttemptAt != nil && m.now().Before(*attempt.NextAttemptAt) {
		if m.sink == nil {
			return nil, errors.InternalError("waiting attempt picked early with no sink to reschedule", nil)
		}
		job := queue.Job{
			RequestAttemptID: attempt.ID,
			EventID:          attempt.EventID,
			SubscriptionID:   attempt.SubscriptionID,
			AttemptNumber:    attempt.AttemptNumber + 1,
		}
		return nil, m.sink.Enqueue(ctx, job, *attempt.NextAttemptAt)
	}
	return m.store.PromoteAttempt(ctx, attempt.ID)
}

func (m *Machine) markInProgress(ctx context.Context, attempt *RequestAttempt) error {
	picked := m.now().UTC()
	attempt.Status = StatusInProgress
	attempt.PickedAt = &picked
	return m.store.UpdateAttempt(ctx, attempt)
}

// deliver builds, signs, and sends the outbound request. It returns the
// response status (0 when no response was received), a response body
// excerpt, and the classified error.
func (m *Machine) deliver(ctx context.Context, attempt *RequestAttempt, subscription *Subscription, event *Event) (int, string, error) {
	if err := m.guard.CheckTarget(ctx, subscription.TargetURL); err != nil {
		return 0, "", err
	}

	provider, err := m.auth.Resolve(ctx, subscription.ApplicationID, subscription.ID)
	if err != nil {
		m.auditor.RecordOutcome(ctx, subscription.ID, attempt.ID, "", err)
		return 0, "", err
	}

	ctx, cancel := context.WithTimeout(ctx, m.config.TotalTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, subscription.RequestMethod(),
		subscription.TargetURL, bytes.NewReader(event.Payload))
	if err != nil {
		return 0, "", errors.ValidationError(fmt.Sprintf("invalid outbound request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(m.config.EventTypeHeader, event.EventType)
	req.Header.Set(m.config.EventIDHeader, event.ID)
	for name, value := range subscription.Headers {
		req.Header.Set(name, value)
	}

	if err := provider.Decorate(ctx, req); err != nil {
		m.auditor.RecordOutcome(ctx, subscription.ID, attempt.ID, provider.Type(), err)
		return 0, "", err
	}
	m.auditor.RecordOutcome(ctx, subscription.ID, attempt.ID, provider.Type(), nil)

	if err := m.sign(req, subscription, event); err != nil {
		return 0, "", err
	}

	tlsConfig, err := provider.TLSClientConfig(ctx)
	if err != nil {
		return 0, "", err
	}

	client := m.httpClient(tlsConfig)
	breaker := m.breakers.Get(req.URL.Host)

	var resp *http.Response
	execErr := breaker.Execute(ctx, func() error {
		var doErr error
		resp, doErr = client.Do(req)
		if doErr != nil {
			return classifyTransportError(ctx, doErr)
		}
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		return errors.TransportError(
			fmt.Sprintf("endpoint returned status %d", resp.StatusCode), nil)
	})

	if resp == nil {
		return 0, "", execErr
	}
	defer resp.Body.Close()
	excerpt := readExcerpt(resp.Body)
	return resp.StatusCode, excerpt, execErr
}

func (m *Machine) sign(req *http.Request, subscription *Subscription, event *Event) error {
	if subscription.SigningSecret == "" {
		return nil
	}
	secret, err := m.secrets.Resolve(subscription.SigningSecret)
	if err != nil {
		return err
	}
	value, err := m.codec.Sign(m.now().Unix(), event.Payload, secret,
		subscription.SignedHeaders, req.Header)
	if err != nil {
		return err
	}
	req.Header.Set(m.config.SignatureHeader, value)
	return nil
}

// httpClient builds a per-attempt client: the connect timeout bounds only
// the dial and TLS handshake, the request context bounds the round-trip.
func (m *Machine) httpClient(tlsConfig *tls.Config) *http.Client {
	dialer := &net.Dialer{
		Timeout: m.config.ConnectTimeout,
		Control: m.guard.DialControl,
	}
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		TLSClientConfig:     tlsConfig,
		TLSHandshakeTimeout: m.config.ConnectTimeout,
		MaxIdleConns:        10,
		DisableKeepAlives:   true,
	}
	return &http.Client{Transport: transport}
}

func (m *Machine) completeSuccessful(ctx context.Context, attempt *RequestAttempt, status int, body string) error {
	completed := m.now().UTC()
	attempt.Status = StatusSuccessful
	attempt.CompletedAt = &completed
	attempt.ResponseStatus = &status
	attempt.ResponseRef = body
	attempt.FailureReason = ""
	attempt.FailureDetail = ""
	if err := m.store.UpdateAttempt(ctx, attempt); err != nil {
		return err
	}
	if m.tracker != nil {
		m.tracker.RecordSuccess(ctx, attempt.SubscriptionID)
	}
	m.logger.Info("delivery successful",
		logging.String("request_attempt_id", attempt.ID),
		logging.String("subscription_id", attempt.SubscriptionID),
		logging.Int("attempt_number", attempt.AttemptNumber),
		logging.Int("response_status", status))
	return nil
}

// handleFailure settles a failed attempt: non-retryable errors and
// exhausted ladders are terminal, everything else waits for its backoff.
func (m *Machine) handleFailure(ctx context.Context, attempt *RequestAttempt, status int, deliverErr error) error {
	reason, detail := classifyFailure(deliverErr)
	retryable := errors.IsRetryable(deliverErr)

	if !retryable {
		return m.completeFailed(ctx, attempt, reason, detail, statusPtr(status), true)
	}
	if m.config.Backoff.Exhausted(attempt.AttemptNumber) {
		return m.completeFailed(ctx, attempt, ReasonRetriesExhausted,
			fmt.Sprintf("%s after %d attempts", detail, attempt.AttemptNumber),
			statusPtr(status), true)
	}

	delay := m.config.Backoff.Delay(attempt.AttemptNumber)
	due := m.now().UTC().Add(delay)
	attempt.Status = StatusWaiting
	attempt.ResponseStatus = statusPtr(status)
	attempt.FailureReason = reason
	attempt.FailureDetail = detail
	attempt.NextAttemptAt = &due
	if err := m.store.UpdateAttempt(ctx, attempt); err != nil {
		return err
	}

	if m.sink != nil {
		job := queue.Job{
			RequestAttemptID: attempt.ID,
			EventID:          attempt.EventID,
			SubscriptionID:   attempt.SubscriptionID,
			AttemptNumber:    attempt.AttemptNumber + 1,
		}
		if err := m.sink.Enqueue(ctx, job, due); err != nil {
			// The maintenance sweep re-enqueues due Waiting attempts,
			// so a lost enqueue delays the retry instead of losing it.
			m.logger.Error("failed to schedule retry", err,
				logging.String("request_attempt_id", attempt.ID))
		}
	}

	m.logger.Warn("delivery failed, retry scheduled",
		logging.String("request_attempt_id", attempt.ID),
		logging.String("subscription_id", attempt.SubscriptionID),
		logging.Int("attempt_number", attempt.AttemptNumber),
		logging.String("reason", reason),
		logging.Duration("backoff", delay))
	return nil
}

func (m *Machine) completeFailed(ctx context.Context, attempt *RequestAttempt, reason, detail string, status *int, trackHealth bool) error {
	completed := m.now().UTC()
	attempt.Status = StatusFailed
	attempt.CompletedAt = &completed
	attempt.ResponseStatus = status
	attempt.FailureReason = reason
	attempt.FailureDetail = detail
	attempt.NextAttemptAt = nil
	if err := m.store.UpdateAttempt(ctx, attempt); err != nil {
		return err
	}
	if trackHealth && m.tracker != nil {
		if err := m.tracker.RecordFailure(ctx, attempt.SubscriptionID); err != nil {
			m.logger.Error("health tracking failed", err,
				logging.String("subscription_id", attempt.SubscriptionID))
		}
	}
	m.logger.Warn("delivery failed terminally",
		logging.String("request_attempt_id", attempt.ID),
		logging.String("subscription_id", attempt.SubscriptionID),
		logging.Int("attempt_number", attempt.AttemptNumber),
		logging.String("reason", reason),
		logging.String("detail", detail))
	return nil
}

func classifyTransportError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return errors.TimeoutError("delivery request")
	}
	return errors.ConnectionError("request to endpoint failed", err)
}

func classifyFailure(err error) (reason, detail string) {
	detail = err.Error()
	switch {
	case errors.IsType(err, errors.ErrTypeTimeout):
		return ReasonTimeout, detail
	case errors.IsType(err, errors.ErrTypeConnection):
		return ReasonConnectionFailed, detail
	case errors.IsType(err, errors.ErrTypeTransport):
		return ReasonEndpointError, detail
	case errors.IsType(err, errors.ErrTypeAuth), errors.IsType(err, errors.ErrTypeAuthRejected):
		return ReasonAuthenticationFailed, detail
	case errors.IsType(err, errors.ErrTypeSecretNotFound),
		errors.IsType(err, errors.ErrTypeSecretDecrypt),
		errors.IsType(err, errors.ErrTypeConfig):
		return ReasonConfigurationError, detail
	case errors.IsType(err, errors.ErrTypeValidation):
		return ReasonTargetRejected, detail
	default:
		return ReasonEndpointError, detail
	}
}

func statusPtr(status int) *int {
	if status == 0 {
		return nil
	}
	return &status
}

func readExcerpt(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxResponseRef))
	if err != nil {
		return ""
	}
	return string(data)
}

// NewAttempt builds the first link of a delivery chain.
func NewAttempt(eventID, subscriptionID string, now time.Time) *RequestAttempt {
	return &RequestAttempt{
		ID:             utils.GenerateAttemptID(),
		EventID:        eventID,
		SubscriptionID: subscriptionID,
		Status:         StatusPending,
		AttemptNumber:  1,
		CreatedAt:      now.UTC(),
	}
}
