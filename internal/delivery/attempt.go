// Package delivery drives a request attempt from Pending to a terminal
// state: authentication decoration, payload signing, the outbound HTTP call
// under connect/total timeouts, and the fast/slow retry ladder.
package delivery

import (
	"time"

	"webhook-delivery/internal/common/errors"
)

// Status is the lifecycle state of one request attempt.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusWaiting    Status = "waiting"
	StatusSuccessful Status = "successful"
	StatusFailed     Status = "failed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusWaiting, StatusSuccessful, StatusFailed:
		return true
	}
	return false
}

// Terminal reports whether the attempt is settled. Picking a terminal
// attempt again is a no-op.
func (s Status) Terminal() bool {
	return s == StatusSuccessful || s == StatusFailed
}

// Failure reasons recorded on terminal and waiting attempts.
const (
	ReasonEndpointError        = "endpoint_error"
	ReasonTimeout              = "timeout"
	ReasonConnectionFailed     = "connection_failed"
	ReasonAuthenticationFailed = "authentication_failed"
	ReasonConfigurationError   = "configuration_error"
	ReasonTargetRejected       = "target_rejected"
	ReasonRetriesExhausted     = "retries_exhausted"
	ReasonSuperseded           = "superseded"
	ReasonSubscriptionDisabled = "subscription_disabled"
)

// RequestAttempt is one link in a (event, subscription) delivery chain.
// Chains are append-only: a retry is a new attempt with the next number,
// and the chain holds at most one non-terminal attempt at a time.
type RequestAttempt struct {
	ID             string `json:"id"`
	EventID        string `json:"event_id"`
	SubscriptionID string `json:"subscription_id"`
	Status         Status `json:"status"`
	AttemptNumber  int    `json:"attempt_number"`

	CreatedAt   time.Time  `json:"created_at"`
	PickedAt    *time.Time `json:"picked_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	ResponseStatus *int   `json:"response_status,omitempty"`
	ResponseRef    string `json:"response_ref,omitempty"`

	FailureReason string     `json:"failure_reason,omitempty"`
	FailureDetail string     `json:"failure_detail,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
}

func (a *RequestAttempt) Validate() error {
	if a.ID == "" {
		return errors.ValidationError("attempt is missing id")
	}
	if a.EventID == "" || a.SubscriptionID == "" {
		return errors.ValidationError("attempt is missing its chain key")
	}
	if !a.Status.Valid() {
		return errors.ValidationError("attempt has an unknown status")
	}
	if a.AttemptNumber < 1 {
		return errors.ValidationError("attempt_number must be positive")
	}
	return nil
}

// Event is the payload being delivered. Delivery never mutates it; the
// target deduplicates on the event id.
type Event struct {
	ID        string    `json:"id"`
	EventType string    `json:"event_type"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

// Subscription is the delivery target. SigningSecret is a secret value
// (literal, env reference, or ciphertext) resolved at delivery time.
type Subscription struct {
	ID            string            `json:"id"`
	ApplicationID string            `json:"application_id"`
	TargetURL     string            `json:"target_url"`
	Method        string            `json:"method,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	SignedHeaders []string          `json:"signed_headers,omitempty"`
	SigningSecret string            `json:"signing_secret,omitempty"`
	Enabled       bool              `json:"enabled"`
	DisabledAt    *time.Time        `json:"disabled_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// RequestMethod returns the HTTP method for the outbound call, POST when
// the subscription does not override it.
func (s *Subscription) RequestMethod() string {
	if s.Method == "" {
		return "POST"
	}
	return s.Method
}
