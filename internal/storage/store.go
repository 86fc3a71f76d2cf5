// Package storage persists the engine's durable state: events,
// subscriptions, request-attempt chains, authentication configs, and audit
// records. Backends: SQLite, PostgreSQL, and an in-memory store for tests.
package storage

import (
	"context"
	"time"

	"webhook-delivery/internal/auth"
	"webhook-delivery/internal/delivery"
)

// Store is the full persistence surface. It satisfies the narrower
// interfaces consumed elsewhere: delivery.Store, health.Store,
// auth.ConfigStore, and auth.AuditSink.
type Store interface {
	// Events
	CreateEvent(ctx context.Context, event *delivery.Event) error
	GetEvent(ctx context.Context, id string) (*delivery.Event, error)

	// Subscriptions
	CreateSubscription(ctx context.Context, sub *delivery.Subscription) error
	GetSubscription(ctx context.Context, id string) (*delivery.Subscription, error)
	ListSubscriptions(ctx context.Context, applicationID string) ([]*delivery.Subscription, error)
	EnableSubscription(ctx context.Context, id string) error
	DisableSubscription(ctx context.Context, id string, at time.Time) error

	// Request attempts
	CreateAttempt(ctx context.Context, attempt *delivery.RequestAttempt) error
	GetAttempt(ctx context.Context, id string) (*delivery.RequestAttempt, error)
	UpdateAttempt(ctx context.Context, attempt *delivery.RequestAttempt) error
	// PromoteAttempt atomically finalizes a Waiting attempt and creates
	// its Pending successor with the next attempt number.
	PromoteAttempt(ctx context.Context, waitingID string) (*delivery.RequestAttempt, error)
	// LatestAttempt returns the newest attempt of a chain.
	LatestAttempt(ctx context.Context, eventID, subscriptionID string) (*delivery.RequestAttempt, error)
	// ListDueWaitingAttempts returns Waiting attempts whose backoff has
	// elapsed, for the maintenance sweep.
	ListDueWaitingAttempts(ctx context.Context, before time.Time, limit int) ([]*delivery.RequestAttempt, error)
	// FailWaitingAttempts terminates every Waiting attempt of a
	// subscription, used when the subscription is disabled.
	FailWaitingAttempts(ctx context.Context, subscriptionID, reason string) (int, error)

	// Authentication configs
	PutApplicationAuthConfig(ctx context.Context, cfg *auth.Config) error
	PutSubscriptionAuthConfig(ctx context.Context, cfg *auth.Config) error
	GetActiveApplicationConfig(ctx context.Context, applicationID string) (*auth.Config, error)
	GetActiveSubscriptionConfig(ctx context.Context, subscriptionID string) (*auth.Config, error)
	// Delete variants deactivate and return the removed config so the
	// caller can invalidate cached tokens. Nil when nothing was active.
	DeleteApplicationAuthConfig(ctx context.Context, applicationID string) (*auth.Config, error)
	DeleteSubscriptionAuthConfig(ctx context.Context, subscriptionID string) (*auth.Config, error)

	// Audit
	SaveAuthAudit(ctx context.Context, record *auth.AuditRecord) error
	PruneAuditRecords(ctx context.Context, before time.Time) (int64, error)

	Health() error
	Close() error
}
