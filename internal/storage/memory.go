package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"webhook-delivery/internal/auth"
	"webhook-delivery/internal/common/errors"
	"webhook-delivery/internal/common/utils"
	"webhook-delivery/internal/delivery"
)

// MemoryStore keeps everything in maps. It backs tests and local runs
// without a database.
type MemoryStore struct {
	mu            sync.RWMutex
	events        map[string]*delivery.Event
	subscriptions map[string]*delivery.Subscription
	attempts      map[string]*delivery.RequestAttempt
	authConfigs   map[string]*auth.Config
	auditRecords  []*auth.AuditRecord
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:        make(map[string]*delivery.Event),
		subscriptions: make(map[string]*delivery.Subscription),
		attempts:      make(map[string]*delivery.RequestAttempt),
		authConfigs:   make(map[string]*auth.Config),
	}
}

func (s *MemoryStore) CreateEvent(ctx context.Context, event *delivery.Event) error {
	if event.ID == "" {
		return errors.ValidationError("event is missing id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *event
	s.events[event.ID] = &copied
	return nil
}

func (s *MemoryStore) GetEvent(ctx context.Context, id string) (*delivery.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	event, ok := s.events[id]
	if !ok {
		return nil, errors.NotFoundError("event")
	}
	copied := *event
	return &copied, nil
}

func (s *MemoryStore) CreateSubscription(ctx context.Context, sub *delivery.Subscription) error {
	if sub.ID == "" {
		return errors.ValidationError("subscription is missing id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *sub
	s.subscriptions[sub.ID] = &copied
	return nil
}

func (s *MemoryStore) GetSubscription(ctx context.Context, id string) (*delivery.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return nil, errors.NotFoundError("subscription")
	}
	copied := *sub
	return &copied, nil
}

func (s *MemoryStore) ListSubscriptions(ctx context.Context, applicationID string) ([]*delivery.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*delivery.Subscription
	for _, sub := range s.subscriptions {
		if applicationID == "" || sub.ApplicationID == applicationID {
			copied := *sub
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) EnableSubscription(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return errors.NotFoundError("subscription")
	}
	sub.Enabled = true
	sub.DisabledAt = nil
	sub.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) DisableSubscription(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subscriptions[id]
	if !ok {
		return errors.NotFoundError("subscription")
	}
	sub.Enabled = false
	disabledAt := at.UTC()
	sub.DisabledAt = &disabledAt
	sub.UpdatedAt = disabledAt
	return nil
}

func (s *MemoryStore) CreateAttempt(ctx context.Context, attempt *delivery.RequestAttempt) error {
	if err := attempt.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.attempts[attempt.ID]; exists {
		return errors.ValidationError("attempt id already exists")
	}
	copied := *attempt
	s.attempts[attempt.ID] = &copied
	return nil
}

func (s *MemoryStore) GetAttempt(ctx context.Context, id string) (*delivery.RequestAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempt, ok := s.attempts[id]
	if !ok {
		return nil, errors.NotFoundError("request attempt")
	}
	copied := *attempt
	return &copied, nil
}

func (s *MemoryStore) UpdateAttempt(ctx context.Context, attempt *delivery.RequestAttempt) error {
	if err := attempt.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.attempts[attempt.ID]; !ok {
		return errors.NotFoundError("request attempt")
	}
	copied := *attempt
	s.attempts[attempt.ID] = &copied
	return nil
}

func (s *MemoryStore) PromoteAttempt(ctx context.Context, waitingID string) (*delivery.RequestAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.attempts[waitingID]
	if !ok {
		return nil, errors.NotFoundError("request attempt")
	}
	if old.Status != delivery.StatusWaiting {
		return nil, errors.ValidationError("attempt is not waiting")
	}

	now := time.Now().UTC()
	successor := &delivery.RequestAttempt{
		ID:             utils.GenerateAttemptID(),
		EventID:        old.EventID,
		SubscriptionID: old.SubscriptionID,
		Status:         delivery.StatusPending,
		AttemptNumber:  old.AttemptNumber + 1,
		CreatedAt:      now,
	}

	old.Status = delivery.StatusFailed
	old.FailureReason = delivery.ReasonSuperseded
	old.CompletedAt = &now
	old.NextAttemptAt = nil

	s.attempts[successor.ID] = successor
	copied := *successor
	return &copied, nil
}

func (s *MemoryStore) LatestAttempt(ctx context.Context, eventID, subscriptionID string) (*delivery.RequestAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var latest *delivery.RequestAttempt
	for _, attempt := range s.attempts {
		if attempt.EventID != eventID || attempt.SubscriptionID != subscriptionID {
			continue
		}
		if latest == nil || attempt.AttemptNumber > latest.AttemptNumber {
			latest = attempt
		}
	}
	if latest == nil {
		return nil, errors.NotFoundError("request attempt")
	}
	copied := *latest
	return &copied, nil
}

func (s *MemoryStore) ListDueWaitingAttempts(ctx context.Context, before time.Time, limit int) ([]*delivery.RequestAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var due []*delivery.RequestAttempt
	for _, attempt := range s.attempts {
		if attempt.Status != delivery.StatusWaiting || attempt.NextAttemptAt == nil {
			continue
		}
		if attempt.NextAttemptAt.After(before) {
			continue
		}
		copied := *attempt
		due = append(due, &copied)
	}
	sort.Slice(due, func(i, j int) bool {
		return due[i].NextAttemptAt.Before(*due[j].NextAttemptAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *MemoryStore) FailWaitingAttempts(ctx context.Context, subscriptionID, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	count := 0
	for _, attempt := range s.attempts {
		if attempt.SubscriptionID != subscriptionID || attempt.Status != delivery.StatusWaiting {
			continue
		}
		attempt.Status = delivery.StatusFailed
		attempt.FailureReason = reason
		attempt.CompletedAt = &now
		attempt.NextAttemptAt = nil
		count++
	}
	return count, nil
}

func (s *MemoryStore) PutApplicationAuthConfig(ctx context.Context, cfg *auth.Config) error {
	if cfg.ID == "" {
		cfg.ID = utils.GenerateUUID()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.authConfigs {
		if existing.ApplicationID == cfg.ApplicationID && existing.SubscriptionID == "" {
			existing.IsActive = false
		}
	}
	s.putConfigLocked(cfg)
	return nil
}

func (s *MemoryStore) PutSubscriptionAuthConfig(ctx context.Context, cfg *auth.Config) error {
	if cfg.ID == "" {
		cfg.ID = utils.GenerateUUID()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.SubscriptionID == "" {
		return errors.ValidationError("config is missing subscription_id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.authConfigs {
		if existing.SubscriptionID == cfg.SubscriptionID {
			existing.IsActive = false
		}
	}
	s.putConfigLocked(cfg)
	return nil
}

func (s *MemoryStore) putConfigLocked(cfg *auth.Config) {
	copied := *cfg
	if copied.ID == "" {
		copied.ID = utils.GenerateUUID()
	}
	copied.IsActive = true
	now := time.Now().UTC()
	if copied.CreatedAt.IsZero() {
		copied.CreatedAt = now
	}
	copied.UpdatedAt = now
	s.authConfigs[copied.ID] = &copied
}

func (s *MemoryStore) GetActiveApplicationConfig(ctx context.Context, applicationID string) (*auth.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cfg := range s.authConfigs {
		if cfg.IsActive && cfg.ApplicationID == applicationID && cfg.SubscriptionID == "" {
			copied := *cfg
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) GetActiveSubscriptionConfig(ctx context.Context, subscriptionID string) (*auth.Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, cfg := range s.authConfigs {
		if cfg.IsActive && cfg.SubscriptionID == subscriptionID {
			copied := *cfg
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) DeleteApplicationAuthConfig(ctx context.Context, applicationID string) (*auth.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cfg := range s.authConfigs {
		if cfg.IsActive && cfg.ApplicationID == applicationID && cfg.SubscriptionID == "" {
			cfg.IsActive = false
			copied := *cfg
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) DeleteSubscriptionAuthConfig(ctx context.Context, subscriptionID string) (*auth.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cfg := range s.authConfigs {
		if cfg.IsActive && cfg.SubscriptionID == subscriptionID {
			cfg.IsActive = false
			copied := *cfg
			return &copied, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) SaveAuthAudit(ctx context.Context, record *auth.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *record
	if copied.ID == "" {
		copied.ID = utils.GenerateUUID()
	}
	s.auditRecords = append(s.auditRecords, &copied)
	return nil
}

func (s *MemoryStore) PruneAuditRecords(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.auditRecords[:0]
	var pruned int64
	for _, record := range s.auditRecords {
		if record.CreatedAt.Before(before) {
			pruned++
			continue
		}
		kept = append(kept, record)
	}
	s.auditRecords = kept
	return pruned, nil
}

// AuditRecords returns a snapshot, newest last. Test helper.
func (s *MemoryStore) AuditRecords() []*auth.AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*auth.AuditRecord, len(s.auditRecords))
	for i, record := range s.auditRecords {
		copied := *record
		out[i] = &copied
	}
	return out
}

func (s *MemoryStore) Health() error { return nil }

func (s *MemoryStore) Close() error { return nil }
