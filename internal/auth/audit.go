package auth

import (
	"context"
	"time"

	"webhook-delivery/internal/common/logging"
)

// AuditRecord captures one authentication attempt for the audit surface.
// ErrorMessage carries the failure reason, never any secret material.
type AuditRecord struct {
	ID               string            `json:"id,omitempty"`
	SubscriptionID   string            `json:"subscription_id,omitempty"`
	RequestAttemptID string            `json:"request_attempt_id,omitempty"`
	Type             Type              `json:"type"`
	Success          bool              `json:"success"`
	ErrorMessage     string            `json:"error_message,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
}

// AuditSink persists audit records. The storage layer implements it.
type AuditSink interface {
	SaveAuthAudit(ctx context.Context, record *AuditRecord) error
}

// Auditor records authentication outcomes. A persistence failure is logged
// and swallowed; auditing must never fail a delivery.
type Auditor struct {
	sink   AuditSink
	logger logging.Logger
}

func NewAuditor(sink AuditSink, logger logging.Logger) *Auditor {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Auditor{sink: sink, logger: logger}
}

// Record persists one authentication outcome.
func (a *Auditor) Record(ctx context.Context, record *AuditRecord) {
	if a == nil || a.sink == nil {
		return
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	if err := a.sink.SaveAuthAudit(ctx, record); err != nil {
		a.logger.Warn("Failed to persist auth audit record",
			logging.String("subscription_id", record.SubscriptionID),
			logging.String("request_attempt_id", record.RequestAttemptID),
			logging.Err(err),
		)
	}
}

// RecordOutcome is a convenience wrapper building the record from a
// decoration result.
func (a *Auditor) RecordOutcome(ctx context.Context, subscriptionID, attemptID string, authType Type, err error) {
	record := &AuditRecord{
		SubscriptionID:   subscriptionID,
		RequestAttemptID: attemptID,
		Type:             authType,
		Success:          err == nil,
	}
	if err != nil {
		record.ErrorMessage = err.Error()
	}
	a.Record(ctx, record)
}
