package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"webhook-delivery/internal/auth"
	"webhook-delivery/internal/common/errors"
	"webhook-delivery/internal/common/utils"
	"webhook-delivery/internal/delivery"
)

// dialect captures what differs between the SQL backends: the placeholder
// style and the migration DDL.
type dialect struct {
	name           string
	migrations     []string
	numberedParams bool
}

// rebind rewrites ? placeholders to $1..$n for backends that need it.
func (d dialect) rebind(query string) string {
	if !d.numberedParams {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// SQLStore implements Store on database/sql. Both the SQLite and
// PostgreSQL backends share it; only the driver and DDL differ.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
}

var _ Store = (*SQLStore)(nil)

func newSQLStore(db *sql.DB, d dialect) (*SQLStore, error) {
	if err := db.Ping(); err != nil {
		return nil, errors.ConnectionError("failed to ping database", err)
	}
	store := &SQLStore{db: db, dialect: d}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SQLStore) migrate() error {
	for _, query := range s.dialect.migrations {
		if _, err := s.db.Exec(query); err != nil {
			return errors.InternalError("failed to migrate database", err)
		}
	}
	return nil
}

func (s *SQLStore) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) queryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.rebind(query), args...)
}

func (s *SQLStore) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.rebind(query), args...)
}

// Events

func (s *SQLStore) CreateEvent(ctx context.Context, event *delivery.Event) error {
	if event.ID == "" {
		return errors.ValidationError("event is missing id")
	}
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.exec(ctx,
		`INSERT INTO events (id, event_type, payload, created_at) VALUES (?, ?, ?, ?)`,
		event.ID, event.EventType, event.Payload, createdAt)
	if err != nil {
		return errors.InternalError("failed to create event", err)
	}
	return nil
}

func (s *SQLStore) GetEvent(ctx context.Context, id string) (*delivery.Event, error) {
	var event delivery.Event
	err := s.queryRow(ctx,
		`SELECT id, event_type, payload, created_at FROM events WHERE id = ?`, id).
		Scan(&event.ID, &event.EventType, &event.Payload, &event.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("event")
	}
	if err != nil {
		return nil, errors.InternalError("failed to load event", err)
	}
	return &event, nil
}

// Subscriptions

func (s *SQLStore) CreateSubscription(ctx context.Context, sub *delivery.Subscription) error {
	if sub.ID == "" {
		return errors.ValidationError("subscription is missing id")
	}
	headers, err := json.Marshal(sub.Headers)
	if err != nil {
		return errors.InternalError("failed to encode subscription headers", err)
	}
	signedHeaders, err := json.Marshal(sub.SignedHeaders)
	if err != nil {
		return errors.InternalError("failed to encode signed headers", err)
	}
	now := time.Now().UTC()
	createdAt := sub.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err = s.exec(ctx,
		`INSERT INTO subscriptions
		 (id, application_id, target_url, method, headers, signed_headers,
		  signing_secret, enabled, disabled_at, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.ApplicationID, sub.TargetURL, sub.RequestMethod(),
		string(headers), string(signedHeaders), sub.SigningSecret,
		sub.Enabled, nullTime(sub.DisabledAt), createdAt, now)
	if err != nil {
		return errors.InternalError("failed to create subscription", err)
	}
	return nil
}

const subscriptionColumns = `id, application_id, target_url, method, headers,
	signed_headers, signing_secret, enabled, disabled_at, created_at, updated_at`

func (s *SQLStore) scanSubscription(row interface {
	Scan(dest ...interface{}) error
}) (*delivery.Subscription, error) {
	var sub delivery.Subscription
	var headers, signedHeaders string
	var disabledAt sql.NullTime
	err := row.Scan(&sub.ID, &sub.ApplicationID, &sub.TargetURL, &sub.Method,
		&headers, &signedHeaders, &sub.SigningSecret, &sub.Enabled,
		&disabledAt, &sub.CreatedAt, &sub.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if headers != "" {
		if err := json.Unmarshal([]byte(headers), &sub.Headers); err != nil {
			return nil, errors.InternalError("corrupt subscription headers", err)
		}
	}
	if signedHeaders != "" {
		if err := json.Unmarshal([]byte(signedHeaders), &sub.SignedHeaders); err != nil {
			return nil, errors.InternalError("corrupt signed headers", err)
		}
	}
	if disabledAt.Valid {
		t := disabledAt.Time
		sub.DisabledAt = &t
	}
	return &sub, nil
}

func (s *SQLStore) GetSubscription(ctx context.Context, id string) (*delivery.Subscription, error) {
	row := s.queryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = ?`, id)
	sub, err := s.scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("subscription")
	}
	if err != nil {
		return nil, errors.InternalError("failed to load subscription", err)
	}
	return sub, nil
}

func (s *SQLStore) ListSubscriptions(ctx context.Context, applicationID string) ([]*delivery.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions`
	var args []interface{}
	if applicationID != "" {
		query += ` WHERE application_id = ?`
		args = append(args, applicationID)
	}
	query += ` ORDER BY id`
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, errors.InternalError("failed to list subscriptions", err)
	}
	defer rows.Close()

	var out []*delivery.Subscription
	for rows.Next() {
		sub, err := s.scanSubscription(rows)
		if err != nil {
			return nil, errors.InternalError("failed to scan subscription", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}

func (s *SQLStore) EnableSubscription(ctx context.Context, id string) error {
	result, err := s.exec(ctx,
		`UPDATE subscriptions SET enabled = ?, disabled_at = NULL, updated_at = ? WHERE id = ?`,
		true, time.Now().UTC(), id)
	if err != nil {
		return errors.InternalError("failed to enable subscription", err)
	}
	return requireRow(result, "subscription")
}

func (s *SQLStore) DisableSubscription(ctx context.Context, id string, at time.Time) error {
	result, err := s.exec(ctx,
		`UPDATE subscriptions SET enabled = ?, disabled_at = ?, updated_at = ? WHERE id = ?`,
		false, at.UTC(), at.UTC(), id)
	if err != nil {
		return errors.InternalError("failed to disable subscription", err)
	}
	return requireRow(result, "subscription")
}

// Request attempts

const attemptColumns = `id, event_id, subscription_id, status, attempt_number,
	created_at, picked_at, completed_at, response_status, response_ref,
	failure_reason, failure_detail, next_attempt_at`

func (s *SQLStore) CreateAttempt(ctx context.Context, attempt *delivery.RequestAttempt) error {
	if err := attempt.Validate(); err != nil {
		return err
	}
	createdAt := attempt.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.exec(ctx,
		`INSERT INTO request_attempts (`+attemptColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		attempt.ID, attempt.EventID, attempt.SubscriptionID,
		string(attempt.Status), attempt.AttemptNumber, createdAt,
		nullTime(attempt.PickedAt), nullTime(attempt.CompletedAt),
		nullInt(attempt.ResponseStatus), attempt.ResponseRef,
		attempt.FailureReason, attempt.FailureDetail,
		nullTime(attempt.NextAttemptAt))
	if err != nil {
		return errors.InternalError("failed to create attempt", err)
	}
	return nil
}

func scanAttempt(row interface {
	Scan(dest ...interface{}) error
}) (*delivery.RequestAttempt, error) {
	var attempt delivery.RequestAttempt
	var status string
	var pickedAt, completedAt, nextAttemptAt sql.NullTime
	var responseStatus sql.NullInt64
	err := row.Scan(&attempt.ID, &attempt.EventID, &attempt.SubscriptionID,
		&status, &attempt.AttemptNumber, &attempt.CreatedAt,
		&pickedAt, &completedAt, &responseStatus, &attempt.ResponseRef,
		&attempt.FailureReason, &attempt.FailureDetail, &nextAttemptAt)
	if err != nil {
		return nil, err
	}
	attempt.Status = delivery.Status(status)
	if pickedAt.Valid {
		t := pickedAt.Time
		attempt.PickedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		attempt.CompletedAt = &t
	}
	if nextAttemptAt.Valid {
		t := nextAttemptAt.Time
		attempt.NextAttemptAt = &t
	}
	if responseStatus.Valid {
		v := int(responseStatus.Int64)
		attempt.ResponseStatus = &v
	}
	return &attempt, nil
}

func (s *SQLStore) GetAttempt(ctx context.Context, id string) (*delivery.RequestAttempt, error) {
	row := s.queryRow(ctx,
		`SELECT `+attemptColumns+` FROM request_attempts WHERE id = ?`, id)
	attempt, err := scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("request attempt")
	}
	if err != nil {
		return nil, errors.InternalError("failed to load attempt", err)
	}
	return attempt, nil
}

func (s *SQLStore) UpdateAttempt(ctx context.Context, attempt *delivery.RequestAttempt) error {
	if err := attempt.Validate(); err != nil {
		return err
	}
	result, err := s.exec(ctx,
		`UPDATE request_attempts SET status = ?, attempt_number = ?,
		 picked_at = ?, completed_at = ?, response_status = ?,
		 response_ref = ?, failure_reason = ?, failure_detail = ?,
		 next_attempt_at = ? WHERE id = ?`,
		string(attempt.Status), attempt.AttemptNumber,
		nullTime(attempt.PickedAt), nullTime(attempt.CompletedAt),
		nullInt(attempt.ResponseStatus), attempt.ResponseRef,
		attempt.FailureReason, attempt.FailureDetail,
		nullTime(attempt.NextAttemptAt), attempt.ID)
	if err != nil {
		return errors.InternalError("failed to update attempt", err)
	}
	return requireRow(result, "request attempt")
}

func (s *SQLStore) PromoteAttempt(ctx context.Context, waitingID string) (*delivery.RequestAttempt, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errors.InternalError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, s.dialect.rebind(
		`SELECT `+attemptColumns+` FROM request_attempts WHERE id = ?`), waitingID)
	old, err := scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("request attempt")
	}
	if err != nil {
		return nil, errors.InternalError("failed to load attempt", err)
	}
	if old.Status != delivery.StatusWaiting {
		return nil, errors.ValidationError("attempt is not waiting")
	}

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, s.dialect.rebind(
		`UPDATE request_attempts SET status = ?, failure_reason = ?,
		 completed_at = ?, next_attempt_at = NULL WHERE id = ?`),
		string(delivery.StatusFailed), delivery.ReasonSuperseded, now, waitingID)
	if err != nil {
		return nil, errors.InternalError("failed to finalize waiting attempt", err)
	}

	successor := &delivery.RequestAttempt{
		ID:             utils.GenerateAttemptID(),
		EventID:        old.EventID,
		SubscriptionID: old.SubscriptionID,
		Status:         delivery.StatusPending,
		AttemptNumber:  old.AttemptNumber + 1,
		CreatedAt:      now,
	}
	_, err = tx.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO request_attempts (`+attemptColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		successor.ID, successor.EventID, successor.SubscriptionID,
		string(successor.Status), successor.AttemptNumber, successor.CreatedAt,
		nil, nil, nil, "", "", "", nil)
	if err != nil {
		return nil, errors.InternalError("failed to create successor attempt", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, errors.InternalError("failed to commit promotion", err)
	}
	return successor, nil
}

func (s *SQLStore) LatestAttempt(ctx context.Context, eventID, subscriptionID string) (*delivery.RequestAttempt, error) {
	row := s.queryRow(ctx,
		`SELECT `+attemptColumns+` FROM request_attempts
		 WHERE event_id = ? AND subscription_id = ?
		 ORDER BY attempt_number DESC LIMIT 1`, eventID, subscriptionID)
	attempt, err := scanAttempt(row)
	if err == sql.ErrNoRows {
		return nil, errors.NotFoundError("request attempt")
	}
	if err != nil {
		return nil, errors.InternalError("failed to load attempt", err)
	}
	return attempt, nil
}

func (s *SQLStore) ListDueWaitingAttempts(ctx context.Context, before time.Time, limit int) ([]*delivery.RequestAttempt, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.query(ctx,
		`SELECT `+attemptColumns+` FROM request_attempts
		 WHERE status = ? AND next_attempt_at IS NOT NULL AND next_attempt_at <= ?
		 ORDER BY next_attempt_at LIMIT ?`,
		string(delivery.StatusWaiting), before.UTC(), limit)
	if err != nil {
		return nil, errors.InternalError("failed to list due attempts", err)
	}
	defer rows.Close()

	var out []*delivery.RequestAttempt
	for rows.Next() {
		attempt, err := scanAttempt(rows)
		if err != nil {
			return nil, errors.InternalError("failed to scan attempt", err)
		}
		out = append(out, attempt)
	}
	return out, rows.Err()
}

func (s *SQLStore) FailWaitingAttempts(ctx context.Context, subscriptionID, reason string) (int, error) {
	result, err := s.exec(ctx,
		`UPDATE request_attempts SET status = ?, failure_reason = ?,
		 completed_at = ?, next_attempt_at = NULL
		 WHERE subscription_id = ? AND status = ?`,
		string(delivery.StatusFailed), reason, time.Now().UTC(),
		subscriptionID, string(delivery.StatusWaiting))
	if err != nil {
		return 0, errors.InternalError("failed to drain waiting attempts", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return int(affected), nil
}

// Authentication configs

func (s *SQLStore) PutApplicationAuthConfig(ctx context.Context, cfg *auth.Config) error {
	if cfg.ID == "" {
		cfg.ID = utils.GenerateUUID()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return s.putAuthConfig(ctx, cfg,
		`UPDATE auth_configs SET is_active = ?
		 WHERE application_id = ? AND subscription_id IS NULL AND is_active = ?`,
		[]interface{}{false, cfg.ApplicationID, true})
}

func (s *SQLStore) PutSubscriptionAuthConfig(ctx context.Context, cfg *auth.Config) error {
	if cfg.ID == "" {
		cfg.ID = utils.GenerateUUID()
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.SubscriptionID == "" {
		return errors.ValidationError("config is missing subscription_id")
	}
	return s.putAuthConfig(ctx, cfg,
		`UPDATE auth_configs SET is_active = ?
		 WHERE subscription_id = ? AND is_active = ?`,
		[]interface{}{false, cfg.SubscriptionID, true})
}

func (s *SQLStore) putAuthConfig(ctx context.Context, cfg *auth.Config, deactivateQuery string, deactivateArgs []interface{}) error {
	stored := *cfg
	if stored.ID == "" {
		stored.ID = utils.GenerateUUID()
	}
	stored.IsActive = true
	now := time.Now().UTC()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = now
	}
	stored.UpdatedAt = now

	payload, err := json.Marshal(&stored)
	if err != nil {
		return errors.InternalError("failed to encode auth config", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.InternalError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.dialect.rebind(deactivateQuery), deactivateArgs...); err != nil {
		return errors.InternalError("failed to deactivate previous config", err)
	}
	_, err = tx.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO auth_configs
		 (id, application_id, subscription_id, type, config, is_active,
		  created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		stored.ID, stored.ApplicationID, nullString(stored.SubscriptionID),
		string(stored.Type), string(payload), true, stored.CreatedBy,
		stored.CreatedAt, stored.UpdatedAt)
	if err != nil {
		return errors.InternalError("failed to store auth config", err)
	}
	if err := tx.Commit(); err != nil {
		return errors.InternalError("failed to commit auth config", err)
	}
	*cfg = stored
	return nil
}

func (s *SQLStore) GetActiveApplicationConfig(ctx context.Context, applicationID string) (*auth.Config, error) {
	return s.loadAuthConfig(ctx,
		`SELECT config FROM auth_configs
		 WHERE application_id = ? AND subscription_id IS NULL AND is_active = ?`,
		applicationID, true)
}

func (s *SQLStore) GetActiveSubscriptionConfig(ctx context.Context, subscriptionID string) (*auth.Config, error) {
	return s.loadAuthConfig(ctx,
		`SELECT config FROM auth_configs
		 WHERE subscription_id = ? AND is_active = ?`,
		subscriptionID, true)
}

func (s *SQLStore) loadAuthConfig(ctx context.Context, query string, args ...interface{}) (*auth.Config, error) {
	var payload string
	err := s.queryRow(ctx, query, args...).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.InternalError("failed to load auth config", err)
	}
	var cfg auth.Config
	if err := json.Unmarshal([]byte(payload), &cfg); err != nil {
		return nil, errors.InternalError("corrupt auth config", err)
	}
	return &cfg, nil
}

func (s *SQLStore) DeleteApplicationAuthConfig(ctx context.Context, applicationID string) (*auth.Config, error) {
	cfg, err := s.GetActiveApplicationConfig(ctx, applicationID)
	if err != nil || cfg == nil {
		return nil, err
	}
	_, err = s.exec(ctx,
		`UPDATE auth_configs SET is_active = ? WHERE id = ?`, false, cfg.ID)
	if err != nil {
		return nil, errors.InternalError("failed to deactivate auth config", err)
	}
	cfg.IsActive = false
	return cfg, nil
}

func (s *SQLStore) DeleteSubscriptionAuthConfig(ctx context.Context, subscriptionID string) (*auth.Config, error) {
	cfg, err := s.GetActiveSubscriptionConfig(ctx, subscriptionID)
	if err != nil || cfg == nil {
		return nil, err
	}
	_, err = s.exec(ctx,
		`UPDATE auth_configs SET is_active = ? WHERE id = ?`, false, cfg.ID)
	if err != nil {
		return nil, errors.InternalError("failed to deactivate auth config", err)
	}
	cfg.IsActive = false
	return cfg, nil
}

// Audit

func (s *SQLStore) SaveAuthAudit(ctx context.Context, record *auth.AuditRecord) error {
	id := record.ID
	if id == "" {
		id = utils.GenerateUUID()
	}
	metadata, err := json.Marshal(record.Metadata)
	if err != nil {
		return errors.InternalError("failed to encode audit metadata", err)
	}
	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err = s.exec(ctx,
		`INSERT INTO auth_audit
		 (id, subscription_id, request_attempt_id, auth_type, success,
		  error_message, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, record.SubscriptionID, record.RequestAttemptID,
		string(record.Type), record.Success, record.ErrorMessage,
		string(metadata), createdAt)
	if err != nil {
		return errors.InternalError("failed to save audit record", err)
	}
	return nil
}

func (s *SQLStore) PruneAuditRecords(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.exec(ctx,
		`DELETE FROM auth_audit WHERE created_at < ?`, before.UTC())
	if err != nil {
		return 0, errors.InternalError("failed to prune audit records", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return affected, nil
}

func (s *SQLStore) Health() error {
	return s.db.Ping()
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func requireRow(result sql.Result, resource string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return nil
	}
	if affected == 0 {
		return errors.NotFoundError(resource)
	}
	return nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullInt(v *int) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func nullString(v string) interface{} {
	if v == "" {
		return nil
	}
	return v
}
