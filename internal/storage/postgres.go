package storage

import (
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"

	"webhook-delivery/internal/common/errors"
)

// PostgresConfig holds the connection settings for the PostgreSQL backend.
type PostgresConfig struct {
	Host     string
	Port     string
	Database string
	User     string
	Password string
	SSLMode  string
}

func (c PostgresConfig) Validate() error {
	if c.Host == "" || c.Database == "" || c.User == "" {
		return errors.ConfigError("postgres store requires host, database, and user")
	}
	return nil
}

func (c PostgresConfig) connectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	port := c.Port
	if port == "" {
		port = "5432"
	}
	return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
		c.Host, port, c.Database, c.User, c.Password, sslMode)
}

var postgresDialect = dialect{
	name:           "postgres",
	numberedParams: true,
	migrations: []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			payload BYTEA NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id TEXT PRIMARY KEY,
			application_id TEXT NOT NULL,
			target_url TEXT NOT NULL,
			method TEXT NOT NULL DEFAULT 'POST',
			headers TEXT NOT NULL DEFAULT '{}',
			signed_headers TEXT NOT NULL DEFAULT '[]',
			signing_secret TEXT NOT NULL DEFAULT '',
			enabled BOOLEAN NOT NULL DEFAULT TRUE,
			disabled_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_application
			ON subscriptions (application_id)`,
		`CREATE TABLE IF NOT EXISTS request_attempts (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL,
			subscription_id TEXT NOT NULL,
			status TEXT NOT NULL,
			attempt_number INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL,
			picked_at TIMESTAMPTZ,
			completed_at TIMESTAMPTZ,
			response_status INTEGER,
			response_ref TEXT NOT NULL DEFAULT '',
			failure_reason TEXT NOT NULL DEFAULT '',
			failure_detail TEXT NOT NULL DEFAULT '',
			next_attempt_at TIMESTAMPTZ,
			UNIQUE (event_id, subscription_id, attempt_number)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_chain
			ON request_attempts (event_id, subscription_id, attempt_number)`,
		`CREATE INDEX IF NOT EXISTS idx_attempts_due
			ON request_attempts (status, next_attempt_at)`,
		`CREATE TABLE IF NOT EXISTS auth_configs (
			id TEXT PRIMARY KEY,
			application_id TEXT NOT NULL,
			subscription_id TEXT,
			type TEXT NOT NULL,
			config TEXT NOT NULL,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_auth_active_application
			ON auth_configs (application_id)
			WHERE subscription_id IS NULL AND is_active`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_auth_active_subscription
			ON auth_configs (subscription_id)
			WHERE subscription_id IS NOT NULL AND is_active`,
		`CREATE TABLE IF NOT EXISTS auth_audit (
			id TEXT PRIMARY KEY,
			subscription_id TEXT NOT NULL DEFAULT '',
			request_attempt_id TEXT NOT NULL DEFAULT '',
			auth_type TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_auth_audit_created
			ON auth_audit (created_at)`,
	},
}

// NewPostgresStore opens (and migrates) a PostgreSQL-backed store using
// the pgx stdlib driver.
func NewPostgresStore(cfg PostgresConfig) (*SQLStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	db, err := sql.Open("pgx", cfg.connectionString())
	if err != nil {
		return nil, errors.ConnectionError("failed to open postgres database", err)
	}
	db.SetMaxOpenConns(10)
	return newSQLStore(db, postgresDialect)
}
