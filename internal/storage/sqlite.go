package storage

import (
	"database/sql"

	_ "github.com/mattn/go-sqlite3"

	"webhook-delivery/internal/common/errors"
)

var sqliteDialect = dialect{
	name: "sqlite",
	migrations: []string{
		`CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			event_type TEXT NOT NULL,
			payload BLOB NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
			id TEXT PRIMARY KEY,
			application_id TEXT NOT NULL,
			target_url TEXT NOT NULL,
			method TEXT NOT NULL DEFAULT 'POST',
			headers TEXT NOT NULL DEFAULT '{}',
			signed_headers TEXT NOT NULL DEFAULT '[]',
			signing_secret TEXT NOT NULL DEFAULT '',
			enabled BOOLEAN NOT NULL DEFAULT 1,
			disabled_at DATETIME,
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscriptions_application
			ON subscriptions (application_id)`,
		`CREATE TABLE IF NOT EXISTS request_attempts (
			id TEXT PRIMARY KEY,
			event_id TEXT NOT NULL,
			subscription_id TEXT NOT NULL,
			status TEXT NOT NULL,
			attempt_number INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			picked_at DATETIME,
			completed_at DATETIME,
			response_status INTEGER,
			response_ref TEXT NOT NULL DEFAULT '',
			failure_reason TEXT NOT NULL DEFAULT '',
			failure_detail TEXT NOT NULL DEFAULT '',
			next_attempt_at DATETIME,
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
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_by TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_auth_active_application
			ON auth_configs (application_id)
			WHERE subscription_id IS NULL AND is_active = 1`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_auth_active_subscription
			ON auth_configs (subscription_id)
			WHERE subscription_id IS NOT NULL AND is_active = 1`,
		`CREATE TABLE IF NOT EXISTS auth_audit (
			id TEXT PRIMARY KEY,
			subscription_id TEXT NOT NULL DEFAULT '',
			request_attempt_id TEXT NOT NULL DEFAULT '',
			auth_type TEXT NOT NULL,
			success BOOLEAN NOT NULL,
			error_message TEXT NOT NULL DEFAULT '',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_auth_audit_created
			ON auth_audit (created_at)`,
	},
}

// NewSQLiteStore opens (and migrates) a SQLite-backed store.
func NewSQLiteStore(path string) (*SQLStore, error) {
	if path == "" {
		return nil, errors.ConfigError("sqlite store requires a database path")
	}
	db, err := sql.Open("sqlite3", path+"?_loc=UTC&_busy_timeout=5000")
	if err != nil {
		return nil, errors.ConnectionError("failed to open sqlite database", err)
	}
	// SQLite serializes writers; a second connection only produces
	// busy errors.
	db.SetMaxOpenConns(1)
	return newSQLStore(db, sqliteDialect)
}
