package storage

import (
	"fmt"

	"webhook-delivery/internal/common/errors"
	"webhook-delivery/internal/config"
)

// NewStore builds the configured storage backend.
func NewStore(cfg *config.Config) (Store, error) {
	switch cfg.DatabaseType {
	case "sqlite":
		return NewSQLiteStore(cfg.DatabasePath)
	case "postgres", "postgresql":
		return NewPostgresStore(PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			Database: cfg.PostgresDB,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPassword,
			SSLMode:  cfg.PostgresSSLMode,
		})
	case "memory":
		return NewMemoryStore(), nil
	default:
		return nil, errors.ConfigError(fmt.Sprintf("unsupported database type: %s", cfg.DatabaseType))
	}
}
