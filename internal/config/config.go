// Package config provides configuration management for the webhook delivery
// engine. It loads settings from environment variables with sensible defaults
// and validates them before the engine starts.
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Operational HTTP server port (default: 8080)
//   - LOG_LEVEL: Logging level (default: info)
//   - LOG_FILE: Log file path (default: webhook-delivery.log)
//
// Delivery Engine:
//   - WORKER_CONCURRENCY: Number of concurrent delivery workers (default: 16)
//   - RETRY_MAX_FAST: Maximum fast-tier retries (default: 3)
//   - RETRY_MAX_SLOW: Maximum slow-tier retries (default: 2)
//   - RETRY_FAST_BASE: Base delay of the fast tier (default: 5s)
//   - RETRY_SLOW_BASE: Base delay of the slow tier (default: 5m)
//   - RETRY_SLOW_MAX: Cap on slow-tier delay (default: 1h)
//   - CONNECT_TIMEOUT: TLS/TCP handshake timeout per attempt (default: 10s)
//   - TOTAL_TIMEOUT: Full round-trip timeout per attempt (default: 30s)
//   - SSRF_CHECK_ENABLED: Reject non-globally-routable targets (default: true)
//
// Signatures:
//   - SIGNATURE_HEADER: Outbound signature header name (default: X-Webhook-Signature)
//   - SIGNATURE_VERSIONS: Enabled versions, comma separated (default: v0,v1)
//   - SIGNATURE_TOLERANCE: Freshness tolerance for verification (default: 5m)
//
// Authentication:
//   - CONFIG_ENCRYPTION_KEY: Key for decrypting stored secrets (required)
//   - OAUTH2_REFRESH_THRESHOLD: Refresh tokens this long before expiry (default: 5m)
//
// Endpoint Health:
//   - DISABLE_THRESHOLD: Consecutive failures before auto-disable (default: 5)
//   - RECOVERY_THRESHOLD: Consecutive successes before recovery (default: 3)
//
// Storage:
//   - DATABASE_TYPE: "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./webhook_delivery.db)
//   - POSTGRES_HOST/PORT/DB/USER/PASSWORD/SSL_MODE: PostgreSQL settings
//
// Queue:
//   - QUEUE_TYPE: "redis" or "amqp" (default: redis)
//   - QUEUE_NAME: Job queue name (default: delivery-attempts)
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD, REDIS_DB, REDIS_POOL_SIZE: Redis settings
//   - AMQP_URL: AMQP connection URL (required when QUEUE_TYPE=amqp)
//   - QUEUE_VISIBILITY_TIMEOUT: Redelivery window for picked jobs (default: 1m)
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration values for the delivery engine.
// Load it with Load() and check it with Validate() before use.
type Config struct {
	// Application settings
	Port     string // Operational HTTP server port
	LogLevel string // Logging level (debug, info, warn, error)

	// Delivery engine
	WorkerConcurrency int           // Bounded worker pool size
	RetryMaxFast      int           // Fast-tier retry budget
	RetryMaxSlow      int           // Slow-tier retry budget
	RetryFastBase     time.Duration // Fast-tier base delay
	RetrySlowBase     time.Duration // Slow-tier base delay
	RetrySlowMax      time.Duration // Slow-tier delay cap
	ConnectTimeout    time.Duration // Bounds the handshake phase only
	TotalTimeout      time.Duration // Bounds the whole round-trip
	SSRFCheckEnabled  bool          // Reject non-globally-routable targets

	// Signatures
	SignatureHeader    string        // Outbound signature header name
	SignatureVersions  []string      // Enabled versions (v0, v1)
	SignatureTolerance time.Duration // Verification freshness tolerance

	// Authentication
	EncryptionKey          string        // Process-wide secret decryption key
	OAuth2RefreshThreshold time.Duration // Refresh tokens this long before expiry

	// Endpoint health
	DisableThreshold  int // Consecutive failures before auto-disable
	RecoveryThreshold int // Consecutive successes before recovery

	// Storage
	DatabaseType     string
	DatabasePath     string
	PostgresHost     string
	PostgresPort     string
	PostgresDB       string
	PostgresUser     string
	PostgresPassword string
	PostgresSSLMode  string

	// Queue
	QueueType              string
	QueueName              string
	RedisAddress           string
	RedisPassword          string
	RedisDB                string
	RedisPoolSize          string
	AMQPURL                string
	QueueVisibilityTimeout time.Duration
}

// Load creates a new Config instance with values from environment variables.
// Unset variables fall back to defaults. Load does not validate; call
// Validate() on the result.
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		WorkerConcurrency: getIntEnv("WORKER_CONCURRENCY", 16),
		RetryMaxFast:      getIntEnv("RETRY_MAX_FAST", 3),
		RetryMaxSlow:      getIntEnv("RETRY_MAX_SLOW", 2),
		RetryFastBase:     getDurationEnv("RETRY_FAST_BASE", 5*time.Second),
		RetrySlowBase:     getDurationEnv("RETRY_SLOW_BASE", 5*time.Minute),
		RetrySlowMax:      getDurationEnv("RETRY_SLOW_MAX", time.Hour),
		ConnectTimeout:    getDurationEnv("CONNECT_TIMEOUT", 10*time.Second),
		TotalTimeout:      getDurationEnv("TOTAL_TIMEOUT", 30*time.Second),
		SSRFCheckEnabled:  getBoolEnv("SSRF_CHECK_ENABLED", true),

		SignatureHeader:    getEnv("SIGNATURE_HEADER", "X-Webhook-Signature"),
		SignatureVersions:  splitList(getEnv("SIGNATURE_VERSIONS", "v0,v1")),
		SignatureTolerance: getDurationEnv("SIGNATURE_TOLERANCE", 5*time.Minute),

		EncryptionKey:          getEnv("CONFIG_ENCRYPTION_KEY", ""),
		OAuth2RefreshThreshold: getDurationEnv("OAUTH2_REFRESH_THRESHOLD", 5*time.Minute),

		DisableThreshold:  getIntEnv("DISABLE_THRESHOLD", 5),
		RecoveryThreshold: getIntEnv("RECOVERY_THRESHOLD", 3),

		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./webhook_delivery.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "webhook_delivery"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		QueueType:              getEnv("QUEUE_TYPE", "redis"),
		QueueName:              getEnv("QUEUE_NAME", "delivery-attempts"),
		RedisAddress:           getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword:          getEnv("REDIS_PASSWORD", ""),
		RedisDB:                getEnv("REDIS_DB", "0"),
		RedisPoolSize:          getEnv("REDIS_POOL_SIZE", "10"),
		AMQPURL:                getEnv("AMQP_URL", ""),
		QueueVisibilityTimeout: getDurationEnv("QUEUE_VISIBILITY_TIMEOUT", time.Minute),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Validate performs comprehensive validation on the configuration.
//
// It checks required fields (the encryption key), value ranges, and
// cross-field dependencies such as PostgreSQL settings when the postgres
// backend is selected. The engine must not start with an invalid config.
func (c *Config) Validate() error {
	if c.EncryptionKey == "" {
		return fmt.Errorf("CONFIG_ENCRYPTION_KEY environment variable is required")
	}

	if len(c.EncryptionKey) < 16 {
		return fmt.Errorf("CONFIG_ENCRYPTION_KEY must be at least 16 characters")
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	if c.WorkerConcurrency < 1 {
		return fmt.Errorf("WORKER_CONCURRENCY must be a positive number")
	}

	if c.RetryMaxFast < 0 || c.RetryMaxSlow < 0 {
		return fmt.Errorf("retry maxima must not be negative")
	}

	if c.ConnectTimeout <= 0 || c.TotalTimeout <= 0 {
		return fmt.Errorf("CONNECT_TIMEOUT and TOTAL_TIMEOUT must be positive durations")
	}

	if c.ConnectTimeout >= c.TotalTimeout {
		return fmt.Errorf("CONNECT_TIMEOUT must be shorter than TOTAL_TIMEOUT")
	}

	for _, v := range c.SignatureVersions {
		if v != "v0" && v != "v1" {
			return fmt.Errorf("SIGNATURE_VERSIONS entries must be 'v0' or 'v1', got %q", v)
		}
	}
	if len(c.SignatureVersions) == 0 {
		return fmt.Errorf("SIGNATURE_VERSIONS must enable at least one version")
	}

	if c.OAuth2RefreshThreshold <= 0 {
		return fmt.Errorf("OAUTH2_REFRESH_THRESHOLD must be a positive duration")
	}

	if c.DisableThreshold < 1 {
		return fmt.Errorf("DISABLE_THRESHOLD must be a positive number")
	}
	if c.RecoveryThreshold < 1 {
		return fmt.Errorf("RECOVERY_THRESHOLD must be a positive number")
	}

	switch c.DatabaseType {
	case "sqlite", "postgres", "postgresql":
		// Valid database types
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}

	if c.DatabaseType == "postgres" || c.DatabaseType == "postgresql" {
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	}

	switch c.QueueType {
	case "redis":
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	case "amqp":
		if c.AMQPURL == "" {
			return fmt.Errorf("AMQP_URL is required when using the AMQP queue")
		}
	default:
		return fmt.Errorf("QUEUE_TYPE must be 'redis' or 'amqp'")
	}

	if c.QueueVisibilityTimeout <= 0 {
		return fmt.Errorf("QUEUE_VISIBILITY_TIMEOUT must be a positive duration")
	}

	return nil
}

// SignatureVersionEnabled reports whether the given signature version is
// enabled for outbound signing.
func (c *Config) SignatureVersionEnabled(version string) bool {
	for _, v := range c.SignatureVersions {
		if v == version {
			return true
		}
	}
	return false
}
