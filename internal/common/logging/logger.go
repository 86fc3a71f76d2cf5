// Package logging provides structured logging using zap
package logging

import (
	"context"
	"fmt"
	"os"
	"time"
)

// NewDefaultLogger creates a logger with default configuration using zap
func NewDefaultLogger() Logger {
	config := DefaultLogConfig()
	logger, err := NewZapLogger(config)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize default zap logger: %v", err))
	}
	return logger
}

// InitGlobalLogger initializes the global logger from LOG_LEVEL and LOG_FILE
func InitGlobalLogger() {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	level := ParseLevel(logLevel)

	logFileName := os.Getenv("LOG_FILE")
	if logFileName == "" {
		logFileName = "webhook-delivery.log"
	}

	file, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
	if err != nil {
		panic(fmt.Sprintf("Failed to open log file %s: %v", logFileName, err))
	}

	config := LogConfig{
		Level:      level,
		Output:     file,
		TimeFormat: time.RFC3339,
	}

	logger, err := NewZapLogger(config)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}

	SetGlobalLogger(logger)

	logger.Info("Logger initialized",
		Field{"level", level.String()},
		Field{"log_file", logFileName},
	)
}

// MustSync flushes any buffered log entries for zap loggers.
// This should be called before application exit.
func MustSync() {
	logger := GetGlobalLogger()
	if zapLogger, ok := logger.(*ZapAdapter); ok {
		_ = zapLogger.Sync()
	}
}

// WithContext is a convenience function to add context to the global logger
func WithContext(ctx context.Context) Logger {
	return GetGlobalLogger().WithContext(ctx)
}

// WithFields is a convenience function to add fields to the global logger
func WithFields(fields ...Field) Logger {
	return GetGlobalLogger().WithFields(fields...)
}

// Err creates an error field with key "error"
func Err(err error) Field {
	return Field{Key: "error", Value: err}
}

// NamedError creates an error field with a custom key
func NamedError(key string, err error) Field {
	return Field{Key: key, Value: err}
}
