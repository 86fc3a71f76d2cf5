// Package errors provides the structured error taxonomy used by the delivery
// engine. Every error that can terminate a delivery attempt carries a type
// that determines whether the attempt is retried or failed outright.
package errors

import (
	"fmt"
	"strings"
)

// ErrorType represents the type of error
type ErrorType string

const (
	// ErrTypeConnection represents connection-level transport errors
	ErrTypeConnection ErrorType = "connection"
	// ErrTypeValidation represents validation errors
	ErrTypeValidation ErrorType = "validation"
	// ErrTypeConfig represents authentication/engine configuration errors
	ErrTypeConfig ErrorType = "config"
	// ErrTypeAuth represents authentication errors
	ErrTypeAuth ErrorType = "authentication"
	// ErrTypeAuthRejected represents hard credential rejection (401, invalid_grant)
	ErrTypeAuthRejected ErrorType = "authentication_rejected"
	// ErrTypeSecretNotFound represents an unresolvable secret reference
	ErrTypeSecretNotFound ErrorType = "secret_not_found"
	// ErrTypeSecretDecrypt represents a secret that failed AEAD decryption
	ErrTypeSecretDecrypt ErrorType = "secret_decrypt"
	// ErrTypeTransport represents a failed HTTP round-trip to the endpoint
	ErrTypeTransport ErrorType = "transport"
	// ErrTypeNotFound represents resource not found errors
	ErrTypeNotFound ErrorType = "not_found"
	// ErrTypeInternal represents internal system errors
	ErrTypeInternal ErrorType = "internal"
	// ErrTypeTimeout represents timeout errors
	ErrTypeTimeout ErrorType = "timeout"
	// ErrTypeSignatureParse represents a malformed signature header
	ErrTypeSignatureParse ErrorType = "signature_parse"
	// ErrTypeSignatureMismatch represents a well-formed but invalid signature
	ErrTypeSignatureMismatch ErrorType = "signature_mismatch"
	// ErrTypeSignatureExpired represents a signature outside the freshness window
	ErrTypeSignatureExpired ErrorType = "signature_expired"
)

// AppError represents a structured application error
type AppError struct {
	Type    ErrorType              `json:"type"`
	Message string                 `json:"message"`
	Code    string                 `json:"code,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	parts := []string{string(e.Type), e.Message}

	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause=%v", e.Cause))
	}

	if len(e.Context) > 0 {
		contextParts := make([]string, 0, len(e.Context))
		for k, v := range e.Context {
			contextParts = append(contextParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context={%s}", strings.Join(contextParts, ", ")))
	}

	return strings.Join(parts, ": ")
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCode adds an error code
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// ConnectionError creates a new connection error
func ConnectionError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeConnection,
		Message: msg,
		Cause:   cause,
	}
}

// ValidationError creates a new validation error
func ValidationError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeValidation,
		Message: msg,
	}
}

// ConfigError creates a new configuration error
func ConfigError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeConfig,
		Message: msg,
	}
}

// AuthError creates a new authentication error
func AuthError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeAuth,
		Message: msg,
		Cause:   cause,
	}
}

// AuthRejectedError creates an error for hard credential rejection.
// Retrying with the same credentials cannot succeed.
func AuthRejectedError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeAuthRejected,
		Message: msg,
	}
}

// SecretNotFoundError creates an error for an unresolvable secret reference
func SecretNotFoundError(ref string) *AppError {
	return &AppError{
		Type:    ErrTypeSecretNotFound,
		Message: fmt.Sprintf("secret %s not found", ref),
	}
}

// SecretDecryptError creates an error for a failed secret decryption
func SecretDecryptError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeSecretDecrypt,
		Message: msg,
		Cause:   cause,
	}
}

// TransportError creates an error for a failed endpoint round-trip
func TransportError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeTransport,
		Message: msg,
		Cause:   cause,
	}
}

// NotFoundError creates a new not found error
func NotFoundError(resource string) *AppError {
	return &AppError{
		Type:    ErrTypeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// InternalError creates a new internal error
func InternalError(msg string, cause error) *AppError {
	return &AppError{
		Type:    ErrTypeInternal,
		Message: msg,
		Cause:   cause,
	}
}

// TimeoutError creates a new timeout error
func TimeoutError(operation string) *AppError {
	return &AppError{
		Type:    ErrTypeTimeout,
		Message: fmt.Sprintf("timeout during %s", operation),
	}
}

// SignatureParseError creates an error for a malformed signature header
func SignatureParseError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeSignatureParse,
		Message: msg,
	}
}

// SignatureMismatchError creates an error for a failed MAC comparison
func SignatureMismatchError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeSignatureMismatch,
		Message: msg,
	}
}

// SignatureExpiredError creates an error for a signature outside the freshness window
func SignatureExpiredError(msg string) *AppError {
	return &AppError{
		Type:    ErrTypeSignatureExpired,
		Message: msg,
	}
}

// IsType checks if an error is of a specific type
func IsType(err error, errType ErrorType) bool {
	if err == nil {
		return false
	}

	appErr, ok := err.(*AppError)
	if !ok {
		return false
	}

	return appErr.Type == errType
}

// GetType returns the error type if it's an AppError, otherwise returns ErrTypeInternal
func GetType(err error) ErrorType {
	if err == nil {
		return ""
	}

	appErr, ok := err.(*AppError)
	if !ok {
		return ErrTypeInternal
	}

	return appErr.Type
}

// IsRetryable reports whether a delivery attempt that failed with this error
// should be re-enqueued. Secret and config errors are terminal: retrying
// cannot fix a bad secret. Hard credential rejection is terminal for the
// same reason. Transport, timeout, connection and transient auth errors
// retry up to the configured budget.
func IsRetryable(err error) bool {
	switch GetType(err) {
	case ErrTypeTransport, ErrTypeTimeout, ErrTypeConnection, ErrTypeAuth:
		return true
	default:
		return false
	}
}
