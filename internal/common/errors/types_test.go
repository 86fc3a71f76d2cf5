package errors

import (
	"errors"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *AppError
		want string
	}{
		{
			name: "basic error",
			err:  ValidationError("bad input"),
			want: "validation: bad input",
		},
		{
			name: "error with code",
			err:  ConfigError("missing token_endpoint").WithCode("E100"),
			want: "config: missing token_endpoint: code=E100",
		},
		{
			name: "error with cause",
			err:  TransportError("request failed", errors.New("dial tcp: refused")),
			want: "transport: request failed: cause=dial tcp: refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	cause := errors.New("underlying")
	err := SecretDecryptError("decryption failed", cause)

	if !errors.Is(err, cause) {
		t.Error("expected errors.Is to find the cause")
	}
}

func TestIsType(t *testing.T) {
	if !IsType(SecretNotFoundError("env://MISSING"), ErrTypeSecretNotFound) {
		t.Error("expected secret_not_found type")
	}
	if IsType(nil, ErrTypeSecretNotFound) {
		t.Error("nil error should never match")
	}
	if IsType(errors.New("plain"), ErrTypeInternal) {
		t.Error("plain errors are not AppErrors")
	}
}

func TestGetType(t *testing.T) {
	if got := GetType(TimeoutError("connect")); got != ErrTypeTimeout {
		t.Errorf("GetType() = %v, want %v", got, ErrTypeTimeout)
	}
	if got := GetType(errors.New("plain")); got != ErrTypeInternal {
		t.Errorf("GetType() for non-AppError = %v, want %v", got, ErrTypeInternal)
	}
	if got := GetType(nil); got != ErrorType("") {
		t.Errorf("GetType(nil) = %v, want empty", got)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"transport error retries", TransportError("503 from endpoint", nil), true},
		{"timeout retries", TimeoutError("total"), true},
		{"connection retries", ConnectionError("dns failure", nil), true},
		{"transient auth retries", AuthError("token endpoint 502", nil), true},
		{"hard auth rejection is terminal", AuthRejectedError("invalid_grant"), false},
		{"secret not found is terminal", SecretNotFoundError("env://API_TOKEN"), false},
		{"decrypt failure is terminal", SecretDecryptError("tag mismatch", nil), false},
		{"config error is terminal", ConfigError("missing client_id"), false},
		{"plain error is terminal", errors.New("unclassified"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.want {
				t.Errorf("IsRetryable() = %v, want %v", got, tt.want)
			}
		})
	}
}
