package secrets

import (
	"encoding/base64"
	"strings"
	"testing"

	"webhook-delivery/internal/common/errors"
)

func newTestResolver(t *testing.T) *Resolver {
	t.Helper()
	r, err := NewResolver("test-encryption-key-32-bytes!!")
	if err != nil {
		t.Fatalf("NewResolver() unexpected error = %v", err)
	}
	return r
}

func TestNewResolver(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		wantError bool
	}{
		{
			name:      "valid key",
			key:       "test-encryption-key-32-bytes!!",
			wantError: false,
		},
		{
			name:      "short key is derived to full length",
			key:       "short",
			wantError: false,
		},
		{
			name:      "long key",
			key:       strings.Repeat("a", 64),
			wantError: false,
		},
		{
			name:      "empty key",
			key:       "",
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewResolver(tt.key)

			if tt.wantError {
				if err == nil {
					t.Errorf("NewResolver() expected error but got none")
				}
				return
			}

			if err != nil {
				t.Errorf("NewResolver() unexpected error = %v", err)
				return
			}
			if len(r.key) != 32 {
				t.Errorf("NewResolver() key length = %d, want 32", len(r.key))
			}
		})
	}
}

func TestResolver_EncryptRoundTrip(t *testing.T) {
	r := newTestResolver(t)

	tests := []struct {
		name      string
		plaintext string
	}{
		{name: "simple secret", plaintext: "database-password-123"},
		{name: "unicode", plaintext: "pässwörd-日本語"},
		{name: "long value", plaintext: strings.Repeat("x", 4096)},
		{name: "json blob", plaintext: `{"client_id":"abc","client_secret":"def"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ciphertext, err := r.Encrypt(tt.plaintext)
			if err != nil {
				t.Fatalf("Encrypt() unexpected error = %v", err)
			}
			if ciphertext == tt.plaintext {
				t.Error("Encrypt() returned plaintext unchanged")
			}
			if _, err := base64.StdEncoding.DecodeString(ciphertext); err != nil {
				t.Errorf("Encrypt() output is not valid base64: %v", err)
			}

			plain, err := r.Resolve(ciphertext)
			if err != nil {
				t.Fatalf("Resolve() unexpected error = %v", err)
			}
			if plain != tt.plaintext {
				t.Errorf("Resolve() = %q, want %q", plain, tt.plaintext)
			}
		})
	}
}

func TestResolver_EncryptEmptyString(t *testing.T) {
	r := newTestResolver(t)

	ciphertext, err := r.Encrypt("")
	if err != nil {
		t.Fatalf("Encrypt() unexpected error = %v", err)
	}
	if ciphertext != "" {
		t.Errorf("Encrypt(\"\") = %q, want empty string", ciphertext)
	}
}

func TestResolver_NonceUniqueness(t *testing.T) {
	r := newTestResolver(t)

	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		ciphertext, err := r.Encrypt("same-plaintext")
		if err != nil {
			t.Fatalf("Encrypt() unexpected error = %v", err)
		}
		if seen[ciphertext] {
			t.Fatal("Encrypt() produced a duplicate ciphertext, nonce reuse suspected")
		}
		seen[ciphertext] = true
	}
}

func TestResolver_ResolveEnvRef(t *testing.T) {
	r := newTestResolver(t)

	t.Setenv("API_TOKEN", "abc123")

	plain, err := r.Resolve("env://API_TOKEN")
	if err != nil {
		t.Fatalf("Resolve() unexpected error = %v", err)
	}
	if plain != "abc123" {
		t.Errorf("Resolve() = %q, want %q", plain, "abc123")
	}
}

func TestResolver_ResolveEnvRefUnset(t *testing.T) {
	r := newTestResolver(t)

	_, err := r.Resolve("env://DEFINITELY_NOT_SET_ANYWHERE")
	if err == nil {
		t.Fatal("Resolve() expected error for unset environment variable")
	}
	if !errors.IsType(err, errors.ErrTypeSecretNotFound) {
		t.Errorf("Resolve() error type = %v, want secret_not_found", errors.GetType(err))
	}
}

func TestResolver_DecryptFailures(t *testing.T) {
	r := newTestResolver(t)

	genuine, err := r.Encrypt("secret")
	if err != nil {
		t.Fatalf("Encrypt() unexpected error = %v", err)
	}

	// Flip one byte of the sealed data to break the GCM tag.
	raw, _ := base64.StdEncoding.DecodeString(genuine)
	raw[len(raw)-1] ^= 0xff
	tampered := base64.StdEncoding.EncodeToString(raw)

	other, err := NewResolver("a-completely-different-key!!!!!!")
	if err != nil {
		t.Fatalf("NewResolver() unexpected error = %v", err)
	}

	tests := []struct {
		name       string
		resolver   *Resolver
		ciphertext string
	}{
		{name: "not base64", resolver: r, ciphertext: "!!not-base64!!"},
		{name: "shorter than nonce", resolver: r, ciphertext: base64.StdEncoding.EncodeToString([]byte("tiny"))},
		{name: "tampered ciphertext", resolver: r, ciphertext: tampered},
		{name: "wrong key", resolver: other, ciphertext: genuine},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.resolver.Resolve(tt.ciphertext)
			if err == nil {
				t.Fatal("Resolve() expected error but got none")
			}
			if !errors.IsType(err, errors.ErrTypeSecretDecrypt) {
				t.Errorf("Resolve() error type = %v, want secret_decrypt", errors.GetType(err))
			}
		})
	}
}

func TestIsEnvRef(t *testing.T) {
	if !IsEnvRef("env://TOKEN") {
		t.Error("IsEnvRef(env://TOKEN) = false, want true")
	}
	if IsEnvRef("c29tZS1jaXBoZXJ0ZXh0") {
		t.Error("IsEnvRef(ciphertext) = true, want false")
	}
}
