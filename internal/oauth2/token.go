// Package oauth2 implements the client-credentials token cache used by the
// OAuth2 authentication provider.
//
// Each authentication config owns at most one live cache entry. Reads are
// served from storage without a network call while the entry is outside its
// refresh threshold; once inside it, exactly one caller per config performs
// the token-endpoint round trip (single-flight) and everyone else waits for
// that result. A transient refresh failure keeps serving the stale token
// until it actually expires; a credential rejection evicts the entry.
package oauth2

import (
	"time"

	"webhook-delivery/internal/common/errors"
)

// TokenResponse maps the token-endpoint response fields from RFC 6749.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// Token is one cached access token. Exactly one Token exists per
// authentication config at any time; refreshes overwrite it in place.
type Token struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// Expired reports whether the token is past its expiry. Tokens with zero
// expiry never expire.
func (t *Token) Expired(now time.Time) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return now.After(t.ExpiresAt)
}

// NeedsRefresh reports whether the token is inside its refresh threshold,
// i.e. now >= expires_at - threshold.
func (t *Token) NeedsRefresh(now time.Time, threshold time.Duration) bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(t.ExpiresAt.Add(-threshold))
}

// AuthorizationValue formats the token for an Authorization header, per
// RFC 6750. The token type defaults to Bearer.
func (t *Token) AuthorizationValue() string {
	tokenType := t.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return tokenType + " " + t.AccessToken
}

// Config is the OAuth2 client-credentials configuration carried by an
// authentication config. ClientSecret is a secret value (env reference or
// ciphertext) resolved at refresh time, never stored decrypted.
type Config struct {
	ID               string        `json:"id"`
	ClientID         string        `json:"client_id"`
	ClientSecret     string        `json:"client_secret"`
	TokenURL         string        `json:"token_url"`
	Scopes           []string      `json:"scopes,omitempty"`
	RefreshThreshold time.Duration `json:"refresh_threshold,omitempty"`
}

// Validate checks the config for completeness. Only the client-credentials
// grant is supported; configs are rejected at write time, not at delivery
// time.
func (c *Config) Validate() error {
	if c.ID == "" {
		return errors.ValidationError("oauth2 config id is required")
	}
	if c.ClientID == "" {
		return errors.ValidationError("client_id is required")
	}
	if c.ClientSecret == "" {
		return errors.ValidationError("client_secret is required")
	}
	if c.TokenURL == "" {
		return errors.ValidationError("token_url is required")
	}
	if c.RefreshThreshold < 0 {
		return errors.ValidationError("refresh_threshold must not be negative")
	}
	return nil
}
