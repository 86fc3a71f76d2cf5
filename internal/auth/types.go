// Package auth models endpoint authentication configs and turns them into
// concrete request decorations for outbound deliveries.
//
// An application carries at most one active default config; a subscription
// may carry one dedicated config that overrides it. Configs are validated at
// write time so a malformed config never reaches the delivery path.
package auth

import (
	"net/url"
	"time"

	"webhook-delivery/internal/common/errors"
	"webhook-delivery/internal/oauth2"
)

// Type identifies an authentication scheme.
type Type string

const (
	TypeOAuth2      Type = "oauth2"
	TypeBearer      Type = "bearer"
	TypeBasic       Type = "basic"
	TypeCertificate Type = "certificate"
	TypeCustom      Type = "custom"
)

// Valid reports whether the type is one of the supported schemes.
func (t Type) Valid() bool {
	switch t {
	case TypeOAuth2, TypeBearer, TypeBasic, TypeCertificate, TypeCustom:
		return true
	}
	return false
}

// Config is one stored authentication configuration. Exactly one of the
// type-specific fields is set, matching Type. Secret-bearing fields hold
// secret values (env references or ciphertext), never plaintext.
type Config struct {
	ID             string `json:"id"`
	ApplicationID  string `json:"application_id"`
	SubscriptionID string `json:"subscription_id,omitempty"`

	Type        Type               `json:"type"`
	OAuth2      *oauth2.Config     `json:"oauth2,omitempty"`
	Bearer      *BearerConfig      `json:"bearer,omitempty"`
	Basic       *BasicConfig       `json:"basic,omitempty"`
	Certificate *CertificateConfig `json:"certificate,omitempty"`
	Custom      *CustomConfig      `json:"custom,omitempty"`

	IsActive  bool      `json:"is_active"`
	CreatedBy string    `json:"created_by,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BearerConfig sets a static token header. Prefix defaults to "Bearer"; a
// non-nil empty Prefix sends the bare token.
type BearerConfig struct {
	Token      string  `json:"token"`
	HeaderName string  `json:"header_name,omitempty"`
	Prefix     *string `json:"prefix,omitempty"`
}

// HeaderNameOrDefault returns the configured header name or Authorization.
func (b *BearerConfig) HeaderNameOrDefault() string {
	if b.HeaderName != "" {
		return b.HeaderName
	}
	return "Authorization"
}

// PrefixOrDefault returns the configured prefix or "Bearer".
func (b *BearerConfig) PrefixOrDefault() string {
	if b.Prefix == nil {
		return "Bearer"
	}
	return *b.Prefix
}

// BasicConfig carries HTTP basic-auth credentials as secret values.
type BasicConfig struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// CertificateConfig attaches a mutual-TLS client identity. Cert, Key, and
// the optional CA are PEM blobs stored as secret values.
type CertificateConfig struct {
	ClientCert     string `json:"client_cert"`
	ClientKey      string `json:"client_key"`
	CACert         string `json:"ca_cert,omitempty"`
	VerifyHostname bool   `json:"verify_hostname"`
}

// CustomConfig injects literal headers and query parameters. Values are
// used as configured; no secret resolution happens.
type CustomConfig struct {
	Headers     map[string]string `json:"headers,omitempty"`
	QueryParams map[string]string `json:"query_params,omitempty"`
}

// Validate checks the config for its declared type. Incomplete or malformed
// configs are rejected here, at write time, with a config error.
func (c *Config) Validate() error {
	if c.ID == "" {
		return errors.ConfigError("authentication config id is required")
	}
	if c.ApplicationID == "" {
		return errors.ConfigError("application_id is required")
	}
	if !c.Type.Valid() {
		return errors.ConfigError("unsupported authentication type: " + string(c.Type))
	}

	switch c.Type {
	case TypeOAuth2:
		if c.OAuth2 == nil {
			return errors.ConfigError("oauth2 config is required for type oauth2")
		}
		if c.OAuth2.ID == "" {
			c.OAuth2.ID = c.ID
		}
		if err := c.OAuth2.Validate(); err != nil {
			return errors.ConfigError("invalid oauth2 config: " + err.Error())
		}
		if _, err := url.ParseRequestURI(c.OAuth2.TokenURL); err != nil {
			return errors.ConfigError("token_url is not a valid URL")
		}

	case TypeBearer:
		if c.Bearer == nil || c.Bearer.Token == "" {
			return errors.ConfigError("token is required for type bearer")
		}

	case TypeBasic:
		if c.Basic == nil || c.Basic.Username == "" {
			return errors.ConfigError("username is required for type basic")
		}
		if c.Basic.Password == "" {
			return errors.ConfigError("password is required for type basic")
		}

	case TypeCertificate:
		if c.Certificate == nil || c.Certificate.ClientCert == "" {
			return errors.ConfigError("client_cert is required for type certificate")
		}
		if c.Certificate.ClientKey == "" {
			return errors.ConfigError("client_key is required for type certificate")
		}

	case TypeCustom:
		if c.Custom == nil || (len(c.Custom.Headers) == 0 && len(c.Custom.QueryParams) == 0) {
			return errors.ConfigError("custom config must set at least one header or query param")
		}
	}

	return nil
}
