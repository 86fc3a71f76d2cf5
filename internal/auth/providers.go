package auth

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"net/http"

	"webhook-delivery/internal/common/errors"
	"webhook-delivery/internal/oauth2"
	"webhook-delivery/internal/secrets"
)

// Provider decorates an outbound request with one authentication scheme.
//
// Decorate mutates headers and query parameters in place before the request
// is sent. TLSClientConfig returns a client TLS identity for schemes that
// authenticate at the connection layer; it returns (nil, nil) for the rest.
type Provider interface {
	Type() Type
	Decorate(ctx context.Context, req *http.Request) error
	TLSClientConfig(ctx context.Context) (*tls.Config, error)
}

// NewProvider builds the Provider for a validated config.
func NewProvider(cfg *Config, resolver *secrets.Resolver, tokenCache *oauth2.Cache) (Provider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Type {
	case TypeOAuth2:
		return &oauth2Provider{config: cfg.OAuth2, cache: tokenCache}, nil
	case TypeBearer:
		return &bearerProvider{config: cfg.Bearer, resolver: resolver}, nil
	case TypeBasic:
		return &basicProvider{config: cfg.Basic, resolver: resolver}, nil
	case TypeCertificate:
		return &certificateProvider{config: cfg.Certificate, resolver: resolver}, nil
	case TypeCustom:
		return &customProvider{config: cfg.Custom}, nil
	default:
		return nil, errors.ConfigError("unsupported authentication type: " + string(cfg.Type))
	}
}

// NoneProvider is the effective provider when neither the subscription nor
// its application carries an active config. It leaves the request untouched.
type NoneProvider struct{}

func (NoneProvider) Type() Type { return "" }

func (NoneProvider) Decorate(ctx context.Context, req *http.Request) error { return nil }

func (NoneProvider) TLSClientConfig(ctx context.Context) (*tls.Config, error) { return nil, nil }

// bearerProvider sets "<prefix> <token>" on the configured header.
type bearerProvider struct {
	config   *BearerConfig
	resolver *secrets.Resolver
}

func (p *bearerProvider) Type() Type { return TypeBearer }

func (p *bearerProvider) Decorate(ctx context.Context, req *http.Request) error {
	token, err := p.resolver.Resolve(p.config.Token)
	if err != nil {
		return err
	}

	value := token
	if prefix := p.config.PrefixOrDefault(); prefix != "" {
		value = prefix + " " + token
	}
	req.Header.Set(p.config.HeaderNameOrDefault(), value)
	return nil
}

func (p *bearerProvider) TLSClientConfig(ctx context.Context) (*tls.Config, error) {
	return nil, nil
}

// basicProvider sets Authorization: Basic base64(user:pass).
type basicProvider struct {
	config   *BasicConfig
	resolver *secrets.Resolver
}

func (p *basicProvider) Type() Type { return TypeBasic }

func (p *basicProvider) Decorate(ctx context.Context, req *http.Request) error {
	username, err := p.resolver.Resolve(p.config.Username)
	if err != nil {
		return err
	}
	password, err := p.resolver.Resolve(p.config.Password)
	if err != nil {
		return err
	}

	credentials := base64.StdEncoding.EncodeToString([]byte(username + ":" + password))
	req.Header.Set("Authorization", "Basic "+credentials)
	return nil
}

func (p *basicProvider) TLSClientConfig(ctx context.Context) (*tls.Config, error) {
	return nil, nil
}

// oauth2Provider decorates with a cached or freshly refreshed access token.
type oauth2Provider struct {
	config *oauth2.Config
	cache  *oauth2.Cache
}

func (p *oauth2Provider) Type() Type { return TypeOAuth2 }

func (p *oauth2Provider) Decorate(ctx context.Context, req *http.Request) error {
	token, err := p.cache.GetValidToken(ctx, p.config)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", token.AuthorizationValue())
	return nil
}

func (p *oauth2Provider) TLSClientConfig(ctx context.Context) (*tls.Config, error) {
	return nil, nil
}

// certificateProvider authenticates with a mutual-TLS client identity
// instead of a header.
type certificateProvider struct {
	config   *CertificateConfig
	resolver *secrets.Resolver
}

func (p *certificateProvider) Type() Type { return TypeCertificate }

func (p *certificateProvider) Decorate(ctx context.Context, req *http.Request) error {
	return nil
}

func (p *certificateProvider) TLSClientConfig(ctx context.Context) (*tls.Config, error) {
	certPEM, err := p.resolver.Resolve(p.config.ClientCert)
	if err != nil {
		return nil, err
	}
	keyPEM, err := p.resolver.Resolve(p.config.ClientKey)
	if err != nil {
		return nil, err
	}

	certificate, err := tls.X509KeyPair([]byte(certPEM), []byte(keyPEM))
	if err != nil {
		return nil, errors.AuthError("invalid client certificate or key", err)
	}

	tlsConfig := &tls.Config{
		Certificates:       []tls.Certificate{certificate},
		InsecureSkipVerify: !p.config.VerifyHostname,
	}

	if p.config.CACert != "" {
		caPEM, err := p.resolver.Resolve(p.config.CACert)
		if err != nil {
			return nil, err
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(caPEM)) {
			return nil, errors.AuthError("ca_cert contains no usable certificates", nil)
		}
		tlsConfig.RootCAs = pool
	}

	return tlsConfig, nil
}

// customProvider injects literal headers and query params.
type customProvider struct {
	config *CustomConfig
}

func (p *customProvider) Type() Type { return TypeCustom }

func (p *customProvider) Decorate(ctx context.Context, req *http.Request) error {
	for name, value := range p.config.Headers {
		req.Header.Set(name, value)
	}

	if len(p.config.QueryParams) > 0 {
		query := req.URL.Query()
		for name, value := range p.config.QueryParams {
			query.Set(name, value)
		}
		req.URL.RawQuery = query.Encode()
	}
	return nil
}

func (p *customProvider) TLSClientConfig(ctx context.Context) (*tls.Config, error) {
	return nil, nil
}
