package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"webhook-delivery/internal/circuitbreaker"
	"webhook-delivery/internal/common/errors"
	"webhook-delivery/internal/common/logging"
	"webhook-delivery/internal/locks"
	"webhook-delivery/internal/secrets"
)

// DefaultRefreshThreshold is how long before expiry a token is refreshed
// when the config does not set its own threshold. It must exceed the
// expected token-endpoint round trip so refreshes never race the deadline.
const DefaultRefreshThreshold = 300 * time.Second

// Cache serves valid access tokens for OAuth2 authentication configs.
//
// Per config the cache guarantees at most one in-flight token-endpoint
// request: in-process via singleflight, and across instances via an optional
// distributed refresh lock. All reads and writes of a config's entry go
// through the storage backend.
type Cache struct {
	storage          TokenStorage
	resolver         *secrets.Resolver
	httpClient       *http.Client
	breaker          *circuitbreaker.Breaker
	lockManager      locks.LockManager
	group            singleflight.Group
	defaultThreshold time.Duration
	logger           logging.Logger
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithHTTPClient overrides the HTTP client used for token requests.
func WithHTTPClient(client *http.Client) CacheOption {
	return func(c *Cache) { c.httpClient = client }
}

// WithLockManager enables cross-instance refresh serialization.
func WithLockManager(manager locks.LockManager) CacheOption {
	return func(c *Cache) { c.lockManager = manager }
}

// WithRefreshThreshold overrides the default refresh threshold.
func WithRefreshThreshold(threshold time.Duration) CacheOption {
	return func(c *Cache) { c.defaultThreshold = threshold }
}

// NewCache creates a token cache. storage and resolver are required.
func NewCache(storage TokenStorage, resolver *secrets.Resolver, logger logging.Logger, opts ...CacheOption) (*Cache, error) {
	if storage == nil {
		return nil, errors.ConfigError("token storage is required")
	}
	if resolver == nil {
		return nil, errors.ConfigError("secret resolver is required")
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}

	c := &Cache{
		storage:          storage,
		resolver:         resolver,
		httpClient:       &http.Client{Timeout: 30 * time.Second},
		breaker:          circuitbreaker.New("oauth2-token-endpoint", circuitbreaker.OAuthConfig, logger),
		defaultThreshold: DefaultRefreshThreshold,
		logger:           logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetValidToken returns a token valid for at least the config's refresh
// threshold, refreshing through the token endpoint when needed. Concurrent
// callers for the same config share one refresh.
func (c *Cache) GetValidToken(ctx context.Context, config *Config) (*Token, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	threshold := config.RefreshThreshold
	if threshold == 0 {
		threshold = c.defaultThreshold
	}

	now := time.Now()
	token, err := c.storage.LoadToken(ctx, config.ID)
	if err != nil {
		c.logger.Warn("Failed to load cached token",
			logging.String("config_id", config.ID),
			logging.Err(err),
		)
	}
	if token != nil && !token.NeedsRefresh(now, threshold) {
		return token, nil
	}

	result, err, _ := c.group.Do(config.ID, func() (interface{}, error) {
		return c.refresh(ctx, config, threshold)
	})
	if err != nil {
		return nil, err
	}
	return result.(*Token), nil
}

// Invalidate drops the cached entry for a config. Called when the owning
// authentication config is deleted or deactivated.
func (c *Cache) Invalidate(ctx context.Context, configID string) error {
	c.group.Forget(configID)
	return c.storage.DeleteToken(ctx, configID)
}

// refresh performs the token-endpoint round trip for one config. Only one
// goroutine per config runs here at a time.
func (c *Cache) refresh(ctx context.Context, config *Config, threshold time.Duration) (*Token, error) {
	// Another caller may have finished a refresh between our staleness
	// check and winning the flight.
	now := time.Now()
	if token, err := c.storage.LoadToken(ctx, config.ID); err == nil && token != nil && !token.NeedsRefresh(now, threshold) {
		return token, nil
	}

	if c.lockManager != nil {
		lock, err := c.lockManager.AcquireTokenRefreshLock(ctx, config.ID)
		if err != nil {
			// Another instance holds the refresh; wait for its result.
			return c.awaitRemoteRefresh(ctx, config, threshold)
		}
		defer lock.Release(ctx)
	}

	token, err := c.requestToken(ctx, config)
	if err != nil {
		return c.handleRefreshFailure(ctx, config, err)
	}

	if saveErr := c.storage.SaveToken(ctx, config.ID, token); saveErr != nil {
		c.logger.Warn("Failed to persist refreshed token",
			logging.String("config_id", config.ID),
			logging.Err(saveErr),
		)
	}

	c.logger.Debug("Token refreshed",
		logging.String("config_id", config.ID),
		logging.Time("expires_at", token.ExpiresAt),
	)
	return token, nil
}

// awaitRemoteRefresh polls storage while another instance refreshes the
// config's token.
func (c *Cache) awaitRemoteRefresh(ctx context.Context, config *Config, threshold time.Duration) (*Token, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, errors.TimeoutError("token refresh wait")
		case <-ticker.C:
		}

		now := time.Now()
		token, err := c.storage.LoadToken(ctx, config.ID)
		if err == nil && token != nil && !token.NeedsRefresh(now, threshold) {
			return token, nil
		}
	}

	return nil, errors.AuthError("timed out waiting for remote token refresh", nil)
}

// handleRefreshFailure applies the soft/hard failure policy: a credential
// rejection evicts the cached entry and fails the caller; anything else
// keeps serving the stale token while it is still unexpired.
func (c *Cache) handleRefreshFailure(ctx context.Context, config *Config, refreshErr error) (*Token, error) {
	if errors.IsType(refreshErr, errors.ErrTypeAuthRejected) {
		if err := c.storage.DeleteToken(ctx, config.ID); err != nil {
			c.logger.Warn("Failed to evict rejected token",
				logging.String("config_id", config.ID),
				logging.Err(err),
			)
		}
		c.logger.Error("Token endpoint rejected credentials", refreshErr,
			logging.String("config_id", config.ID),
		)
		return nil, refreshErr
	}

	now := time.Now()
	if stale, err := c.storage.LoadToken(ctx, config.ID); err == nil && stale != nil && !stale.Expired(now) {
		c.logger.Warn("Token refresh failed, serving unexpired stale token",
			logging.String("config_id", config.ID),
			logging.Time("expires_at", stale.ExpiresAt),
			logging.NamedError("refresh_error", refreshErr),
		)
		return stale, nil
	}

	return nil, refreshErr
}

// requestToken performs the client-credentials grant against the config's
// token endpoint.
func (c *Cache) requestToken(ctx context.Context, config *Config) (*Token, error) {
	clientSecret, err := c.resolver.Resolve(config.ClientSecret)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("grant_type", "client_credentials")
	form.Set("client_id", config.ClientID)
	form.Set("client_secret", clientSecret)
	if len(config.Scopes) > 0 {
		form.Set("scope", strings.Join(config.Scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, errors.InternalError("failed to build token request", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	var resp *http.Response
	err = c.breaker.Execute(ctx, func() error {
		var httpErr error
		resp, httpErr = c.httpClient.Do(req)
		if httpErr != nil {
			return errors.ConnectionError("token endpoint unreachable", httpErr)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error       string `json:"error"`
			Description string `json:"error_description"`
		}
		json.NewDecoder(resp.Body).Decode(&errResp)

		if resp.StatusCode == http.StatusUnauthorized || errResp.Error == "invalid_grant" || errResp.Error == "invalid_client" {
			return nil, errors.AuthRejectedError(fmt.Sprintf("token endpoint rejected credentials: %s", errResp.Error))
		}
		return nil, errors.AuthError(fmt.Sprintf("token request failed with status %d", resp.StatusCode), nil)
	}

	var tokenResp TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokenResp); err != nil {
		return nil, errors.AuthError("failed to decode token response", err)
	}
	if tokenResp.AccessToken == "" {
		return nil, errors.AuthError("token response carried no access token", nil)
	}

	var expiresAt time.Time
	if tokenResp.ExpiresIn > 0 {
		expiresAt = time.Now().Add(time.Duration(tokenResp.ExpiresIn) * time.Second)
	}

	var scopes []string
	if tokenResp.Scope != "" {
		scopes = strings.Fields(tokenResp.Scope)
	}

	return &Token{
		AccessToken:  tokenResp.AccessToken,
		TokenType:    tokenResp.TokenType,
		RefreshToken: tokenResp.RefreshToken,
		ExpiresAt:    expiresAt,
		Scopes:       scopes,
	}, nil
}
