package auth

import (
	"context"

	"webhook-delivery/internal/common/errors"
	"webhook-delivery/internal/common/logging"
	"webhook-delivery/internal/oauth2"
	"webhook-delivery/internal/secrets"
)

// ConfigStore is the storage surface the resolver reads configs from.
type ConfigStore interface {
	// GetActiveSubscriptionConfig returns the active config dedicated to the
	// subscription, or nil when the subscription has none.
	GetActiveSubscriptionConfig(ctx context.Context, subscriptionID string) (*Config, error)
	// GetActiveApplicationConfig returns the application's active default
	// config (subscription_id unset), or nil when there is none.
	GetActiveApplicationConfig(ctx context.Context, applicationID string) (*Config, error)
}

// Resolver returns the effective authentication provider for a delivery:
// the subscription's dedicated config when present, otherwise the
// application default, otherwise no authentication.
type Resolver struct {
	store      ConfigStore
	secrets    *secrets.Resolver
	tokenCache *oauth2.Cache
	logger     logging.Logger
}

func NewResolver(store ConfigStore, secretResolver *secrets.Resolver, tokenCache *oauth2.Cache, logger logging.Logger) (*Resolver, error) {
	if store == nil {
		return nil, errors.ConfigError("config store is required")
	}
	if secretResolver == nil {
		return nil, errors.ConfigError("secret resolver is required")
	}
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	return &Resolver{
		store:      store,
		secrets:    secretResolver,
		tokenCache: tokenCache,
		logger:     logger,
	}, nil
}

// Resolve returns the effective provider for the application and optional
// subscription. Subscriptions without a dedicated config inherit the
// application default.
func (r *Resolver) Resolve(ctx context.Context, applicationID, subscriptionID string) (Provider, error) {
	cfg, err := r.effectiveConfig(ctx, applicationID, subscriptionID)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return NoneProvider{}, nil
	}
	return NewProvider(cfg, r.secrets, r.tokenCache)
}

// EffectiveConfig exposes the resolved config without building a provider,
// for the operational surface.
func (r *Resolver) EffectiveConfig(ctx context.Context, applicationID, subscriptionID string) (*Config, error) {
	return r.effectiveConfig(ctx, applicationID, subscriptionID)
}

func (r *Resolver) effectiveConfig(ctx context.Context, applicationID, subscriptionID string) (*Config, error) {
	if subscriptionID != "" {
		cfg, err := r.store.GetActiveSubscriptionConfig(ctx, subscriptionID)
		if err != nil {
			return nil, err
		}
		if cfg != nil {
			return cfg, nil
		}
	}

	if applicationID == "" {
		return nil, errors.ValidationError("application id is required")
	}
	return r.store.GetActiveApplicationConfig(ctx, applicationID)
}

// InvalidateTokens drops any cached OAuth2 token owned by the config.
// Called when a config is deleted or deactivated.
func (r *Resolver) InvalidateTokens(ctx context.Context, cfg *Config) error {
	if cfg == nil || cfg.Type != TypeOAuth2 || r.tokenCache == nil {
		return nil
	}

	configID := cfg.ID
	if cfg.OAuth2 != nil && cfg.OAuth2.ID != "" {
		configID = cfg.OAuth2.ID
	}
	return r.tokenCache.Invalidate(ctx, configID)
}
