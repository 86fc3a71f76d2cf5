package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webhook-delivery/internal/common/errors"
	"webhook-delivery/internal/common/logging"
)

// fakeConfigStore serves configs from maps keyed by owner id.
type fakeConfigStore struct {
	bySubscription map[string]*Config
	byApplication  map[string]*Config
	err            error
}

func (f *fakeConfigStore) GetActiveSubscriptionConfig(ctx context.Context, subscriptionID string) (*Config, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.bySubscription[subscriptionID], nil
}

func (f *fakeConfigStore) GetActiveApplicationConfig(ctx context.Context, applicationID string) (*Config, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.byApplication[applicationID], nil
}

func bearerConfig(id, appID, subID, envVar string) *Config {
	return &Config{
		ID:             id,
		ApplicationID:  appID,
		SubscriptionID: subID,
		Type:           TypeBearer,
		Bearer:         &BearerConfig{Token: "env://" + envVar},
		IsActive:       true,
	}
}

func TestResolver_Precedence(t *testing.T) {
	store := &fakeConfigStore{
		bySubscription: map[string]*Config{
			"sub-override": bearerConfig("cfg-sub", "app-1", "sub-override", "SUB_TOKEN"),
		},
		byApplication: map[string]*Config{
			"app-1": bearerConfig("cfg-app", "app-1", "", "APP_TOKEN"),
		},
	}

	resolver, err := NewResolver(store, testSecretResolver(t), nil, logging.GetGlobalLogger())
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("subscription override wins", func(t *testing.T) {
		cfg, err := resolver.EffectiveConfig(ctx, "app-1", "sub-override")
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, "cfg-sub", cfg.ID)
	})

	t.Run("subscription without dedicated config inherits application default", func(t *testing.T) {
		cfg, err := resolver.EffectiveConfig(ctx, "app-1", "sub-plain")
		require.NoError(t, err)
		require.NotNil(t, cfg)
		assert.Equal(t, "cfg-app", cfg.ID)
	})

	t.Run("no config anywhere resolves to none", func(t *testing.T) {
		provider, err := resolver.Resolve(ctx, "app-without-config", "sub-plain")
		require.NoError(t, err)
		assert.IsType(t, NoneProvider{}, provider)
	})

	t.Run("resolved provider decorates", func(t *testing.T) {
		t.Setenv("SUB_TOKEN", "sub-secret")

		provider, err := resolver.Resolve(ctx, "app-1", "sub-override")
		require.NoError(t, err)

		req := newRequest(t)
		require.NoError(t, provider.Decorate(ctx, req))
		assert.Equal(t, "Bearer sub-secret", req.Header.Get("Authorization"))
	})

	t.Run("missing application id", func(t *testing.T) {
		_, err := resolver.Resolve(ctx, "", "")
		require.Error(t, err)
		assert.True(t, errors.IsType(err, errors.ErrTypeValidation))
	})
}

func TestResolver_StoreErrors(t *testing.T) {
	store := &fakeConfigStore{err: errors.ConnectionError("database down", nil)}

	resolver, err := NewResolver(store, testSecretResolver(t), nil, logging.GetGlobalLogger())
	require.NoError(t, err)

	_, err = resolver.Resolve(context.Background(), "app-1", "sub-1")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeConnection))
}

// recordingSink collects audit records in memory.
type recordingSink struct {
	records []*AuditRecord
	err     error
}

func (r *recordingSink) SaveAuthAudit(ctx context.Context, record *AuditRecord) error {
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, record)
	return nil
}

func TestAuditor(t *testing.T) {
	ctx := context.Background()

	t.Run("records success", func(t *testing.T) {
		sink := &recordingSink{}
		auditor := NewAuditor(sink, logging.GetGlobalLogger())

		auditor.RecordOutcome(ctx, "sub-1", "att-1", TypeBearer, nil)

		require.Len(t, sink.records, 1)
		record := sink.records[0]
		assert.True(t, record.Success)
		assert.Equal(t, TypeBearer, record.Type)
		assert.Equal(t, "sub-1", record.SubscriptionID)
		assert.Equal(t, "att-1", record.RequestAttemptID)
		assert.Empty(t, record.ErrorMessage)
		assert.False(t, record.CreatedAt.IsZero())
	})

	t.Run("records failure reason", func(t *testing.T) {
		sink := &recordingSink{}
		auditor := NewAuditor(sink, logging.GetGlobalLogger())

		auditor.RecordOutcome(ctx, "sub-1", "att-2", TypeOAuth2,
			errors.AuthRejectedError("invalid_grant"))

		require.Len(t, sink.records, 1)
		assert.False(t, sink.records[0].Success)
		assert.Contains(t, sink.records[0].ErrorMessage, "invalid_grant")
	})

	t.Run("sink failure never propagates", func(t *testing.T) {
		sink := &recordingSink{err: errors.ConnectionError("db down", nil)}
		auditor := NewAuditor(sink, logging.GetGlobalLogger())

		// Must not panic or fail the delivery path.
		auditor.RecordOutcome(ctx, "sub-1", "att-3", TypeBasic, nil)
	})

	t.Run("nil auditor is a no-op", func(t *testing.T) {
		var auditor *Auditor
		auditor.RecordOutcome(ctx, "sub-1", "att-4", TypeBasic, nil)
	})
}
