package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webhook-delivery/internal/auth"
	"webhook-delivery/internal/common/errors"
	"webhook-delivery/internal/delivery"
)

// The memory and SQLite backends share one behavioral suite.
func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreSuite(t, func(t *testing.T) Store {
		store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	})
}

func runStoreSuite(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("events", func(t *testing.T) { testEvents(t, newStore(t)) })
	t.Run("subscriptions", func(t *testing.T) { testSubscriptions(t, newStore(t)) })
	t.Run("attempt lifecycle", func(t *testing.T) { testAttemptLifecycle(t, newStore(t)) })
	t.Run("attempt promotion", func(t *testing.T) { testAttemptPromotion(t, newStore(t)) })
	t.Run("due waiting attempts", func(t *testing.T) { testDueWaitingAttempts(t, newStore(t)) })
	t.Run("drain waiting attempts", func(t *testing.T) { testDrainWaitingAttempts(t, newStore(t)) })
	t.Run("auth configs", func(t *testing.T) { testAuthConfigs(t, newStore(t)) })
	t.Run("audit", func(t *testing.T) { testAudit(t, newStore(t)) })
}

func testEvents(t *testing.T, store Store) {
	ctx := context.Background()

	event := &delivery.Event{
		ID:        "evt-1",
		EventType: "user.created",
		Payload:   []byte(`{"user_id":"u-7"}`),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateEvent(ctx, event))

	loaded, err := store.GetEvent(ctx, "evt-1")
	require.NoError(t, err)
	assert.Equal(t, event.EventType, loaded.EventType)
	assert.Equal(t, event.Payload, loaded.Payload)

	_, err = store.GetEvent(ctx, "evt-missing")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func testSubscription(id string) *delivery.Subscription {
	return &delivery.Subscription{
		ID:            id,
		ApplicationID: "app-1",
		TargetURL:     "https://example.com/hook",
		Headers:       map[string]string{"X-Custom": "value"},
		SignedHeaders: []string{"X-Event-Type"},
		SigningSecret: "env://SIGNING_SECRET",
		Enabled:       true,
	}
}

func testSubscriptions(t *testing.T, store Store) {
	ctx := context.Background()

	require.NoError(t, store.CreateSubscription(ctx, testSubscription("sub-1")))
	require.NoError(t, store.CreateSubscription(ctx, testSubscription("sub-2")))

	loaded, err := store.GetSubscription(ctx, "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/hook", loaded.TargetURL)
	assert.Equal(t, "POST", loaded.RequestMethod())
	assert.Equal(t, map[string]string{"X-Custom": "value"}, loaded.Headers)
	assert.Equal(t, []string{"X-Event-Type"}, loaded.SignedHeaders)
	assert.True(t, loaded.Enabled)

	subs, err := store.ListSubscriptions(ctx, "app-1")
	require.NoError(t, err)
	require.Len(t, subs, 2)
	assert.Equal(t, "sub-1", subs[0].ID)

	disabledAt := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, store.DisableSubscription(ctx, "sub-1", disabledAt))
	loaded, err = store.GetSubscription(ctx, "sub-1")
	require.NoError(t, err)
	assert.False(t, loaded.Enabled)
	require.NotNil(t, loaded.DisabledAt)

	require.NoError(t, store.EnableSubscription(ctx, "sub-1"))
	loaded, err = store.GetSubscription(ctx, "sub-1")
	require.NoError(t, err)
	assert.True(t, loaded.Enabled)
	assert.Nil(t, loaded.DisabledAt)

	assert.Error(t, store.EnableSubscription(ctx, "sub-missing"))
}

func testAttempt(id string, number int) *delivery.RequestAttempt {
	return &delivery.RequestAttempt{
		ID:             id,
		EventID:        "evt-1",
		SubscriptionID: "sub-1",
		Status:         delivery.StatusPending,
		AttemptNumber:  number,
		CreatedAt:      time.Now().UTC(),
	}
}

func testAttemptLifecycle(t *testing.T, store Store) {
	ctx := context.Background()

	attempt := testAttempt("att-1", 1)
	require.NoError(t, store.CreateAttempt(ctx, attempt))

	picked := time.Now().UTC().Truncate(time.Second)
	attempt.Status = delivery.StatusInProgress
	attempt.PickedAt = &picked
	require.NoError(t, store.UpdateAttempt(ctx, attempt))

	status := 200
	completed := picked.Add(time.Second)
	attempt.Status = delivery.StatusSuccessful
	attempt.CompletedAt = &completed
	attempt.ResponseStatus = &status
	attempt.ResponseRef = "ok"
	require.NoError(t, store.UpdateAttempt(ctx, attempt))

	loaded, err := store.GetAttempt(ctx, "att-1")
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusSuccessful, loaded.Status)
	require.NotNil(t, loaded.ResponseStatus)
	assert.Equal(t, 200, *loaded.ResponseStatus)
	require.NotNil(t, loaded.PickedAt)
	require.NotNil(t, loaded.CompletedAt)

	latest, err := store.LatestAttempt(ctx, "evt-1", "sub-1")
	require.NoError(t, err)
	assert.Equal(t, "att-1", latest.ID)

	_, err = store.GetAttempt(ctx, "att-missing")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))

	err = store.UpdateAttempt(ctx, testAttempt("att-missing", 1))
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func testAttemptPromotion(t *testing.T, store Store) {
	ctx := context.Background()

	attempt := testAttempt("att-1", 1)
	due := time.Now().UTC().Add(-time.Second)
	attempt.Status = delivery.StatusWaiting
	attempt.FailureReason = delivery.ReasonEndpointError
	attempt.NextAttemptAt = &due
	require.NoError(t, store.CreateAttempt(ctx, attempt))

	successor, err := store.PromoteAttempt(ctx, "att-1")
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusPending, successor.Status)
	assert.Equal(t, 2, successor.AttemptNumber)
	assert.Equal(t, "evt-1", successor.EventID)
	assert.Equal(t, "sub-1", successor.SubscriptionID)
	assert.NotEqual(t, "att-1", successor.ID)

	old, err := store.GetAttempt(ctx, "att-1")
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusFailed, old.Status)
	assert.Equal(t, delivery.ReasonSuperseded, old.FailureReason)
	assert.Nil(t, old.NextAttemptAt)

	latest, err := store.LatestAttempt(ctx, "evt-1", "sub-1")
	require.NoError(t, err)
	assert.Equal(t, successor.ID, latest.ID)

	// Only Waiting attempts promote.
	_, err = store.PromoteAttempt(ctx, successor.ID)
	require.Error(t, err)
	_, err = store.PromoteAttempt(ctx, "att-missing")
	assert.True(t, errors.IsType(err, errors.ErrTypeNotFound))
}

func testDueWaitingAttempts(t *testing.T, store Store) {
	ctx := context.Background()
	now := time.Now().UTC()

	pastDue := now.Add(-time.Minute)
	futureDue := now.Add(time.Hour)

	waiting := testAttempt("att-due", 1)
	waiting.Status = delivery.StatusWaiting
	waiting.NextAttemptAt = &pastDue
	require.NoError(t, store.CreateAttempt(ctx, waiting))

	notYet := testAttempt("att-later", 1)
	notYet.EventID = "evt-2"
	notYet.Status = delivery.StatusWaiting
	notYet.NextAttemptAt = &futureDue
	require.NoError(t, store.CreateAttempt(ctx, notYet))

	pending := testAttempt("att-pending", 1)
	pending.EventID = "evt-3"
	require.NoError(t, store.CreateAttempt(ctx, pending))

	due, err := store.ListDueWaitingAttempts(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "att-due", due[0].ID)
}

func testDrainWaitingAttempts(t *testing.T, store Store) {
	ctx := context.Background()
	due := time.Now().UTC().Add(time.Minute)

	for i, id := range []string{"att-w1", "att-w2"} {
		attempt := testAttempt(id, i+1)
		attempt.EventID = "evt-" + id
		attempt.Status = delivery.StatusWaiting
		attempt.NextAttemptAt = &due
		require.NoError(t, store.CreateAttempt(ctx, attempt))
	}
	other := testAttempt("att-other", 1)
	other.SubscriptionID = "sub-2"
	require.NoError(t, store.CreateAttempt(ctx, other))

	drained, err := store.FailWaitingAttempts(ctx, "sub-1", "subscription auto-disabled")
	require.NoError(t, err)
	assert.Equal(t, 2, drained)

	for _, id := range []string{"att-w1", "att-w2"} {
		attempt, err := store.GetAttempt(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, delivery.StatusFailed, attempt.Status)
		assert.Equal(t, "subscription auto-disabled", attempt.FailureReason)
	}
	untouched, err := store.GetAttempt(ctx, "att-other")
	require.NoError(t, err)
	assert.Equal(t, delivery.StatusPending, untouched.Status)
}

func testAuthConfigs(t *testing.T, store Store) {
	ctx := context.Background()

	appCfg := &auth.Config{
		ApplicationID: "app-1",
		Type:          auth.TypeBearer,
		Bearer:        &auth.BearerConfig{Token: "env://APP_TOKEN"},
	}
	require.NoError(t, store.PutApplicationAuthConfig(ctx, appCfg))
	assert.NotEmpty(t, appCfg.ID)

	loaded, err := store.GetActiveApplicationConfig(ctx, "app-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, auth.TypeBearer, loaded.Type)
	require.NotNil(t, loaded.Bearer)
	assert.Equal(t, "env://APP_TOKEN", loaded.Bearer.Token)

	// Replacing the config keeps exactly one active per scope.
	replacement := &auth.Config{
		ApplicationID: "app-1",
		Type:          auth.TypeBasic,
		Basic:         &auth.BasicConfig{Username: "svc", Password: "env://APP_PASS"},
	}
	require.NoError(t, store.PutApplicationAuthConfig(ctx, replacement))
	loaded, err = store.GetActiveApplicationConfig(ctx, "app-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, auth.TypeBasic, loaded.Type)

	// Subscription overrides live in their own scope.
	subCfg := &auth.Config{
		ApplicationID:  "app-1",
		SubscriptionID: "sub-1",
		Type:           auth.TypeBearer,
		Bearer:         &auth.BearerConfig{Token: "env://SUB_TOKEN"},
	}
	require.NoError(t, store.PutSubscriptionAuthConfig(ctx, subCfg))
	subLoaded, err := store.GetActiveSubscriptionConfig(ctx, "sub-1")
	require.NoError(t, err)
	require.NotNil(t, subLoaded)
	assert.Equal(t, "env://SUB_TOKEN", subLoaded.Bearer.Token)

	appLoaded, err := store.GetActiveApplicationConfig(ctx, "app-1")
	require.NoError(t, err)
	require.NotNil(t, appLoaded, "subscription override must not displace the application default")

	// Deletes deactivate and return the removed config.
	removed, err := store.DeleteSubscriptionAuthConfig(ctx, "sub-1")
	require.NoError(t, err)
	require.NotNil(t, removed)
	gone, err := store.GetActiveSubscriptionConfig(ctx, "sub-1")
	require.NoError(t, err)
	assert.Nil(t, gone)

	again, err := store.DeleteSubscriptionAuthConfig(ctx, "sub-1")
	require.NoError(t, err)
	assert.Nil(t, again, "deleting twice is a no-op")

	// Unknown scopes read as no config, not an error.
	missing, err := store.GetActiveApplicationConfig(ctx, "app-unknown")
	require.NoError(t, err)
	assert.Nil(t, missing)

	// Invalid configs are rejected at write time.
	invalid := &auth.Config{ApplicationID: "app-1", Type: auth.TypeBearer}
	assert.Error(t, store.PutApplicationAuthConfig(ctx, invalid))
}

func testAudit(t *testing.T, store Store) {
	ctx := context.Background()

	old := &auth.AuditRecord{
		SubscriptionID:   "sub-1",
		RequestAttemptID: "att-1",
		Type:             auth.TypeBearer,
		Success:          true,
		CreatedAt:        time.Now().UTC().Add(-48 * time.Hour),
	}
	recent := &auth.AuditRecord{
		SubscriptionID:   "sub-1",
		RequestAttemptID: "att-2",
		Type:             auth.TypeOAuth2,
		Success:          false,
		ErrorMessage:     "token endpoint rejected credentials",
		Metadata:         map[string]string{"status": "401"},
		CreatedAt:        time.Now().UTC(),
	}
	require.NoError(t, store.SaveAuthAudit(ctx, old))
	require.NoError(t, store.SaveAuthAudit(ctx, recent))

	pruned, err := store.PruneAuditRecords(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	pruned, err = store.PruneAuditRecords(ctx, time.Now().UTC().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), pruned)
}
