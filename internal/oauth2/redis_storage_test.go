package oauth2

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webhook-delivery/internal/redis"
)

func setupRedisStorage(t *testing.T) (*RedisTokenStorage, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return NewRedisTokenStorage(client), mr
}

func TestRedisTokenStorage_SaveLoad(t *testing.T) {
	storage, _ := setupRedisStorage(t)
	ctx := context.Background()

	token := &Token{
		AccessToken: "tok",
		TokenType:   "Bearer",
		ExpiresAt:   time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		Scopes:      []string{"read", "write"},
	}

	require.NoError(t, storage.SaveToken(ctx, "cfg-1", token))

	loaded, err := storage.LoadToken(ctx, "cfg-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, token.AccessToken, loaded.AccessToken)
	assert.Equal(t, token.Scopes, loaded.Scopes)
	assert.True(t, token.ExpiresAt.Equal(loaded.ExpiresAt))
}

func TestRedisTokenStorage_LoadMissing(t *testing.T) {
	storage, _ := setupRedisStorage(t)

	loaded, err := storage.LoadToken(context.Background(), "never-saved")
	assert.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestRedisTokenStorage_Delete(t *testing.T) {
	storage, _ := setupRedisStorage(t)
	ctx := context.Background()

	require.NoError(t, storage.SaveToken(ctx, "cfg-1", &Token{AccessToken: "tok"}))
	require.NoError(t, storage.DeleteToken(ctx, "cfg-1"))

	loaded, err := storage.LoadToken(ctx, "cfg-1")
	assert.NoError(t, err)
	assert.Nil(t, loaded)

	// Deleting again is fine.
	assert.NoError(t, storage.DeleteToken(ctx, "cfg-1"))
}

func TestRedisTokenStorage_EntryExpires(t *testing.T) {
	storage, mr := setupRedisStorage(t)
	ctx := context.Background()

	token := &Token{
		AccessToken: "tok",
		ExpiresAt:   time.Now().Add(time.Minute),
	}
	require.NoError(t, storage.SaveToken(ctx, "cfg-ttl", token))

	// TTL is expiry plus an hour of stale-token grace.
	mr.FastForward(2 * time.Hour)

	loaded, err := storage.LoadToken(ctx, "cfg-ttl")
	assert.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestRedisTokenStorage_SharedAcrossClients(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	clientA, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	defer clientA.Close()

	clientB, err := redis.NewClient(&redis.Config{Address: mr.Addr()})
	require.NoError(t, err)
	defer clientB.Close()

	ctx := context.Background()
	require.NoError(t, NewRedisTokenStorage(clientA).SaveToken(ctx, "cfg-shared", &Token{AccessToken: "tok"}))

	loaded, err := NewRedisTokenStorage(clientB).LoadToken(ctx, "cfg-shared")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "tok", loaded.AccessToken)
}
