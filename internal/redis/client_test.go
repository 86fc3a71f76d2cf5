package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client, err := NewClient(&Config{
		Address:  mr.Addr(),
		PoolSize: 10,
	})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	return client, mr
}

func TestNewClient(t *testing.T) {
	t.Run("successful connection", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()

		client, err := NewClient(&Config{Address: mr.Addr()})
		assert.NoError(t, err)
		assert.NotNil(t, client)
		assert.NoError(t, client.Close())
	})

	t.Run("nil config", func(t *testing.T) {
		client, err := NewClient(nil)
		assert.Error(t, err)
		assert.Nil(t, client)
	})

	t.Run("connection failure", func(t *testing.T) {
		client, err := NewClient(&Config{Address: "invalid:99999"})
		assert.Error(t, err)
		assert.Nil(t, client)
		assert.Contains(t, err.Error(), "failed to connect to Redis")
	})

	t.Run("default pool size", func(t *testing.T) {
		mr, err := miniredis.Run()
		require.NoError(t, err)
		defer mr.Close()

		config := &Config{Address: mr.Addr()}
		client, err := NewClient(config)
		require.NoError(t, err)
		defer client.Close()

		assert.Equal(t, 10, config.PoolSize)
	})
}

func TestClient_Health(t *testing.T) {
	client, mr := setupTestRedis(t)

	assert.NoError(t, client.Health())

	mr.Close()
	assert.Error(t, client.Health())
}

func TestClient_Locks(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	t.Run("acquire and release", func(t *testing.T) {
		acquired, err := client.AcquireLock(ctx, "token-refresh:cfg-1", 30*time.Second)
		require.NoError(t, err)
		assert.True(t, acquired)

		// Second acquisition of the same key fails.
		acquired, err = client.AcquireLock(ctx, "token-refresh:cfg-1", 30*time.Second)
		require.NoError(t, err)
		assert.False(t, acquired)

		require.NoError(t, client.ReleaseLock(ctx, "token-refresh:cfg-1"))

		acquired, err = client.AcquireLock(ctx, "token-refresh:cfg-1", 30*time.Second)
		require.NoError(t, err)
		assert.True(t, acquired)
	})

	t.Run("extend existing lock", func(t *testing.T) {
		_, err := client.AcquireLock(ctx, "extend-me", time.Second)
		require.NoError(t, err)

		assert.NoError(t, client.ExtendLock(ctx, "extend-me", time.Minute))
	})

	t.Run("extend missing lock", func(t *testing.T) {
		err := client.ExtendLock(ctx, "never-acquired", time.Minute)
		assert.Error(t, err)
	})

	t.Run("lock expires", func(t *testing.T) {
		acquired, err := client.AcquireLock(ctx, "short-lived", time.Second)
		require.NoError(t, err)
		assert.True(t, acquired)

		mr.FastForward(2 * time.Second)

		acquired, err = client.AcquireLock(ctx, "short-lived", time.Second)
		require.NoError(t, err)
		assert.True(t, acquired)
	})
}

func TestClient_KeyValue(t *testing.T) {
	client, mr := setupTestRedis(t)
	ctx := context.Background()

	t.Run("set and get string", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "k", "v", 0))

		value, err := client.Get(ctx, "k")
		require.NoError(t, err)
		assert.Equal(t, "v", value)
	})

	t.Run("json round trip", func(t *testing.T) {
		type token struct {
			AccessToken string    `json:"access_token"`
			ExpiresAt   time.Time `json:"expires_at"`
		}
		in := token{AccessToken: "tok", ExpiresAt: time.Now().UTC().Truncate(time.Second)}

		require.NoError(t, client.Set(ctx, "token:cfg-1", in, time.Minute))

		var out token
		require.NoError(t, client.GetJSON(ctx, "token:cfg-1", &out))
		assert.Equal(t, in, out)
	})

	t.Run("missing key returns Nil", func(t *testing.T) {
		_, err := client.Get(ctx, "missing")
		assert.ErrorIs(t, err, Nil)
	})

	t.Run("delete and exists", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "doomed", "x", 0))

		exists, err := client.Exists(ctx, "doomed")
		require.NoError(t, err)
		assert.True(t, exists)

		require.NoError(t, client.Delete(ctx, "doomed"))

		exists, err = client.Exists(ctx, "doomed")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("expiration honored", func(t *testing.T) {
		require.NoError(t, client.Set(ctx, "ttl", "x", time.Second))
		mr.FastForward(2 * time.Second)

		_, err := client.Get(ctx, "ttl")
		assert.ErrorIs(t, err, Nil)
	})
}
