package oauth2

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// RedisInterface is the subset of the Redis client token storage needs.
type RedisInterface interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// RedisTokenStorage stores cache entries in Redis so every engine instance
// sees the same token for a config. Entries carry a TTL derived from the
// token expiry so abandoned configs clean themselves up.
type RedisTokenStorage struct {
	client RedisInterface
	prefix string
	ttl    time.Duration
}

func NewRedisTokenStorage(client RedisInterface) *RedisTokenStorage {
	return &RedisTokenStorage{
		client: client,
		prefix: "oauth2:token:",
		ttl:    24 * time.Hour,
	}
}

func (s *RedisTokenStorage) SaveToken(ctx context.Context, configID string, token *Token) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to serialize token: %w", err)
	}

	// Keep the entry around past expiry so a stale token can still serve
	// soft refresh failures, but not forever.
	ttl := s.ttl
	if !token.ExpiresAt.IsZero() {
		tokenTTL := time.Until(token.ExpiresAt) + time.Hour
		if tokenTTL > 0 && tokenTTL < ttl {
			ttl = tokenTTL
		}
	}

	return s.client.Set(ctx, s.prefix+configID, string(data), ttl)
}

func (s *RedisTokenStorage) LoadToken(ctx context.Context, configID string) (*Token, error) {
	data, err := s.client.Get(ctx, s.prefix+configID)
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, err
	}
	if data == "" {
		return nil, nil
	}

	var token Token
	if err := json.Unmarshal([]byte(data), &token); err != nil {
		return nil, fmt.Errorf("failed to deserialize token: %w", err)
	}
	return &token, nil
}

func (s *RedisTokenStorage) DeleteToken(ctx context.Context, configID string) error {
	return s.client.Delete(ctx, s.prefix+configID)
}

var _ TokenStorage = (*RedisTokenStorage)(nil)
