// Package redis wraps the go-redis client with the operations the delivery
// engine needs: connection management, simple lock primitives, and JSON
// key-value storage for cached OAuth2 tokens.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// Nil is the sentinel returned by Get on a missing key.
const Nil = redis.Nil

type Client struct {
	rdb    *redis.Client
	config *Config
}

type Config struct {
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// NewClient connects to Redis and verifies the connection with a ping.
func NewClient(config *Config) (*Client, error) {
	if config == nil {
		return nil, fmt.Errorf("redis config is required")
	}

	if config.Address == "" {
		config.Address = "localhost:6379"
	}
	if config.PoolSize == 0 {
		config.PoolSize = 10
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.DB,
		PoolSize: config.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Client{
		rdb:    rdb,
		config: config,
	}, nil
}

// NewClientFromRedis wraps an existing go-redis client. Used by tests that
// point the engine at a miniredis instance.
func NewClientFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb, config: &Config{}}
}

func (c *Client) Close() error {
	return c.rdb.Close()
}

func (c *Client) Health() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// GoRedisClient exposes the underlying go-redis client for libraries that
// need it directly, such as the redsync connection pool and the job queue.
func (c *Client) GoRedisClient() *redis.Client {
	return c.rdb
}

// Lock primitives used by the in-process lock manager.

func (c *Client) AcquireLock(ctx context.Context, key string, expiration time.Duration) (bool, error) {
	result, err := c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", key), "locked", expiration).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	return result, nil
}

func (c *Client) ReleaseLock(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, fmt.Sprintf("lock:%s", key)).Err(); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

func (c *Client) ExtendLock(ctx context.Context, key string, expiration time.Duration) error {
	lockKey := fmt.Sprintf("lock:%s", key)
	exists, err := c.rdb.Exists(ctx, lockKey).Result()
	if err != nil {
		return fmt.Errorf("failed to check lock existence: %w", err)
	}
	if exists == 0 {
		return fmt.Errorf("lock does not exist")
	}

	if err := c.rdb.Expire(ctx, lockKey, expiration).Err(); err != nil {
		return fmt.Errorf("failed to extend lock: %w", err)
	}
	return nil
}

// Key-value operations for cached tokens and engine state.

func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	var data []byte
	var err error

	switch v := value.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		data, err = json.Marshal(v)
		if err != nil {
			return fmt.Errorf("failed to marshal value: %w", err)
		}
	}

	return c.rdb.Set(ctx, key, data, expiration).Err()
}

func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return c.rdb.Get(ctx, key).Result()
}

func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), dest)
}

func (c *Client) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	count, err := c.rdb.Exists(ctx, key).Result()
	return count > 0, err
}
