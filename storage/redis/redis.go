// Package redis provides a Redis implementation of the keypool.CounterStore interface.
// Every method maps to a single Redis command, so each call is atomic on its own.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Storage implements keypool.CounterStore using Redis
type Storage struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis storage configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: none).
	// Use it to namespace several deployments sharing one database.
	KeyPrefix string
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{}
}

// New creates a new Redis storage adapter
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}

	return &Storage{
		client: client,
		config: config,
	}, nil
}

// GetInt implements keypool.CounterStore. Non-integer values read as absent.
func (s *Storage) GetInt(ctx context.Context, key string) (int, bool, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get %s: %w", key, err)
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false, nil
	}
	return v, true, nil
}

// IncrBy implements keypool.CounterStore
func (s *Storage) IncrBy(ctx context.Context, key string, by int) (int, error) {
	v, err := s.client.IncrBy(ctx, s.key(key), int64(by)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", key, err)
	}
	return int(v), nil
}

// TTL implements keypool.CounterStore.
// Redis reports -1 for keys without expiry and -2 for missing keys; both stay negative.
func (s *Storage) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, s.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to get ttl of %s: %w", key, err)
	}
	return ttl, nil
}

// Expire implements keypool.CounterStore
func (s *Storage) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := s.client.Expire(ctx, s.key(key), ttl).Err(); err != nil {
		return fmt.Errorf("failed to expire %s: %w", key, err)
	}
	return nil
}

// SetString implements keypool.CounterStore
func (s *Storage) SetString(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, s.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// SetWithExpiry implements keypool.CounterStore
func (s *Storage) SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// GetString implements keypool.CounterStore
func (s *Storage) GetString(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, s.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return v, true, nil
}

// Delete implements keypool.CounterStore
func (s *Storage) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// ListPushFront implements keypool.CounterStore
func (s *Storage) ListPushFront(ctx context.Context, key, value string) error {
	if err := s.client.LPush(ctx, s.key(key), value).Err(); err != nil {
		return fmt.Errorf("failed to push to %s: %w", key, err)
	}
	return nil
}

// ListTrim implements keypool.CounterStore
func (s *Storage) ListTrim(ctx context.Context, key string, start, stop int) error {
	if err := s.client.LTrim(ctx, s.key(key), int64(start), int64(stop)).Err(); err != nil {
		return fmt.Errorf("failed to trim %s: %w", key, err)
	}
	return nil
}

// ListRange implements keypool.CounterStore
func (s *Storage) ListRange(ctx context.Context, key string, start, stop int) ([]string, error) {
	values, err := s.client.LRange(ctx, s.key(key), int64(start), int64(stop)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return values, nil
}

// Close closes the Redis connection
func (s *Storage) Close() error {
	return s.client.Close()
}

// Ping checks Redis connectivity
func (s *Storage) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Storage) key(key string) string {
	return s.config.KeyPrefix + key
}
