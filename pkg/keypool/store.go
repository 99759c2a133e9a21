package keypool

import (
	"context"
	"time"
)

// CounterStore defines the durable key-value operations the pool relies on.
// Each method is independently atomic; no multi-key transactions are assumed.
type CounterStore interface {
	// GetInt returns the integer stored under key.
	// found is false when the key is absent or does not hold an integer.
	GetInt(ctx context.Context, key string) (value int, found bool, err error)

	// IncrBy atomically adds by to the integer under key (absent keys start at 0)
	// and returns the new value.
	IncrBy(ctx context.Context, key string, by int) (int, error)

	// TTL returns the remaining lifetime of key.
	// A negative duration means the key has no expiry or does not exist.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Expire sets the lifetime of an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// SetString stores value under key without expiry.
	SetString(ctx context.Context, key, value string) error

	// SetWithExpiry stores value under key with the given lifetime.
	SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error

	// GetString returns the string stored under key, found is false when absent.
	GetString(ctx context.Context, key string) (value string, found bool, err error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// ListPushFront prepends value to the list under key.
	ListPushFront(ctx context.Context, key, value string) error

	// ListTrim keeps only the elements between start and stop (inclusive).
	ListTrim(ctx context.Context, key string, start, stop int) error

	// ListRange returns the elements between start and stop (inclusive, -1 = last).
	ListRange(ctx context.Context, key string, start, stop int) ([]string, error)
}
