package recommend

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mihaimyh/gokeypool/pkg/keypool"
)

const (
	// DefaultCacheTTL keeps a generated recommendation until the next nightly batch
	DefaultCacheTTL = 24 * time.Hour

	// DefaultCacheKeyPrefix is prepended to the user id to form the cache key
	DefaultCacheKeyPrefix = "recommendations:user:"
)

// CacheStore is the subset of keypool.CounterStore the cache needs
type CacheStore interface {
	GetString(ctx context.Context, key string) (string, bool, error)
	SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error
}

// CachedRecommendation is a recommendation together with its generation time
type CachedRecommendation struct {
	Summary     *string   `json:"summary"`
	Tips        []string  `json:"tips"`
	GeneratedAt time.Time `json:"generated_at"`
}

// CacheConfig holds recommendation cache configuration
type CacheConfig struct {
	// TTL of a cached recommendation (default: 24h)
	TTL time.Duration

	// KeyPrefix for cache keys (default: "recommendations:user:")
	KeyPrefix string

	// Logger is used for structured logging (default: NoopLogger)
	Logger keypool.Logger

	// Now returns the generation timestamp (default: time.Now)
	Now func() time.Time
}

// Cache stores the latest recommendation per user
type Cache struct {
	store  CacheStore
	config CacheConfig
	logger keypool.Logger
}

// NewCache creates a recommendation cache over store
func NewCache(store CacheStore, config CacheConfig) *Cache {
	if config.TTL <= 0 {
		config.TTL = DefaultCacheTTL
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultCacheKeyPrefix
	}
	if config.Logger == nil {
		config.Logger = &keypool.NoopLogger{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Cache{store: store, config: config, logger: config.Logger}
}

// Get returns the cached recommendation for userID, or nil when there is none.
// An unreadable entry is reported as a miss.
func (c *Cache) Get(ctx context.Context, userID int64) (*CachedRecommendation, error) {
	key := c.key(userID)
	raw, found, err := c.store.GetString(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("failed to read cached recommendation: %w", err)
	}
	if !found {
		c.logger.Debug("Cache miss", keypool.Field{Key: "key", Value: key})
		return nil, nil
	}

	var cached CachedRecommendation
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		c.logger.Warn("Discarding unreadable cached recommendation",
			keypool.Field{Key: "key", Value: key},
			keypool.Field{Key: "error", Value: err.Error()},
		)
		return nil, nil
	}
	if cached.Tips == nil {
		cached.Tips = []string{}
	}

	c.logger.Debug("Cache hit", keypool.Field{Key: "key", Value: key})
	return &cached, nil
}

// Put stores rec for userID stamped with the current time
func (c *Cache) Put(ctx context.Context, userID int64, rec *Recommendation) (*CachedRecommendation, error) {
	if rec == nil {
		rec = emptyRecommendation()
	}
	tips := rec.Tips
	if tips == nil {
		tips = []string{}
	}

	cached := &CachedRecommendation{
		Summary:     rec.Summary,
		Tips:        tips,
		GeneratedAt: c.config.Now().UTC(),
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return nil, fmt.Errorf("failed to encode recommendation: %w", err)
	}
	if err := c.store.SetWithExpiry(ctx, c.key(userID), string(data), c.config.TTL); err != nil {
		return nil, fmt.Errorf("failed to cache recommendation: %w", err)
	}
	return cached, nil
}

func (c *Cache) key(userID int64) string {
	return fmt.Sprintf("%s%d", c.config.KeyPrefix, userID)
}
