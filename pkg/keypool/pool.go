// Package keypool shares a fixed set of API keys across concurrent callers.
//
// Rotation state (current index, per-key usage, invalid flags and a rotation log)
// lives in a CounterStore rather than in process memory, so several pool
// instances and restarts observe the same view. Every store access is a narrow,
// independently atomic operation; the pool never takes a lock across callers.
package keypool

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Pool manages a pool of API keys with automatic rotation
type Pool struct {
	store   CounterStore
	keys    []string
	config  Config
	metrics Metrics
	logger  Logger
}

// New creates a key pool backed by the given counter store
func New(store CounterStore, config Config) (*Pool, error) {
	if store == nil {
		return nil, ErrStoreUnavailable
	}
	if len(config.Keys) == 0 {
		return nil, fmt.Errorf("%w: API keys list cannot be empty", ErrInvalidConfiguration)
	}
	if config.MaxRequestsPerKey < 0 {
		return nil, fmt.Errorf("%w: max requests per key must not be negative", ErrInvalidConfiguration)
	}

	keys := make([]string, len(config.Keys))
	for i, k := range config.Keys {
		k = strings.TrimSpace(k)
		if k == "" {
			return nil, fmt.Errorf("%w: key %d is empty", ErrInvalidConfiguration, i)
		}
		keys[i] = k
	}
	config.Keys = keys

	// Set defaults
	if config.MaxRequestsPerKey == 0 {
		config.MaxRequestsPerKey = DefaultMaxRequestsPerKey
	}
	if config.UsageWindow <= 0 {
		config.UsageWindow = DefaultUsageWindow
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = DefaultKeyPrefix
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	p := &Pool{
		store:   store,
		keys:    keys,
		config:  config,
		metrics: config.Metrics,
		logger:  config.Logger,
	}

	p.logger.Info("API key pool initialized",
		Field{"keys_count", len(keys)},
		Field{"max_requests_per_key", config.MaxRequestsPerKey},
	)

	return p, nil
}

// Size returns the number of credentials in the pool
func (p *Pool) Size() int {
	return len(p.keys)
}

// MaxRequestsPerKey returns the configured per-credential quota
func (p *Pool) MaxRequestsPerKey() int {
	return p.config.MaxRequestsPerKey
}

// Acquire returns a credential ready for immediate use and counts one request
// against it. It rotates first when the current credential is over quota or
// flagged invalid. Returns ErrPoolExhausted if no credential is usable.
func (p *Pool) Acquire(ctx context.Context) (Credential, error) {
	current, err := p.currentIndex(ctx)
	if err != nil {
		return Credential{}, err
	}

	usage, err := p.usage(ctx, current)
	if err != nil {
		return Credential{}, err
	}

	if usage >= p.config.MaxRequestsPerKey {
		p.logger.Info("Key usage limit reached, rotating",
			Field{"current_index", int(current)},
			Field{"usage_count", usage},
			Field{"max_requests", p.config.MaxRequestsPerKey},
		)
		current, err = p.rotate(ctx)
		if err != nil {
			return Credential{}, err
		}
	}

	// Rotation skips invalid keys already; the flag may have been set by
	// another caller in between.
	invalid, err := p.isInvalid(ctx, current)
	if err != nil {
		return Credential{}, err
	}
	if invalid {
		p.logger.Warn("Current key is marked invalid, rotating", Field{"current_index", int(current)})
		current, err = p.rotate(ctx)
		if err != nil {
			return Credential{}, err
		}
	}

	if err := p.incrementUsage(ctx, current); err != nil {
		return Credential{}, err
	}

	p.metrics.RecordAcquire(current)
	return p.credential(current), nil
}

// Rotate advances to the next usable credential and returns it.
// Returns ErrPoolExhausted if none is usable.
func (p *Pool) Rotate(ctx context.Context) (Credential, error) {
	next, err := p.rotate(ctx)
	if err != nil {
		return Credential{}, err
	}
	return p.credential(next), nil
}

// MarkInvalid flags a credential so it is skipped until an operator clears it.
// Marking an already invalid credential is a no-op.
func (p *Pool) MarkInvalid(ctx context.Context, index Index) error {
	if !index.Valid(len(p.keys)) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}

	start := time.Now()
	err := p.store.SetString(ctx, p.invalidKey(index), "1")
	p.metrics.RecordStoreOperation("set_invalid", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to mark key invalid: %w", err)
	}

	p.logger.Warn("Key marked as invalid", Field{"key_index", int(index)})
	p.metrics.RecordInvalidMarked(index)
	return nil
}

// ClearInvalid removes the invalid flag of a credential
func (p *Pool) ClearInvalid(ctx context.Context, index Index) error {
	if !index.Valid(len(p.keys)) {
		return fmt.Errorf("%w: %d", ErrIndexOutOfRange, index)
	}

	start := time.Now()
	err := p.store.Delete(ctx, p.invalidKey(index))
	p.metrics.RecordStoreOperation("clear_invalid", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to clear invalid flag: %w", err)
	}

	p.logger.Info("Key invalid flag cleared", Field{"key_index", int(index)})
	return nil
}

// Status returns a snapshot of the pool for observability
func (p *Pool) Status(ctx context.Context) (*Status, error) {
	current, err := p.currentIndex(ctx)
	if err != nil {
		return nil, err
	}

	status := &Status{
		CurrentIndex:      current,
		UsageCounts:       make(map[Index]int, len(p.keys)),
		InvalidKeys:       []Index{},
		TotalKeys:         len(p.keys),
		MaxRequestsPerKey: p.config.MaxRequestsPerKey,
	}

	for i := range p.keys {
		index := Index(i)
		usage, err := p.usage(ctx, index)
		if err != nil {
			return nil, err
		}
		status.UsageCounts[index] = usage

		invalid, err := p.isInvalid(ctx, index)
		if err != nil {
			return nil, err
		}
		if invalid {
			status.InvalidKeys = append(status.InvalidKeys, index)
		}
	}

	p.logger.Debug("Pool status retrieved",
		Field{"current_key_index", int(current)},
		Field{"invalid_keys", len(status.InvalidKeys)},
	)

	return status, nil
}

// Available reports whether at least one credential is currently usable.
// It only reads state and never rotates or counts usage.
func (p *Pool) Available(ctx context.Context) (bool, error) {
	for i := range p.keys {
		ok, err := p.usable(ctx, Index(i))
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// RotationLog returns up to limit rotation events, most recent first
func (p *Pool) RotationLog(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 || limit > RotationLogSize {
		limit = RotationLogSize
	}

	start := time.Now()
	entries, err := p.store.ListRange(ctx, p.rotationLogKey(), 0, limit-1)
	p.metrics.RecordStoreOperation("rotation_log", time.Since(start), err)
	if err != nil {
		return nil, fmt.Errorf("failed to read rotation log: %w", err)
	}
	return entries, nil
}

// rotate scans forward from the current index and persists the first usable
// candidate. At most len(keys) candidates are probed.
func (p *Pool) rotate(ctx context.Context) (Index, error) {
	start, err := p.currentIndex(ctx)
	if err != nil {
		return 0, err
	}

	n := len(p.keys)
	for offset := 1; offset <= n; offset++ {
		candidate := Index((int(start) + offset) % n)

		invalid, err := p.isInvalid(ctx, candidate)
		if err != nil {
			return 0, err
		}
		if invalid {
			p.logger.Debug("Skipping invalid key", Field{"key_index", int(candidate)})
			continue
		}

		usage, err := p.usage(ctx, candidate)
		if err != nil {
			return 0, err
		}
		if usage >= p.config.MaxRequestsPerKey {
			p.logger.Debug("Skipping exhausted key",
				Field{"key_index", int(candidate)},
				Field{"usage", usage},
			)
			continue
		}

		if err := p.setCurrentIndex(ctx, candidate); err != nil {
			return 0, err
		}
		p.logRotation(ctx, start, candidate)

		p.logger.Info("Key rotated",
			Field{"from_index", int(start)},
			Field{"to_index", int(candidate)},
			Field{"usage", usage},
		)
		p.metrics.RecordRotation(start, candidate)

		return candidate, nil
	}

	p.logger.Error("All API keys exhausted or invalid", Field{"keys_count", n})
	p.metrics.RecordExhausted()

	return 0, fmt.Errorf("%w: wait for counters to reset or add new keys", ErrPoolExhausted)
}

func (p *Pool) usable(ctx context.Context, index Index) (bool, error) {
	invalid, err := p.isInvalid(ctx, index)
	if err != nil || invalid {
		return false, err
	}
	usage, err := p.usage(ctx, index)
	if err != nil {
		return false, err
	}
	return usage < p.config.MaxRequestsPerKey, nil
}

// currentIndex reads the shared current index. Absent or out-of-range values read as 0.
func (p *Pool) currentIndex(ctx context.Context) (Index, error) {
	start := time.Now()
	value, found, err := p.store.GetInt(ctx, p.currentIndexKey())
	p.metrics.RecordStoreOperation("get_current_index", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to get current key index: %w", err)
	}
	if !found {
		return 0, nil
	}

	index := Index(value)
	if !index.Valid(len(p.keys)) {
		p.logger.Warn("Stored key index out of range, using 0",
			Field{"stored_index", value},
			Field{"keys_count", len(p.keys)},
		)
		return 0, nil
	}
	return index, nil
}

func (p *Pool) setCurrentIndex(ctx context.Context, index Index) error {
	start := time.Now()
	err := p.store.SetString(ctx, p.currentIndexKey(), fmt.Sprintf("%d", index))
	p.metrics.RecordStoreOperation("set_current_index", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to set current key index: %w", err)
	}
	return nil
}

func (p *Pool) usage(ctx context.Context, index Index) (int, error) {
	start := time.Now()
	count, _, err := p.store.GetInt(ctx, p.usageKey(index))
	p.metrics.RecordStoreOperation("get_usage", time.Since(start), err)
	if err != nil {
		return 0, fmt.Errorf("failed to get key usage: %w", err)
	}
	return count, nil
}

// incrementUsage counts one request and starts the usage window on the first
// increment. Two racing callers may both set the expiry; both set the same window.
func (p *Pool) incrementUsage(ctx context.Context, index Index) error {
	key := p.usageKey(index)

	start := time.Now()
	count, err := p.store.IncrBy(ctx, key, 1)
	p.metrics.RecordStoreOperation("incr_usage", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to increment key usage: %w", err)
	}

	start = time.Now()
	ttl, err := p.store.TTL(ctx, key)
	p.metrics.RecordStoreOperation("get_usage_ttl", time.Since(start), err)
	if err != nil {
		return fmt.Errorf("failed to get key usage ttl: %w", err)
	}

	if ttl < 0 {
		start = time.Now()
		err = p.store.Expire(ctx, key, p.config.UsageWindow)
		p.metrics.RecordStoreOperation("expire_usage", time.Since(start), err)
		if err != nil {
			return fmt.Errorf("failed to set key usage ttl: %w", err)
		}
	}

	p.logger.Debug("Key usage incremented",
		Field{"key_index", int(index)},
		Field{"new_count", count},
	)
	return nil
}

func (p *Pool) isInvalid(ctx context.Context, index Index) (bool, error) {
	start := time.Now()
	value, found, err := p.store.GetString(ctx, p.invalidKey(index))
	p.metrics.RecordStoreOperation("get_invalid", time.Since(start), err)
	if err != nil {
		return false, fmt.Errorf("failed to get key invalid flag: %w", err)
	}
	return found && value == "1", nil
}

// logRotation appends to the bounded rotation log. Failures are logged only:
// the log is never read back by rotation logic.
func (p *Pool) logRotation(ctx context.Context, from, to Index) {
	entry := fmt.Sprintf("%s key%d->key%d", p.config.Now().UTC().Format(time.RFC3339), from, to)
	key := p.rotationLogKey()

	start := time.Now()
	err := p.store.ListPushFront(ctx, key, entry)
	if err == nil {
		err = p.store.ListTrim(ctx, key, 0, RotationLogSize-1)
	}
	p.metrics.RecordStoreOperation("log_rotation", time.Since(start), err)
	if err != nil {
		p.logger.Warn("Failed to record rotation", Field{"error", err.Error()})
	}
}

func (p *Pool) credential(index Index) Credential {
	return Credential{Index: index, Key: p.keys[index]}
}

func (p *Pool) currentIndexKey() string {
	return p.config.KeyPrefix + "current_key_index"
}

func (p *Pool) usageKey(index Index) string {
	return fmt.Sprintf("%susage:%d", p.config.KeyPrefix, index)
}

func (p *Pool) invalidKey(index Index) string {
	return fmt.Sprintf("%sinvalid:%d", p.config.KeyPrefix, index)
}

func (p *Pool) rotationLogKey() string {
	return p.config.KeyPrefix + "rotation_log"
}
