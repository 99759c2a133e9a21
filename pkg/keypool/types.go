package keypool

import (
	"fmt"
	"time"
)

const (
	// DefaultMaxRequestsPerKey is the per-credential quota used when Config leaves it unset
	DefaultMaxRequestsPerKey = 195

	// DefaultUsageWindow is the lifetime of a usage counter, measured from its first increment
	DefaultUsageWindow = 24 * time.Hour

	// DefaultKeyPrefix is prepended to every counter store key
	DefaultKeyPrefix = "gemini:"

	// RotationLogSize is the number of rotation events retained in the store
	RotationLogSize = 100
)

// Index identifies a credential by its position in the pool
type Index int

// Valid reports whether the index addresses a credential in a pool of the given size
func (i Index) Valid(size int) bool {
	return i >= 0 && int(i) < size
}

// Credential is a key handed out by the pool together with its position
type Credential struct {
	Index Index
	Key   string
}

// String returns a redacted form safe for logs
func (c Credential) String() string {
	return fmt.Sprintf("key%d(%s)", c.Index, Redact(c.Key))
}

// Redact keeps the last four characters of a key
func Redact(key string) string {
	if len(key) <= 4 {
		return "****"
	}
	return "****" + key[len(key)-4:]
}

// Config holds key pool configuration
type Config struct {
	// Keys is the ordered, immutable list of credentials (required, at least one)
	Keys []string

	// MaxRequestsPerKey is the per-credential quota within one usage window (default: 195)
	MaxRequestsPerKey int

	// UsageWindow is the TTL applied to a usage counter on its first increment (default: 24h)
	UsageWindow time.Duration

	// KeyPrefix is prepended to all counter store keys (default: "gemini:")
	KeyPrefix string

	// Metrics is used for tracking pool operations (default: NoopMetrics)
	Metrics Metrics

	// Logger is used for structured logging (default: NoopLogger)
	Logger Logger

	// Now returns the current time for rotation log entries (default: time.Now)
	Now func() time.Time
}

// Status is a read-only snapshot of the pool for dashboards
type Status struct {
	CurrentIndex      Index         `json:"current_key_index"`
	UsageCounts       map[Index]int `json:"usage_counts"`
	InvalidKeys       []Index       `json:"invalid_keys"`
	TotalKeys         int           `json:"total_keys"`
	MaxRequestsPerKey int           `json:"max_requests_per_key"`
}

// Usable reports whether the credential at index is neither invalid nor over quota
func (s *Status) Usable(index Index) bool {
	for _, inv := range s.InvalidKeys {
		if inv == index {
			return false
		}
	}
	return s.UsageCounts[index] < s.MaxRequestsPerKey
}
