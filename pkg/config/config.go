// Package config loads the recommender service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata" // schedule time zones must resolve in minimal containers

	"gopkg.in/yaml.v3"

	"github.com/mihaimyh/gokeypool/pkg/keypool"
)

// APIKeysEnv holds a comma-separated list of Gemini API keys.
// When set it replaces gemini.api_keys from the file.
const APIKeysEnv = "GEMINI_API_KEYS"

// Store backends for the pool state
const (
	StoreRedis     = "redis"
	StoreFirestore = "firestore"
	StoreMemory    = "memory"
)

// Config holds all service configuration.
type Config struct {
	Listen    string          `yaml:"listen"`
	LogLevel  string          `yaml:"log_level"`
	LogFormat string          `yaml:"log_format"`
	Store     string          `yaml:"store"`
	Redis     RedisConfig     `yaml:"redis"`
	Firestore FirestoreConfig `yaml:"firestore"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Gemini    GeminiConfig    `yaml:"gemini"`
	Breaker   BreakerConfig   `yaml:"circuit_breaker"`
	Batch     BatchConfig     `yaml:"batch"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// RedisConfig locates the Redis instance shared by every service replica.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// FirestoreConfig is used when store is "firestore".
type FirestoreConfig struct {
	ProjectID  string `yaml:"project_id"`
	Collection string `yaml:"collection"`
}

// PostgresConfig locates the orders database.
type PostgresConfig struct {
	DSN      string `yaml:"dsn"`
	MaxConns int32  `yaml:"max_conns"`
}

// GeminiConfig controls the completion service and the key pool.
type GeminiConfig struct {
	APIKeys           []string      `yaml:"api_keys"`
	Model             string        `yaml:"model"`
	BaseURL           string        `yaml:"base_url"`
	Timeout           time.Duration `yaml:"timeout"`
	MaxRequestsPerKey int           `yaml:"max_requests_per_key"`
}

// BreakerConfig wraps the pool store in a circuit breaker when enabled.
type BreakerConfig struct {
	Enabled          bool          `yaml:"enabled"`
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// BatchConfig schedules the nightly recommendation batch.
// An empty Timezone means the host time zone.
type BatchConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Hour        int    `yaml:"hour"`
	Minute      int    `yaml:"minute"`
	Timezone    string `yaml:"timezone"`
	Concurrency int    `yaml:"concurrency"`
}

// MetricsConfig exposes Prometheus metrics on /metrics.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen:    ":8080",
		LogLevel:  "info",
		LogFormat: "json",
		Store:     StoreRedis,
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Firestore: FirestoreConfig{
			Collection: "keypool_state",
		},
		Postgres: PostgresConfig{
			MaxConns: 10,
		},
		Gemini: GeminiConfig{
			Model:             "gemini-2.0-flash",
			Timeout:           30 * time.Second,
			MaxRequestsPerKey: keypool.DefaultMaxRequestsPerKey,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		},
		Batch: BatchConfig{
			Enabled:     true,
			Hour:        3,
			Concurrency: 1,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "recommender",
		},
	}
}

// Load reads a YAML config file and expands environment variables.
// An empty path yields the defaults plus environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}

		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	if raw, ok := os.LookupEnv(APIKeysEnv); ok && strings.TrimSpace(raw) != "" {
		cfg.Gemini.APIKeys = SplitKeys(raw)
	} else {
		cfg.Gemini.APIKeys = SplitKeys(strings.Join(cfg.Gemini.APIKeys, ","))
	}

	return cfg, nil
}

// SplitKeys splits a comma-separated key list, dropping blanks
func SplitKeys(raw string) []string {
	var keys []string
	for _, part := range strings.Split(raw, ",") {
		if key := strings.TrimSpace(part); key != "" {
			keys = append(keys, key)
		}
	}
	return keys
}

// Location returns the batch schedule time zone
func (c *Config) Location() (*time.Location, error) {
	if c.Batch.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Batch.Timezone)
	if err != nil {
		return nil, fmt.Errorf("batch timezone: %w", err)
	}
	return loc, nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error

	if len(c.Gemini.APIKeys) == 0 {
		errs = append(errs, fmt.Errorf("gemini.api_keys: at least one key is required (or set %s)", APIKeysEnv))
	}
	if c.Gemini.MaxRequestsPerKey < 0 {
		errs = append(errs, fmt.Errorf("gemini.max_requests_per_key: must not be negative"))
	}

	switch c.Store {
	case StoreRedis:
		if c.Redis.Addr == "" {
			errs = append(errs, fmt.Errorf("redis.addr: required for the redis store"))
		}
	case StoreFirestore:
		if c.Firestore.ProjectID == "" {
			errs = append(errs, fmt.Errorf("firestore.project_id: required for the firestore store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("store: unknown backend %q", c.Store))
	}

	if c.Batch.Hour < 0 || c.Batch.Hour > 23 || c.Batch.Minute < 0 || c.Batch.Minute > 59 {
		errs = append(errs, fmt.Errorf("batch: invalid time %02d:%02d", c.Batch.Hour, c.Batch.Minute))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}

	switch c.LogFormat {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log_format: must be json or console, got %q", c.LogFormat))
	}

	return errors.Join(errs...)
}
