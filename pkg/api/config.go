package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/mihaimyh/gokeypool/pkg/keypool"
	"github.com/mihaimyh/gokeypool/pkg/recommend"
	"github.com/mihaimyh/gokeypool/pkg/stats"
)

// PoolAdmin is the part of *keypool.Pool the handler exposes
type PoolAdmin interface {
	Status(ctx context.Context) (*keypool.Status, error)
	RotationLog(ctx context.Context, limit int) ([]string, error)
	ClearInvalid(ctx context.Context, index keypool.Index) error
}

// Generator produces a recommendation from order statistics
type Generator interface {
	Generate(ctx context.Context, stats recommend.StatsRecord) (*recommend.Recommendation, error)
}

// RecommendationStore keeps the latest recommendation per user
type RecommendationStore interface {
	Get(ctx context.Context, userID int64) (*recommend.CachedRecommendation, error)
	Put(ctx context.Context, userID int64, rec *recommend.Recommendation) (*recommend.CachedRecommendation, error)
}

// BatchTrigger requests an out-of-schedule batch run without waiting for it
type BatchTrigger interface {
	Trigger()
}

// Config holds configuration for the API handler
type Config struct {
	// Pool is the key pool instance (required)
	Pool PoolAdmin

	// Stats reads order statistics (required)
	Stats stats.Source

	// Generator produces recommendations (required)
	Generator Generator

	// Cache stores generated recommendations (required)
	Cache RecommendationStore

	// Batch enables POST /batch/run when set
	Batch BatchTrigger

	// GetUserID extracts the user ID from the request (default: chi URL param "id")
	GetUserID func(*http.Request) string

	// GetKeyIndex extracts the key index from the request (default: chi URL param "index")
	GetKeyIndex func(*http.Request) string

	// MinOrders is the order count required to generate (default: 5)
	MinOrders int

	// WindowDays is the statistics window (default: 30)
	WindowDays int

	// RotationLogLimit caps the rotation entries returned (default: 100)
	RotationLogLimit int

	// OnError handles errors (bad request, exhaustion, internal)
	// If nil, uses default error handling
	OnError func(http.ResponseWriter, *http.Request, error)

	// Logger is used for structured logging (default: NoopLogger)
	Logger keypool.Logger
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Pool == nil {
		return fmt.Errorf("pool is required")
	}
	if c.Stats == nil {
		return fmt.Errorf("stats source is required")
	}
	if c.Generator == nil {
		return fmt.Errorf("generator is required")
	}
	if c.Cache == nil {
		return fmt.Errorf("cache is required")
	}
	return nil
}

// NewHandler creates a new API handler with the given configuration
func NewHandler(config Config) (*Handler, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if config.GetUserID == nil {
		config.GetUserID = FromURLParam("id")
	}
	if config.GetKeyIndex == nil {
		config.GetKeyIndex = FromURLParam("index")
	}
	if config.MinOrders <= 0 {
		config.MinOrders = stats.MinOrdersForRecommendation
	}
	if config.WindowDays <= 0 {
		config.WindowDays = stats.DefaultWindowDays
	}
	if config.RotationLogLimit <= 0 {
		config.RotationLogLimit = keypool.RotationLogSize
	}
	if config.Logger == nil {
		config.Logger = &keypool.NoopLogger{}
	}
	return &Handler{
		config: config,
		logger: config.Logger,
	}, nil
}

// Helper functions for common parameter extraction patterns

// FromURLParam returns an extractor reading a chi route parameter
func FromURLParam(name string) func(*http.Request) string {
	return func(r *http.Request) string {
		return chi.URLParam(r, name)
	}
}

// FromHeader returns an extractor reading a request header
func FromHeader(headerName string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// FromQuery returns an extractor reading a query parameter
func FromQuery(name string) func(*http.Request) string {
	return func(r *http.Request) string {
		return r.URL.Query().Get(name)
	}
}
