// Package batch generates recommendations for every active user and caches them.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mihaimyh/gokeypool/pkg/keypool"
	"github.com/mihaimyh/gokeypool/pkg/recommend"
	"github.com/mihaimyh/gokeypool/pkg/stats"
)

// Generator produces a recommendation from order statistics
type Generator interface {
	Generate(ctx context.Context, stats recommend.StatsRecord) (*recommend.Recommendation, error)
}

// Store keeps the generated recommendation per user
type Store interface {
	Put(ctx context.Context, userID int64, rec *recommend.Recommendation) (*recommend.CachedRecommendation, error)
}

// Config holds batch runner configuration
type Config struct {
	// MinOrders is the activity threshold (default: 5)
	MinOrders int

	// WindowDays is the analysis window (default: 30)
	WindowDays int

	// Concurrency bounds the users processed in parallel (default: 1)
	Concurrency int

	// Logger is used for structured logging (default: NoopLogger)
	Logger keypool.Logger
}

// Summary reports the result of one batch run
type Summary struct {
	TotalUsers int           `json:"total_users"`
	Succeeded  int           `json:"success_count"`
	Failed     int           `json:"error_count"`
	Exhausted  bool          `json:"keys_exhausted"`
	Duration   time.Duration `json:"duration"`
}

// Processed is the number of users that reached a result
func (s *Summary) Processed() int {
	return s.Succeeded + s.Failed
}

// SuccessRate is the share of all active users that got a recommendation, in percent
func (s *Summary) SuccessRate() float64 {
	if s.TotalUsers == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.TotalUsers) * 100
}

// Runner runs the recommendation batch
type Runner struct {
	source    stats.Source
	generator Generator
	store     Store
	config    Config
	logger    keypool.Logger
}

// NewRunner creates a batch runner
func NewRunner(source stats.Source, generator Generator, store Store, config Config) (*Runner, error) {
	if source == nil || generator == nil || store == nil {
		return nil, fmt.Errorf("batch runner requires a stats source, a generator and a store")
	}
	if config.MinOrders <= 0 {
		config.MinOrders = stats.MinOrdersForRecommendation
	}
	if config.WindowDays <= 0 {
		config.WindowDays = stats.DefaultWindowDays
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 1
	}
	if config.Logger == nil {
		config.Logger = &keypool.NoopLogger{}
	}

	return &Runner{
		source:    source,
		generator: generator,
		store:     store,
		config:    config,
		logger:    config.Logger,
	}, nil
}

// errStop cancels the remaining users once the key pool is exhausted
var errStop = errors.New("batch stopped")

// Run processes every active user. Failures of single users are counted and
// logged; key pool exhaustion stops the batch. The returned error is set only
// when the active users could not be listed or ctx ended.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	start := time.Now()
	r.logger.Info("Starting recommendations batch generation")

	users, err := r.source.ActiveUsers(ctx, r.config.MinOrders, r.config.WindowDays)
	if err != nil {
		return nil, fmt.Errorf("failed to list active users: %w", err)
	}

	summary := &Summary{TotalUsers: len(users)}
	r.logger.Info("Found active users for recommendations", keypool.Field{Key: "count", Value: len(users)})
	if len(users) == 0 {
		r.logger.Info("No active users found, skipping batch")
		summary.Duration = time.Since(start)
		return summary, nil
	}

	var succeeded, failed atomic.Int64
	var exhausted atomic.Bool

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Concurrency)

	for _, userID := range users {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			err := r.processUser(gctx, userID)
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, keypool.ErrPoolExhausted):
				if !exhausted.Swap(true) {
					r.logger.Error("All API keys exhausted, stopping batch",
						keypool.Field{Key: "user_tgid", Value: userID},
						keypool.Field{Key: "success_count", Value: succeeded.Load()},
						keypool.Field{Key: "error_count", Value: failed.Load()},
					)
				}
				return errStop
			case gctx.Err() != nil:
				// batch is shutting down; the user was not really processed
			default:
				failed.Add(1)
				r.logger.Error("Failed to generate recommendations for user",
					keypool.Field{Key: "user_tgid", Value: userID},
					keypool.Field{Key: "error", Value: err.Error()},
				)
			}
			return nil
		})
	}

	werr := g.Wait()

	summary.Succeeded = int(succeeded.Load())
	summary.Failed = int(failed.Load())
	summary.Exhausted = exhausted.Load()
	summary.Duration = time.Since(start)

	r.logger.Info("Batch generation completed",
		keypool.Field{Key: "total_users", Value: summary.TotalUsers},
		keypool.Field{Key: "success_count", Value: summary.Succeeded},
		keypool.Field{Key: "error_count", Value: summary.Failed},
		keypool.Field{Key: "success_rate", Value: fmt.Sprintf("%.1f%%", summary.SuccessRate())},
		keypool.Field{Key: "keys_exhausted", Value: summary.Exhausted},
	)

	if werr != nil && !errors.Is(werr, errStop) {
		return summary, werr
	}
	if err := ctx.Err(); err != nil {
		return summary, err
	}
	return summary, nil
}

func (r *Runner) processUser(ctx context.Context, userID int64) error {
	userStats, err := r.source.UserStats(ctx, userID, r.config.WindowDays)
	if err != nil {
		return fmt.Errorf("failed to collect stats: %w", err)
	}

	r.logger.Debug("Generating recommendations",
		keypool.Field{Key: "user_tgid", Value: userID},
		keypool.Field{Key: "orders_count", Value: userStats.OrdersCount},
	)

	rec, err := r.generator.Generate(ctx, *userStats)
	if err != nil {
		return err
	}

	if _, err := r.store.Put(ctx, userID, rec); err != nil {
		return err
	}

	r.logger.Info("Generated recommendations for user",
		keypool.Field{Key: "user_tgid", Value: userID},
		keypool.Field{Key: "tips_count", Value: len(rec.Tips)},
	)
	return nil
}
