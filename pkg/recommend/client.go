// Package recommend generates personalized lunch recommendations through a
// rate-limited completion service, spreading requests over a key pool.
package recommend

import (
	"context"
	"fmt"
	"time"

	"github.com/mihaimyh/gokeypool/pkg/keypool"
)

// DefaultTimeout bounds a single completion call
const DefaultTimeout = 30 * time.Second

// Pool is the part of keypool.Pool the client needs
type Pool interface {
	Size() int
	Acquire(ctx context.Context) (keypool.Credential, error)
	Rotate(ctx context.Context) (keypool.Credential, error)
	MarkInvalid(ctx context.Context, index keypool.Index) error
}

// Completer sends a prompt to the completion service using apiKey and returns the generated text.
// Service answers should be reported as *ServiceError.
type Completer interface {
	Complete(ctx context.Context, apiKey, prompt string) (string, error)
}

// Config holds recommendation client configuration
type Config struct {
	// Timeout bounds each completion call (default: 30s)
	Timeout time.Duration

	// Metrics is used for tracking generation outcomes (default: NoopMetrics)
	Metrics keypool.Metrics

	// Logger is used for structured logging (default: NoopLogger)
	Logger keypool.Logger
}

// Client turns order statistics into recommendations, rotating keys on upstream failures
type Client struct {
	pool      Pool
	completer Completer
	config    Config
	metrics   keypool.Metrics
	logger    keypool.Logger
}

// NewClient creates a recommendation client
func NewClient(pool Pool, completer Completer, config Config) (*Client, error) {
	if pool == nil || completer == nil {
		return nil, fmt.Errorf("%w: pool and completer are required", ErrInvalidConfiguration)
	}

	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Metrics == nil {
		config.Metrics = &keypool.NoopMetrics{}
	}
	if config.Logger == nil {
		config.Logger = &keypool.NoopLogger{}
	}

	return &Client{
		pool:      pool,
		completer: completer,
		config:    config,
		metrics:   config.Metrics,
		logger:    config.Logger,
	}, nil
}

// Generate produces a recommendation for stats, making at most one attempt per pooled key.
//
// Rate-limited keys are rotated away from; rejected keys are marked invalid first.
// Transient failures rotate while attempts remain. Other service errors are returned
// as-is. keypool.ErrPoolExhausted is returned when no attempt succeeds.
func (c *Client) Generate(ctx context.Context, stats StatsRecord) (*Recommendation, error) {
	attempts := c.pool.Size()
	prompt := BuildPrompt(stats)

	for attempt := 1; attempt <= attempts; attempt++ {
		cred, err := c.pool.Acquire(ctx)
		if err != nil {
			return nil, err
		}

		c.logger.Info("Generating recommendations",
			keypool.Field{Key: "attempt", Value: attempt},
			keypool.Field{Key: "key_index", Value: int(cred.Index)},
			keypool.Field{Key: "orders_count", Value: stats.OrdersCount},
		)

		text, err := c.complete(ctx, cred, prompt)
		outcome := Classify(err)
		if err != nil && ctx.Err() != nil {
			return nil, ctx.Err()
		}

		switch outcome {
		case Success:
			rec, perr := parseResponse(text)
			if perr != nil {
				c.logger.Warn("Failed to parse completion response, returning empty recommendation",
					keypool.Field{Key: "error", Value: perr.Error()},
					keypool.Field{Key: "text_preview", Value: preview(text)},
				)
			}
			c.logger.Info("Recommendations generated successfully", keypool.Field{Key: "tips_count", Value: len(rec.Tips)})
			return rec, nil

		case RateLimited:
			c.logger.Warn("Rate limit exceeded, rotating key",
				keypool.Field{Key: "attempt", Value: attempt},
				keypool.Field{Key: "max_attempts", Value: attempts},
				keypool.Field{Key: "key_index", Value: int(cred.Index)},
			)

		case Unauthorized:
			c.logger.Error("Invalid API key, rotating",
				keypool.Field{Key: "attempt", Value: attempt},
				keypool.Field{Key: "key_index", Value: int(cred.Index)},
			)
			if err := c.pool.MarkInvalid(ctx, cred.Index); err != nil {
				return nil, err
			}

		case Transient:
			c.logger.Error("Transient error during recommendation generation",
				keypool.Field{Key: "attempt", Value: attempt},
				keypool.Field{Key: "error", Value: err.Error()},
			)
			if attempt == attempts {
				if attempts > 1 {
					return nil, fmt.Errorf("%w: last attempt failed: %w", keypool.ErrPoolExhausted, err)
				}
				return nil, err
			}

		default:
			c.logger.Error("Completion service error",
				keypool.Field{Key: "error", Value: err.Error()},
			)
			return nil, err
		}

		if _, err := c.pool.Rotate(ctx); err != nil {
			return nil, err
		}
	}

	c.logger.Error("All API keys exhausted", keypool.Field{Key: "attempts", Value: attempts})
	return nil, fmt.Errorf("%w: failed to generate recommendations after %d attempts", keypool.ErrPoolExhausted, attempts)
}

// complete runs one bounded completion call and records its outcome
func (c *Client) complete(ctx context.Context, cred keypool.Credential, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	start := time.Now()
	text, err := c.completer.Complete(callCtx, cred.Key, prompt)
	c.metrics.RecordGeneration(Classify(err).String(), time.Since(start))
	return text, err
}

func preview(text string) string {
	const limit = 200
	r := []rune(text)
	if len(r) > limit {
		return string(r[:limit])
	}
	return text
}
