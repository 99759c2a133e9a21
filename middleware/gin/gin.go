// Package gin provides Gin middleware that rejects requests while the key pool is exhausted
package gin

import (
	"context"
	"fmt"
	"net/http"
	"time"

	gongin "github.com/gin-gonic/gin"
)

// AvailabilityChecker reports whether the key pool can serve another request.
// *keypool.Pool implements it.
type AvailabilityChecker interface {
	Available(ctx context.Context) (bool, error)
}

// Config holds middleware configuration
type Config struct {
	// Pool is the key pool to check (required)
	Pool AvailabilityChecker

	// RetryAfter is sent in the Retry-After header of rejected requests
	// Default: 1 hour
	RetryAfter time.Duration

	// FailOpen lets requests through when the pool state cannot be read
	FailOpen bool

	// OnExhausted is called when no key is available
	// If nil, returns 503 JSON
	OnExhausted func(c *gongin.Context)

	// OnError is called when the pool state cannot be read
	// If nil, returns 500 Internal Server Error
	OnError func(c *gongin.Context, err error)
}

// Middleware creates a Gin middleware that fails fast while the key pool is exhausted
func Middleware(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Pool == nil {
		panic("gokeypool/gin: Config.Pool is required")
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = time.Hour
	}

	return func(c *gongin.Context) {
		ok, err := cfg.Pool.Available(c.Request.Context())
		if err != nil {
			if cfg.FailOpen {
				c.Next()
				return
			}
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				c.JSON(http.StatusInternalServerError, gongin.H{"error": "Internal Server Error"})
			}
			c.Abort()
			return
		}

		if !ok {
			c.Header("Retry-After", fmt.Sprintf("%.0f", cfg.RetryAfter.Seconds()))
			if cfg.OnExhausted != nil {
				cfg.OnExhausted(c)
			} else {
				c.JSON(http.StatusServiceUnavailable, gongin.H{
					"error": "All API keys are exhausted, try again later",
				})
			}
			c.Abort()
			return
		}

		c.Next()
	}
}
