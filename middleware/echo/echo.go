// Package echo provides Echo middleware that rejects requests while the key pool is exhausted
package echo

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
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
	OnExhausted func(c echo.Context) error

	// OnError is called when the pool state cannot be read
	// If nil, returns 500 Internal Server Error
	OnError func(c echo.Context, err error) error
}

// Middleware creates an Echo middleware that fails fast while the key pool is exhausted
func Middleware(cfg Config) echo.MiddlewareFunc {
	if cfg.Pool == nil {
		panic("gokeypool/echo: Config.Pool is required")
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = time.Hour
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ok, err := cfg.Pool.Available(c.Request().Context())
			if err != nil {
				if cfg.FailOpen {
					return next(c)
				}
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return defaultError(c, err)
			}

			if !ok {
				c.Response().Header().Set("Retry-After", fmt.Sprintf("%.0f", cfg.RetryAfter.Seconds()))
				if cfg.OnExhausted != nil {
					return cfg.OnExhausted(c)
				}
				return defaultExhausted(c)
			}

			return next(c)
		}
	}
}

func defaultExhausted(c echo.Context) error {
	return c.JSON(http.StatusServiceUnavailable, map[string]string{
		"error": "All API keys are exhausted, try again later",
	})
}

func defaultError(c echo.Context, _ error) error {
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
}
