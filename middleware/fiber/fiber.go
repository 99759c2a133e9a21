// Package fiber provides Fiber middleware that rejects requests while the key pool is exhausted
package fiber

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
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
	OnExhausted func(c *fiber.Ctx) error

	// OnError is called when the pool state cannot be read
	// If nil, returns 500 Internal Server Error
	OnError func(c *fiber.Ctx, err error) error
}

// Middleware creates a Fiber middleware that fails fast while the key pool is exhausted
func Middleware(cfg Config) fiber.Handler {
	if cfg.Pool == nil {
		panic("gokeypool/fiber: Config.Pool is required")
	}
	if cfg.RetryAfter <= 0 {
		cfg.RetryAfter = time.Hour
	}

	return func(c *fiber.Ctx) error {
		ok, err := cfg.Pool.Available(c.UserContext())
		if err != nil {
			if cfg.FailOpen {
				return c.Next()
			}
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			return defaultError(c, err)
		}

		if !ok {
			c.Set("Retry-After", fmt.Sprintf("%.0f", cfg.RetryAfter.Seconds()))
			if cfg.OnExhausted != nil {
				return cfg.OnExhausted(c)
			}
			return defaultExhausted(c)
		}

		return c.Next()
	}
}

func defaultExhausted(c *fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": "All API keys are exhausted, try again later",
	})
}

func defaultError(c *fiber.Ctx, _ error) error {
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
}
