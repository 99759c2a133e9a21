// Package http provides HTTP middleware that rejects requests while the key pool is exhausted
package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// AvailabilityChecker reports whether the key pool can serve another request.
// *keypool.Pool implements it.
type AvailabilityChecker interface {
	Available(ctx context.Context) (bool, error)
}

// DefaultRetryAfter is advertised to clients while every key is exhausted
const DefaultRetryAfter = time.Hour

// Config holds middleware configuration
type Config struct {
	// Pool is the key pool to check (required)
	Pool AvailabilityChecker

	// RetryAfter is sent in the Retry-After header of rejected requests
	// Default: 1 hour
	RetryAfter time.Duration

	// FailOpen lets requests through when the pool state cannot be read
	// Default: false (respond 500)
	FailOpen bool

	// OnExhausted is called when no key is available
	// If nil, returns 503 Service Unavailable
	OnExhausted func(w http.ResponseWriter, r *http.Request)

	// OnError is called when the pool state cannot be read
	// If nil, returns 500 Internal Server Error
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// Middleware creates an HTTP middleware that fails fast while the key pool is exhausted
func Middleware(config Config) func(http.Handler) http.Handler {
	if config.Pool == nil {
		panic("gokeypool/http: Config.Pool is required")
	}
	if config.RetryAfter <= 0 {
		config.RetryAfter = DefaultRetryAfter
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := config.Pool.Available(r.Context())
			if err != nil {
				if config.FailOpen {
					next.ServeHTTP(w, r)
					return
				}
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
				}
				return
			}

			if !ok {
				w.Header().Set("Retry-After", fmt.Sprintf("%.0f", config.RetryAfter.Seconds()))
				if config.OnExhausted != nil {
					config.OnExhausted(w, r)
				} else {
					writeJSON(w, http.StatusServiceUnavailable, map[string]string{
						"error": "All API keys are exhausted, try again later",
					})
				}
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// HandlerFunc creates an HTTP middleware (HandlerFunc version)
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := Middleware(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			middleware(next).ServeHTTP(w, r)
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
