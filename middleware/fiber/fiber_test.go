package fiber

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/mihaimyh/gokeypool/pkg/keypool"
	"github.com/mihaimyh/gokeypool/storage/memory"
)

type brokenPool struct{}

func (brokenPool) Available(_ context.Context) (bool, error) {
	return false, errors.New("connection refused")
}

// Test helper to create a pool with the given keys marked invalid
func setupTestPool(t *testing.T, invalid ...keypool.Index) *keypool.Pool {
	t.Helper()

	pool, err := keypool.New(memory.New(), keypool.Config{Keys: []string{"key-a", "key-b"}})
	if err != nil {
		t.Fatalf("Failed to create pool: %v", err)
	}
	for _, i := range invalid {
		if err := pool.MarkInvalid(context.Background(), i); err != nil {
			t.Fatalf("Failed to mark key invalid: %v", err)
		}
	}
	return pool
}

func serve(t *testing.T, cfg Config) *http.Response {
	t.Helper()

	app := fiber.New()
	app.Use(Middleware(cfg))
	app.Post("/generate", func(c *fiber.Ctx) error {
		return c.SendString("success")
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/generate", http.NoBody))
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	return resp
}

func TestMiddleware_Available(t *testing.T) {
	resp := serve(t, Config{Pool: setupTestPool(t, 0)})

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != "success" {
		t.Errorf("Expected 'success', got %s", string(body))
	}
}

func TestMiddleware_Exhausted(t *testing.T) {
	resp := serve(t, Config{Pool: setupTestPool(t, 0, 1)})

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", resp.StatusCode)
	}
	if got := resp.Header.Get("Retry-After"); got != "3600" {
		t.Errorf("Expected Retry-After 3600, got %q", got)
	}
}

func TestMiddleware_CustomExhausted(t *testing.T) {
	resp := serve(t, Config{
		Pool: setupTestPool(t, 0, 1),
		OnExhausted: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).SendString("later")
		},
	})

	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", resp.StatusCode)
	}
}

func TestMiddleware_StoreError(t *testing.T) {
	resp := serve(t, Config{Pool: brokenPool{}})
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("Expected status 500, got %d", resp.StatusCode)
	}

	resp = serve(t, Config{Pool: brokenPool{}, FailOpen: true})
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200 with FailOpen, got %d", resp.StatusCode)
	}
}

func TestMiddleware_RequiresPool(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic without Pool")
		}
	}()
	Middleware(Config{})
}
