package gin

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gongin "github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gokeypool/pkg/keypool"
	"github.com/mihaimyh/gokeypool/storage/memory"
)

type brokenPool struct{}

func (brokenPool) Available(_ context.Context) (bool, error) {
	return false, errors.New("connection refused")
}

func setupRouter(cfg Config) *gongin.Engine {
	gongin.SetMode(gongin.TestMode)
	r := gongin.New()
	r.Use(Middleware(cfg))
	r.POST("/generate", func(c *gongin.Context) {
		c.String(http.StatusOK, "success")
	})
	return r
}

func setupTestPool(t *testing.T, invalid ...keypool.Index) *keypool.Pool {
	t.Helper()
	pool, err := keypool.New(memory.New(), keypool.Config{Keys: []string{"key-a", "key-b"}})
	require.NoError(t, err)
	for _, i := range invalid {
		require.NoError(t, pool.MarkInvalid(context.Background(), i))
	}
	return pool
}

func serve(r http.Handler) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/generate", http.NoBody))
	return w
}

func TestMiddleware_Available(t *testing.T) {
	w := serve(setupRouter(Config{Pool: setupTestPool(t, 0)}))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "success", w.Body.String())
}

func TestMiddleware_Exhausted(t *testing.T) {
	w := serve(setupRouter(Config{Pool: setupTestPool(t, 0, 1)}))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "3600", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"All API keys are exhausted, try again later"}`, w.Body.String())
}

func TestMiddleware_ExhaustedByQuota(t *testing.T) {
	pool, err := keypool.New(memory.New(), keypool.Config{Keys: []string{"only"}, MaxRequestsPerKey: 1})
	require.NoError(t, err)
	_, err = pool.Acquire(context.Background())
	require.NoError(t, err)

	w := serve(setupRouter(Config{Pool: pool}))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestMiddleware_CustomHandlers(t *testing.T) {
	w := serve(setupRouter(Config{
		Pool:       setupTestPool(t, 0, 1),
		RetryAfter: 90 * time.Second,
		OnExhausted: func(c *gongin.Context) {
			c.String(http.StatusTooManyRequests, "later")
		},
	}))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "90", w.Header().Get("Retry-After"))
	assert.Equal(t, "later", w.Body.String())

	var got error
	w = serve(setupRouter(Config{
		Pool: brokenPool{},
		OnError: func(c *gongin.Context, err error) {
			got = err
			c.Status(http.StatusBadGateway)
		},
	}))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.EqualError(t, got, "connection refused")
}

func TestMiddleware_StoreError(t *testing.T) {
	w := serve(setupRouter(Config{Pool: brokenPool{}}))
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = serve(setupRouter(Config{Pool: brokenPool{}, FailOpen: true}))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestMiddleware_RequiresPool(t *testing.T) {
	assert.Panics(t, func() { Middleware(Config{}) })
}
