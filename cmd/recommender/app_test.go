package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gokeypool/pkg/api"
	"github.com/mihaimyh/gokeypool/pkg/batch"
	"github.com/mihaimyh/gokeypool/pkg/config"
	"github.com/mihaimyh/gokeypool/pkg/keypool"
	"github.com/mihaimyh/gokeypool/pkg/recommend"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "recommender.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestNewLogger(t *testing.T) {
	cfg := config.Default()
	cfg.LogLevel = "warn"

	var buf bytes.Buffer
	log, err := newLogger(cfg, &buf)
	require.NoError(t, err)

	log.Info("dropped")
	log.Warn("kept", keypool.Field{Key: "key_index", Value: keypool.Index(2)})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, float64(2), entry["key_index"])

	cfg.LogLevel = "loud"
	_, err = newLogger(cfg, &buf)
	assert.Error(t, err)
}

func TestNewApp_MemoryStore(t *testing.T) {
	t.Setenv(config.APIKeysEnv, "k0,k1,k2")
	path := writeConfig(t, `
store: memory
log_level: error
circuit_breaker:
  enabled: true
`)

	a, err := newApp(context.Background(), path)
	require.NoError(t, err)
	defer a.close()

	assert.Equal(t, 3, a.pool.Size())
	assert.IsType(t, &keypool.CircuitBreakerStore{}, a.store)

	cred, err := a.pool.Acquire(context.Background())
	require.NoError(t, err)
	assert.Equal(t, keypool.Index(0), cred.Index)

	families, err := a.registry.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "recommender_key_acquire_total")
}

func TestNewApp_InvalidConfig(t *testing.T) {
	t.Setenv(config.APIKeysEnv, "")
	_, err := newApp(context.Background(), writeConfig(t, "store: memory\n"))
	assert.ErrorContains(t, err, "gemini.api_keys")
}

type emptyStats struct{}

func (emptyStats) UserStats(context.Context, int64, int) (*recommend.StatsRecord, error) {
	return &recommend.StatsRecord{}, nil
}

func (emptyStats) ActiveUsers(context.Context, int, int) ([]int64, error) {
	return nil, nil
}

type cannedGenerator struct{}

func (cannedGenerator) Generate(context.Context, recommend.StatsRecord) (*recommend.Recommendation, error) {
	return &recommend.Recommendation{}, nil
}

func newMemoryApp(t *testing.T, batchEnabled bool) *app {
	t.Helper()
	t.Setenv(config.APIKeysEnv, "k0,k1")
	content := "store: memory\nlog_level: error\n"
	if !batchEnabled {
		content += "batch:\n  enabled: false\n"
	}
	a, err := newApp(context.Background(), writeConfig(t, content))
	require.NoError(t, err)
	t.Cleanup(a.close)
	return a
}

func TestRouter_BatchRunTriggersScheduler(t *testing.T) {
	a := newMemoryApp(t, true)

	ran := make(chan string, 1)
	scheduler, err := batch.NewScheduler(func(ctx context.Context) (*batch.Summary, error) {
		ran <- "run"
		return &batch.Summary{}, nil
	}, batch.ScheduleConfig{
		After: func(time.Duration) <-chan time.Time { return nil },
	})
	require.NoError(t, err)

	handler, err := api.NewHandler(api.Config{
		Pool:      a.pool,
		Stats:     emptyStats{},
		Generator: cannedGenerator{},
		Cache:     recommend.NewCache(a.store, recommend.CacheConfig{}),
		Batch:     scheduler,
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = scheduler.Run(ctx) }()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/batch/run", http.NoBody)
	w := httptest.NewRecorder()
	a.router(handler, &recommender{}).ServeHTTP(w, req)
	assert.Equal(t, http.StatusAccepted, w.Code)

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("batch was not started by the API request")
	}
}

func TestRouter_BatchRunDisabled(t *testing.T) {
	a := newMemoryApp(t, false)

	handler, err := api.NewHandler(api.Config{
		Pool:      a.pool,
		Stats:     emptyStats{},
		Generator: cannedGenerator{},
		Cache:     recommend.NewCache(a.store, recommend.CacheConfig{}),
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/batch/run", http.NoBody)
	w := httptest.NewRecorder()
	a.router(handler, &recommender{}).ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
