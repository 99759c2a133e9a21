package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	gcfirestore "cloud.google.com/go/firestore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/gokeypool/pkg/batch"
	"github.com/mihaimyh/gokeypool/pkg/config"
	"github.com/mihaimyh/gokeypool/pkg/keypool"
	zerologadapter "github.com/mihaimyh/gokeypool/pkg/keypool/logger/zerolog"
	prommetrics "github.com/mihaimyh/gokeypool/pkg/keypool/metrics/prometheus"
	"github.com/mihaimyh/gokeypool/pkg/recommend"
	"github.com/mihaimyh/gokeypool/pkg/recommend/gemini"
	"github.com/mihaimyh/gokeypool/storage/firestore"
	"github.com/mihaimyh/gokeypool/storage/memory"
	"github.com/mihaimyh/gokeypool/storage/postgres"
	"github.com/mihaimyh/gokeypool/storage/redis"
)

// app holds the wired components shared by the commands
type app struct {
	cfg      *config.Config
	log      *zerologadapter.Logger
	registry *prometheus.Registry
	metrics  keypool.Metrics
	store    keypool.CounterStore
	pool     *keypool.Pool
	closers  []func()
}

// newApp wires logging, metrics, the pool store and the key pool
func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &app{cfg: cfg}
	a.log, err = newLogger(cfg, os.Stderr)
	if err != nil {
		return nil, err
	}

	a.registry = prometheus.NewRegistry()
	a.metrics = &keypool.NoopMetrics{}
	if cfg.Metrics.Enabled {
		a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		a.metrics = prommetrics.NewMetrics(a.registry, cfg.Metrics.Namespace)
	}

	if err := a.openStore(ctx); err != nil {
		a.close()
		return nil, err
	}

	a.pool, err = keypool.New(a.store, keypool.Config{
		Keys:              cfg.Gemini.APIKeys,
		MaxRequestsPerKey: cfg.Gemini.MaxRequestsPerKey,
		Metrics:           a.metrics,
		Logger:            a.log.WithComponent("keypool"),
	})
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func newLogger(cfg *config.Config, out io.Writer) (*zerologadapter.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}

	if cfg.LogFormat == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	zlog := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return zerologadapter.NewLogger(zlog), nil
}

func (a *app) openStore(ctx context.Context) error {
	var store keypool.CounterStore

	switch a.cfg.Store {
	case config.StoreRedis:
		client := goredis.NewClient(&goredis.Options{
			Addr:     a.cfg.Redis.Addr,
			Password: a.cfg.Redis.Password,
			DB:       a.cfg.Redis.DB,
		})
		rs, err := redis.New(client, redis.Config{KeyPrefix: a.cfg.Redis.KeyPrefix})
		if err != nil {
			return err
		}
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return fmt.Errorf("redis ping: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rs.Close() })
		store = rs

	case config.StoreFirestore:
		client, err := gcfirestore.NewClient(ctx, a.cfg.Firestore.ProjectID)
		if err != nil {
			return fmt.Errorf("firestore client: %w", err)
		}
		fs, err := firestore.New(client, firestore.Config{Collection: a.cfg.Firestore.Collection})
		if err != nil {
			_ = client.Close()
			return err
		}
		a.closers = append(a.closers, func() { _ = client.Close() })
		store = fs

	case config.StoreMemory:
		a.log.Warn("Using in-memory pool state; rotation is not shared between replicas")
		store = memory.New()
	}

	if a.cfg.Breaker.Enabled {
		store = keypool.NewCircuitBreakerStore(store, keypool.BreakerConfig{
			FailureThreshold: a.cfg.Breaker.FailureThreshold,
			ResetTimeout:     a.cfg.Breaker.ResetTimeout,
		}, a.metrics)
	}
	a.store = store
	return nil
}

// recommender holds the components needed to generate recommendations
type recommender struct {
	stats  *postgres.Storage
	client *recommend.Client
	cache  *recommend.Cache
	runner *batch.Runner
}

func (a *app) newRecommender(ctx context.Context) (*recommender, error) {
	pgConfig := postgres.DefaultConfig()
	pgConfig.ConnectionString = a.cfg.Postgres.DSN
	if a.cfg.Postgres.MaxConns > 0 {
		pgConfig.MaxConns = a.cfg.Postgres.MaxConns
	}
	stats, err := postgres.New(ctx, pgConfig)
	if err != nil {
		return nil, fmt.Errorf("postgres: %w", err)
	}
	a.closers = append(a.closers, stats.Close)

	completer, err := gemini.New(gemini.Config{
		BaseURL: a.cfg.Gemini.BaseURL,
		Model:   a.cfg.Gemini.Model,
	})
	if err != nil {
		return nil, err
	}

	client, err := recommend.NewClient(a.pool, completer, recommend.Config{
		Timeout: a.cfg.Gemini.Timeout,
		Metrics: a.metrics,
		Logger:  a.log.WithComponent("gemini"),
	})
	if err != nil {
		return nil, err
	}

	cache := recommend.NewCache(a.store, recommend.CacheConfig{Logger: a.log.WithComponent("cache")})

	runner, err := batch.NewRunner(stats, client, cache, batch.Config{
		Concurrency: a.cfg.Batch.Concurrency,
		Logger:      a.log.WithComponent("batch"),
	})
	if err != nil {
		return nil, err
	}

	return &recommender{stats: stats, client: client, cache: cache, runner: runner}, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
