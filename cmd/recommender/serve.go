package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	guard "github.com/mihaimyh/gokeypool/middleware/http"
	"github.com/mihaimyh/gokeypool/pkg/api"
	"github.com/mihaimyh/gokeypool/pkg/batch"
	"github.com/mihaimyh/gokeypool/pkg/keypool"
)

const shutdownTimeout = 15 * time.Second

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the nightly recommendation scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			rec, err := a.newRecommender(ctx)
			if err != nil {
				return err
			}

			handlerConfig := api.Config{
				Pool:      a.pool,
				Stats:     rec.stats,
				Generator: rec.client,
				Cache:     rec.cache,
				Logger:    a.log.WithComponent("api"),
			}

			var scheduler *batch.Scheduler
			if a.cfg.Batch.Enabled {
				scheduler, err = a.newScheduler(rec)
				if err != nil {
					return err
				}
				handlerConfig.Batch = scheduler
			}

			handler, err := api.NewHandler(handlerConfig)
			if err != nil {
				return err
			}

			srv := &http.Server{
				Addr:              a.cfg.Listen,
				Handler:           a.router(handler, rec),
				ReadHeaderTimeout: 10 * time.Second,
			}

			g, gctx := errgroup.WithContext(ctx)

			g.Go(func() error {
				a.log.Info("Starting HTTP server", keypool.Field{Key: "addr", Value: a.cfg.Listen})
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			})

			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})

			if scheduler != nil {
				g.Go(func() error {
					if err := scheduler.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
						return err
					}
					return nil
				})
			}

			err = g.Wait()
			a.log.Info("Server stopped")
			return err
		},
	}
}

func (a *app) newScheduler(rec *recommender) (*batch.Scheduler, error) {
	loc, err := a.cfg.Location()
	if err != nil {
		return nil, err
	}
	return batch.NewScheduler(rec.runner.Run, batch.ScheduleConfig{
		Hour:     a.cfg.Batch.Hour,
		Minute:   a.cfg.Batch.Minute,
		Location: loc,
		Logger:   a.log.WithComponent("scheduler"),
	})
}

// router mounts the API under /api/v1. Only the generate route is guarded:
// the pool admin routes must stay reachable while every key is exhausted.
func (a *app) router(handler *api.Handler, rec *recommender) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)

	exhaustionGuard := guard.Middleware(guard.Config{Pool: a.pool})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/pool/status", handler.GetPoolStatus)
		r.Get("/pool/rotations", handler.GetRotations)
		r.Delete("/pool/keys/{index}/invalid", handler.ClearInvalid)
		r.Get("/users/{id}/recommendations", handler.GetRecommendations)
		r.With(exhaustionGuard).Post("/users/{id}/recommendations/generate", handler.GenerateRecommendations)
		if a.cfg.Batch.Enabled {
			r.Post("/batch/run", handler.RunBatch)
		}
	})

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := rec.stats.Ping(req.Context()); err != nil {
			http.Error(w, "postgres unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if a.cfg.Metrics.Enabled {
		r.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	}
	return r
}
