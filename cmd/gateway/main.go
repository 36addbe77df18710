package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flashlink/shortener/internal/config"
	"github.com/flashlink/shortener/internal/infra"
	"github.com/flashlink/shortener/internal/observability"
	"github.com/flashlink/shortener/internal/server"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.Setup(ctx, observability.Config{
		ServiceName:  cfg.Observability.ServiceName,
		Environment:  cfg.Observability.Environment,
		OTLPEndpoint: cfg.Observability.OTLPEndpoint,
	})
	if err != nil {
		log.Fatalf("failed to initialize observability: %v", err)
	}
	logger := obs.Logger

	db, err := infra.NewPostgresPool(ctx, cfg.Database.ConnectionString())
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		return
	}
	defer db.Close()

	// The shared cache is optional: when Redis is unreachable at boot the
	// gateway still serves, reads just go straight to the store.
	cache, err := infra.NewCacheClient(ctx, cfg.Cache.ConnectionString())
	if err != nil {
		logger.Warn("shared cache unavailable, running store-only",
			slog.String("error", err.Error()))
		cache = nil
	} else {
		defer cache.Close()
	}

	queue, err := infra.NewQueueConnection(cfg.Queue.ConnectionString())
	if err != nil {
		logger.Warn("message queue unavailable, clicks will not be counted",
			slog.String("error", err.Error()))
		queue = nil
	} else {
		defer queue.Close()
	}

	app, err := server.New(cfg, obs, db, cache, queue)
	if err != nil {
		logger.Error("failed to assemble gateway", slog.String("error", err.Error()))
		return
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("gateway listening",
			slog.String("port", cfg.Server.Port),
			slog.String("base_url", cfg.App.BaseURL))
		if err := app.HTTPServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return app.HTTPServer.Shutdown(shutdownCtx)
	})

	if app.Publisher != nil {
		g.Go(func() error {
			if err := app.Publisher.Run(gctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if app.Aggregator != nil {
		g.Go(func() error {
			if err := app.Aggregator.Run(gctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := app.Reaper.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("gateway exited with error", slog.String("error", err.Error()))
	} else {
		logger.Info("gateway exited gracefully")
	}

	if app.Aggregator != nil {
		app.Aggregator.Close()
	}
	if app.Publisher != nil {
		app.Publisher.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	obs.Shutdown(shutdownCtx)
}
