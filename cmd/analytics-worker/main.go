// The analytics worker consumes click events from the queue and folds
// them into the store, independent of the gateway. Run it standalone with
// AGGREGATOR_ENABLED=false on the gateway, or not at all and let the
// gateway aggregate in-process.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/flashlink/shortener/internal/config"
	"github.com/flashlink/shortener/internal/events"
	"github.com/flashlink/shortener/internal/infra"
	"github.com/flashlink/shortener/internal/observability"
	"github.com/flashlink/shortener/internal/repository"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obs, err := observability.Setup(ctx, observability.Config{
		ServiceName:  cfg.Observability.ServiceName + "-analytics",
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

	queue, err := infra.NewQueueConnection(cfg.Queue.ConnectionString())
	if err != nil {
		logger.Error("failed to connect to message queue", slog.String("error", err.Error()))
		return
	}
	defer queue.Close()

	repo := repository.NewURLRepository(db)
	aggregator, err := events.NewAggregator(queue, repo, cfg.Queue.ClickQueue,
		cfg.Aggregator.MaxBatch, cfg.Aggregator.FlushInterval, logger, obs.Metrics)
	if err != nil {
		logger.Error("failed to start aggregator", slog.String("error", err.Error()))
		return
	}
	defer aggregator.Close()

	logger.Info("analytics worker consuming",
		slog.String("queue", cfg.Queue.ClickQueue),
		slog.Int("max_batch", cfg.Aggregator.MaxBatch))

	if err := aggregator.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("aggregator exited with error", slog.String("error", err.Error()))
	} else {
		logger.Info("analytics worker exited gracefully")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	obs.Shutdown(shutdownCtx)
}
