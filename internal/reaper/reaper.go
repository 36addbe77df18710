// Package reaper retires expired mappings in the background. Correctness
// never depends on it: the resolver re-checks expiry on every hit, so the
// reaper only reclaims rows and cache entries that would otherwise linger.
package reaper

import (
	"context"
	"log/slog"
	"time"

	"github.com/flashlink/shortener/internal/observability"
)

// sweepTimeout bounds a single sweep so a stuck store cannot wedge the
// ticker loop.
const sweepTimeout = 30 * time.Second

// Store is the slice of the cached repository the reaper needs.
type Store interface {
	FindExpired(ctx context.Context, now time.Time, limit int) ([]string, error)
	Deactivate(ctx context.Context, code string) (bool, error)
	Invalidate(ctx context.Context, code string) error
}

// Reaper periodically deactivates expired mappings in bounded batches.
type Reaper struct {
	store     Store
	interval  time.Duration
	batchSize int
	logger    *slog.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// New creates a Reaper sweeping every interval, at most batchSize rows per
// query.
func New(store Store, interval time.Duration, batchSize int, logger *slog.Logger, metrics *observability.Metrics) *Reaper {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Reaper{
		store:     store,
		interval:  interval,
		batchSize: batchSize,
		logger:    logger,
		metrics:   metrics,
		now:       time.Now,
	}
}

// Run sweeps on a ticker until ctx is cancelled. One sweep drains all
// currently-expired rows, batch by batch.
func (r *Reaper) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
			reaped := r.Sweep(sweepCtx)
			cancel()
			if reaped > 0 {
				r.logger.Info("reaped expired mappings", slog.Int("count", reaped))
			}
		}
	}
}

// Sweep deactivates every mapping expired as of now and returns how many
// were retired. Cache invalidation happens before the store write so a
// cached copy cannot outlive the row's active flag.
func (r *Reaper) Sweep(ctx context.Context) int {
	total := 0
	for {
		codes, err := r.store.FindExpired(ctx, r.now(), r.batchSize)
		if err != nil {
			r.logger.Error("expired scan failed", slog.String("error", err.Error()))
			return total
		}
		if len(codes) == 0 {
			return total
		}

		for _, code := range codes {
			if err := r.store.Invalidate(ctx, code); err != nil {
				r.logger.Warn("cache invalidation failed during reap",
					slog.String("short_code", code), slog.String("error", err.Error()))
			}
			retired, err := r.store.Deactivate(ctx, code)
			if err != nil {
				r.logger.Error("deactivate failed",
					slog.String("short_code", code), slog.String("error", err.Error()))
				continue
			}
			if retired {
				total++
				if r.metrics != nil {
					r.metrics.ReapedMappings.Add(ctx, 1)
				}
			}
		}

		// A short final batch means the scan is drained.
		if len(codes) < r.batchSize {
			return total
		}
	}
}
