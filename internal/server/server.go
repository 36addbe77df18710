// Package server wires configuration, storage, cache, queue and telemetry
// into a runnable gateway.
package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/flashlink/shortener/internal/api"
	"github.com/flashlink/shortener/internal/config"
	"github.com/flashlink/shortener/internal/events"
	"github.com/flashlink/shortener/internal/middleware"
	"github.com/flashlink/shortener/internal/observability"
	"github.com/flashlink/shortener/internal/ratelimit"
	"github.com/flashlink/shortener/internal/reaper"
	"github.com/flashlink/shortener/internal/repository"
	"github.com/flashlink/shortener/internal/service"
	"github.com/flashlink/shortener/internal/shortcode"
)

// redisPinger adapts *redis.Client to api.CacheInterface.
type redisPinger struct{ client *redis.Client }

func (r *redisPinger) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// App bundles the HTTP server with the background components that share
// its lifecycle. The caller runs the long-lived pieces and shuts them
// down together.
type App struct {
	HTTPServer *http.Server
	Publisher  *events.Publisher
	Aggregator *events.Aggregator // nil when the in-process aggregator is disabled
	Reaper     *reaper.Reaper
}

// NewCachedRepo builds the repository with its two-level cache tier on the
// given connections. cache may be nil; reads then go straight to the store.
func NewCachedRepo(cfg *config.Config, obs *observability.Observability, db *pgxpool.Pool, cache *redis.Client) *repository.CachedURLRepository {
	baseRepo := repository.NewURLRepository(db)
	return repository.NewCachedURLRepository(baseRepo, cache, repository.CacheOptions{
		LocalSize: cfg.Cache.LocalSize,
		LocalTTL:  cfg.Cache.LocalTTL,
		SharedTTL: cfg.Cache.SharedTTL,
	}, obs.Logger, obs.Metrics)
}

// NewRouter builds the request-handling graph on top of a repository and
// returns a configured Gin router. publisher may be nil, in which case
// redirects do not emit click events. Useful for tests that drive the full
// HTTP surface without binding a port.
func NewRouter(cfg *config.Config, obs *observability.Observability, repo *repository.CachedURLRepository, cache *redis.Client, publisher *events.Publisher) (*gin.Engine, error) {
	ids, err := shortcode.NewGenerator(cfg.App.NodeID)
	if err != nil {
		return nil, err
	}

	limiter := ratelimit.New(
		ratelimit.Config{Rate: cfg.RateLimit.CreateRate, Burst: cfg.RateLimit.CreateBurst},
		ratelimit.Config{Rate: cfg.RateLimit.RedirectRate, Burst: cfg.RateLimit.RedirectBurst},
	)

	// A nil *Publisher must not become a non-nil interface.
	var emitter service.EventEmitter
	if publisher != nil {
		emitter = publisher
	}

	urlService := service.NewURLService(repo, ids, limiter, emitter, service.Options{
		BaseURL:           cfg.App.BaseURL,
		MaxRetries:        cfg.App.ShortCodeRetries,
		MinAliasLen:       cfg.App.MinAliasLen,
		MaxAliasLen:       cfg.App.MaxAliasLen,
		MaxURLLen:         cfg.App.MaxURLLen,
		DefaultExpiryDays: cfg.App.DefaultExpiryDays,
	}, obs.Logger, obs.Metrics)

	var cachePing api.CacheInterface
	if cache != nil {
		cachePing = &redisPinger{client: cache}
	}

	var metricsHandler http.Handler
	if obs.Metrics != nil {
		metricsHandler = promhttp.HandlerFor(obs.Metrics.Registry, promhttp.HandlerOpts{})
	}

	handler := api.NewHandler(urlService, repo, cachePing, metricsHandler, obs.Logger)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware(cfg.Observability.ServiceName))
	router.Use(middleware.Logging(obs.Logger))
	handler.RegisterRoutes(router)

	return router, nil
}

// New assembles the gateway: router, HTTP server, click publisher, the
// optional in-process aggregator and the expiry reaper. The reaper shares
// the router's repository so its invalidations reach the local cache level
// too.
func New(cfg *config.Config, obs *observability.Observability, db *pgxpool.Pool, cache *redis.Client, queue *amqp.Connection) (*App, error) {
	var publisher *events.Publisher
	var aggregator *events.Aggregator
	var err error

	if queue != nil {
		publisher, err = events.NewPublisher(queue, cfg.Queue.ClickQueue, cfg.Queue.PublishBuffer, obs.Logger, obs.Metrics)
		if err != nil {
			return nil, err
		}

		if cfg.Aggregator.Enabled {
			aggregator, err = events.NewAggregator(queue, repository.NewURLRepository(db), cfg.Queue.ClickQueue,
				cfg.Aggregator.MaxBatch, cfg.Aggregator.FlushInterval, obs.Logger, obs.Metrics)
			if err != nil {
				publisher.Close()
				return nil, err
			}
		}
	}

	repo := NewCachedRepo(cfg, obs, db, cache)

	router, err := NewRouter(cfg, obs, repo, cache, publisher)
	if err != nil {
		if aggregator != nil {
			aggregator.Close()
		}
		if publisher != nil {
			publisher.Close()
		}
		return nil, err
	}

	return &App{
		HTTPServer: &http.Server{
			Addr:         ":" + cfg.Server.Port,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.IdleTimeout,
		},
		Publisher:  publisher,
		Aggregator: aggregator,
		Reaper:     reaper.New(repo, cfg.Reaper.SweepInterval, cfg.Reaper.BatchSize, obs.Logger, obs.Metrics),
	}, nil
}
