package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/flashlink/shortener/internal/model"
	"github.com/flashlink/shortener/internal/observability"
)

// notFoundSentinel marks negative cache entries in the shared tier so a
// storm of lookups for a dead code does not hammer the database.
const notFoundSentinel = "__NOT_FOUND__"

// cacheValue is what the local tier stores: either a projection of the
// mapping or a remembered miss.
type cacheValue struct {
	entry    model.CacheEntry
	notFound bool
}

// CacheOptions sizes the two cache levels. SharedTTL is the upper bound on
// how long a stale entry can outlive an invalidation of the store record;
// LocalTTL should not exceed it.
type CacheOptions struct {
	LocalSize int
	LocalTTL  time.Duration
	SharedTTL time.Duration
}

// CachedURLRepository layers a bounded in-process LRU and a shared Redis
// tier in front of the URLRepository. The store stays authoritative: cache
// failures degrade reads to store-only and are never surfaced to callers.
// Redis calls run behind a circuit breaker so a sick cache backend cannot
// drag redirect latency down with it.
type CachedURLRepository struct {
	db      *URLRepository
	local   *expirable.LRU[string, cacheValue]
	shared  *redis.Client
	breaker *gobreaker.CircuitBreaker
	ttl     time.Duration
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewCachedURLRepository creates the cache tier. A nil cache client is
// allowed and leaves only the local level in place.
func NewCachedURLRepository(db *URLRepository, cache *redis.Client, opts CacheOptions, logger *slog.Logger, metrics *observability.Metrics) *CachedURLRepository {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.LocalSize <= 0 {
		opts.LocalSize = 1
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "shared-cache",
		Timeout: 10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// A cache miss is not a backend failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, redis.Nil)
		},
	})

	return &CachedURLRepository{
		db:      db,
		local:   expirable.NewLRU[string, cacheValue](opts.LocalSize, nil, opts.LocalTTL),
		shared:  cache,
		breaker: breaker,
		ttl:     opts.SharedTTL,
		logger:  logger,
		metrics: metrics,
	}
}

func cacheKey(code string) string {
	return fmt.Sprintf("url:%s", code)
}

// Lookup serves the redirect path: local level, then shared level, then the
// store, populating both levels on the way back. A store miss is remembered
// as a negative entry. Callers must still check the returned entry with
// Usable: cached entries are point-in-time snapshots and re-checking expiry
// on every hit is what bounds the staleness window.
func (r *CachedURLRepository) Lookup(ctx context.Context, code string) (*model.CacheEntry, error) {
	key := cacheKey(code)

	if v, ok := r.local.Get(key); ok {
		r.recordLookup(ctx, "local", "hit")
		if v.notFound {
			return nil, ErrNotFound
		}
		entry := v.entry
		return &entry, nil
	}
	r.recordLookup(ctx, "local", "miss")

	if cached, err := r.sharedGet(ctx, key); err == nil {
		r.recordLookup(ctx, "shared", "hit")
		if cached == notFoundSentinel {
			r.local.Add(key, cacheValue{notFound: true})
			return nil, ErrNotFound
		}
		var entry model.CacheEntry
		if jerr := json.Unmarshal([]byte(cached), &entry); jerr == nil {
			r.local.Add(key, cacheValue{entry: entry})
			return &entry, nil
		}
		// Corrupt payload: fall through to the store and overwrite it.
		r.logger.WarnContext(ctx, "dropping corrupt cache entry", slog.String("key", key))
	} else if errors.Is(err, redis.Nil) {
		r.recordLookup(ctx, "shared", "miss")
	} else if !errors.Is(err, errNoSharedCache) {
		r.recordLookup(ctx, "shared", "error")
		r.logger.WarnContext(ctx, "shared cache read failed, falling back to store",
			slog.String("key", key), slog.String("error", err.Error()))
	}

	m, err := r.db.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.local.Add(key, cacheValue{notFound: true})
			r.sharedSet(ctx, key, notFoundSentinel)
		}
		return nil, err
	}

	entry := model.CacheEntry{
		OriginalURL: m.OriginalURL,
		ExpiresAt:   m.ExpiresAt,
		Active:      m.Active,
	}
	r.local.Add(key, cacheValue{entry: entry})
	if data, jerr := json.Marshal(entry); jerr == nil {
		r.sharedSet(ctx, key, string(data))
	}
	return &entry, nil
}

// Invalidate purges both cache levels for a code. A shared-tier failure is
// reported but callers treat it as degraded, not fatal: every cached entry
// still carries its own expiry and is re-checked on read, and the shared
// TTL bounds how long anything stale can linger.
func (r *CachedURLRepository) Invalidate(ctx context.Context, code string) error {
	key := cacheKey(code)
	r.local.Remove(key)
	if r.shared == nil {
		return nil
	}
	_, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.shared.Del(ctx, key).Err()
	})
	return err
}

// Create persists a mapping and clears any remembered miss for its code.
func (r *CachedURLRepository) Create(ctx context.Context, m *model.URLMapping) error {
	if err := r.db.Create(ctx, m); err != nil {
		return err
	}
	if err := r.Invalidate(ctx, m.ShortCode); err != nil {
		r.logger.WarnContext(ctx, "cache invalidation after create failed",
			slog.String("short_code", m.ShortCode), slog.String("error", err.Error()))
	}
	return nil
}

// Delete invalidates both cache levels, then removes the store record.
// Invalidation comes first so the row never outlives its cache entries.
func (r *CachedURLRepository) Delete(ctx context.Context, code string) error {
	if err := r.Invalidate(ctx, code); err != nil {
		r.logger.WarnContext(ctx, "cache invalidation before delete failed",
			slog.String("short_code", code), slog.String("error", err.Error()))
	}
	return r.db.Delete(ctx, code)
}

// Deactivate invalidates both cache levels, then conditionally flips the
// store record inactive. Same ordering rationale as Delete.
func (r *CachedURLRepository) Deactivate(ctx context.Context, code string) (bool, error) {
	if err := r.Invalidate(ctx, code); err != nil {
		r.logger.WarnContext(ctx, "cache invalidation before deactivate failed",
			slog.String("short_code", code), slog.String("error", err.Error()))
	}
	return r.db.Deactivate(ctx, code)
}

// GetByCode reads the authoritative record, bypassing both cache levels.
// Counters are only ever served this way.
func (r *CachedURLRepository) GetByCode(ctx context.Context, code string) (*model.URLMapping, error) {
	return r.db.GetByCode(ctx, code)
}

// List reads from the store, bypassing the caches.
func (r *CachedURLRepository) List(ctx context.Context, limit, offset int) ([]model.URLMapping, error) {
	return r.db.List(ctx, limit, offset)
}

// FindExpired delegates to the store.
func (r *CachedURLRepository) FindExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	return r.db.FindExpired(ctx, now, limit)
}

// ApplyClicks delegates to the store. Cached projections are unaffected:
// they never contain counters.
func (r *CachedURLRepository) ApplyClicks(ctx context.Context, rollups []model.ClickRollup) error {
	return r.db.ApplyClicks(ctx, rollups)
}

// AggregateStats delegates to the store.
func (r *CachedURLRepository) AggregateStats(ctx context.Context) (*model.AggregateStatsResponse, error) {
	return r.db.AggregateStats(ctx)
}

// Ping checks store connectivity.
func (r *CachedURLRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

var errNoSharedCache = errors.New("no shared cache configured")

func (r *CachedURLRepository) sharedGet(ctx context.Context, key string) (string, error) {
	if r.shared == nil {
		return "", errNoSharedCache
	}
	v, err := r.breaker.Execute(func() (interface{}, error) {
		return r.shared.Get(ctx, key).Result()
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *CachedURLRepository) sharedSet(ctx context.Context, key, value string) {
	if r.shared == nil {
		return
	}
	// Last-writer-wins: concurrent redirects may race on population, which
	// is fine because the store stays authoritative.
	if _, err := r.breaker.Execute(func() (interface{}, error) {
		return nil, r.shared.Set(ctx, key, value, r.ttl).Err()
	}); err != nil {
		r.logger.WarnContext(ctx, "shared cache write failed",
			slog.String("key", key), slog.String("error", err.Error()))
	}
}

func (r *CachedURLRepository) recordLookup(ctx context.Context, level, result string) {
	if r.metrics == nil {
		return
	}
	r.metrics.CacheLookups.Add(ctx, 1, metric.WithAttributes(
		attribute.String("level", level),
		attribute.String("result", result),
	))
}
