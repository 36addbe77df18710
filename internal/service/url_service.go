package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/flashlink/shortener/internal/model"
	"github.com/flashlink/shortener/internal/observability"
	"github.com/flashlink/shortener/internal/ratelimit"
	"github.com/flashlink/shortener/internal/repository"
	"github.com/flashlink/shortener/internal/shortcode"
)

var (
	ErrInvalidURL          = errors.New("invalid URL format")
	ErrURLNotFound         = errors.New("URL not found")
	ErrURLExpired          = errors.New("URL has expired")
	ErrCodeExists          = errors.New("custom alias already exists")
	ErrInvalidAlias        = errors.New("invalid custom alias format")
	ErrRateLimited         = errors.New("rate limit exceeded")
	ErrAllocationExhausted = errors.New("failed to allocate a unique short code")
	ErrStoreUnavailable    = errors.New("store unavailable")
)

// storeRetryBackoff is the single automatic retry delay on a transient
// store failure during resolution. One retry, then the error surfaces.
const storeRetryBackoff = 50 * time.Millisecond

// EventEmitter hands a click event to the analytics pipeline. It must not
// block.
type EventEmitter interface {
	Emit(ev model.ClickEvent)
}

// Client identifies the caller of a redirect. IP doubles as the rate-limit
// key; the rest is carried into the click event.
type Client struct {
	IP        string
	UserAgent string
	Referer   string
}

// URLServiceInterface defines the contract for URL shortening operations.
// clientKey identifies the caller (IP or API key) and is supplied by the
// request-handling layer for admission control.
type URLServiceInterface interface {
	CreateShortURL(ctx context.Context, req *model.CreateURLRequest, clientKey string) (*model.CreateURLResponse, error)
	GetURL(ctx context.Context, code string) (*model.URLResponse, error)
	ListURLs(ctx context.Context, limit, offset int) ([]model.URLResponse, error)
	DeleteURL(ctx context.Context, code string) error
	Resolve(ctx context.Context, code string, client Client) (string, error)
	Stats(ctx context.Context, code string) (*model.StatsResponse, error)
	AggregateStats(ctx context.Context) (*model.AggregateStatsResponse, error)
}

// Options carries the allocation and validation knobs.
type Options struct {
	BaseURL           string
	MaxRetries        int
	MinAliasLen       int
	MaxAliasLen       int
	MaxURLLen         int
	DefaultExpiryDays int
}

// URLService orchestrates allocation, resolution, expiry checks and click
// emission on top of the cached repository.
type URLService struct {
	repo    *repository.CachedURLRepository
	ids     *shortcode.Generator
	limiter *ratelimit.Limiter
	emitter EventEmitter
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewURLService creates a new URL service.
func NewURLService(repo *repository.CachedURLRepository, ids *shortcode.Generator, limiter *ratelimit.Limiter, emitter EventEmitter, opts Options, logger *slog.Logger, metrics *observability.Metrics) *URLService {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	return &URLService{
		repo:    repo,
		ids:     ids,
		limiter: limiter,
		emitter: emitter,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
	}
}

// CreateShortURL mints a new mapping. The mapping row exists in the store
// before this returns; caches fill lazily on first read.
func (s *URLService) CreateShortURL(ctx context.Context, req *model.CreateURLRequest, clientKey string) (*model.CreateURLResponse, error) {
	start := s.now()

	if s.limiter != nil && !s.limiter.Allow(ratelimit.ClassCreate, clientKey) {
		s.recordRateLimited(ctx, ratelimit.ClassCreate)
		return nil, ErrRateLimited
	}

	longURL, err := NormalizeURL(req.URL, s.opts.MaxURLLen)
	if err != nil {
		return nil, ErrInvalidURL
	}

	var expiresAt *time.Time
	switch {
	case req.ExpiresIn > 0:
		t := s.now().AddDate(0, 0, req.ExpiresIn)
		expiresAt = &t
	case s.opts.DefaultExpiryDays > 0:
		t := s.now().AddDate(0, 0, s.opts.DefaultExpiryDays)
		expiresAt = &t
	}

	var mapping *model.URLMapping
	if req.CustomAlias != "" {
		if !ValidAlias(req.CustomAlias, s.opts.MinAliasLen, s.opts.MaxAliasLen) {
			return nil, ErrInvalidAlias
		}
		mapping, err = s.insert(ctx, req.CustomAlias, longURL, expiresAt)
		if err != nil {
			if errors.Is(err, repository.ErrCodeConflict) {
				return nil, ErrCodeExists
			}
			return nil, err
		}
	} else {
		mapping, err = s.allocate(ctx, longURL, expiresAt)
		if err != nil {
			return nil, err
		}
	}

	s.logger.InfoContext(ctx, "created url mapping",
		slog.String("short_code", mapping.ShortCode))

	if s.metrics != nil {
		s.metrics.CreateLatency.Record(ctx, s.now().Sub(start).Seconds())
	}

	return &model.CreateURLResponse{
		ShortCode:   mapping.ShortCode,
		ShortURL:    s.opts.BaseURL + "/" + mapping.ShortCode,
		OriginalURL: mapping.OriginalURL,
		CreatedAt:   mapping.CreatedAt.Format(time.RFC3339),
		ExpiresAt:   formatTime(mapping.ExpiresAt),
	}, nil
}

// allocate draws snowflake identifiers and attempts the insert-if-absent
// until one lands or the retries run out. Conflicts only happen when
// a custom alias squatted on an encoded identifier, so in practice the
// first attempt wins.
func (s *URLService) allocate(ctx context.Context, longURL string, expiresAt *time.Time) (*model.URLMapping, error) {
	for attempt := 0; attempt < s.opts.MaxRetries; attempt++ {
		code := shortcode.Encode(uint64(s.ids.NextID()))
		mapping, err := s.insert(ctx, code, longURL, expiresAt)
		if err != nil {
			if errors.Is(err, repository.ErrCodeConflict) {
				s.logger.WarnContext(ctx, "short code collision, retrying",
					slog.String("short_code", code), slog.Int("attempt", attempt+1))
				continue
			}
			return nil, err
		}
		return mapping, nil
	}
	return nil, ErrAllocationExhausted
}

func (s *URLService) insert(ctx context.Context, code, longURL string, expiresAt *time.Time) (*model.URLMapping, error) {
	mapping := &model.URLMapping{
		ID:          s.ids.NextID(),
		ShortCode:   code,
		OriginalURL: longURL,
		ExpiresAt:   expiresAt,
	}
	if err := s.repo.Create(ctx, mapping); err != nil {
		if errors.Is(err, repository.ErrCodeConflict) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return mapping, nil
}

// Resolve maps a code back to its long URL and emits one click event. All
// failure shapes except rate limiting and store trouble collapse into
// ErrURLNotFound: callers can never distinguish expired from never-existed.
func (s *URLService) Resolve(ctx context.Context, code string, client Client) (string, error) {
	if s.limiter != nil && !s.limiter.Allow(ratelimit.ClassRedirect, client.IP) {
		s.recordRateLimited(ctx, ratelimit.ClassRedirect)
		s.recordRedirect(ctx, "rate_limited")
		return "", ErrRateLimited
	}

	entry, err := s.lookup(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.recordRedirect(ctx, "not_found")
			return "", ErrURLNotFound
		}
		s.recordRedirect(ctx, "store_error")
		return "", fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	now := s.now()
	if !entry.Usable(now) {
		s.recordRedirect(ctx, "not_found")
		return "", ErrURLNotFound
	}

	if s.emitter != nil {
		s.emitter.Emit(model.ClickEvent{
			EventID:   uuid.NewString(),
			ShortCode: code,
			Timestamp: now.UTC(),
			ClientIP:  client.IP,
			UserAgent: client.UserAgent,
			Referer:   client.Referer,
		})
	}

	s.recordRedirect(ctx, "ok")
	return entry.OriginalURL, nil
}

// lookup consults the cache tier with a single bounded retry on transient
// store errors, keeping tail latency predictable when the backend blips.
func (s *URLService) lookup(ctx context.Context, code string) (*model.CacheEntry, error) {
	entry, err := s.repo.Lookup(ctx, code)
	if err == nil || errors.Is(err, repository.ErrNotFound) {
		return entry, err
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(storeRetryBackoff):
	}
	return s.repo.Lookup(ctx, code)
}

// GetURL retrieves mapping metadata straight from the store. Unlike the
// redirect path this surface may distinguish an expired mapping: it serves
// the management dashboard, not anonymous resolution.
func (s *URLService) GetURL(ctx context.Context, code string) (*model.URLResponse, error) {
	m, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrURLNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !m.Active {
		return nil, ErrURLNotFound
	}
	if m.Expired(s.now()) {
		return nil, ErrURLExpired
	}
	resp := s.toURLResponse(m)
	return &resp, nil
}

// ListURLs returns mappings for the management surface, newest first.
func (s *URLService) ListURLs(ctx context.Context, limit, offset int) ([]model.URLResponse, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	mappings, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	responses := make([]model.URLResponse, 0, len(mappings))
	for i := range mappings {
		responses = append(responses, s.toURLResponse(&mappings[i]))
	}
	return responses, nil
}

// DeleteURL removes a mapping, invalidating both cache levels before the
// row goes away.
func (s *URLService) DeleteURL(ctx context.Context, code string) error {
	if err := s.repo.Delete(ctx, code); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrURLNotFound
		}
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	s.logger.InfoContext(ctx, "deleted url mapping", slog.String("short_code", code))
	return nil
}

// Stats reads per-code analytics from the store; counters are never served
// from cache.
func (s *URLService) Stats(ctx context.Context, code string) (*model.StatsResponse, error) {
	m, err := s.repo.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrURLNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &model.StatsResponse{
		ShortCode:      m.ShortCode,
		RedirectCount:  m.RedirectCount,
		LastRedirectAt: formatTime(m.LastRedirectAt),
		CreatedAt:      m.CreatedAt.Format(time.RFC3339),
		ExpiresAt:      formatTime(m.ExpiresAt),
		Active:         m.Active,
	}, nil
}

// AggregateStats summarizes all mappings from the store.
func (s *URLService) AggregateStats(ctx context.Context) (*model.AggregateStatsResponse, error) {
	stats, err := s.repo.AggregateStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return stats, nil
}

func (s *URLService) toURLResponse(m *model.URLMapping) model.URLResponse {
	return model.URLResponse{
		ShortCode:      m.ShortCode,
		OriginalURL:    m.OriginalURL,
		ShortURL:       s.opts.BaseURL + "/" + m.ShortCode,
		CreatedAt:      m.CreatedAt.Format(time.RFC3339),
		ExpiresAt:      formatTime(m.ExpiresAt),
		RedirectCount:  m.RedirectCount,
		LastRedirectAt: formatTime(m.LastRedirectAt),
		Active:         m.Active,
	}
}

func (s *URLService) recordRedirect(ctx context.Context, outcome string) {
	if s.metrics == nil {
		return
	}
	s.metrics.Redirects.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func (s *URLService) recordRateLimited(ctx context.Context, class ratelimit.Class) {
	if s.metrics == nil {
		return
	}
	s.metrics.RateLimited.Add(ctx, 1, metric.WithAttributes(attribute.String("class", string(class))))
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}

// Ensure URLService implements URLServiceInterface at compile time
var _ URLServiceInterface = (*URLService)(nil)
