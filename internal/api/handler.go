package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/flashlink/shortener/internal/model"
	"github.com/flashlink/shortener/internal/service"
)

// Handler holds HTTP handlers and dependencies. It receives interfaces
// rather than concrete implementations for testability.
type Handler struct {
	urlService service.URLServiceInterface
	db         DBInterface
	cache      CacheInterface
	metricsH   http.Handler
	logger     *slog.Logger
}

// DBInterface defines the database operations needed by the handler.
type DBInterface interface {
	Ping(ctx context.Context) error
}

// CacheInterface defines the cache operations needed by the handler. A nil
// cache is allowed; health then reports the cache as disabled.
type CacheInterface interface {
	Ping(ctx context.Context) error
}

// NewHandler creates a new handler instance with the provided dependencies.
// metricsHandler serves GET /metrics; pass nil to disable the endpoint.
func NewHandler(urlService service.URLServiceInterface, db DBInterface, cache CacheInterface, metricsHandler http.Handler, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		urlService: urlService,
		db:         db,
		cache:      cache,
		metricsH:   metricsHandler,
		logger:     logger,
	}
}

// RegisterRoutes registers all route definitions on the given Gin engine.
// The caller creates the engine and adds middleware first so middleware
// runs in the correct order. The public redirect route is registered last
// to avoid shadowing the management paths.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.healthCheck)
	if h.metricsH != nil {
		r.GET("/metrics", gin.WrapH(h.metricsH))
	}

	v1 := r.Group("/api/v1")
	{
		v1.POST("/shorten", h.createShortURL)
		v1.GET("/urls", h.listURLs)
		v1.GET("/urls/:code", h.getURL)
		v1.DELETE("/urls/:code", h.deleteURL)
		v1.GET("/urls/:code/stats", h.urlStats)
		v1.GET("/stats", h.aggregateStats)
	}

	r.GET("/:code", h.redirect)
}

// healthCheck handles GET /health
// Response codes:
//   - 200 OK: all dependencies healthy
//   - 503 Service Unavailable: one or more dependencies down
func (h *Handler) healthCheck(c *gin.Context) {
	ctx := c.Request.Context()

	status := "ok"
	code := http.StatusOK
	deps := gin.H{"database": "up", "cache": "up"}

	if err := h.db.Ping(ctx); err != nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
		deps["database"] = "down"
	}
	if h.cache == nil {
		deps["cache"] = "disabled"
	} else if err := h.cache.Ping(ctx); err != nil {
		// Reads degrade to store-only when the shared cache is down; the
		// service stays up but health reflects it.
		status = "degraded"
		code = http.StatusServiceUnavailable
		deps["cache"] = "down"
	}

	c.JSON(code, gin.H{"status": status, "dependencies": deps})
}

// createShortURL handles POST /api/v1/shorten
// Response codes:
//   - 201 Created: short URL minted
//   - 400 Bad Request: invalid body, URL, or custom alias
//   - 409 Conflict: custom alias already exists
//   - 429 Too Many Requests: create rate exceeded
//   - 500/503: allocation exhausted or store trouble
func (h *Handler) createShortURL(c *gin.Context) {
	ctx := c.Request.Context()
	var req model.CreateURLRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid request body",
			slog.String("error", err.Error()),
			slog.String("path", c.Request.URL.Path))
		h.errorResponse(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	resp, err := h.urlService.CreateShortURL(ctx, &req, c.ClientIP())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidURL):
			h.errorResponse(c, http.StatusBadRequest, "Invalid URL")
		case errors.Is(err, service.ErrInvalidAlias):
			h.errorResponse(c, http.StatusBadRequest, "Invalid custom alias")
		case errors.Is(err, service.ErrCodeExists):
			h.errorResponse(c, http.StatusConflict, "Custom alias already exists")
		case errors.Is(err, service.ErrRateLimited):
			h.errorResponse(c, http.StatusTooManyRequests, "Rate limit exceeded")
		case errors.Is(err, service.ErrStoreUnavailable):
			h.errorResponse(c, http.StatusServiceUnavailable, "Service temporarily unavailable")
		default:
			h.logger.ErrorContext(ctx, "unexpected error creating short URL",
				slog.String("error", err.Error()))
			h.errorResponse(c, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// getURL handles GET /api/v1/urls/:code
// Retrieves metadata without counting a redirect. Unlike the redirect
// path, this management surface distinguishes expired from unknown.
// Response codes:
//   - 200 OK
//   - 404 Not Found
//   - 410 Gone: URL has expired
func (h *Handler) getURL(c *gin.Context) {
	ctx := c.Request.Context()
	code := c.Param("code")

	resp, err := h.urlService.GetURL(ctx, code)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrURLNotFound):
			h.errorResponse(c, http.StatusNotFound, "URL not found")
		case errors.Is(err, service.ErrURLExpired):
			h.errorResponse(c, http.StatusGone, "URL has expired")
		case errors.Is(err, service.ErrStoreUnavailable):
			h.errorResponse(c, http.StatusServiceUnavailable, "Service temporarily unavailable")
		default:
			h.logger.ErrorContext(ctx, "unexpected error fetching URL",
				slog.String("error", err.Error()), slog.String("code", code))
			h.errorResponse(c, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	c.JSON(http.StatusOK, resp)
}

// listURLs handles GET /api/v1/urls?limit=&offset=
func (h *Handler) listURLs(c *gin.Context) {
	ctx := c.Request.Context()

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	urls, err := h.urlService.ListURLs(ctx, limit, offset)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list URLs", slog.String("error", err.Error()))
		h.errorResponse(c, http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}

	c.JSON(http.StatusOK, gin.H{"urls": urls, "count": len(urls)})
}

// deleteURL handles DELETE /api/v1/urls/:code
// Response codes:
//   - 204 No Content
//   - 404 Not Found
func (h *Handler) deleteURL(c *gin.Context) {
	ctx := c.Request.Context()
	code := c.Param("code")

	if err := h.urlService.DeleteURL(ctx, code); err != nil {
		switch {
		case errors.Is(err, service.ErrURLNotFound):
			h.errorResponse(c, http.StatusNotFound, "URL not found")
		case errors.Is(err, service.ErrStoreUnavailable):
			h.errorResponse(c, http.StatusServiceUnavailable, "Service temporarily unavailable")
		default:
			h.logger.ErrorContext(ctx, "unexpected error deleting URL",
				slog.String("error", err.Error()), slog.String("code", code))
			h.errorResponse(c, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	c.Status(http.StatusNoContent)
}

// urlStats handles GET /api/v1/urls/:code/stats
// Counters come straight from the store; they lag real traffic by the
// aggregator's flush interval.
func (h *Handler) urlStats(c *gin.Context) {
	ctx := c.Request.Context()
	code := c.Param("code")

	stats, err := h.urlService.Stats(ctx, code)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrURLNotFound):
			h.errorResponse(c, http.StatusNotFound, "URL not found")
		case errors.Is(err, service.ErrStoreUnavailable):
			h.errorResponse(c, http.StatusServiceUnavailable, "Service temporarily unavailable")
		default:
			h.logger.ErrorContext(ctx, "unexpected error fetching stats",
				slog.String("error", err.Error()), slog.String("code", code))
			h.errorResponse(c, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	c.JSON(http.StatusOK, stats)
}

// aggregateStats handles GET /api/v1/stats
func (h *Handler) aggregateStats(c *gin.Context) {
	ctx := c.Request.Context()

	stats, err := h.urlService.AggregateStats(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to aggregate stats", slog.String("error", err.Error()))
		h.errorResponse(c, http.StatusServiceUnavailable, "Service temporarily unavailable")
		return
	}

	c.JSON(http.StatusOK, stats)
}

// redirect handles GET /:code
// Resolves the short code, emits a click event, and issues a temporary
// redirect. A 302 keeps browsers coming back so every hit is counted.
// Expired, deactivated and unknown codes all answer 404: resolution never
// reveals whether a code once existed.
// Response codes:
//   - 302 Found: redirect to the original URL
//   - 404 Not Found
//   - 429 Too Many Requests: redirect rate exceeded
//   - 503 Service Unavailable: store trouble
func (h *Handler) redirect(c *gin.Context) {
	ctx := c.Request.Context()
	code := c.Param("code")

	url, err := h.urlService.Resolve(ctx, code, service.Client{
		IP:        c.ClientIP(),
		UserAgent: c.Request.UserAgent(),
		Referer:   c.Request.Referer(),
	})
	if err != nil {
		switch {
		case errors.Is(err, service.ErrURLNotFound):
			h.errorResponse(c, http.StatusNotFound, "URL not found")
		case errors.Is(err, service.ErrRateLimited):
			h.errorResponse(c, http.StatusTooManyRequests, "Rate limit exceeded")
		case errors.Is(err, service.ErrStoreUnavailable):
			h.errorResponse(c, http.StatusServiceUnavailable, "Service temporarily unavailable")
		default:
			h.logger.ErrorContext(ctx, "unexpected error during redirect",
				slog.String("error", err.Error()), slog.String("code", code))
			h.errorResponse(c, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	c.Redirect(http.StatusFound, url)
}

// errorResponse sends a standardized JSON error response.
func (h *Handler) errorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, model.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
	})
}
