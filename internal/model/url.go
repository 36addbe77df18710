package model

import "time"

// URLMapping is the system-of-record entity for one short code.
// RedirectCount and LastRedirectAt are mutated only by the analytics
// aggregator; Active is cleared only by the expiry reaper or a delete.
type URLMapping struct {
	ID             int64      `json:"id"`
	ShortCode      string     `json:"short_code"`
	OriginalURL    string     `json:"original_url"`
	CreatedAt      time.Time  `json:"created_at"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	RedirectCount  int64      `json:"redirect_count"`
	LastRedirectAt *time.Time `json:"last_redirect_at,omitempty"`
	Active         bool       `json:"active"`
}

// Expired reports whether the mapping's expiry has passed at the given instant.
func (m *URLMapping) Expired(now time.Time) bool {
	return m.ExpiresAt != nil && m.ExpiresAt.Before(now)
}

// CacheEntry is the read-optimized projection of a URLMapping served on the
// redirect path. Counters are deliberately absent: they are never read from
// cache.
type CacheEntry struct {
	OriginalURL string     `json:"original_url"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	Active      bool       `json:"active"`
}

// Usable reports whether the entry may still be served at the given instant.
// Cached entries re-check expiry on every hit so a stale cache cannot serve
// a logically expired mapping.
func (e *CacheEntry) Usable(now time.Time) bool {
	return e.Active && (e.ExpiresAt == nil || e.ExpiresAt.After(now))
}

// ClickEvent is emitted once per successful redirect and consumed
// at-least-once by the analytics aggregator.
type ClickEvent struct {
	EventID   string    `json:"event_id"`
	ShortCode string    `json:"short_code"`
	Timestamp time.Time `json:"timestamp"`
	ClientIP  string    `json:"client_ip,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Referer   string    `json:"referer,omitempty"`
}

// ClickRollup is a batch of click events for one short code, collapsed into
// a single counter update.
type ClickRollup struct {
	ShortCode string
	Count     int64
	LastAt    time.Time
}

// CreateURLRequest is the request body for creating a short URL.
type CreateURLRequest struct {
	URL         string `json:"url" binding:"required"`
	CustomAlias string `json:"custom_alias,omitempty"`
	ExpiresIn   int    `json:"expires_in,omitempty"` // days; 0 means never expires
}

// CreateURLResponse is returned for a freshly created short URL.
type CreateURLResponse struct {
	ShortCode   string `json:"short_code"`
	ShortURL    string `json:"short_url"`
	OriginalURL string `json:"original_url"`
	CreatedAt   string `json:"created_at"`
	ExpiresAt   string `json:"expires_at,omitempty"`
}

// URLResponse is the full metadata response for one mapping.
type URLResponse struct {
	ShortCode      string `json:"short_code"`
	OriginalURL    string `json:"original_url"`
	ShortURL       string `json:"short_url"`
	CreatedAt      string `json:"created_at"`
	ExpiresAt      string `json:"expires_at,omitempty"`
	RedirectCount  int64  `json:"redirect_count"`
	LastRedirectAt string `json:"last_redirect_at,omitempty"`
	Active         bool   `json:"active"`
}

// StatsResponse carries per-code analytics, always read from the store.
type StatsResponse struct {
	ShortCode      string `json:"short_code"`
	RedirectCount  int64  `json:"redirect_count"`
	LastRedirectAt string `json:"last_redirect_at,omitempty"`
	CreatedAt      string `json:"created_at"`
	ExpiresAt      string `json:"expires_at,omitempty"`
	Active         bool   `json:"active"`
}

// AggregateStatsResponse summarizes the whole table.
type AggregateStatsResponse struct {
	TotalMappings  int64 `json:"total_mappings"`
	ActiveMappings int64 `json:"active_mappings"`
	TotalRedirects int64 `json:"total_redirects"`
}

// ErrorResponse is the standard API error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
