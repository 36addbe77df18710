package service

import (
	"errors"
	"net/url"
	"strings"

	"github.com/flashlink/shortener/internal/shortcode"
)

var errBadURL = errors.New("malformed URL")

// NormalizeURL validates and canonicalizes a long URL before storage. Only
// absolute http/https URLs with a host are accepted. Normalization keeps
// equivalent spellings from producing distinct mappings: the scheme and
// host are lowercased, default ports dropped, and a bare trailing slash on
// an otherwise empty path removed.
func NormalizeURL(raw string, maxLen int) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errBadURL
	}
	if maxLen > 0 && len(raw) > maxLen {
		return "", errBadURL
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", errBadURL
	}

	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", errBadURL
	}
	if u.Host == "" {
		return "", errBadURL
	}

	host := strings.ToLower(u.Host)
	switch {
	case u.Scheme == "http" && strings.HasSuffix(host, ":80"):
		host = strings.TrimSuffix(host, ":80")
	case u.Scheme == "https" && strings.HasSuffix(host, ":443"):
		host = strings.TrimSuffix(host, ":443")
	}
	u.Host = host

	if u.Path == "/" && u.RawQuery == "" && u.Fragment == "" {
		u.Path = ""
	}

	return u.String(), nil
}

// ValidAlias reports whether a custom alias is acceptable: base62 only, so
// an alias can never collide with characters the decoder rejects, and
// bounded in length.
func ValidAlias(alias string, minLen, maxLen int) bool {
	if minLen <= 0 {
		minLen = 4
	}
	if maxLen <= 0 || maxLen > shortcode.MaxCodeLen {
		maxLen = shortcode.MaxCodeLen
	}
	if len(alias) < minLen || len(alias) > maxLen {
		return false
	}
	return shortcode.Valid(alias)
}
