// Package ratelimit provides token-bucket admission control for the create
// and redirect paths, keyed by client identity.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Class selects which bucket configuration applies. Redirect traffic is
// expected to run orders of magnitude hotter than creates, so the two get
// independent capacities and refill rates.
type Class string

const (
	ClassCreate   Class = "create"
	ClassRedirect Class = "redirect"
)

// Config describes one bucket class: capacity Burst refilled at Rate
// tokens per second.
type Config struct {
	Rate  float64
	Burst int
}

// idleTTL is how long an untouched client bucket survives before the sweep
// reclaims it.
const idleTTL = 3 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter hands out admission decisions. Allow never blocks: a request
// either takes a token immediately or is rejected so the caller can fail
// fast with a rate-limited error.
type Limiter struct {
	mu        sync.Mutex
	configs   map[Class]Config
	buckets   map[string]*bucket
	lastSweep time.Time
	now       func() time.Time
}

// New creates a Limiter with per-class bucket configurations.
func New(create, redirect Config) *Limiter {
	return &Limiter{
		configs: map[Class]Config{
			ClassCreate:   create,
			ClassRedirect: redirect,
		},
		buckets:   make(map[string]*bucket),
		lastSweep: time.Now(),
		now:       time.Now,
	}
}

// Allow consumes one token from the bucket for (class, key), creating the
// bucket on first sight. It returns false when the bucket is empty; it
// never waits or queues.
func (l *Limiter) Allow(class Class, key string) bool {
	cfg, ok := l.configs[class]
	if !ok {
		return false
	}

	l.mu.Lock()
	now := l.now()
	if now.Sub(l.lastSweep) > idleTTL {
		l.sweep(now)
	}

	id := string(class) + "|" + key
	b, ok := l.buckets[id]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rate.Limit(cfg.Rate), cfg.Burst)}
		l.buckets[id] = b
	}
	b.lastSeen = now
	l.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

// sweep drops buckets that have been idle past idleTTL so the per-client
// map stays bounded. Caller holds l.mu.
func (l *Limiter) sweep(now time.Time) {
	for id, b := range l.buckets {
		if now.Sub(b.lastSeen) > idleTTL {
			delete(l.buckets, id)
		}
	}
	l.lastSweep = now
}
