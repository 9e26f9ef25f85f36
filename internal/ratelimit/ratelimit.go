// Package ratelimit implements the per-client fixed-window request cap
// (spec §4's Rate Limiter, §6 "All /api/* requests are subject to a
// rate limiter"): a fixed window of windowMs milliseconds, capped at
// maxRequests, keyed by client address.
package ratelimit

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/agentsvc/agentsvcd/internal/config"
)

// maxTrackedClients bounds the LRU so an unbounded set of client
// addresses (e.g. behind a spoofable header) cannot grow memory
// without limit; the least-recently-used client's window is evicted
// first, which simply lets that client start a fresh window early.
const maxTrackedClients = 10000

type window struct {
	start time.Time
	count int
}

// ConfigSource supplies the live rate-limit configuration. Components
// that cache configuration must re-read on every operation (spec §5);
// the Limiter does so by calling this on every Allow, so a hot reload
// of rateLimit.* takes effect on the very next request.
type ConfigSource func() config.RateLimitConfig

// Limiter enforces the fixed-window cap. It is safe for concurrent use.
type Limiter struct {
	source ConfigSource
	now    func() time.Time

	mu      sync.Mutex
	windows *lru.Cache[string, *window]
}

// New constructs a Limiter that reads its configuration from source on
// every call to Allow.
func New(source ConfigSource) *Limiter {
	windows, _ := lru.New[string, *window](maxTrackedClients)
	return &Limiter{source: source, now: time.Now, windows: windows}
}

// Decision is the outcome of a single Allow check.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
}

// Allow records one request from key and reports whether it fits
// within the current window. When the limiter is disabled, every
// request is allowed.
func (l *Limiter) Allow(key string) Decision {
	cfg := l.source()
	if !cfg.Enabled || cfg.MaxRequests <= 0 {
		return Decision{Allowed: true}
	}
	windowSize := time.Duration(cfg.WindowMs) * time.Millisecond
	if windowSize <= 0 {
		windowSize = time.Minute
	}

	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows.Get(key)
	if !ok || now.Sub(w.start) >= windowSize {
		w = &window{start: now, count: 0}
		l.windows.Add(key, w)
	}

	w.count++
	if w.count > cfg.MaxRequests {
		retryAfter := windowSize - now.Sub(w.start)
		if retryAfter < 0 {
			retryAfter = 0
		}
		return Decision{Allowed: false, RetryAfter: retryAfter}
	}
	return Decision{Allowed: true}
}
