// Package ratelimit provides a fixed-window per-client request limiter.
//
// The limiter is in-memory and per-process by design: it resets on restart
// and does not coordinate across instances. It suppresses coarse abuse, it
// is not a security boundary of record.
package ratelimit

import (
	"net"
	"sync"
	"time"
)

// Defaults for the telemetry endpoints.
const (
	DefaultWindow = 60 * time.Second
	DefaultLimit  = 10
)

// Limiter counts requests per key within a trailing window. It is owned by
// the server instance and injected into the middleware, so tests can build
// isolated limiters instead of sharing process-wide state.
type Limiter struct {
	mu     sync.Mutex
	window time.Duration
	limit  int
	bypass bool
	seen   map[string][]time.Time
}

// New creates a limiter allowing limit requests per window for each key.
// bypass disables limiting entirely; it exists for tests and E2E runs and
// must never be enabled on production traffic paths.
func New(window time.Duration, limit int, bypass bool) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Limiter{
		window: window,
		limit:  limit,
		bypass: bypass,
		seen:   make(map[string][]time.Time),
	}
}

// Allow reports whether a request for key at time now may proceed.
// Loopback keys and bypass mode are allowed unconditionally and never
// recorded. Denied attempts are not recorded either, so a blocked client
// does not extend its own penalty.
func (l *Limiter) Allow(key string, now time.Time) bool {
	if l.bypass || isLoopback(key) {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	// Lazy pruning on each check keeps memory bounded by
	// (distinct keys in window) x (limit) without a background sweep.
	cutoff := now.Add(-l.window)
	stamps := l.seen[key]
	kept := stamps[:0]
	for _, ts := range stamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= l.limit {
		l.seen[key] = kept
		return false
	}

	l.seen[key] = append(kept, now)
	return true
}

// Len returns the number of keys currently tracked. Test helper.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

func isLoopback(key string) bool {
	if key == "localhost" {
		return true
	}
	if ip := net.ParseIP(key); ip != nil {
		return ip.IsLoopback()
	}
	return false
}
