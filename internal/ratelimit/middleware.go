package ratelimit

import (
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/studioml/beacon/internal/log"
)

// ClientKey derives the limiter key for a request: the first entry of
// X-Forwarded-For when present (the original client behind a proxy),
// otherwise the RemoteAddr host, otherwise a shared "unknown" bucket.
func ClientKey(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}

	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil && host != "" {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// Middleware gates requests through the limiter, returning 429 on denial.
func Middleware(limiter *Limiter, logger log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := ClientKey(r)
			if !limiter.Allow(key, time.Now()) {
				logger.Warn("rate limit exceeded",
					"key", key,
					"path", r.URL.Path,
				)
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
