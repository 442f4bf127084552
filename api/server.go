// Package api provides the HTTP surface of the beacon telemetry guard.
//
// Endpoints:
//
//	GET  /health                  liveness probe
//	GET  /ready                   readiness probe
//	GET  /api/telemetry/token     anonymous session token bootstrap
//	POST /api/telemetry/traces    validated relay to the OTLP collector
//
// The rate limiter gates the telemetry endpoints; probes are exempt so
// orchestrator health checks never starve behind abusive clients.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/studioml/beacon/internal/config"
	"github.com/studioml/beacon/internal/log"
	"github.com/studioml/beacon/internal/proxy"
	"github.com/studioml/beacon/internal/ratelimit"
	"github.com/studioml/beacon/internal/token"
)

const (
	// DefaultAddr is the default address for the HTTP server.
	DefaultAddr = "127.0.0.1:3600"

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout = 10 * time.Second

	// ReadHeaderTimeout bounds header reads to resist Slowloris clients.
	ReadHeaderTimeout = 10 * time.Second

	// ReadTimeout is the maximum duration for reading the entire request.
	ReadTimeout = 30 * time.Second

	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout = 60 * time.Second

	// IdleTimeout applies to keep-alive connections between requests.
	IdleTimeout = 120 * time.Second
)

// Server is the HTTP server for the telemetry guard.
type Server struct {
	mux    *http.ServeMux
	logger log.Logger
}

// NewServer wires the guard components from configuration and registers
// all routes. The limiter is owned here and injected into the middleware,
// never shared as ambient process state.
func NewServer(cfg *config.Config, logger log.Logger) (*Server, error) {
	headers, err := config.ParseOTLPHeaders(cfg.OTLPHeaders)
	if err != nil {
		return nil, err
	}

	codec := token.NewCodec([]byte(cfg.TelemetrySecret))

	limiter := ratelimit.New(
		time.Duration(cfg.RateLimitWindowMS)*time.Millisecond,
		cfg.RateLimitMax,
		cfg.RateLimitBypass,
	)
	limited := ratelimit.Middleware(limiter, logger)

	relay := proxy.New(proxy.Config{
		Codec:           codec,
		Endpoint:        cfg.OTLPEndpoint,
		Headers:         headers,
		Logger:          logger.With("component", "proxy"),
		MaxBodyBytes:    cfg.MaxBodyBytes,
		ReadTimeout:     time.Duration(cfg.BodyReadMS) * time.Millisecond,
		UpstreamTimeout: time.Duration(cfg.UpstreamMS) * time.Millisecond,
	})

	tokens := NewTokenHandler(codec, cfg.Dev, logger.With("component", "token"))
	health := NewHealthHandler(cfg)

	mux := http.NewServeMux()
	health.RegisterRoutes(mux)
	mux.Handle("GET /api/telemetry/token", limited(tokens))
	mux.Handle("POST /api/telemetry/traces", limited(relay))

	return &Server{mux: mux, logger: logger}, nil
}

// Handler returns the HTTP handler with middleware applied.
// Middleware order: recovery -> logging -> routes.
func (s *Server) Handler() http.Handler {
	return chain(s.mux,
		recoveryMiddleware(s.logger),
		loggingMiddleware(s.logger),
	)
}

// Run starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	if addr == "" {
		addr = DefaultAddr
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: ReadHeaderTimeout,
		ReadTimeout:       ReadTimeout,
		WriteTimeout:      WriteTimeout,
		IdleTimeout:       IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting HTTP server", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}
