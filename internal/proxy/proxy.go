// Package proxy implements the telemetry ingestion guard: it authenticates
// the anonymous session token, polices the declared and actual body size,
// and relays validated payloads byte-for-byte to the upstream collector.
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/studioml/beacon/internal/guard"
	"github.com/studioml/beacon/internal/log"
	"github.com/studioml/beacon/internal/telemetry"
	"github.com/studioml/beacon/internal/token"
)

// Wire constants shared with the browser bootstrap.
const (
	// TokenHeader carries the issued telemetry token.
	TokenHeader = "x-telemetry-token"

	// SessionCookieName is the anonymous session cookie the token is bound to.
	SessionCookieName = "anon_session"
)

const (
	scopeName    = "beacon/telemetry-guard"
	tracesPath   = "/v1/traces"
	maxErrorBody = 8 * 1024
)

// Error reason labels on the errors counter.
const (
	reasonLengthRequired  = "length_required"
	reasonBadContentType  = "invalid_content_type"
	reasonInvalidLength   = "invalid_length"
	reasonPayloadTooLarge = "payload_too_large"
	reasonEmptyPayload    = "empty_payload"
	reasonMisconfigured   = "misconfigured"
	reasonBodyTimeout     = "body_timeout"
	reasonInvalidBody     = "invalid_body"
	reasonUpstreamTimeout = "upstream_timeout"
	reasonConnectionError = "connection_error"
	reasonUpstreamError   = "upstream_error"
)

// Config for the proxy.
type Config struct {
	Codec *token.Codec // required
	// Endpoint is the upstream collector base URL; empty makes the
	// forwarding endpoint respond 503.
	Endpoint string
	// Headers are static extra headers attached to every upstream call.
	Headers map[string]string
	Logger  log.Logger

	MaxBodyBytes    int64
	ReadTimeout     time.Duration // per-chunk inbound body read budget
	UpstreamTimeout time.Duration // outbound call deadline

	// Client overrides the outbound HTTP client. Tests inject one; nil
	// gets a default client (timeouts come from the request context).
	Client *http.Client
}

// Proxy validates and forwards telemetry payloads. It keeps no mutable
// state; every field is set once at construction.
type Proxy struct {
	codec    *token.Codec
	endpoint string
	headers  map[string]string
	logger   log.Logger
	client   *http.Client

	maxBodyBytes    int64
	readTimeout     time.Duration
	upstreamTimeout time.Duration

	tracer          trace.Tracer
	requests        metric.Int64Counter
	errors          metric.Int64Counter
	bodySize        metric.Int64Histogram
	upstreamLatency metric.Float64Histogram
}

// New creates the proxy and registers its instruments. Instrument creation
// failures are logged and tolerated: metrics are best-effort and must never
// block the request path.
func New(cfg Config) *Proxy {
	client := cfg.Client
	if client == nil {
		client = &http.Client{}
	}

	p := &Proxy{
		codec:           cfg.Codec,
		endpoint:        strings.TrimSuffix(cfg.Endpoint, "/"),
		headers:         cfg.Headers,
		logger:          cfg.Logger,
		client:          client,
		maxBodyBytes:    cfg.MaxBodyBytes,
		readTimeout:     cfg.ReadTimeout,
		upstreamTimeout: cfg.UpstreamTimeout,
		tracer:          otel.Tracer(scopeName),
	}

	meter := otel.Meter(scopeName)
	var err error
	if p.requests, err = meter.Int64Counter("telemetry_requests_total",
		metric.WithDescription("Authenticated telemetry forwarding requests")); err != nil {
		cfg.Logger.Warn("failed to create requests counter", "error", err)
	}
	if p.errors, err = meter.Int64Counter("telemetry_errors_total",
		metric.WithDescription("Telemetry forwarding failures by reason")); err != nil {
		cfg.Logger.Warn("failed to create errors counter", "error", err)
	}
	if p.bodySize, err = meter.Int64Histogram("telemetry_body_bytes",
		metric.WithDescription("Validated request body sizes"),
		metric.WithUnit("By")); err != nil {
		cfg.Logger.Warn("failed to create body size histogram", "error", err)
	}
	if p.upstreamLatency, err = meter.Float64Histogram("telemetry_upstream_latency_ms",
		metric.WithDescription("Upstream collector call latency"),
		metric.WithUnit("ms")); err != nil {
		cfg.Logger.Warn("failed to create upstream latency histogram", "error", err)
	}

	return p
}

// ServeHTTP runs the forwarding state machine:
// auth -> content type -> declared length -> body read -> forward.
// Each gate is terminal; the proxy makes at most one upstream attempt.
func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Auth gate. No span, no counters, no forwarding for unauthenticated
	// requests; every failure mode is an indistinguishable 401.
	sessionID := "unknown"
	if c, err := r.Cookie(SessionCookieName); err == nil && c.Value != "" {
		sessionID = c.Value
	}
	tok := r.Header.Get(TokenHeader)
	if tok == "" || !p.codec.Verify(tok, sessionID) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	ctx, span := p.tracer.Start(r.Context(), "telemetry.forward",
		trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", telemetry.RedactURL(r.URL)),
		))
	defer func() {
		if rec := recover(); rec != nil {
			err := fmt.Errorf("panic: %v", rec)
			span.RecordError(err)
			span.SetStatus(codes.Error, "internal failure")
			p.logger.Error("panic in telemetry proxy", "error", rec)
			http.Error(w, "Bad Gateway", http.StatusBadGateway)
		}
		span.End()
	}()

	p.count(ctx, p.requests)

	contentType := r.Header.Get("Content-Type")
	if !isJSONContentType(contentType) {
		p.reject(ctx, span, w, http.StatusUnsupportedMediaType, "Unsupported Media Type", reasonBadContentType)
		return
	}

	dec := guard.ValidateContentLength(r.Header.Get("Content-Length"), true, p.maxBodyBytes)
	if !dec.Valid {
		p.reject(ctx, span, w, dec.Status, dec.Message, lengthReason(dec.Status))
		return
	}
	if dec.Length == 0 {
		// A zero-length declared body is a client error, not an empty success.
		p.reject(ctx, span, w, http.StatusBadRequest, "Empty payload", reasonEmptyPayload)
		return
	}

	if p.endpoint == "" {
		p.reject(ctx, span, w, http.StatusServiceUnavailable, "Telemetry collector not configured", reasonMisconfigured)
		return
	}

	body, rerr := guard.ReadBody(ctx, r.Body, p.maxBodyBytes, dec.Length, p.readTimeout)
	if rerr != nil {
		p.reject(ctx, span, w, rerr.Status, rerr.Message, readReason(rerr))
		return
	}
	if len(body) == 0 {
		// A collapsed stream that reports no bytes and no error is not valid.
		p.reject(ctx, span, w, http.StatusBadRequest, "Bad Request", reasonInvalidBody)
		return
	}

	p.record(ctx, p.bodySize, int64(len(body)))
	p.forward(ctx, span, w, body, contentType)
}

// forward relays the exact bytes read to the upstream collector and maps
// the outcome to a client-facing status.
func (p *Proxy) forward(ctx context.Context, span trace.Span, w http.ResponseWriter, body []byte, contentType string) {
	callCtx, cancel := context.WithTimeout(ctx, p.upstreamTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, p.endpoint+tracesPath, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		p.reject(ctx, span, w, http.StatusBadGateway, "Bad Gateway", reasonConnectionError)
		return
	}
	req.Header.Set("Content-Type", contentType)
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	// Latency is recorded for every branch once the call was issued.
	p.recordFloat(ctx, p.upstreamLatency, float64(time.Since(start).Microseconds())/1000)

	if err != nil {
		if callCtx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			p.reject(ctx, span, w, http.StatusGatewayTimeout, "Upstream timeout", reasonUpstreamTimeout)
			return
		}
		span.RecordError(err)
		p.logger.Warn("upstream connection failed", "error", err)
		p.reject(ctx, span, w, http.StatusBadGateway, "Bad Gateway", reasonConnectionError)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		msg, shape := DecodeUpstreamError(raw)
		span.SetAttributes(attribute.String("upstream.error_shape", shape))
		if msg != "" {
			span.SetAttributes(attribute.String("upstream.error_message", msg))
		}
		p.count(ctx, p.errors, attribute.String("reason", reasonUpstreamError))
		span.SetStatus(codes.Error, fmt.Sprintf("upstream responded %d", resp.StatusCode))
		// Pass the upstream's own status through to the client.
		http.Error(w, "Upstream error", resp.StatusCode)
		return
	}

	span.SetStatus(codes.Ok, "")
	w.WriteHeader(http.StatusAccepted)
}

// reject terminates the request with status/msg, labels the errors counter
// and marks the span. Telemetry recording never alters the response.
func (p *Proxy) reject(ctx context.Context, span trace.Span, w http.ResponseWriter, status int, msg, reason string) {
	p.count(ctx, p.errors, attribute.String("reason", reason))
	span.SetStatus(codes.Error, msg)
	http.Error(w, msg, status)
}

func (p *Proxy) count(ctx context.Context, c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if c != nil {
		c.Add(ctx, 1, metric.WithAttributes(attrs...))
	}
}

func (p *Proxy) record(ctx context.Context, h metric.Int64Histogram, v int64) {
	if h != nil {
		h.Record(ctx, v)
	}
}

func (p *Proxy) recordFloat(ctx context.Context, h metric.Float64Histogram, v float64) {
	if h != nil {
		h.Record(ctx, v)
	}
}

func isJSONContentType(ct string) bool {
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func lengthReason(status int) string {
	switch status {
	case http.StatusRequestEntityTooLarge:
		return reasonPayloadTooLarge
	case http.StatusLengthRequired:
		return reasonLengthRequired
	default:
		return reasonInvalidLength
	}
}

func readReason(rerr *guard.ReadError) string {
	switch {
	case rerr.Status == http.StatusRequestEntityTooLarge:
		return reasonPayloadTooLarge
	case rerr.Timeout:
		return reasonBodyTimeout
	default:
		return reasonInvalidBody
	}
}
