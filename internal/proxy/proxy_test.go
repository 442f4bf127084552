package proxy

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studioml/beacon/internal/log"
	"github.com/studioml/beacon/internal/token"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

const testSession = "11111111-2222-3333-4444-555555555555"

// upstreamStub records calls and replies with a fixed status.
type upstreamStub struct {
	calls  atomic.Int64
	status int
	delay  time.Duration
	body   []byte // last received body
	path   string // last received path
	ctype  string // last received content type
}

func (u *upstreamStub) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)
		u.path = r.URL.Path
		u.ctype = r.Header.Get("Content-Type")
		u.body, _ = io.ReadAll(r.Body)
		if u.delay > 0 {
			time.Sleep(u.delay)
		}
		w.WriteHeader(u.status)
	})
}

func newTestProxy(t *testing.T, endpoint string) (*Proxy, *token.Codec) {
	t.Helper()
	codec := token.NewCodec(testSecret)
	p := New(Config{
		Codec:           codec,
		Endpoint:        endpoint,
		Headers:         map[string]string{"x-collector-key": "abc"},
		Logger:          log.NewNop(),
		MaxBodyBytes:    1_000_000,
		ReadTimeout:     time.Second,
		UpstreamTimeout: 5 * time.Second,
	})
	return p, codec
}

func authedRequest(t *testing.T, codec *token.Codec, body []byte) *http.Request {
	t.Helper()
	tok, err := codec.Issue(testSession)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/telemetry/traces", bytes.NewReader(body))
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: testSession})
	req.Header.Set(TokenHeader, tok)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Content-Length", strconv.Itoa(len(body)))
	return req
}

func TestProxy_ForwardsValidPayload(t *testing.T) {
	stub := &upstreamStub{status: http.StatusOK}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	p, codec := newTestProxy(t, srv.URL)
	payload := []byte(`{"resourceSpans":[{"scopeSpans":[]}]}`)

	w := httptest.NewRecorder()
	p.ServeHTTP(w, authedRequest(t, codec, payload))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, int64(1), stub.calls.Load())
	assert.Equal(t, "/v1/traces", stub.path)
	assert.Equal(t, "application/json", stub.ctype)
	// Byte-exact forwarding, not a re-serialization.
	assert.Equal(t, payload, stub.body)
}

func TestProxy_MissingToken(t *testing.T) {
	stub := &upstreamStub{status: http.StatusOK}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	p, codec := newTestProxy(t, srv.URL)
	req := authedRequest(t, codec, []byte(`{}`))
	req.Header.Del(TokenHeader)

	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, int64(0), stub.calls.Load(), "no upstream call for unauthenticated requests")
}

func TestProxy_TokenBoundToSession(t *testing.T) {
	p, codec := newTestProxy(t, "http://collector.invalid")
	req := authedRequest(t, codec, []byte(`{}`))

	// Replace the session cookie so it no longer matches the token.
	req.Header.Del("Cookie")
	req.AddCookie(&http.Cookie{Name: SessionCookieName, Value: "other-session"})

	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestProxy_WrongContentType(t *testing.T) {
	p, codec := newTestProxy(t, "http://collector.invalid")
	req := authedRequest(t, codec, []byte(`{}`))
	req.Header.Set("Content-Type", "text/plain")

	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
}

func TestProxy_JSONSuffixContentTypeAccepted(t *testing.T) {
	stub := &upstreamStub{status: http.StatusOK}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	p, codec := newTestProxy(t, srv.URL)
	req := authedRequest(t, codec, []byte(`{}`))
	req.Header.Set("Content-Type", "application/vnd.otlp+json; charset=utf-8")

	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)

	assert.Equal(t, http.StatusAccepted, w.Code)
}

func TestProxy_MissingContentLength(t *testing.T) {
	p, codec := newTestProxy(t, "http://collector.invalid")
	req := authedRequest(t, codec, []byte(`{}`))
	req.Header.Del("Content-Length")

	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)

	assert.Equal(t, http.StatusLengthRequired, w.Code)
}

func TestProxy_DeclaredLengthTooLarge(t *testing.T) {
	stub := &upstreamStub{status: http.StatusOK}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	p, codec := newTestProxy(t, srv.URL)
	req := authedRequest(t, codec, []byte(`{}`))
	req.Header.Set("Content-Length", "1000001")

	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
	assert.Equal(t, int64(0), stub.calls.Load(), "rejected by header before any body read or upstream call")
}

func TestProxy_EmptyDeclaredLength(t *testing.T) {
	p, codec := newTestProxy(t, "http://collector.invalid")
	req := authedRequest(t, codec, nil)
	req.Header.Set("Content-Length", "0")

	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProxy_MisconfiguredUpstream(t *testing.T) {
	p, codec := newTestProxy(t, "")

	w := httptest.NewRecorder()
	p.ServeHTTP(w, authedRequest(t, codec, []byte(`{}`)))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestProxy_BodyExceedsDeclaredLength(t *testing.T) {
	p, codec := newTestProxy(t, "http://collector.invalid")
	body := []byte(`{"a":"0123456789"}`)
	req := authedRequest(t, codec, body)
	// Under-declare: actual stream delivers more than promised.
	req.Header.Set("Content-Length", strconv.Itoa(len(body)-5))

	w := httptest.NewRecorder()
	p.ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestProxy_UpstreamErrorPassthrough(t *testing.T) {
	stub := &upstreamStub{status: http.StatusBadGateway}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	p, codec := newTestProxy(t, srv.URL)

	w := httptest.NewRecorder()
	p.ServeHTTP(w, authedRequest(t, codec, []byte(`{}`)))

	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Equal(t, int64(1), stub.calls.Load())
}

func TestProxy_UpstreamTimeout(t *testing.T) {
	stub := &upstreamStub{status: http.StatusOK, delay: 500 * time.Millisecond}
	srv := httptest.NewServer(stub.handler())
	defer srv.Close()

	codec := token.NewCodec(testSecret)
	p := New(Config{
		Codec:           codec,
		Endpoint:        srv.URL,
		Logger:          log.NewNop(),
		MaxBodyBytes:    1_000_000,
		ReadTimeout:     time.Second,
		UpstreamTimeout: 30 * time.Millisecond,
	})

	w := httptest.NewRecorder()
	p.ServeHTTP(w, authedRequest(t, codec, []byte(`{}`)))

	assert.Equal(t, http.StatusGatewayTimeout, w.Code)
}

func TestProxy_UpstreamConnectionFailure(t *testing.T) {
	// A server that is immediately closed guarantees a connect error.
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	p, codec := newTestProxy(t, url)

	w := httptest.NewRecorder()
	p.ServeHTTP(w, authedRequest(t, codec, []byte(`{}`)))

	assert.Equal(t, http.StatusBadGateway, w.Code)
}

func TestProxy_ExtraHeadersAttached(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("x-collector-key")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, codec := newTestProxy(t, srv.URL)

	w := httptest.NewRecorder()
	p.ServeHTTP(w, authedRequest(t, codec, []byte(`{}`)))

	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, "abc", gotKey)
}
