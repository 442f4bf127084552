package api

import (
	"net/http"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/studioml/beacon/internal/log"
	"github.com/studioml/beacon/internal/proxy"
	"github.com/studioml/beacon/internal/token"
)

// SessionCookieMaxAge is the anonymous session cookie lifetime in seconds.
const SessionCookieMaxAge = 24 * 3600

// TokenHandler issues telemetry tokens bound to the anonymous session
// cookie, creating the cookie on first contact.
type TokenHandler struct {
	codec  *token.Codec
	isDev  bool
	logger log.Logger
	issued metric.Int64Counter
}

// NewTokenHandler creates the token issuance handler. isDev disables the
// Secure cookie flag so local HTTP development works.
func NewTokenHandler(codec *token.Codec, isDev bool, logger log.Logger) *TokenHandler {
	h := &TokenHandler{codec: codec, isDev: isDev, logger: logger}

	issued, err := otel.Meter("beacon/telemetry-guard").Int64Counter("telemetry_tokens_issued_total",
		metric.WithDescription("Telemetry tokens issued to anonymous sessions"))
	if err != nil {
		// Metric failures never break issuance.
		logger.Warn("failed to create token counter", "error", err)
	} else {
		h.issued = issued
	}

	return h
}

// tokenResponse is the issuance payload. Token is null when the server
// secret is unconfigured: the client learns telemetry is disabled without
// receiving a forgeable token.
type tokenResponse struct {
	Token *string `json:"token"`
}

// ServeHTTP handles GET /api/telemetry/token.
func (h *TokenHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := ""
	if c, err := r.Cookie(proxy.SessionCookieName); err == nil && c.Value != "" {
		sessionID = c.Value
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     proxy.SessionCookieName,
			Value:    sessionID,
			Path:     "/",
			MaxAge:   SessionCookieMaxAge,
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			Secure:   !h.isDev,
		})
	}

	var resp tokenResponse
	tok, err := h.codec.Issue(sessionID)
	if err != nil {
		// Fail closed: no secret, no token. The endpoint itself stays 200.
		h.logger.Warn("token issuance disabled", "error", err)
	} else {
		resp.Token = &tok
		if h.issued != nil {
			h.issued.Add(r.Context(), 1)
		}
	}

	writeJSON(w, http.StatusOK, resp, h.logger)
}
