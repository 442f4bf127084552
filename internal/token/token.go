// Package token issues and verifies short-lived HMAC-signed telemetry tokens.
//
// A token binds an anonymous session identifier to an expiry instant. The
// browser presents the session id out-of-band (cookie) and the token in a
// header; Verify ties the two together. Tokens carry no server-side state,
// so there is nothing to store or revoke — they simply expire.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"time"
)

// DefaultTTL is the token validity period.
const DefaultTTL = 15 * time.Minute

// ErrNoSecret indicates the signing secret is not configured. Issuance
// fails closed: no token is ever produced from a guessable default.
var ErrNoSecret = errors.New("telemetry secret not configured")

// payload is the signed inner document. Field order is fixed so the
// canonical encoding is stable across issue and verify.
type payload struct {
	SessionID string `json:"sessionId"`
	ExpiresAt int64  `json:"expiresAt"` // unix milliseconds
}

// envelope is the outer document transmitted to the client, base64-encoded.
// Compatibility-sensitive: the browser bootstrap echoes it back verbatim.
type envelope struct {
	Payload   string `json:"payload"`
	Signature string `json:"signature"`
}

// Codec issues and verifies tokens with a process-wide secret.
type Codec struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewCodec creates a codec. An empty secret is allowed but makes Issue
// return ErrNoSecret and Verify return false for every input.
func NewCodec(secret []byte) *Codec {
	return &Codec{
		secret: secret,
		ttl:    DefaultTTL,
		now:    time.Now,
	}
}

// Issue creates a signed token bound to sessionID, valid for the TTL.
func (c *Codec) Issue(sessionID string) (string, error) {
	if len(c.secret) == 0 {
		return "", ErrNoSecret
	}

	p := payload{
		SessionID: sessionID,
		ExpiresAt: c.now().Add(c.ttl).UnixMilli(),
	}
	inner, err := json.Marshal(p)
	if err != nil {
		return "", err
	}

	env := envelope{
		Payload:   string(inner),
		Signature: c.sign(inner),
	}
	outer, err := json.Marshal(env)
	if err != nil {
		return "", err
	}

	return base64.StdEncoding.EncodeToString(outer), nil
}

// Verify reports whether tok is authentic, unexpired, and bound to
// sessionID. Any decode failure, signature mismatch, session mismatch, or
// expiry yields false — callers cannot distinguish why, which keeps the
// response free of oracle signals.
func (c *Codec) Verify(tok, sessionID string) bool {
	if len(c.secret) == 0 {
		return false
	}

	outer, err := base64.StdEncoding.DecodeString(tok)
	if err != nil {
		return false
	}

	var env envelope
	if err := json.Unmarshal(outer, &env); err != nil {
		return false
	}

	// Recompute the signature over the embedded payload before parsing it.
	// Constant-time comparison, never a short-circuiting string equality.
	expected := c.sign([]byte(env.Payload))
	if subtle.ConstantTimeCompare([]byte(env.Signature), []byte(expected)) != 1 {
		return false
	}

	var p payload
	if err := json.Unmarshal([]byte(env.Payload), &p); err != nil {
		return false
	}
	if p.SessionID != sessionID {
		return false
	}
	return c.now().UnixMilli() <= p.ExpiresAt
}

func (c *Codec) sign(message []byte) string {
	h := hmac.New(sha256.New, c.secret)
	h.Write(message)
	return base64.URLEncoding.EncodeToString(h.Sum(nil))
}
