// Package guard enforces size and time bounds on inbound request bodies.
//
// The Content-Length header is advisory only: ValidateContentLength polices
// what the client declared, ReadBody polices what the client actually sends.
package guard

import (
	"net/http"
	"strconv"
)

// MaxSafeLength is the largest declared length accepted (2^53-1). Values
// above it are rejected as invalid rather than oversized, so the safety
// check deliberately precedes the size check.
const MaxSafeLength = int64(1)<<53 - 1

// LengthDecision is the outcome of validating a declared Content-Length.
type LengthDecision struct {
	Valid   bool
	Length  int64  // set when Valid
	Status  int    // HTTP status when !Valid
	Message string // response message when !Valid
}

// ValidateContentLength checks a declared Content-Length header value
// against the required flag and the maximum body size. It is a pure
// function; the order of checks determines the exact status returned.
func ValidateContentLength(header string, required bool, maxBodySize int64) LengthDecision {
	if header == "" {
		if required {
			return LengthDecision{Status: http.StatusLengthRequired, Message: "Length Required"}
		}
		return LengthDecision{Valid: true, Length: 0}
	}

	n, err := strconv.ParseInt(header, 10, 64)
	if err != nil || n < 0 || n > MaxSafeLength {
		return LengthDecision{Status: http.StatusBadRequest, Message: "Invalid Content-Length"}
	}

	if n > maxBodySize {
		return LengthDecision{Status: http.StatusRequestEntityTooLarge, Message: "Payload too large"}
	}

	return LengthDecision{Valid: true, Length: n}
}
