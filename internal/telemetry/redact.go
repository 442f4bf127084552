package telemetry

import (
	"net/url"
	"strings"
)

// sensitiveKeys are query parameter names whose values must never reach a
// trace attribute. Matching is by substring so api_key, apiKey and
// x-api-key all redact.
var sensitiveKeys = []string{
	"token",
	"password",
	"secret",
	"api_key",
	"apikey",
	"credential",
	"prompt",
	"input",
}

const redactedValue = "[redacted]"

// RedactURL returns the URL string with sensitive query values replaced.
// The path and non-sensitive parameters are preserved.
func RedactURL(u *url.URL) string {
	if u.RawQuery == "" {
		return u.String()
	}

	q := u.Query()
	changed := false
	for key := range q {
		if isSensitive(key) {
			q.Set(key, redactedValue)
			changed = true
		}
	}
	if !changed {
		return u.String()
	}

	clone := *u
	clone.RawQuery = q.Encode()
	return clone.String()
}

func isSensitive(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range sensitiveKeys {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
