package config

import (
	"fmt"
	"strings"
)

// ParseOTLPHeaders parses the OTEL_EXPORTER_OTLP_HEADERS syntax:
// comma-separated key=value pairs where a value may be double-quoted to
// contain commas, and quotes inside a quoted value are escaped with a
// backslash. Example: `authorization=Bearer abc, x-tag="a,b", q="say \"hi\""`.
func ParseOTLPHeaders(s string) (map[string]string, error) {
	headers := make(map[string]string)
	if strings.TrimSpace(s) == "" {
		return headers, nil
	}

	for _, pair := range splitPairs(s) {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, "=")
		if !ok {
			return nil, fmt.Errorf("header entry %q missing '='", pair)
		}
		key = strings.TrimSpace(key)
		if key == "" {
			return nil, fmt.Errorf("header entry %q has empty key", pair)
		}
		value = strings.TrimSpace(value)
		if unquoted, err := unquote(value); err != nil {
			return nil, fmt.Errorf("header %q: %w", key, err)
		} else {
			value = unquoted
		}
		headers[key] = value
	}
	return headers, nil
}

// splitPairs splits on commas that are not inside a double-quoted value.
func splitPairs(s string) []string {
	var pairs []string
	var cur strings.Builder
	inQuotes := false
	escaped := false

	for _, r := range s {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\' && inQuotes:
			cur.WriteRune(r)
			escaped = true
		case r == '"':
			cur.WriteRune(r)
			inQuotes = !inQuotes
		case r == ',' && !inQuotes:
			pairs = append(pairs, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	pairs = append(pairs, cur.String())
	return pairs
}

// unquote strips surrounding double quotes and resolves \" and \\ escapes.
// Unquoted values pass through unchanged.
func unquote(s string) (string, error) {
	if len(s) < 2 || s[0] != '"' {
		return s, nil
	}
	if s[len(s)-1] != '"' {
		return "", fmt.Errorf("unterminated quoted value %q", s)
	}

	inner := s[1 : len(s)-1]
	var out strings.Builder
	escaped := false
	for _, r := range inner {
		switch {
		case escaped:
			if r != '"' && r != '\\' {
				out.WriteRune('\\')
			}
			out.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '"':
			return "", fmt.Errorf("unescaped quote inside quoted value %q", s)
		default:
			out.WriteRune(r)
		}
	}
	if escaped {
		return "", fmt.Errorf("dangling escape in quoted value %q", s)
	}
	return out.String(), nil
}
