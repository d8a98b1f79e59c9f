package logging

import (
	"log/slog"
	"strings"
)

var secretKeyParts = []string{"password", "token", "secret", "code", "session"}

// IsSecretKey reports whether values under key must never be logged verbatim.
func IsSecretKey(key string) bool {
	lower := strings.ToLower(key)
	for _, part := range secretKeyParts {
		if strings.Contains(lower, part) {
			return true
		}
	}
	return false
}

// Mask hides all but a short prefix and suffix of value.
func Mask(value string) string {
	if len(value) <= 8 {
		return "***"
	}
	return value[:4] + "..." + value[len(value)-4:]
}

// Sanitize returns a copy of payload with every secret value masked.
// Maps and slices are walked recursively; the input is not modified.
func Sanitize(payload any) any {
	return sanitize(payload, false)
}

func sanitize(value any, secret bool) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = sanitize(item, secret || IsSecretKey(key))
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[key] = sanitize(item, secret || IsSecretKey(key))
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = sanitize(item, secret)
		}
		return out
	case []map[string]any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = sanitize(item, secret)
		}
		return out
	case string:
		if secret {
			return Mask(v)
		}
		return v
	default:
		return value
	}
}

func redactAttr(_ []string, attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindString && IsSecretKey(attr.Key) {
		return slog.String(attr.Key, Mask(attr.Value.String()))
	}
	if attr.Value.Kind() != slog.KindAny {
		return attr
	}
	switch attr.Value.Any().(type) {
	case map[string]any, map[string]string, []any, []map[string]any:
		return slog.Any(attr.Key, sanitize(attr.Value.Any(), IsSecretKey(attr.Key)))
	}
	return attr
}
