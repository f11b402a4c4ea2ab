package observability

import (
	"strings"
	"unicode"
)

// clip removes control characters, which could forge log lines, and keeps at most limit runes.
func clip(value string, limit int) string {
	var b strings.Builder
	n := 0
	for _, r := range value {
		if n == limit {
			break
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

// SanitizeRoute bounds a route pattern used as a log field and metric label.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return clip(route, 180)
}

func SanitizeMethod(method string) string { return clip(method, 10) }

// SanitizeUserID bounds actor identifiers written to request logs.
func SanitizeUserID(uid string) string { return clip(uid, 64) }
