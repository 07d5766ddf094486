package llm

import (
	"fmt"
	"net/http"
	"strings"
)

const maxExcerptRunes = 300

// Classify renders a non-2xx response as a human-readable message. The
// message always names the model and numeric status, and appends the body
// excerpt only when it is non-empty.
func Classify(status int, model, excerpt string) string {
	var prefix string
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		prefix = "Authentication failed"
	case status == http.StatusNotFound:
		prefix = "Model or endpoint not found"
	case status == http.StatusTooManyRequests:
		prefix = "Rate limited"
	case status >= 500 && status <= 599:
		prefix = "Provider server error"
	default:
		prefix = "Connection test failed"
	}

	msg := fmt.Sprintf("%s (HTTP %d) for model %s", prefix, status, model)
	if excerpt = strings.TrimSpace(excerpt); excerpt != "" {
		msg += ": " + excerpt
	}
	return msg
}

// Excerpt trims s and bounds it to a short, single-line diagnostic snippet.
func Excerpt(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) > maxExcerptRunes {
		return string(runes[:maxExcerptRunes]) + "..."
	}
	return s
}
