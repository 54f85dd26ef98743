package llm

import (
	"regexp"
	"strings"
)

// keyPattern matches the common API key shapes (sk-..., key-..., long
// opaque tokens after key= / bearer).
var keyPattern = regexp.MustCompile(`(?i)(sk-[A-Za-z0-9_\-]{8,}|(api[_-]?key|authorization|bearer)[=:\s]+[A-Za-z0-9_\-\.]{8,})`)

// RedactKey masks an API key for logs, keeping just enough to identify it.
func RedactKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "…" + key[len(key)-2:]
}

// Scrub removes a known secret and anything key-shaped from s before it
// reaches a log line or an error payload.
func Scrub(s string, secrets ...string) string {
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		s = strings.ReplaceAll(s, secret, RedactKey(secret))
	}
	return keyPattern.ReplaceAllString(s, "[redacted]")
}
