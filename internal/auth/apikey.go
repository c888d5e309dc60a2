package auth

import (
	"net/http"
	"strings"

	"github.com/pendergraft/deployproof/internal/storage"
)

// KeyFromRequest returns the API key sent in X-API-Key or as a Bearer token.
func KeyFromRequest(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// WellFormed reports whether key looks like a deployproof API key.
func WellFormed(key string) bool {
	return strings.HasPrefix(key, storage.APIKeyPrefix) && len(key) > len(storage.APIKeyPrefix)
}

// Redact shortens a key for display, keeping the prefix and four characters.
func Redact(key string) string {
	if !WellFormed(key) {
		return "***"
	}
	rest := strings.TrimPrefix(key, storage.APIKeyPrefix)
	if len(rest) > 4 {
		rest = rest[:4]
	}
	return storage.APIKeyPrefix + rest + "..."
}
