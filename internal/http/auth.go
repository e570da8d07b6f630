package http

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
)

const (
	msgTokenRequired = "Authentication token is required"
	msgTokenInvalid  = "Invalid or expired token"
)

// parseAuthorization splits an Authorization header into its scheme and
// credentials (RFC 7235). ok is false when the header is absent or carries
// no credentials.
func parseAuthorization(r *http.Request) (scheme, credentials string, ok bool) {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if auth == "" {
		return "", "", false
	}
	scheme, credentials, _ = strings.Cut(auth, " ")
	credentials = strings.TrimSpace(credentials)
	if credentials == "" {
		return scheme, "", false
	}
	return scheme, credentials, true
}

// tokenMatch performs a constant-time comparison of a provided token against the expected token.
// An unset expected token matches nothing.
func tokenMatch(provided, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(provided), []byte(expected)) == 1
}

// authMiddleware requires "Authorization: Bearer <token>" matching the
// configured API token. A header without credentials is 401; any other
// scheme or a wrong token is 403.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, token, ok := parseAuthorization(r)
		if !ok {
			slog.Warn("security.auth_missing", "path", r.URL.Path, "client", clientIP(r))
			writeJSON(w, http.StatusUnauthorized, errorResponse{Message: msgTokenRequired})
			return
		}
		if !strings.EqualFold(scheme, "Bearer") || !tokenMatch(token, s.Token()) {
			slog.Warn("security.auth_invalid", "path", r.URL.Path, "scheme", scheme, "client", clientIP(r))
			writeJSON(w, http.StatusForbidden, errorResponse{Message: msgTokenInvalid})
			return
		}
		next.ServeHTTP(w, r)
	})
}
