// ABOUTME: HTTP middleware for JWT authentication on API endpoints
// ABOUTME: Extracts the bearer token from the Authorization header and adds the subject to context

package auth

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// writeUnauthorized sends a JSON 401 in the same shape as the API errors.
func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="coven-chat"`)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

// HTTPAuthMiddleware creates an HTTP middleware that requires a valid bearer token.
// The token subject is attached to the request context via WithAuth.
func HTTPAuthMiddleware(verifier *JWTVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" {
				writeUnauthorized(w, errMsg)
				return
			}

			subject, err := verifier.Verify(token)
			if err != nil {
				logger.Debug("rejected bearer token", "path", r.URL.Path, "error", err)
				switch {
				case errors.Is(err, ErrExpiredToken):
					writeUnauthorized(w, "token expired")
				default:
					writeUnauthorized(w, "invalid token")
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), &AuthContext{Subject: subject})))
		})
	}
}
