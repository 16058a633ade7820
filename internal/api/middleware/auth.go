package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/scoreforge/scoreforge/internal/api/response"
	"github.com/scoreforge/scoreforge/internal/credential"
	"github.com/scoreforge/scoreforge/internal/session"
)

// APIKeyHeader carries the game client's key.
const APIKeyHeader = "X-API-Key"

// Auth provides the two authentication schemes: dashboard sessions and game
// API keys.
type Auth struct {
	sessions session.Verifier
}

// NewAuth creates a new Auth middleware.
func NewAuth(v session.Verifier) *Auth {
	return &Auth{sessions: v}
}

// Authenticate validates the Bearer session token and sets owner_id in the
// request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			response.Error(w, http.StatusUnauthorized,
				"AUTH_FAILURE", "Missing or invalid Authorization header")
			return
		}

		owner, err := a.sessions.Verify(token)
		if err != nil {
			slog.DebugContext(r.Context(), "session rejected", "error", err, "path", r.URL.Path)
			response.Error(w, http.StatusUnauthorized,
				"AUTH_FAILURE", "Invalid or expired session token")
			return
		}

		next.ServeHTTP(w, r.WithContext(SetOwnerID(r.Context(), owner)))
	})
}

// RequireAPIKey extracts the X-API-Key header. Verification against the
// project happens in the ingestion gateway; this only rejects requests that
// carry no well-formed key and records the prefix for rate limiting.
func (a *Auth) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := strings.TrimSpace(r.Header.Get(APIKeyHeader))
		if key == "" {
			response.Error(w, http.StatusUnauthorized,
				"AUTH_FAILURE", "Missing X-API-Key header")
			return
		}

		prefix, ok := credential.Prefix(key)
		if !ok {
			response.Error(w, http.StatusUnauthorized,
				"AUTH_FAILURE", "Invalid API key format")
			return
		}

		next.ServeHTTP(w, r.WithContext(SetAPIKey(r.Context(), key, prefix)))
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
