package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"clinicq/waitqueue-service/internal/store"
)

type sessionContextKey struct{}

// AuthMiddleware resolves the caller's session for management routes.
// Public take-a-number routes, health, metrics, and the realtime
// endpoint pass through untouched; realtime room membership is
// handled by the sockjs endpoint itself.
func AuthMiddleware(sessions store.SessionStore, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPublicEndpoint(r) {
			next.ServeHTTP(w, r)
			return
		}
		sessionID := SessionIDFromRequest(r)
		if sessionID == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing session")
			return
		}
		session, err := sessions.GetSession(r.Context(), sessionID)
		if err != nil {
			if errors.Is(err, store.ErrSessionNotFound) || errors.Is(err, store.ErrSessionExpired) {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid session")
				return
			}
			writeError(w, http.StatusInternalServerError, "internal_error", "internal server error")
			return
		}
		if !roleAllowed(session.Role) {
			writeError(w, http.StatusForbidden, "access_denied", "access denied")
			return
		}
		ctx := context.WithValue(r.Context(), sessionContextKey{}, session)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func sessionFromContext(ctx context.Context) (store.Session, bool) {
	value := ctx.Value(sessionContextKey{})
	session, ok := value.(store.Session)
	return session, ok
}

// ContextWithSession is exported for handler tests.
func ContextWithSession(ctx context.Context, session store.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, session)
}

func isPublicEndpoint(r *http.Request) bool {
	switch r.URL.Path {
	case "/healthz", "/metrics":
		return true
	}
	if strings.HasPrefix(r.URL.Path, "/api/public/") {
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/realtime")
}

func roleAllowed(role string) bool {
	switch role {
	case "staff", "admin":
		return true
	default:
		return false
	}
}

// SessionIDFromRequest pulls the session token from the Authorization
// header, falling back to a query parameter for transports that cannot
// set headers.
func SessionIDFromRequest(r *http.Request) string {
	if token := bearerToken(r.Header.Get("Authorization")); token != "" {
		return token
	}
	return strings.TrimSpace(r.URL.Query().Get("session_id"))
}

func bearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}
