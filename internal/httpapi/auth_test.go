package httpapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"clinicq/waitqueue-service/internal/store"
)

type fakeSessionStore struct {
	sessions map[string]store.Session
	err      error
}

func (f *fakeSessionStore) GetSession(ctx context.Context, sessionID string) (store.Session, error) {
	if f.err != nil {
		return store.Session{}, f.err
	}
	session, ok := f.sessions[sessionID]
	if !ok {
		return store.Session{}, store.ErrSessionNotFound
	}
	return session, nil
}

func staffSession() store.Session {
	return store.Session{
		SessionID: "tok-1",
		UserID:    "u1",
		TenantID:  testTenant,
		Role:      "staff",
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func echoTenant() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		session, ok := sessionFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusTeapot)
			return
		}
		_, _ = w.Write([]byte(session.TenantID))
	})
}

func TestAuthMiddlewareBearerToken(t *testing.T) {
	sessions := &fakeSessionStore{sessions: map[string]store.Session{"tok-1": staffSession()}}
	handler := AuthMiddleware(sessions, echoTenant())

	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if rec.Body.String() != testTenant {
		t.Fatalf("tenant = %q", rec.Body.String())
	}
}

func TestAuthMiddlewareQueryFallback(t *testing.T) {
	sessions := &fakeSessionStore{sessions: map[string]store.Session{"tok-1": staffSession()}}
	handler := AuthMiddleware(sessions, echoTenant())

	req := httptest.NewRequest(http.MethodGet, "/api/queue?session_id=tok-1", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAuthMiddlewareMissingToken(t *testing.T) {
	handler := AuthMiddleware(&fakeSessionStore{}, echoTenant())

	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAuthMiddlewareUnknownSession(t *testing.T) {
	handler := AuthMiddleware(&fakeSessionStore{sessions: map[string]store.Session{}}, echoTenant())

	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAuthMiddlewareExpiredSession(t *testing.T) {
	handler := AuthMiddleware(&fakeSessionStore{err: store.ErrSessionExpired}, echoTenant())

	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAuthMiddlewareRoleDenied(t *testing.T) {
	session := staffSession()
	session.Role = "patient"
	sessions := &fakeSessionStore{sessions: map[string]store.Session{"tok-1": session}}
	handler := AuthMiddleware(sessions, echoTenant())

	req := httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	req.Header.Set("Authorization", "Bearer tok-1")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAuthMiddlewarePublicPassthrough(t *testing.T) {
	handler := AuthMiddleware(&fakeSessionStore{}, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for _, path := range []string{"/healthz", "/metrics", "/api/public/tickets", "/realtime/123/abc/xhr"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("path %s status = %d", path, rec.Code)
		}
	}
}

func TestSessionIDFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/queue?session_id=query-tok", nil)
	req.Header.Set("Authorization", "Bearer header-tok")
	if got := SessionIDFromRequest(req); got != "header-tok" {
		t.Fatalf("got %q, want header token to win", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/queue", nil)
	req.Header.Set("Authorization", "Basic abc")
	if got := SessionIDFromRequest(req); got != "" {
		t.Fatalf("got %q, want empty for non-bearer", got)
	}
}
