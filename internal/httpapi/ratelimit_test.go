package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 60, IPBurst: 3, TenantPerMinute: 600, TenantBurst: 120})
	handler := limiter.Middleware(okHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/public/queue", nil)
		req.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/public/queue", nil)
	req.RemoteAddr = "10.0.0.1:5000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if code := decodeError(t, rec); code != "rate_limited" {
		t.Fatalf("code = %q", code)
	}
}

func TestRateLimiterKeysByIP(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 60, IPBurst: 1, TenantPerMinute: 600, TenantBurst: 120})
	handler := limiter.Middleware(okHandler())

	first := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	first.RemoteAddr = "10.0.0.1:5000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, first)
	if rec.Code != http.StatusOK {
		t.Fatalf("first status = %d", rec.Code)
	}

	other := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	other.RemoteAddr = "10.0.0.2:5000"
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, other)
	if rec.Code != http.StatusOK {
		t.Fatalf("other IP status = %d", rec.Code)
	}
}

func TestRateLimiterUsesForwardedFor(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 60, IPBurst: 1, TenantPerMinute: 600, TenantBurst: 120})
	handler := limiter.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.0.0.9:5000"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.9")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	// Same origin behind a different proxy hop is still the same key.
	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.0.0.10:5000"
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}

func TestRateLimiterTenantQuota(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 6000, IPBurst: 1000, TenantPerMinute: 60, TenantBurst: 2})
	handler := limiter.Middleware(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/public/queue?tenant_id="+testTenant, nil)
		req.RemoteAddr = "10.0.0.1:5000"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, rec.Code)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/public/queue?tenant_id="+testTenant, nil)
	req.RemoteAddr = "10.0.0.2:5000"
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
}
