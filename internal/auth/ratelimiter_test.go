package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTenantRateLimiter_Allow(t *testing.T) {
	trl := NewTenantRateLimiter(TenantRateLimiterConfig{
		DefaultRPM:   60, // 1 per second
		DefaultBurst: 5,
		CleanupTTL:   time.Minute,
	})

	tenantID := "tenant-1"

	for i := 0; i < 5; i++ {
		if !trl.Allow(tenantID) {
			t.Errorf("request %d should be allowed (within burst)", i+1)
		}
	}
	if trl.Allow(tenantID) {
		t.Error("6th request should be denied")
	}
}

func TestTenantRateLimiter_SeparateTenantsDoNotShareBuckets(t *testing.T) {
	trl := NewTenantRateLimiter(TenantRateLimiterConfig{
		DefaultRPM:   60,
		DefaultBurst: 1,
		CleanupTTL:   time.Minute,
	})

	if !trl.Allow("tenant-a") {
		t.Fatal("tenant-a's first request should be allowed")
	}
	if trl.Allow("tenant-a") {
		t.Fatal("tenant-a's second request should be denied")
	}
	if !trl.Allow("tenant-b") {
		t.Error("tenant-b should have its own independent bucket")
	}
}

func TestTenantRateLimiter_RateLimitMiddleware_UsesAccountFromAuthContext(t *testing.T) {
	trl := NewTenantRateLimiter(TenantRateLimiterConfig{
		DefaultRPM:   60,
		DefaultBurst: 1,
		CleanupTTL:   time.Minute,
	})
	h := trl.RateLimitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	authCtx := &AuthContext{Account: &Account{ID: "acct-1"}}
	newReq := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/v1/balance", nil)
		return r.WithContext(WithAuthContext(r.Context(), authCtx))
	}

	rr1 := httptest.NewRecorder()
	h.ServeHTTP(rr1, newReq())
	if rr1.Code != http.StatusOK {
		t.Fatalf("first request: got %d, want 200", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	h.ServeHTTP(rr2, newReq())
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: got %d, want 429", rr2.Code)
	}

	// A different account must not be throttled by acct-1's bucket.
	otherCtx := &AuthContext{Account: &Account{ID: "acct-2"}}
	r3 := httptest.NewRequest(http.MethodGet, "/v1/balance", nil)
	r3 = r3.WithContext(WithAuthContext(r3.Context(), otherCtx))
	rr3 := httptest.NewRecorder()
	h.ServeHTTP(rr3, r3)
	if rr3.Code != http.StatusOK {
		t.Fatalf("other account's request: got %d, want 200", rr3.Code)
	}
}

func TestTenantRateLimiter_RateLimitMiddleware_FallsBackToIP(t *testing.T) {
	trl := NewTenantRateLimiter(TenantRateLimiterConfig{
		DefaultRPM:   60,
		DefaultBurst: 1,
		CleanupTTL:   time.Minute,
	})
	h := trl.RateLimitMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	newReq := func() *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/v1/balance", nil)
		r.RemoteAddr = "203.0.113.7:54321"
		return r
	}

	rr1 := httptest.NewRecorder()
	h.ServeHTTP(rr1, newReq())
	if rr1.Code != http.StatusOK {
		t.Fatalf("first request: got %d, want 200", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	h.ServeHTTP(rr2, newReq())
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request from same IP: got %d, want 429", rr2.Code)
	}
}

func TestAnonymousRateLimitKey_HonorsForwardedHeaderOnlyFromTrustedProxy(t *testing.T) {
	trl := NewTenantRateLimiter(TenantRateLimiterConfig{
		DefaultRPM:        60,
		DefaultBurst:      5,
		CleanupTTL:        time.Minute,
		TrustedProxyCIDRs: []string{"10.0.0.0/8"},
	})

	r := httptest.NewRequest(http.MethodGet, "/v1/balance", nil)
	r.RemoteAddr = "10.0.0.5:1234" // trusted proxy
	r.Header.Set("X-Forwarded-For", "198.51.100.9")
	if got := trl.AnonymousKey(r); got != "198.51.100.9" {
		t.Errorf("AnonymousKey() = %q, want forwarded client IP", got)
	}

	r2 := httptest.NewRequest(http.MethodGet, "/v1/balance", nil)
	r2.RemoteAddr = "203.0.113.1:1234" // not a trusted proxy
	r2.Header.Set("X-Forwarded-For", "198.51.100.9")
	if got := trl.AnonymousKey(r2); got != "203.0.113.1" {
		t.Errorf("AnonymousKey() = %q, want the untrusted peer's own address", got)
	}
}
