package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterBlocksAfterBurst(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"vault": {RatePerSecond: 1, Burst: 1},
	}, nil)

	handler := limiter.Middleware("vault")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/vault/assets", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second request to be rate limited, got %d", res.Code)
	}
}

func TestRateLimiterSeparatesKeys(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"vault": {RatePerSecond: 1, Burst: 1},
		"audit": {RatePerSecond: 1, Burst: 1},
	}, nil)

	vaultHandler := limiter.Middleware("vault")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	auditHandler := limiter.Middleware("audit")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/vault/assets", nil)
	req.Header.Set("X-API-Key", "tenant-A")
	res := httptest.NewRecorder()
	vaultHandler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected vault request to succeed, got %d", res.Code)
	}

	auditReq := httptest.NewRequest(http.MethodGet, "/v1/audit/liquidations", nil)
	auditReq.Header.Set("X-API-Key", "tenant-A")
	auditRes := httptest.NewRecorder()
	auditHandler.ServeHTTP(auditRes, auditReq)
	if auditRes.Code != http.StatusOK {
		t.Fatalf("expected first audit request to succeed, got %d", auditRes.Code)
	}

	auditRes = httptest.NewRecorder()
	auditHandler.ServeHTTP(auditRes, auditReq)
	if auditRes.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second audit request to hit limit, got %d", auditRes.Code)
	}
}

func TestRateLimiterAppliesRouteTokens(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"vault": {
			RatePerSecond: 5,
			Burst:         5,
			DefaultTokens: 1,
			Tokens: map[string]int{
				"POST /v1/vault/liquidate": 3,
			},
		},
	}, nil)

	handler := limiter.Middleware("vault")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodPost, "/v1/vault/liquidate", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first liquidate request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second liquidate request to consume burst and be rate limited, got %d", res.Code)
	}

	// A different route should still be able to proceed because it only
	// consumes the default token cost of 1.
	healthReq := httptest.NewRequest(http.MethodGet, "/v1/vault/assets", nil)
	healthRes := httptest.NewRecorder()
	handler.ServeHTTP(healthRes, healthReq)
	if healthRes.Code != http.StatusOK {
		t.Fatalf("expected asset route to succeed with default token cost, got %d", healthRes.Code)
	}
}

func TestRateLimiterPrefersAPIKeyOverIP(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"vault": {RatePerSecond: 1, Burst: 1},
	}, nil)

	handler := limiter.Middleware("vault")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	reqA := httptest.NewRequest(http.MethodGet, "/v1/vault/assets", nil)
	reqA.Header.Set("X-API-Key", "tenant-A")
	resA := httptest.NewRecorder()
	handler.ServeHTTP(resA, reqA)
	if resA.Code != http.StatusOK {
		t.Fatalf("expected tenant A request to succeed, got %d", resA.Code)
	}

	reqB := httptest.NewRequest(http.MethodGet, "/v1/vault/assets", nil)
	reqB.Header.Set("X-API-Key", "tenant-B")
	resB := httptest.NewRecorder()
	handler.ServeHTTP(resB, reqB)
	if resB.Code != http.StatusOK {
		t.Fatalf("expected tenant B request to succeed, got %d", resB.Code)
	}
}

func TestRateLimiterEvictsStaleVisitors(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"vault": {RatePerSecond: 1, Burst: 1},
	}, nil)
	now := time.Unix(1_700_000_000, 0)
	limiter.clockNow = func() time.Time { return now }

	handler := limiter.Middleware("vault")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/vault/assets", nil)
	req.Header.Set("X-API-Key", "tenant-A")
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first request to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected exhausted bucket, got %d", res.Code)
	}

	now = now.Add(visitorStaleAfter + time.Minute)
	other := httptest.NewRequest(http.MethodGet, "/v1/vault/assets", nil)
	other.Header.Set("X-API-Key", "tenant-B")
	res = httptest.NewRecorder()
	handler.ServeHTTP(res, other)
	if res.Code != http.StatusOK {
		t.Fatalf("expected tenant B request to succeed, got %d", res.Code)
	}

	limiter.mu.Lock()
	count := len(limiter.visitors)
	_, staleKept := limiter.visitors["vault|tenant-A"]
	limiter.mu.Unlock()
	if staleKept {
		t.Fatalf("expected stale tenant A bucket to be swept")
	}
	if count != 1 {
		t.Fatalf("expected a single live visitor, found %d entries", count)
	}
}
