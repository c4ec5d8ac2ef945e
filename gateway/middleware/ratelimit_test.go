package middleware

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
	limiter := NewRateLimiter(map[string]RateLimit{
		"wallet": {RatePerSecond: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("wallet")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/tx/relay", nil)
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

func TestRateLimiterSeparatesGroups(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"wallet": {RatePerSecond: 1, Burst: 1},
		"reads":  {RatePerSecond: 1, Burst: 1},
	}, nil)
	walletHandler := limiter.Middleware("wallet")(okHandler())
	readsHandler := limiter.Middleware("reads")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/permit", nil)
	req.Header.Set("X-API-Key", "tenant-A")
	res := httptest.NewRecorder()
	walletHandler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected wallet request to succeed, got %d", res.Code)
	}

	readReq := httptest.NewRequest(http.MethodGet, "/api/metrics", nil)
	readReq.Header.Set("X-API-Key", "tenant-A")
	readRes := httptest.NewRecorder()
	readsHandler.ServeHTTP(readRes, readReq)
	if readRes.Code != http.StatusOK {
		t.Fatalf("expected first read to succeed, got %d", readRes.Code)
	}

	readRes = httptest.NewRecorder()
	readsHandler.ServeHTTP(readRes, readReq)
	if readRes.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second read to hit limit, got %d", readRes.Code)
	}
}

func TestRateLimiterAppliesRouteTokens(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"wallet": {
			RatePerSecond: 5,
			Burst:         5,
			DefaultTokens: 1,
			Tokens: map[string]int{
				"POST /api/tx/relay": 3,
			},
		},
	}, nil)
	handler := limiter.Middleware("wallet")(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/api/tx/relay", nil)
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected first relay to succeed, got %d", res.Code)
	}

	res = httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected second relay to exhaust the burst, got %d", res.Code)
	}

	permitReq := httptest.NewRequest(http.MethodPost, "/api/permit", nil)
	permitRes := httptest.NewRecorder()
	handler.ServeHTTP(permitRes, permitReq)
	if permitRes.Code != http.StatusOK {
		t.Fatalf("expected permit route to succeed with default token cost, got %d", permitRes.Code)
	}
}

func TestRateLimiterPrefersAPIKeyOverIP(t *testing.T) {
	limiter := NewRateLimiter(map[string]RateLimit{
		"wallet": {RatePerSecond: 1, Burst: 1},
	}, nil)
	handler := limiter.Middleware("wallet")(okHandler())

	for _, tenant := range []string{"tenant-A", "tenant-B"} {
		req := httptest.NewRequest(http.MethodGet, "/api/permit", nil)
		req.Header.Set("X-API-Key", tenant)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusOK {
			t.Fatalf("expected %s request to succeed, got %d", tenant, res.Code)
		}
	}
}

func TestRateLimiterUnknownGroupPassesThrough(t *testing.T) {
	limiter := NewRateLimiter(nil, nil)
	handler := limiter.Middleware("missing")(okHandler())
	for i := 0; i < 3; i++ {
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/", nil))
		if res.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200 got %d", i, res.Code)
		}
	}
}
