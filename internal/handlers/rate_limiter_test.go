package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestLocalRateLimiterBurstAndRefill(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewLocalRateLimiter(2, func() time.Time { return now })
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		allowed, err := limiter.Allow(ctx, "orders.batch:ops")
		if err != nil || !allowed {
			t.Fatalf("request %d should be allowed", i)
		}
	}
	if allowed, _ := limiter.Allow(ctx, "orders.batch:ops"); allowed {
		t.Fatal("third request inside the burst window should be rejected")
	}
	if allowed, _ := limiter.Allow(ctx, "orders.batch:other"); !allowed {
		t.Fatal("buckets must be per key")
	}

	now = now.Add(30 * time.Second)
	if allowed, _ := limiter.Allow(ctx, "orders.batch:ops"); !allowed {
		t.Fatal("bucket should refill one token after 30s")
	}
}

func TestNewLocalRateLimiterDisabled(t *testing.T) {
	if NewLocalRateLimiter(0, nil) != nil {
		t.Fatal("expected nil limiter for non-positive rate")
	}
	if NewRedisRateLimiter(nil, "orders.batch", 10) != nil {
		t.Fatal("expected nil limiter without a client")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	t.Run("rejects over budget", func(t *testing.T) {
		handler := rateLimitMiddleware(NewLocalRateLimiter(1, nil), "catalog.import")(next)
		first := httptest.NewRecorder()
		handler.ServeHTTP(first, withActor(httptest.NewRequest(http.MethodPost, "/", nil), "a@example.com"))
		second := httptest.NewRecorder()
		handler.ServeHTTP(second, withActor(httptest.NewRequest(http.MethodPost, "/", nil), "a@example.com"))

		if first.Code != http.StatusNoContent {
			t.Fatalf("expected first request through, got %d", first.Code)
		}
		if second.Code != http.StatusTooManyRequests || second.Header().Get("Retry-After") != "60" {
			t.Fatalf("expected 429 with Retry-After, got %d %q", second.Code, second.Header().Get("Retry-After"))
		}
		if body := decodeBody(t, second); body["error"] != "rate_limited" {
			t.Fatalf("unexpected body %v", body)
		}
	})

	t.Run("fails open on limiter error", func(t *testing.T) {
		handler := rateLimitMiddleware(&stubLimiter{err: errors.New("redis down")}, "catalog.import")(next)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/", nil))
		if rr.Code != http.StatusNoContent {
			t.Fatalf("expected request through, got %d", rr.Code)
		}
	})
}
