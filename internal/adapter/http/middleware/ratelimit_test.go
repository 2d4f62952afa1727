package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/iho/cryptoledger/internal/domain"
	"github.com/iho/cryptoledger/internal/infrastructure/metrics"
)

func limitedRequest(userID int64) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/withdraw", nil)
	if userID == 0 {
		return req
	}
	return req.WithContext(domain.WithUserID(req.Context(), userID))
}

func TestRateLimiter_HourlyLimitPerUser(t *testing.T) {
	m := metrics.NewWithRegisterer(prometheus.NewRegistry())
	rl := NewRateLimiter(Limits{"withdraw": 2}, 60, m)

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	handler := rl.Limit("withdraw")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, limitedRequest(1))
		codes = append(codes, rr.Code)

		if i == 2 && rr.Header().Get("Retry-After") != "1800" {
			t.Fatalf("expected Retry-After 1800, got %q", rr.Header().Get("Retry-After"))
		}
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}
	if got := testutil.ToFloat64(m.RateLimitHits.WithLabelValues("withdraw")); got != 1 {
		t.Fatalf("expected one rate limit hit, got %v", got)
	}

	// Another user has their own bucket.
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, limitedRequest(2))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected other user to pass, got %d", rr.Code)
	}

	// Half an hour refills one withdrawal.
	now = now.Add(30 * time.Minute)
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, limitedRequest(1))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected refill after 30m, got %d", rr.Code)
	}
}

func TestRateLimiter_Headers(t *testing.T) {
	rl := NewRateLimiter(nil, 60, nil)

	rr := httptest.NewRecorder()
	rl.Limit("balances")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})).
		ServeHTTP(rr, limitedRequest(1))

	if rr.Header().Get("X-RateLimit-Limit") != "60" || rr.Header().Get("X-RateLimit-Remaining") != "59" {
		t.Fatalf("unexpected headers %v", rr.Header())
	}
}

func TestRateLimiter_SkipsAnonymous(t *testing.T) {
	rl := NewRateLimiter(Limits{"withdraw": 1}, 1, nil)
	handler := rl.Limit("withdraw")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, limitedRequest(0))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected anonymous request to pass, got %d", rr.Code)
		}
	}
}

func TestRateLimiter_CleanupLimiters(t *testing.T) {
	rl := NewRateLimiter(nil, 10, nil)
	now := time.Now()
	rl.now = func() time.Time { return now }

	rl.getLimiter(limiterKey{userID: 1, operation: "deposit"})
	now = now.Add(2 * time.Hour)
	rl.getLimiter(limiterKey{userID: 2, operation: "deposit"})

	if removed := rl.CleanupLimiters(time.Hour); removed != 1 {
		t.Fatalf("expected one idle limiter removed, got %d", removed)
	}
	if len(rl.limiters) != 1 {
		t.Fatalf("expected one limiter left, got %d", len(rl.limiters))
	}
}
