package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func okHandler(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

func TestRateLimit_RequestsWithinLimit(t *testing.T) {
	cfg := RateLimitConfig{
		RequestsPerSecond: 10,
		BurstSize:         5,
	}

	e := echo.New()
	handler := RateLimit(cfg)(okHandler)

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)

		if err := handler(c); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit '10', got %q", i+1, got)
		}
	}
}

func TestRateLimit_ExceedsLimit(t *testing.T) {
	cfg := RateLimitConfig{
		RequestsPerSecond: 1,
		BurstSize:         2,
	}

	e := echo.New()
	handler := RateLimit(cfg)(okHandler)

	for i := 0; i < 2; i++ {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
		if err := handler(c); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
	}

	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	err := handler(c)
	if err == nil {
		t.Fatal("expected error for rate-limited request")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", httpErr.Code)
	}

	retryVal, parseErr := strconv.Atoi(rec.Header().Get("Retry-After"))
	if parseErr != nil || retryVal < 1 {
		t.Errorf("expected Retry-After >= 1, got %q", rec.Header().Get("Retry-After"))
	}
	if remaining := rec.Header().Get("X-RateLimit-Remaining"); remaining != "0" {
		t.Errorf("expected X-RateLimit-Remaining '0', got %q", remaining)
	}
}

func TestRateLimit_PerActorIsolation(t *testing.T) {
	cfg := RateLimitConfig{
		RequestsPerSecond: 1,
		BurstSize:         1,
	}

	e := echo.New()
	handler := RateLimit(cfg)(okHandler)

	call := func(actorID string) error {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
		if actorID != "" {
			c.Set("actor_id", actorID)
		}
		return handler(c)
	}

	if err := call("admin-a"); err != nil {
		t.Fatalf("admin-a first request: expected no error, got %v", err)
	}
	if err := call("admin-a"); err == nil {
		t.Fatal("admin-a second request: expected rate limit error")
	}
	if err := call("admin-b"); err != nil {
		t.Fatalf("admin-b first request: expected no error, got %v", err)
	}
	// Anonymous callers share the IP bucket, separate from actors.
	if err := call(""); err != nil {
		t.Fatalf("anonymous first request: expected no error, got %v", err)
	}
}

func TestRateLimitKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:5555"
	c := e.NewContext(req, httptest.NewRecorder())
	if got := rateLimitKey(c); got != "ip:10.0.0.7" {
		t.Errorf("expected ip key, got %q", got)
	}
	c.Set("actor_id", "doc-1")
	if got := rateLimitKey(c); got != "actor:doc-1" {
		t.Errorf("expected actor key, got %q", got)
	}
}

func TestRateLimit_DefaultConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 20 {
		t.Errorf("expected RequestsPerSecond 20, got %f", cfg.RequestsPerSecond)
	}
	if cfg.BurstSize != 40 {
		t.Errorf("expected BurstSize 40, got %d", cfg.BurstSize)
	}
}

func TestTokenBucket_Refill(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	b := newTokenBucket(2, 1, func() time.Time { return now })

	if !b.allow() {
		t.Fatal("first request should pass")
	}
	if b.allow() {
		t.Fatal("bucket should be empty")
	}
	now = now.Add(500 * time.Millisecond)
	if !b.allow() {
		t.Error("expected one token after half a second at 2 rps")
	}
}

func TestTokenBucket_RetryAfterWithZeroRate(t *testing.T) {
	b := newTokenBucket(0, 1, time.Now)
	b.allow()
	if ra := b.retryAfter(); ra != 1 {
		t.Errorf("expected retryAfter 1 for zero rate, got %d", ra)
	}
}

func TestRateLimiterStore_ReusesBucket(t *testing.T) {
	store := newRateLimiterStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})
	if store.getBucket("k") != store.getBucket("k") {
		t.Error("expected the same bucket for the same key")
	}
	if store.getBucket("k") == store.getBucket("other") {
		t.Error("expected distinct buckets for distinct keys")
	}
}

func TestRateLimiterStore_EvictsIdleBuckets(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	store := newRateLimiterStore(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})
	store.now = func() time.Time { return now }
	store.lastSweep = now

	idle := store.getBucket("idle")
	idle.allow()
	busy := store.getBucket("busy")
	for i := 0; i < 2; i++ {
		busy.allow()
	}

	// Before the sweep interval nothing is dropped.
	now = now.Add(30 * time.Second)
	store.getBucket("third")
	if got := store.size(); got != 3 {
		t.Fatalf("expected 3 buckets before the sweep, got %d", got)
	}

	// busy keeps draining so it stays below capacity.
	now = now.Add(sweepInterval)
	for i := 0; i < 200; i++ {
		busy.allow()
	}
	store.getBucket("fourth")
	if got := store.size(); got != 2 {
		t.Fatalf("expected idle buckets evicted, got %d", got)
	}
	if store.getBucket("busy") != busy {
		t.Error("active bucket should survive the sweep")
	}
	if store.getBucket("idle") == idle {
		t.Error("idle bucket should have been replaced")
	}
}

func TestTokenBucket_FullBy(t *testing.T) {
	now := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	b := newTokenBucket(1, 2, func() time.Time { return now })
	if !b.fullBy(now) {
		t.Error("fresh bucket is full")
	}
	b.allow()
	b.allow()
	if b.fullBy(now.Add(time.Second)) {
		t.Error("one token short after a second")
	}
	if !b.fullBy(now.Add(2 * time.Second)) {
		t.Error("expected full after two seconds")
	}
	if newTokenBucket(0, 1, time.Now).fullBy(time.Now()) {
		t.Error("zero-rate buckets are never evicted")
	}
}
