package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestAllowWithinBurst(t *testing.T) {
	limiter := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         5,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	for i := 0; i < 5; i++ {
		if !limiter.Allow("user:client-1") {
			t.Errorf("request %d should be allowed within burst", i)
		}
	}
	if limiter.Allow("user:client-1") {
		t.Error("request beyond burst should be denied")
	}

	// One token replenishes per second at 60/min.
	time.Sleep(time.Second)
	if !limiter.Allow("user:client-1") {
		t.Error("request after replenishment should be allowed")
	}
}

func TestCallersAreIsolated(t *testing.T) {
	limiter := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         3,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	for i := 0; i < 3; i++ {
		limiter.Allow("user:client-1")
	}
	if limiter.Allow("user:client-1") {
		t.Error("exhausted caller should be limited")
	}

	// A different caller draining the first one's bucket would let one
	// client lock everyone out of the payment API.
	if !limiter.Allow("user:provider-1") {
		t.Error("other callers must keep their own bucket")
	}
}

func TestTokenReplenishment(t *testing.T) {
	limiter := New(Config{
		RequestsPerMinute: 600, // 10/s
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	if !limiter.Allow("user:client-1") {
		t.Error("first request should be allowed")
	}
	if limiter.Allow("user:client-1") {
		t.Error("second immediate request should be denied")
	}

	time.Sleep(110 * time.Millisecond)
	if !limiter.Allow("user:client-1") {
		t.Error("request after a token interval should be allowed")
	}
}

func TestMiddlewareKeysByUserHeader(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter := New(Config{
		RequestsPerMinute: 60,
		BurstSize:         1,
		CleanupInterval:   time.Minute,
	})
	defer limiter.Stop()

	r := gin.New()
	r.Use(limiter.Middleware())
	r.GET("/v1/wallet", func(c *gin.Context) { c.String(200, "ok") })

	do := func(userID string) int {
		req := httptest.NewRequest("GET", "/v1/wallet", nil)
		if userID != "" {
			req.Header.Set("X-User-ID", userID)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := do("client-1"); code != http.StatusOK {
		t.Fatalf("first request = %d, want 200", code)
	}
	if code := do("client-1"); code != http.StatusTooManyRequests {
		t.Errorf("second request for same user = %d, want 429", code)
	}

	// Same source IP, different user: separate bucket.
	if code := do("provider-1"); code != http.StatusOK {
		t.Errorf("request for different user = %d, want 200", code)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.RequestsPerMinute != 120 {
		t.Errorf("RequestsPerMinute = %d, want 120", cfg.RequestsPerMinute)
	}
	if cfg.BurstSize != 20 {
		t.Errorf("BurstSize = %d, want 20", cfg.BurstSize)
	}
	if cfg.CleanupInterval != time.Minute {
		t.Errorf("CleanupInterval = %v, want 1m", cfg.CleanupInterval)
	}
}
