package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/vasiliy-maslov/ecommerce-microservices/storefront-service/internal/config"
)

func TestRateLimiter_Handler(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{RequestsPerSecond: 1, Burst: 2})
	h := rl.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	call := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/lemonsqueezy", nil)
		req.RemoteAddr = addr
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w
	}

	assert.Equal(t, http.StatusOK, call("10.0.0.1:5000").Code)
	assert.Equal(t, http.StatusOK, call("10.0.0.1:5001").Code)

	w := call("10.0.0.1:5002")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, call("10.0.0.2:5000").Code, "other clients keep their own budget")
}

func TestRateLimiter_Cleanup(t *testing.T) {
	rl := NewRateLimiter(config.RateLimitConfig{RequestsPerSecond: 5, Burst: 5})
	start := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

	rl.now = func() time.Time { return start }
	rl.limiter("10.0.0.1")
	rl.now = func() time.Time { return start.Add(10 * time.Minute) }
	rl.limiter("10.0.0.2")

	assert.Equal(t, 1, rl.Cleanup(5*time.Minute))
	assert.Len(t, rl.visitors, 1)
	assert.Contains(t, rl.visitors, "10.0.0.2")
}
