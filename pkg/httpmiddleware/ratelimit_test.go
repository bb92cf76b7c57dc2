package httpmiddleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestLimiter_TakeUnderLimit(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 3, Window: time.Minute})
	now := time.Now()

	for i := 0; i < 3; i++ {
		_, _, ok := l.take("client", now)
		assert.True(t, ok, "request %d should pass", i+1)
	}
	_, _, ok := l.take("client", now)
	assert.False(t, ok, "the fourth request must be rejected")
}

func TestLimiter_RemainingCountsDown(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 3, Window: time.Minute})
	now := time.Now()

	remaining, _, _ := l.take("client", now)
	assert.Equal(t, 2, remaining)
	remaining, _, _ = l.take("client", now)
	assert.Equal(t, 1, remaining)
	remaining, _, _ = l.take("client", now)
	assert.Equal(t, 0, remaining)
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
	now := time.Now()

	_, _, ok := l.take("a", now)
	require.True(t, ok)
	_, _, ok = l.take("a", now)
	require.False(t, ok)

	_, _, ok = l.take("b", now)
	assert.True(t, ok, "a saturated client must not affect others")
}

func TestLimiter_PreviousWindowWeighsIn(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 10, Window: time.Minute})
	start := time.Now()

	// Fill the first window completely.
	for i := 0; i < 10; i++ {
		_, _, ok := l.take("client", start)
		require.True(t, ok)
	}

	// Halfway through the next window the previous one still counts
	// for half its requests, so only ~5 fit.
	half := start.Add(90 * time.Second)
	granted := 0
	for i := 0; i < 10; i++ {
		if _, _, ok := l.take("client", half); ok {
			granted++
		}
	}
	assert.InDelta(t, 5, granted, 1)
}

func TestLimiter_FullyElapsedWindowsReset(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 1, Window: time.Minute})
	start := time.Now()

	_, _, ok := l.take("client", start)
	require.True(t, ok)
	_, _, ok = l.take("client", start)
	require.False(t, ok)

	_, _, ok = l.take("client", start.Add(3*time.Minute))
	assert.True(t, ok, "two idle windows clear the budget")
}

func TestLimiter_SweepDropsIdleClients(t *testing.T) {
	l := newLimiter(RateLimitConfig{Max: 5, Window: time.Minute})
	now := time.Now()

	l.take("idle", now)
	l.take("active", now)
	l.take("active", now.Add(90*time.Second))

	l.sweep(now.Add(3 * time.Minute))

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.clients, "idle")
	assert.Contains(t, l.clients, "active")
}

func TestRateLimit_RejectionResponse(t *testing.T) {
	mw := RateLimit(context.Background(), RateLimitConfig{Max: 1, Window: time.Minute})
	h := mw(okHandler())

	first := httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/products", nil))
	require.Equal(t, http.StatusOK, first.Code)
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", first.Header().Get("X-RateLimit-Remaining"))

	second := httptest.NewRecorder()
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/products", nil))
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))
	assert.Contains(t, second.Body.String(), "Muitas requisições")
}

func TestRateLimit_CustomClientKey(t *testing.T) {
	mw := RateLimit(context.Background(), RateLimitConfig{
		Max:       1,
		Window:    time.Minute,
		ClientKey: func(r *http.Request) string { return r.Header.Get("X-API-Key") },
	})
	h := mw(okHandler())

	send := func(key string) int {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/api/products", nil)
		req.Header.Set("X-API-Key", key)
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("alpha"))
	assert.Equal(t, http.StatusTooManyRequests, send("alpha"))
	assert.Equal(t, http.StatusOK, send("beta"))
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.9:4321"
	assert.Equal(t, "10.0.0.9", clientIP(req))

	req.Header.Set("X-Real-IP", "203.0.113.7")
	assert.Equal(t, "203.0.113.7", clientIP(req))

	req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
	assert.Equal(t, "198.51.100.4", clientIP(req))
}
