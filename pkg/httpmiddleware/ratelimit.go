package httpmiddleware

import (
	"context"
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the per-client request limiter.
type RateLimitConfig struct {
	// Max requests allowed per Window.
	Max    int
	Window time.Duration
	// ClientKey buckets requests. Defaults to the client IP.
	ClientKey func(*http.Request) string
}

// clientWindow holds two adjacent fixed windows for one client. The
// weighted sum of both approximates a true sliding window without
// keeping per-request timestamps.
type clientWindow struct {
	prev      int
	curr      int
	currStart time.Time
}

type limiter struct {
	max    int
	window time.Duration
	key    func(*http.Request) string

	mu      sync.Mutex
	clients map[string]*clientWindow
}

func newLimiter(cfg RateLimitConfig) *limiter {
	key := cfg.ClientKey
	if key == nil {
		key = clientIP
	}
	return &limiter{
		max:     cfg.Max,
		window:  cfg.Window,
		key:     key,
		clients: make(map[string]*clientWindow),
	}
}

// take records one request for the client and reports whether it fits
// the limit, along with the remaining allowance and window reset time.
func (l *limiter) take(key string, now time.Time) (remaining int, resetAt time.Time, ok bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	cw, found := l.clients[key]
	if !found {
		cw = &clientWindow{currStart: now}
		l.clients[key] = cw
	}

	switch elapsed := now.Sub(cw.currStart); {
	case elapsed >= 2*l.window:
		cw.prev, cw.curr = 0, 0
		cw.currStart = now
	case elapsed >= l.window:
		cw.prev, cw.curr = cw.curr, 0
		cw.currStart = cw.currStart.Add(l.window)
	}

	// The previous window counts proportionally to how much of it the
	// sliding window still covers.
	weight := 1 - now.Sub(cw.currStart).Seconds()/l.window.Seconds()
	if weight < 0 {
		weight = 0
	}
	estimate := float64(cw.prev)*weight + float64(cw.curr)
	resetAt = cw.currStart.Add(l.window)

	if estimate >= float64(l.max) {
		return 0, resetAt, false
	}
	cw.curr++

	remaining = l.max - int(estimate) - 1
	if remaining < 0 {
		remaining = 0
	}
	return remaining, resetAt, true
}

// sweep drops clients idle for two full windows.
func (l *limiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, cw := range l.clients {
		if now.Sub(cw.currStart) >= 2*l.window {
			delete(l.clients, key)
		}
	}
}

// RateLimit enforces a per-client sliding window limit. Responses carry
// X-RateLimit-Limit, X-RateLimit-Remaining and X-RateLimit-Reset;
// rejected requests get 429 with this API's JSON error envelope and a
// Retry-After header. Idle clients are swept in the background until
// ctx is cancelled.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := newLimiter(cfg)

	go func() {
		ticker := time.NewTicker(2 * l.window)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.sweep(now)
			}
		}
	}()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			remaining, resetAt, ok := l.take(l.key(r), time.Now())

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(l.max))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))

			if !ok {
				retryAfter := time.Until(resetAt)
				if retryAfter < 0 {
					retryAfter = 0
				}
				w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retryAfter.Seconds()))))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error": "Muitas requisições, tente novamente em instantes",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP resolves the caller's address behind the platform's proxy:
// X-Forwarded-For first, then X-Real-IP, then the socket address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i > 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
