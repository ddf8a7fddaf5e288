package middleware

import (
	"net/http"
	"sync"
	"time"
)

// RateLimiter is a token-bucket limiter, adapted from the teacher's
// api/middleware/ratelimit.go RateLimiter.
type RateLimiter struct {
	tokens     float64
	maxTokens  float64
	refillRate float64
	lastRefill time.Time
	mu         sync.Mutex
}

func NewRateLimiter(rps int) *RateLimiter {
	if rps <= 0 {
		rps = 1000
	}
	return &RateLimiter{tokens: float64(rps), maxTokens: float64(rps), refillRate: float64(rps), lastRefill: time.Now()}
}

func (rl *RateLimiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	elapsed := now.Sub(rl.lastRefill).Seconds()
	rl.tokens += elapsed * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now

	if rl.tokens >= 1 {
		rl.tokens--
		return true
	}
	return false
}

// RateLimit returns a middleware enforcing a single shared rps budget
// across all dashboard viewers — status polling is read-only and
// low-value per-client, so unlike the teacher's ClientRateLimit this
// does not partition by client IP.
func RateLimit(rps int) func(next http.Handler) http.Handler {
	limiter := NewRateLimiter(rps)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				_, _ = w.Write([]byte(`{"error":"too many requests"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
