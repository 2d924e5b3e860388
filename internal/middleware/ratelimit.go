package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/statecast/backend/internal/logging"
	"golang.org/x/time/rate"
)

// visitorTTL is how long an idle address keeps its bucket.
const visitorTTL = 3 * time.Minute

// visitor tracks rate limiting state for a single client address.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter throttles how often one client address may open streams, using
// a token bucket per address as resolved by RealIPMiddleware. Since each new
// stream evicts the previous one from the same address, this also bounds the
// eviction churn a single client can cause.
type RateLimiter struct {
	visitors map[string]*visitor
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
	now      func() time.Time
}

// NewRateLimiter creates a rate limiter allowing requestsPerMinute per address,
// with a burst of the same size. Starts a background goroutine that drops
// addresses idle for longer than visitorTTL.
func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    requestsPerMinute,
		now:      time.Now,
	}

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for range ticker.C {
			rl.prune()
		}
	}()

	return rl
}

// allow reports whether address may proceed now.
func (rl *RateLimiter) allow(address string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, ok := rl.visitors[address]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.visitors[address] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// prune removes addresses idle for longer than visitorTTL.
func (rl *RateLimiter) prune() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-visitorTTL)
	for address, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, address)
		}
	}
}

// retryAfter is the whole number of seconds until one token is refilled.
func (rl *RateLimiter) retryAfter() string {
	if rl.rate <= 0 {
		return "60"
	}
	return strconv.Itoa(int(math.Ceil(1 / float64(rl.rate))))
}

// Middleware returns the HTTP middleware that enforces rate limiting.
// Returns 429 Too Many Requests with Retry-After when the limit is exceeded.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(ClientIP(r)) {
			logging.LogSecurityEvent(r.Context(), logging.SecurityEventRateLimited, "rate limit exceeded")
			w.Header().Set("Retry-After", rl.retryAfter())
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}
