package middleware

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/platinummonkey/repub/pkg/httputil"
)

// RateLimiter counts requests per key over a sliding window. Each key
// keeps the timestamps of its requests inside the window; a request is
// rejected when the count has reached the limit, and recorded
// otherwise.
type RateLimiter struct {
	max    int
	window time.Duration

	mu      sync.Mutex
	buckets map[string][]time.Time

	// now is swappable for tests.
	now func() time.Time
}

// NewRateLimiter creates a limiter allowing max requests per window.
func NewRateLimiter(max int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		max:     max,
		window:  window,
		buckets: make(map[string][]time.Time),
		now:     time.Now,
	}
}

// CheckAndRecord drops expired timestamps for key, then either rejects
// the request (returning allowed=false) or records it. The returned
// remaining is how many requests the key has left in the window, and
// reset is when the oldest recorded request leaves the window.
func (rl *RateLimiter) CheckAndRecord(key string) (allowed bool, remaining int, reset time.Time) {
	now := rl.now()
	cutoff := now.Add(-rl.window)

	rl.mu.Lock()
	defer rl.mu.Unlock()

	times := rl.buckets[key]
	kept := times[:0]
	for _, ts := range times {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}

	if len(kept) >= rl.max {
		rl.buckets[key] = kept
		return false, 0, kept[0].Add(rl.window)
	}

	kept = append(kept, now)
	rl.buckets[key] = kept
	return true, rl.max - len(kept), kept[0].Add(rl.window)
}

// Compact discards keys whose recorded requests have all expired. Run
// periodically so idle clients do not pin memory.
func (rl *RateLimiter) Compact() {
	cutoff := rl.now().Add(-rl.window)
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, times := range rl.buckets {
		live := false
		for _, ts := range times {
			if ts.After(cutoff) {
				live = true
				break
			}
		}
		if !live {
			delete(rl.buckets, key)
		}
	}
}

// defaultSkipPaths are never rate limited: probes and scrapes must not
// starve behind a misbehaving client on the same NAT.
var defaultSkipPaths = map[string]struct{}{
	"/health":          {},
	"/health/detailed": {},
	"/metrics":         {},
}

// Middleware gates requests through the limiter. The key is the client
// IP, concatenated with the first 8 bytes of the bearer token when one
// is present so distinct clients behind one NAT are counted apart.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, skip := defaultSkipPaths[r.URL.Path]; skip {
			next.ServeHTTP(w, r)
			return
		}

		key := httputil.ClientIP(r)
		if token := httputil.BearerToken(r); token != "" {
			if len(token) > 8 {
				token = token[:8]
			}
			key += ":" + token
		}

		allowed, remaining, reset := rl.CheckAndRecord(key)
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.max))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		if !allowed {
			retryAfter := int(time.Until(reset).Seconds()) + 1
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			httputil.WriteError(w, http.StatusTooManyRequests, httputil.CodeRateLimited, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}
