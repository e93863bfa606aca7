package api

import (
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Sweep defaults applied when ServerConfig leaves the knobs unset. A
// visitor idle past the stale threshold is forgotten; forgetting resets
// its burst, which is acceptable at these horizons.
const (
	defaultRateCleanupEvery = 5 * time.Minute
	defaultRateStaleAfter   = 10 * time.Minute
)

// rateLimiter hands out one token bucket per client IP. There is no
// background goroutine: stale visitors are swept inline, at most once per
// cleanupEvery, by whichever allow call crosses the deadline. The session
// engine's sweeper owns real background work; the limiter stays passive so
// the server has nothing extra to start or stop.
type rateLimiter struct {
	mu           sync.Mutex
	visitors     map[string]*visitor
	limit        rate.Limit
	burst        int
	cleanupEvery time.Duration
	staleAfter   time.Duration
	lastCleanup  time.Time
}

// visitor pairs an IP's bucket with its last activity, which drives the
// stale sweep.
type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// newRateLimiter builds a limiter refilling r tokens per second with the
// given burst per IP. cleanupEvery and staleAfter tune the inline sweep;
// non-positive values take the defaults.
func newRateLimiter(r float64, burst int, cleanupEvery, staleAfter time.Duration) *rateLimiter {
	if cleanupEvery <= 0 {
		cleanupEvery = defaultRateCleanupEvery
	}
	if staleAfter <= 0 {
		staleAfter = defaultRateStaleAfter
	}
	return &rateLimiter{
		visitors:     make(map[string]*visitor),
		limit:        rate.Limit(r),
		burst:        burst,
		cleanupEvery: cleanupEvery,
		staleAfter:   staleAfter,
		lastCleanup:  time.Now(),
	}
}

// allow reports whether ip may proceed, consuming one token. A first-time
// ip gets a fresh bucket and always passes.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	if now.Sub(rl.lastCleanup) > rl.cleanupEvery {
		rl.sweepLocked(now)
	}

	v, exists := rl.visitors[ip]
	if !exists {
		limiter := rate.NewLimiter(rl.limit, rl.burst)
		rl.visitors[ip] = &visitor{limiter: limiter, lastSeen: now}
		limiter.Allow()
		return true
	}

	v.lastSeen = now
	return v.limiter.Allow()
}

// sweepLocked forgets visitors idle past the stale threshold.
func (rl *rateLimiter) sweepLocked(now time.Time) {
	for ip, v := range rl.visitors {
		if now.Sub(v.lastSeen) > rl.staleAfter {
			delete(rl.visitors, ip)
		}
	}
	rl.lastCleanup = now
}

// rateLimitMiddleware rejects over-limit requests with 429 and a
// Retry-After hint before they reach the session engine.
func rateLimitMiddleware(rl *rateLimiter, trustProxy bool, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r, trustProxy)
			if !rl.allow(ip) {
				logger.Warn("rate limit exceeded",
					"ip", ip,
					"path", r.URL.Path,
					"method", r.Method,
				)
				w.Header().Set("Retry-After", "1")
				WriteError(w, http.StatusTooManyRequests, "rate_limited", "too many requests", logger)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP resolves the address a request is limited under.
//
// Behind a reverse proxy (trustProxy true) the real client is in
// X-Real-IP or the first entry of X-Forwarded-For; both are validated
// with net.ParseIP so an arbitrary header value cannot become a limiter
// key. Directly exposed (trustProxy false), only RemoteAddr counts —
// anything a client can forge must not let it escape its own bucket.
func clientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if xri := r.Header.Get("X-Real-IP"); xri != "" {
			if ip := net.ParseIP(strings.TrimSpace(xri)); ip != nil {
				return ip.String()
			}
		}

		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			raw := xff
			if first, _, ok := strings.Cut(xff, ","); ok {
				raw = first
			}
			if ip := net.ParseIP(strings.TrimSpace(raw)); ip != nil {
				return ip.String()
			}
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
