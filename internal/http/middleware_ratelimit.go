package httpx

import (
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/shipnorth/portal-auth/internal/observability/metrics"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

var errTooManyAttempts = errors.New("too many login attempts")

// LoginRateLimiter is a token bucket per client IP for the login endpoints.
type LoginRateLimiter struct {
	limit   rate.Limit
	burst   int
	metrics *metrics.Auth
	now     func() time.Time

	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// NewLoginRateLimiter allows perMinute attempts per IP with the given burst.
// It returns nil when perMinute is not positive; a nil limiter admits everything.
func NewLoginRateLimiter(perMinute, burst int, m *metrics.Auth) *LoginRateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &LoginRateLimiter{
		limit:   rate.Limit(float64(perMinute) / 60),
		burst:   burst,
		metrics: m,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
}

// Allow reports whether one more attempt from ip is permitted now.
func (l *LoginRateLimiter) Allow(ip string) bool {
	if l == nil {
		return true
	}
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if now.Sub(l.lastSweep) > limiterIdleTTL {
		for k, b := range l.buckets {
			if now.Sub(b.seen) > limiterIdleTTL {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = now
	}

	b, ok := l.buckets[ip]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[ip] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}

// LoginRateLimit returns a middleware rejecting login attempts over the limit with 429.
func LoginRateLimit(l *LoginRateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow(clientIP(r)) {
				l.metrics.Login("password", metrics.ResultLimited)
				w.Header().Set("Retry-After", "60")
				if IsBrowserRequest(r) {
					http.Error(w, "Too many sign-in attempts. Try again in a minute.", http.StatusTooManyRequests)
					return
				}
				WriteError(w, ErrorParams{
					Code:    http.StatusTooManyRequests,
					ErrCode: "rate_limited",
					Err:     errTooManyAttempts,
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP uses the connection address; forwarded headers are client-controlled.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
