package server

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/pdfrag-go/internal/logging"
)

const (
	// defaultRateLimit is the sustained per-client rate on /upload and /ask.
	defaultRateLimit = 10
	// defaultRateBurst lets a client fire a short spike before being throttled.
	defaultRateBurst = 20
	// visitorIdleTTL is how long an idle client keeps its bucket.
	visitorIdleTTL = 5 * time.Minute
	// sweepInterval is how often idle buckets are dropped.
	sweepInterval = time.Minute
	// kindRateLimited is the error kind reported on 429 responses.
	kindRateLimited = "rate_limited"
)

// visitor is one client's token bucket.
type visitor struct {
	bucket   *rate.Limiter
	lastSeen time.Time
}

// rateLimiter throttles expensive endpoints per client IP. Uploads and
// questions both hit the embedding provider, so an unthrottled client can
// burn through the upstream quota for everyone.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor

	limit rate.Limit
	burst int
	now   func() time.Time
	log   *slog.Logger
}

// newRateLimiter returns a limiter and a stop func for its sweeper goroutine.
func newRateLimiter(rps float64, burst int, log *slog.Logger) (*rateLimiter, func()) {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
		log:      log,
	}

	done := make(chan struct{})
	go func() {
		t := time.NewTicker(sweepInterval)
		defer t.Stop()
		for {
			select {
			case <-done:
				return
			case <-t.C:
				if n := rl.sweep(); n > 0 {
					rl.log.Debug("rate limiter swept idle clients", slog.Int("removed", n))
				}
			}
		}
	}()

	var once sync.Once
	return rl, func() { once.Do(func() { close(done) }) }
}

// allow reports whether the client may proceed, creating its bucket on
// first contact.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v := rl.visitors[ip]
	if v == nil {
		v = &visitor{bucket: rate.NewLimiter(rl.limit, rl.burst)}
		rl.visitors[ip] = v
	}
	v.lastSeen = now
	return v.bucket.AllowN(now, 1)
}

// sweep drops buckets idle for longer than visitorIdleTTL and returns how
// many were removed.
func (rl *rateLimiter) sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	cutoff := rl.now().Add(-visitorIdleTTL)
	removed := 0
	for ip, v := range rl.visitors {
		if v.lastSeen.Before(cutoff) {
			delete(rl.visitors, ip)
			removed++
		}
	}
	return removed
}

// middleware rejects over-limit requests with a retryable 429.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if rl.allow(ip) {
			next.ServeHTTP(w, r)
			return
		}

		logging.FromContext(r.Context()).Warn("rate limit exceeded",
			slog.String("ip", ip),
			slog.String("path", r.URL.Path),
		)
		w.Header().Set("Retry-After", strconv.Itoa(rl.retryAfterSeconds()))
		writeJSON(w, r, http.StatusTooManyRequests, errorResponse{
			Error:     "rate limit exceeded",
			Kind:      kindRateLimited,
			Retryable: true,
		})
	})
}

// retryAfterSeconds is the time for one token to refill, rounded up to a
// whole second.
func (rl *rateLimiter) retryAfterSeconds() int {
	if rl.limit <= 0 {
		return 1
	}
	secs := int(1/float64(rl.limit) + 0.999)
	return max(secs, 1)
}

// clientIP is the request's peer address without the port. X-Forwarded-For
// is ignored since the server is meant to be reached directly.
func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if i := strings.LastIndex(r.RemoteAddr, ":"); i >= 0 {
		return r.RemoteAddr[:i]
	}
	return r.RemoteAddr
}
