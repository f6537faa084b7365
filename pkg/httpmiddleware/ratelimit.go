package httpmiddleware

import (
	"context"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// RateLimitConfig configures the per-client sliding window limiter.
type RateLimitConfig struct {
	// Max requests per Window. Zero disables limiting.
	Max    int
	Window time.Duration
	// Key identifies the client; the client IP by default.
	Key func(*http.Request) string
	// Skip exempts requests from limiting, e.g. provider callbacks that
	// arrive in bursts from a single address.
	Skip func(*http.Request) bool
}

// window counts requests in the current and previous fixed windows; the
// previous one is weighted by its overlap with the sliding window.
type window struct {
	start time.Time
	curr  int
	prev  int
}

type limiter struct {
	max    int
	size   time.Duration
	mu     sync.Mutex
	byKey  map[string]*window
	nowFn  func() time.Time
	keyFn  func(*http.Request) string
	skipFn func(*http.Request) bool
}

func newLimiter(cfg RateLimitConfig) *limiter {
	l := &limiter{
		max:    cfg.Max,
		size:   cfg.Window,
		byKey:  make(map[string]*window),
		nowFn:  time.Now,
		keyFn:  cfg.Key,
		skipFn: cfg.Skip,
	}
	if l.keyFn == nil {
		l.keyFn = ClientIP
	}
	if l.size <= 0 {
		l.size = time.Minute
	}
	return l
}

// take records a request for key. It reports whether the request fits, how
// many remain and when the current window ends.
func (l *limiter) take(key string) (ok bool, remaining int, reset time.Time) {
	now := l.nowFn()
	start := now.Truncate(l.size)

	l.mu.Lock()
	defer l.mu.Unlock()

	w := l.byKey[key]
	switch {
	case w == nil:
		w = &window{start: start}
		l.byKey[key] = w
	case start.Sub(w.start) >= 2*l.size:
		*w = window{start: start}
	case start.After(w.start):
		*w = window{start: start, prev: w.curr}
	}

	reset = w.start.Add(l.size)
	overlap := 1 - float64(now.Sub(w.start))/float64(l.size)
	used := int(math.Floor(float64(w.prev)*overlap)) + w.curr
	if used >= l.max {
		return false, 0, reset
	}
	w.curr++
	return true, l.max - used - 1, reset
}

// evict drops clients idle for two windows.
func (l *limiter) evict() {
	cutoff := l.nowFn().Add(-2 * l.size)
	l.mu.Lock()
	defer l.mu.Unlock()
	for k, w := range l.byKey {
		if w.start.Before(cutoff) {
			delete(l.byKey, k)
		}
	}
}

// RateLimit limits requests per client. Over-limit requests get 429 with a
// JSON body and Retry-After; every limited response carries the
// X-RateLimit-* headers. Idle clients are evicted until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	if cfg.Max <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	l := newLimiter(cfg)
	go func() {
		t := time.NewTicker(2 * l.size)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				l.evict()
			}
		}
	}()
	return l.middleware
}

func (l *limiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if l.skipFn != nil && l.skipFn(r) {
			next.ServeHTTP(w, r)
			return
		}

		ok, remaining, reset := l.take(l.keyFn(r))
		h := w.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(l.max))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		h.Set("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))
		if !ok {
			wait := max(reset.Sub(l.nowFn()), 0)
			h.Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
			writeJSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ClientIP returns the first X-Forwarded-For hop, X-Real-IP, or the remote
// address host.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if ip := r.Header.Get("X-Real-IP"); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
