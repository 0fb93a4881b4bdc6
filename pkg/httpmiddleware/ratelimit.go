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
	// Max is the number of requests allowed per window. Zero disables
	// limiting.
	Max    int
	Window time.Duration
	// KeyFunc identifies the client, by IP address if nil.
	KeyFunc func(*http.Request) string
	// Exempt lists paths that are never limited, such as health probes.
	Exempt []string
}

// window counts requests of one client in the current and previous fixed
// windows.
type window struct {
	prev      float64
	prevStart time.Time
	curr      float64
	currStart time.Time
}

// Limiter is a sliding window rate limiter keyed by client.
type Limiter struct {
	cfg RateLimitConfig

	mu      sync.Mutex
	clients map[string]*window
}

// NewLimiter creates a Limiter.
func NewLimiter(cfg RateLimitConfig) *Limiter {
	if cfg.KeyFunc == nil {
		cfg.KeyFunc = ClientIP
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Limiter{cfg: cfg, clients: make(map[string]*window)}
}

// Allow records a request of key at now. It reports whether the request is
// within the limit, how many requests remain and when the window resets.
func (l *Limiter) Allow(key string, now time.Time) (remaining int, resetAt time.Time, allowed bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.clients[key]
	if !ok {
		w = &window{currStart: now.Truncate(l.cfg.Window)}
		l.clients[key] = w
	}
	if now.Sub(w.currStart) >= l.cfg.Window {
		w.prev, w.prevStart = w.curr, w.currStart
		w.curr = 0
		w.currStart = now.Truncate(l.cfg.Window)
		if now.Sub(w.prevStart) >= 2*l.cfg.Window {
			w.prev = 0
		}
	}

	// The previous window counts in proportion to its overlap with the
	// sliding window ending at now.
	overlap := max(0, 1-now.Sub(w.currStart).Seconds()/l.cfg.Window.Seconds())
	used := w.prev*overlap + w.curr
	resetAt = w.currStart.Add(l.cfg.Window)
	if used >= float64(l.cfg.Max) {
		return 0, resetAt, false
	}
	w.curr++
	return max(0, int(float64(l.cfg.Max)-used-1)), resetAt, true
}

// Evict drops clients idle for two windows.
func (l *Limiter) Evict(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, w := range l.clients {
		if now.Sub(w.currStart) >= 2*l.cfg.Window {
			delete(l.clients, key)
		}
	}
}

// Clients returns the number of tracked clients.
func (l *Limiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Run evicts idle clients every two windows until ctx is done.
func (l *Limiter) Run(ctx context.Context) {
	ticker := time.NewTicker(2 * l.cfg.Window)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			l.Evict(now)
		}
	}
}

// Middleware enforces the limit. Limited requests get 429 with Retry-After;
// every limited path gets X-RateLimit-* headers.
func (l *Limiter) Middleware() Middleware {
	return func(next http.Handler) http.Handler {
		if l.cfg.Max <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, p := range l.cfg.Exempt {
				if r.URL.Path == p {
					next.ServeHTTP(w, r)
					return
				}
			}

			remaining, resetAt, allowed := l.Allow(l.cfg.KeyFunc(r), time.Now())
			h := w.Header()
			h.Set("X-RateLimit-Limit", strconv.Itoa(l.cfg.Max))
			h.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			h.Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
			if !allowed {
				retry := max(0, time.Until(resetAt))
				h.Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
				WriteError(w, http.StatusTooManyRequests, "Rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit returns a limiting middleware whose idle clients are evicted
// until ctx is done.
func RateLimit(ctx context.Context, cfg RateLimitConfig) Middleware {
	l := NewLimiter(cfg)
	go l.Run(ctx)
	return l.Middleware()
}

// ClientIP identifies a client by the first X-Forwarded-For address,
// X-Real-IP or the connection address, in that order.
func ClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
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
