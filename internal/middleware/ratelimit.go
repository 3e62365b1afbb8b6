package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/dukerupert/ideacapture/internal/auth"
)

// RealIP returns the client address, trusting X-Forwarded-For and X-Real-IP
// as set by the reverse proxy in front of the service.
func RealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		client, _, _ := strings.Cut(xff, ",")
		if client = strings.TrimSpace(client); client != "" {
			return client
		}
	}
	if ip := strings.TrimSpace(r.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// UserOrIP keys authenticated requests by user and anonymous ones by client IP.
func UserOrIP(r *http.Request) string {
	if id := auth.UserID(r.Context()); id != "" {
		return "user:" + id
	}
	return "ip:" + RealIP(r)
}

// Policy caps a key at Limit requests per fixed Window.
type Policy struct {
	Limit  int
	Window time.Duration
}

// SessionPolicy bounds how often one user may open checkout or billing
// portal sessions. Each call creates objects at the processor.
var SessionPolicy = Policy{Limit: 10, Window: time.Minute}

type window struct {
	used    int
	resetAt time.Time
}

// Decision is the outcome of Limiter.Take.
type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

// Limiter is an in-memory fixed-window limiter for a single Policy.
type Limiter struct {
	policy Policy
	now    func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

func NewLimiter(p Policy) *Limiter {
	return &Limiter{
		policy:  p,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Take counts one request against key.
func (l *Limiter) Take(key string) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(l.policy.Window)}
		l.windows[key] = w
	}
	w.used++

	return Decision{
		Allowed:   w.used <= l.policy.Limit,
		Remaining: max(l.policy.Limit-w.used, 0),
		ResetAt:   w.resetAt,
	}
}

// Prune drops windows that have ended and returns how many were removed.
func (l *Limiter) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, w := range l.windows {
		if !now.Before(w.resetAt) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// Len reports the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}

// Run prunes the limiter every interval until ctx is done.
func (l *Limiter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Prune()
		case <-ctx.Done():
			return
		}
	}
}

// RateLimit rejects requests over the limiter's policy with a JSON 429. Every
// response carries X-RateLimit-Limit and X-RateLimit-Remaining; rejections
// also carry Retry-After with the seconds left in the window.
func RateLimit(l *Limiter, keyFunc func(*http.Request) string) func(http.Handler) http.Handler {
	limit := strconv.Itoa(l.policy.Limit)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := l.Take(keyFunc(r))
			w.Header().Set("X-RateLimit-Limit", limit)
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
			if !d.Allowed {
				wait := d.ResetAt.Sub(l.now())
				secs := int((wait + time.Second - 1) / time.Second)
				w.Header().Set("Retry-After", strconv.Itoa(max(secs, 1)))
				writeError(w, http.StatusTooManyRequests, "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
