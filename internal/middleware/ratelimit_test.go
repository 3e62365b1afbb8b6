package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dukerupert/ideacapture/internal/auth"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLimiter(p Policy) (*Limiter, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)}
	l := NewLimiter(p)
	l.now = clock.now
	return l, clock
}

func TestLimiterTake(t *testing.T) {
	l, _ := newTestLimiter(Policy{Limit: 5, Window: time.Minute})

	for i := 0; i < 5; i++ {
		d := l.Take("key")
		if !d.Allowed {
			t.Fatalf("request %d should be allowed", i+1)
		}
		if d.Remaining != 4-i {
			t.Errorf("request %d: remaining = %d, want %d", i+1, d.Remaining, 4-i)
		}
	}

	d := l.Take("key")
	if d.Allowed {
		t.Error("6th request should be denied")
	}
	if d.Remaining != 0 {
		t.Errorf("remaining = %d, want 0", d.Remaining)
	}
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l, _ := newTestLimiter(Policy{Limit: 1, Window: time.Minute})

	l.Take("user:a")
	if l.Take("user:a").Allowed {
		t.Error("second request for user:a should be denied")
	}
	if !l.Take("user:b").Allowed {
		t.Error("user:b has its own window")
	}
}

func TestLimiterWindowReset(t *testing.T) {
	l, clock := newTestLimiter(Policy{Limit: 3, Window: 10 * time.Second})

	for i := 0; i < 3; i++ {
		l.Take("key")
	}
	if l.Take("key").Allowed {
		t.Error("should be blocked within window")
	}

	clock.advance(10 * time.Second)
	if !l.Take("key").Allowed {
		t.Error("should be allowed once the window has ended")
	}
}

func TestLimiterPrune(t *testing.T) {
	l, clock := newTestLimiter(Policy{Limit: 5, Window: time.Minute})

	l.Take("expired")
	clock.advance(2 * time.Minute)
	l.Take("active")

	if n := l.Prune(); n != 1 {
		t.Errorf("Prune removed %d, want 1", n)
	}
	if l.Len() != 1 {
		t.Errorf("Len = %d, want 1", l.Len())
	}
	l.mu.Lock()
	_, ok := l.windows["active"]
	l.mu.Unlock()
	if !ok {
		t.Error("active window should still exist")
	}
}

func TestLimiterRunStopsWithContext(t *testing.T) {
	l := NewLimiter(SessionPolicy)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		l.Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestRateLimitMiddleware(t *testing.T) {
	l, clock := newTestLimiter(Policy{Limit: 2, Window: time.Minute})
	keyFunc := func(r *http.Request) string { return "test" }

	handler := RateLimit(l, keyFunc)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest("POST", "/", nil))
		if rec.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i+1, rec.Code, http.StatusOK)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "2" {
			t.Errorf("X-RateLimit-Limit = %q, want 2", got)
		}
	}

	clock.advance(45 * time.Second)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("POST", "/", nil))
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("3rd request: status = %d, want %d", rec.Code, http.StatusTooManyRequests)
	}
	if ra := rec.Header().Get("Retry-After"); ra != "15" {
		t.Errorf("Retry-After = %q, want %q", ra, "15")
	}
	if rem := rec.Header().Get("X-RateLimit-Remaining"); rem != "0" {
		t.Errorf("X-RateLimit-Remaining = %q, want 0", rem)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
}

func TestRateLimitKeysByUser(t *testing.T) {
	l, _ := newTestLimiter(Policy{Limit: 1, Window: time.Minute})
	handler := RateLimit(l, UserOrIP)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	request := func(userID string) int {
		req := httptest.NewRequest("POST", "/", nil)
		req = req.WithContext(auth.WithAuth(req.Context(), auth.AuthContext{UserID: userID}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := request("u-1"); code != http.StatusOK {
		t.Errorf("first u-1 request: status = %d, want 200", code)
	}
	if code := request("u-1"); code != http.StatusTooManyRequests {
		t.Errorf("second u-1 request: status = %d, want 429", code)
	}
	if code := request("u-2"); code != http.StatusOK {
		t.Errorf("u-2 request: status = %d, want 200", code)
	}
}

func TestUserOrIP(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if got := UserOrIP(req); got != "ip:10.0.0.1" {
		t.Errorf("UserOrIP = %q, want %q", got, "ip:10.0.0.1")
	}

	ctx := auth.WithAuth(req.Context(), auth.AuthContext{UserID: "u-1"})
	if got := UserOrIP(req.WithContext(ctx)); got != "user:u-1" {
		t.Errorf("UserOrIP = %q, want %q", got, "user:u-1")
	}
}

func TestRealIP(t *testing.T) {
	tests := []struct {
		name   string
		header string
		value  string
		want   string
	}{
		{"forwarded chain", "X-Forwarded-For", "5.6.7.8, 10.0.0.1", "5.6.7.8"},
		{"forwarded single", "X-Forwarded-For", " 9.9.9.9 ", "9.9.9.9"},
		{"real ip", "X-Real-IP", "1.2.3.4", "1.2.3.4"},
		{"remote addr", "", "", "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			if got := RealIP(req); got != tt.want {
				t.Errorf("RealIP = %q, want %q", got, tt.want)
			}
		})
	}
}
