package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/drivingschool/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(limit int, window time.Duration) (*RateLimiter, *fakeClock) {
	clock := &fakeClock{now: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)}
	l := NewRateLimiter(limit, window)
	l.now = clock.Now
	return l, clock
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	l, clock := newTestLimiter(3, time.Minute)

	for i := 0; i < 3; i++ {
		ok, _ := l.Allow("a")
		require.True(t, ok, "request %d", i)
		clock.Advance(10 * time.Second)
	}

	ok, retry := l.Allow("a")
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, retry)

	ok, _ = l.Allow("b")
	assert.True(t, ok, "keys are independent")

	clock.Advance(31 * time.Second)
	ok, _ = l.Allow("a")
	assert.True(t, ok, "oldest hit left the window")

	ok, _ = l.Allow("a")
	assert.False(t, ok)
}

func TestRateLimiter_Concurrent(t *testing.T) {
	l, _ := newTestLimiter(50, time.Minute)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := l.Allow("shared"); ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, allowed)
}

func TestRateLimiter_SweepDropsIdleKeys(t *testing.T) {
	l, clock := newTestLimiter(1, time.Second)

	l.Allow("idle")
	clock.Advance(2 * time.Second)
	for i := 1; i < sweepEvery; i++ {
		l.Allow("busy")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.hits["idle"]
	assert.False(t, ok)
}

func TestRateLimiter_NonPositiveLimitAllowsOne(t *testing.T) {
	for _, limit := range []int{0, -5} {
		l, _ := newTestLimiter(limit, time.Minute)

		ok, _ := l.Allow("k")
		assert.True(t, ok, "limit %d", limit)

		ok, retry := l.Allow("k")
		assert.False(t, ok, "limit %d", limit)
		assert.Equal(t, time.Minute, retry)
	}
}

func TestRateLimiter_Middleware(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)
	verifier := NewHMACVerifier("test-secret")
	auth := NewAuthMiddleware(verifier)

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := auth.Middleware(l.Middleware(next))

	send := func(userID int64) *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodGet, "/invoices", nil)
		r.AddCookie(&http.Cookie{Name: authCookieName, Value: signToken(verifier, Identity{UserID: userID, Role: model.RoleStudent})})
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w
	}

	assert.Equal(t, http.StatusOK, send(1).Code)

	limited := send(1)
	assert.Equal(t, http.StatusTooManyRequests, limited.Code)
	assert.Equal(t, "60", limited.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, send(2).Code)
}

func TestRateLimiter_AnonymousKeyedByAddress(t *testing.T) {
	l, _ := newTestLimiter(1, time.Minute)
	handler := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	send := func(addr string) int {
		r := httptest.NewRequest(http.MethodPost, "/payments/swish/callback", nil)
		r.RemoteAddr = addr
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1:5000"))
	assert.Equal(t, http.StatusTooManyRequests, send("10.0.0.1:5001"))
	assert.Equal(t, http.StatusOK, send("10.0.0.2:5000"))
}
