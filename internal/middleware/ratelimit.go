package middleware

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/mmeshcher/drivingschool/internal/metrics"
)

const sweepEvery = 1024

// RateLimiter ограничивает число запросов на ключ в скользящем окне.
// Создаётся один раз при старте и передаётся в обработчики.
type RateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	hits   map[string][]time.Time
	calls  int
	now    func() time.Time
}

// NewRateLimiter создаёт ограничитель: не более limit запросов за window на ключ.
// Лимит меньше единицы приводится к единице.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	if limit < 1 {
		limit = 1
	}
	return &RateLimiter{
		limit:  limit,
		window: window,
		hits:   make(map[string][]time.Time),
		now:    time.Now,
	}
}

// Allow регистрирует запрос по ключу key. Если лимит исчерпан, возвращает false
// и время до освобождения места в окне.
func (l *RateLimiter) Allow(key string) (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	cutoff := now.Add(-l.window)

	l.calls++
	if l.calls%sweepEvery == 0 {
		for k, ts := range l.hits {
			if len(ts) == 0 || !ts[len(ts)-1].After(cutoff) {
				delete(l.hits, k)
			}
		}
	}

	ts := prune(l.hits[key], cutoff)
	if len(ts) >= l.limit {
		l.hits[key] = ts
		return false, ts[0].Sub(cutoff)
	}

	l.hits[key] = append(ts, now)
	return true, 0
}

func prune(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}

// Middleware отклоняет запросы сверх лимита кодом 429.
// Ключом служит пользователь из контекста, для анонимных запросов используется адрес клиента.
func (l *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, retryAfter := l.Allow(rateLimitKey(r))
		if !ok {
			metrics.RateLimitedTotal.Inc()
			seconds := int(retryAfter.Round(time.Second) / time.Second)
			if seconds < 1 {
				seconds = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(seconds))
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func rateLimitKey(r *http.Request) string {
	if identity, ok := GetIdentityFromContext(r.Context()); ok {
		return "user:" + strconv.FormatInt(identity.UserID, 10)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
