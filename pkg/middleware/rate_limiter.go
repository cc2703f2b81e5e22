package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// RateLimiter: счётчик запросов в фиксированном окне. Ключ: telegram id
// из токена, для анонимных запросов: IP.
type RateLimiter struct {
	mu          sync.Mutex
	limit       int
	window      time.Duration
	requests    map[string]int
	windowStart time.Time
	now         func() time.Time
}

func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		limit:       limit,
		window:      window,
		requests:    make(map[string]int),
		windowStart: time.Now(),
		now:         time.Now,
	}
}

func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	// новое окно: старые счётчики больше не нужны
	if now := r.now(); now.Sub(r.windowStart) >= r.window {
		r.requests = make(map[string]int)
		r.windowStart = now
	}

	count := r.requests[key]
	if count >= r.limit {
		return false
	}
	r.requests[key] = count + 1
	return true
}

func (r *RateLimiter) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		key, ok := UserID(req.Context())
		if !ok {
			key = clientIP(req)
		}
		if !r.Allow(key) {
			log.Warn().Str("key", key).Msg("Rate limit exceeded")
			writeError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}

		next.ServeHTTP(w, req)
	})
}

func clientIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
