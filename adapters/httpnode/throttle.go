package httpnode

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/prismdkg/prism"
)

// throttle keeps one token bucket per user or key id.
type throttle struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	lastSeen map[string]time.Time
	rate     rate.Limit
	burst    int
	maxIdle  time.Duration
}

func newThrottle(requestsPerMinute, burst int, maxIdle time.Duration) *throttle {
	if burst == 0 {
		burst = requestsPerMinute
	}
	return &throttle{
		limiters: make(map[string]*rate.Limiter),
		lastSeen: make(map[string]time.Time),
		rate:     rate.Limit(float64(requestsPerMinute) / 60.0),
		burst:    burst,
		maxIdle:  maxIdle,
	}
}

func (t *throttle) allow(id string) bool {
	t.mu.Lock()
	l, ok := t.limiters[id]
	if !ok {
		l = rate.NewLimiter(t.rate, t.burst)
		t.limiters[id] = l
	}
	t.lastSeen[id] = time.Now()
	t.mu.Unlock()
	return l.Allow()
}

// cleanup drops buckets idle for longer than maxIdle and returns how many.
func (t *throttle) cleanup() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	now := time.Now()
	for id, seen := range t.lastSeen {
		if now.Sub(seen) > t.maxIdle {
			delete(t.limiters, id)
			delete(t.lastSeen, id)
			removed++
		}
	}
	return removed
}

// throttleBy rejects requests over the limit for the URL parameter param.
func (s *Server) throttleBy(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s.throttle == nil {
				next.ServeHTTP(w, r)
				return
			}
			id := chi.URLParam(r, param)
			if !s.throttle.allow(id) {
				s.logger.Warn().Str(param, id).Msg("request throttled")
				writeJSON(w, s.logger, ErrorResponse{
					Error: "rate limit exceeded",
					Kind:  prism.KindInvalidRequest,
					Code:  "RATE_LIMITED",
				}, http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
