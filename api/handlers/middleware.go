package handlers

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/BaSui01/memflow/internal/metrics"
)

// RequestIDHeader carries the request correlation id. Incoming values
// are kept so callers can propagate their own ids.
const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware assigns a request id when the caller did not send
// one and echoes it on the response.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
			r.Header.Set(RequestIDHeader, id)
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// SessionLimiter keeps one token bucket per session id. Idle sessions
// are swept so the map stays bounded.
type SessionLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*sessionBucket
}

type sessionBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewSessionLimiter creates a limiter allowing rps requests per second
// with the given burst per session.
func NewSessionLimiter(rps float64, burst int) *SessionLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &SessionLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*sessionBucket),
	}
}

// Allow reports whether the session may proceed.
func (l *SessionLimiter) Allow(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.limiters[sessionID]
	if !ok {
		b = &sessionBucket{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.limiters[sessionID] = b
	}
	b.lastSeen = time.Now()

	if len(l.limiters) > 10000 {
		l.sweepLocked(10 * time.Minute)
	}
	return b.limiter.Allow()
}

func (l *SessionLimiter) sweepLocked(idle time.Duration) {
	cutoff := time.Now().Add(-idle)
	for id, b := range l.limiters {
		if b.lastSeen.Before(cutoff) {
			delete(l.limiters, id)
		}
	}
}

// MetricsMiddleware records request counts and latency per route.
func MetricsMiddleware(collector *metrics.Collector, next http.Handler) http.Handler {
	if collector == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		collector.ObserveHTTPRequest(r.Method, r.URL.Path, strconv.Itoa(rec.status), time.Since(start))
	})
}
