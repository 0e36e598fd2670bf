package main

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	ratelimit "github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/middleware"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const limiterIdleTTL = 10 * time.Minute

// requestLimiter throttles unauthenticated auth routes per client IP.
type requestLimiter interface {
	middleware(next http.Handler) http.Handler
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ipRateLimiter keeps token buckets in process memory, so every instance
// enforces its own budget.
type ipRateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

func newIPRateLimiter(perMinute, burst int) *ipRateLimiter {
	if perMinute <= 0 {
		perMinute = 5
	}
	if burst <= 0 {
		burst = perMinute
	}
	return &ipRateLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Every(time.Minute / time.Duration(perMinute)),
		burst:    burst,
		now:      time.Now,
	}
}

func (l *ipRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > limiterIdleTTL {
			delete(l.visitors, key)
		}
	}

	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

func (l *ipRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !l.allow(middleware.ClientIP(r)) {
			tooManyRequests(w, time.Duration(float64(time.Second)/float64(l.limit)))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// redisRateLimiter shares fixed-window counters across instances. Requests
// are let through when Redis cannot be reached.
type redisRateLimiter struct {
	limiter *ratelimit.Limiter
	logger  *zap.Logger
}

func newRedisRateLimiter(limiter *ratelimit.Limiter, logger *zap.Logger) *redisRateLimiter {
	return &redisRateLimiter{limiter: limiter, logger: logger}
}

func (l *redisRateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		retryAfter, err := l.limiter.Allow(r.Context(), middleware.ClientIP(r))
		switch {
		case errors.Is(err, ratelimit.ErrRateLimited):
			tooManyRequests(w, retryAfter)
			return
		case err != nil:
			l.logger.Warn("rate limiter unavailable, allowing request", zap.Error(err))
		}
		next.ServeHTTP(w, r)
	})
}

func tooManyRequests(w http.ResponseWriter, retryAfter time.Duration) {
	seconds := int(math.Ceil(retryAfter.Seconds()))
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeError(w, http.StatusTooManyRequests, "too many requests")
}
