package ratelimit

import (
	"sync"

	"golang.org/x/time/rate"
)

// Limiter manages per-caller rate limits for session creation.
type Limiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

// NewLimiter creates a new rate limiter.
// requestsPerHour: total requests allowed per hour per caller
// burst: max requests in a burst
func NewLimiter(requestsPerHour int, burst int) *Limiter {
	r := rate.Limit(float64(requestsPerHour) / 3600.0)

	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     r,
		burst:    burst,
	}
}

// GetLimiter returns the rate limiter for a specific caller key.
func (l *Limiter) GetLimiter(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	limiter, exists := l.limiters[key]
	if !exists {
		limiter = rate.NewLimiter(l.rate, l.burst)
		l.limiters[key] = limiter
	}

	return limiter
}

// Allow checks if a request is allowed for the given caller key.
func (l *Limiter) Allow(key string) bool {
	return l.GetLimiter(key).Allow()
}

// Tokens returns the current number of available tokens for a caller key.
func (l *Limiter) Tokens(key string) float64 {
	return l.GetLimiter(key).Tokens()
}
