package adminauth

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter interface for rate limiting login attempts
type RateLimiter interface {
	Allow(key string) bool
}

// KeyedRateLimiter is a token-bucket limiter per key (typically client IP and email).
// Buckets idle for longer than IdleTTL are dropped.
type KeyedRateLimiter struct {
	Limit   rate.Limit
	Burst   int
	IdleTTL time.Duration

	mu        sync.Mutex
	limiters  map[string]*keyedLimiter
	lastSweep time.Time
}

type keyedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewKeyedRateLimiter allows burst attempts per key, refilled at one every interval
func NewKeyedRateLimiter(interval time.Duration, burst int) *KeyedRateLimiter {
	return &KeyedRateLimiter{
		Limit:    rate.Every(interval),
		Burst:    burst,
		IdleTTL:  10 * time.Minute,
		limiters: make(map[string]*keyedLimiter),
	}
}

// Allow reports whether another attempt for key may proceed now
func (l *KeyedRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if l.limiters == nil {
		l.limiters = make(map[string]*keyedLimiter)
	}
	l.sweep(now)

	entry, ok := l.limiters[key]
	if !ok {
		entry = &keyedLimiter{limiter: rate.NewLimiter(l.Limit, l.Burst)}
		l.limiters[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys
func (l *KeyedRateLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

func (l *KeyedRateLimiter) sweep(now time.Time) {
	if l.IdleTTL <= 0 || now.Sub(l.lastSweep) < l.IdleTTL {
		return
	}
	l.lastSweep = now
	for key, entry := range l.limiters {
		if now.Sub(entry.lastSeen) > l.IdleTTL {
			delete(l.limiters, key)
		}
	}
}
