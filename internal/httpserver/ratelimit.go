package httpserver

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdle = 10 * time.Minute

type limiterInfo struct {
	limiter      *rate.Limiter
	lastAccessed time.Time
}

// ipRateLimiter keeps one token bucket per client IP. Idle buckets are
// dropped by Sweep, which the host tick calls.
type ipRateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*limiterInfo
	every    rate.Limit
	burst    int
}

// newIPRateLimiter returns nil (no limiting) when perMinute <= 0.
func newIPRateLimiter(perMinute float64, burst int) *ipRateLimiter {
	if perMinute <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &ipRateLimiter{
		limiters: make(map[string]*limiterInfo),
		every:    rate.Limit(perMinute / 60),
		burst:    burst,
	}
}

func (l *ipRateLimiter) allow(ip string, now time.Time) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	info, ok := l.limiters[ip]
	if !ok {
		info = &limiterInfo{limiter: rate.NewLimiter(l.every, l.burst)}
		l.limiters[ip] = info
	}
	info.lastAccessed = now
	l.mu.Unlock()
	return info.limiter.AllowN(now, 1)
}

// Sweep removes limiters unused for limiterIdle.
func (l *ipRateLimiter) Sweep(now time.Time) int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for ip, info := range l.limiters {
		if now.Sub(info.lastAccessed) > limiterIdle {
			delete(l.limiters, ip)
			n++
		}
	}
	return n
}
