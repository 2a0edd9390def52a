package ratelimit

import (
	"context"
	"sync"

	ratelib "golang.org/x/time/rate"
)

// Limiter paces control-plane calls with one token bucket per region.
type Limiter struct {
	// mu protects the limiters map.
	mu sync.RWMutex
	// limiters stores rate.Limiter instances, keyed by region.
	limiters map[string]*ratelib.Limiter

	rps   float64
	burst int
}

// Config defines the parameters for a token bucket rate limiter.
type Config struct {
	// RequestsPerSecond is the average number of calls per second allowed per region.
	// Zero or less disables pacing.
	RequestsPerSecond float64
	// Burst is the maximum number of calls that can exceed the rate instantaneously.
	Burst int
}

// NewLimiter creates and returns a new Limiter.
func NewLimiter(cfg Config) *Limiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*ratelib.Limiter),
		rps:      cfg.RequestsPerSecond,
		burst:    burst,
	}
}

// Wait blocks until a call in region is allowed or ctx is done.
// A nil Limiter never blocks.
func (l *Limiter) Wait(ctx context.Context, region string) error {
	if l == nil || l.rps <= 0 {
		return nil
	}
	return l.get(region).Wait(ctx)
}

func (l *Limiter) get(region string) *ratelib.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[region]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	// Double-check
	lim, ok = l.limiters[region]
	if !ok {
		lim = ratelib.NewLimiter(ratelib.Limit(l.rps), l.burst)
		l.limiters[region] = lim
	}
	return lim
}
