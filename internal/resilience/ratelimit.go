package resilience

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter provides a global limit plus one limiter per key.
type RateLimiter struct {
	global   *rate.Limiter
	perKey   map[string]*keyLimiter
	mu       sync.Mutex
	keyRPS   float64
	keyBurst int
	idleTTL  time.Duration
	now      func() time.Time
}

type keyLimiter struct {
	limiter  *rate.Limiter
	lastUsed time.Time
}

// RateLimiterConfig holds rate limiter configuration.
type RateLimiterConfig struct {
	GlobalRPS   float64
	GlobalBurst int
	KeyRPS      float64
	KeyBurst    int
	// IdleTTL drops per-key limiters unused for this long. 0 keeps them.
	IdleTTL time.Duration
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	return &RateLimiter{
		global:   rate.NewLimiter(rate.Limit(cfg.GlobalRPS), cfg.GlobalBurst),
		perKey:   make(map[string]*keyLimiter),
		keyRPS:   cfg.KeyRPS,
		keyBurst: cfg.KeyBurst,
		idleTTL:  cfg.IdleTTL,
		now:      time.Now,
	}
}

// Wait blocks until both the global and the per-key limit allow.
func (r *RateLimiter) Wait(ctx context.Context, key string) error {
	if err := r.global.Wait(ctx); err != nil {
		return err
	}
	return r.get(key).Wait(ctx)
}

// Allow reports whether a request for key may happen now.
func (r *RateLimiter) Allow(key string) bool {
	if !r.global.Allow() {
		return false
	}
	return r.get(key).Allow()
}

// Len returns the number of tracked keys.
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.perKey)
}

func (r *RateLimiter) get(key string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if r.idleTTL > 0 {
		for k, e := range r.perKey {
			if now.Sub(e.lastUsed) > r.idleTTL {
				delete(r.perKey, k)
			}
		}
	}

	e, ok := r.perKey[key]
	if !ok {
		e = &keyLimiter{limiter: rate.NewLimiter(rate.Limit(r.keyRPS), r.keyBurst)}
		r.perKey[key] = e
	}
	e.lastUsed = now
	return e.limiter
}
