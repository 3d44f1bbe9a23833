package gate

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// phaseLimiter enforces the per-phase evaluation cooldown. One token per
// cooldown interval, burst 1, keyed by session and phase so parallel
// sessions never throttle each other.
type phaseLimiter struct {
	cooldown time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newPhaseLimiter(cooldown time.Duration) *phaseLimiter {
	return &phaseLimiter{
		cooldown: cooldown,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow reports whether the phase may evaluate now. With a zero cooldown
// every evaluation is allowed.
func (p *phaseLimiter) Allow(sessionID, phaseID string) bool {
	if p.cooldown <= 0 {
		return true
	}

	key := sessionID + "/" + phaseID
	p.mu.Lock()
	limiter, ok := p.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(rate.Every(p.cooldown), 1)
		p.limiters[key] = limiter
	}
	p.mu.Unlock()

	return limiter.Allow()
}
