package relaynet

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimitConfig defines per-connection message rate limiting.
type RateLimitConfig struct {
	// MessagesPerSecond defines how many messages a connection may send
	// per second.
	MessagesPerSecond rate.Limit
	// Burst defines the token bucket capacity.
	Burst int
	// Enabled determines if rate limiting is active.
	Enabled bool
}

// DefaultRateLimitConfig allows 100 messages per second with burst of 200.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		MessagesPerSecond: 100,
		Burst:             200,
		Enabled:           true,
	}
}

// NoRateLimit returns a configuration with rate limiting disabled.
func NoRateLimit() *RateLimitConfig {
	return &RateLimitConfig{Enabled: false}
}

// RateLimitStep builds a receive pipeline step that applies a token bucket
// per connection UID. Messages over the limit are discarded; the
// connection stays open. The step keeps one limiter per UID and drops it
// when the returned release func is called with that UID.
func RateLimitStep(cfg *RateLimitConfig) (Step, func(UID)) {
	if cfg == nil {
		cfg = DefaultRateLimitConfig()
	}
	if !cfg.Enabled {
		return func(*Params) StepResult { return StepSuccess }, func(UID) {}
	}

	var mu sync.Mutex
	limiters := make(map[UID]*rate.Limiter)

	step := func(p *Params) StepResult {
		mu.Lock()
		lim, ok := limiters[p.UID]
		if !ok {
			lim = rate.NewLimiter(cfg.MessagesPerSecond, cfg.Burst)
			limiters[p.UID] = lim
		}
		mu.Unlock()
		if !lim.Allow() {
			return StepFailure
		}
		return StepSuccess
	}
	release := func(uid UID) {
		mu.Lock()
		delete(limiters, uid)
		mu.Unlock()
	}
	return step, release
}
