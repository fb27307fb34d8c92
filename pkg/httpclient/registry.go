package httpclient

import (
	"sync"
	"time"
)

// BreakerRegistry manages one Breaker per upstream target so a failing
// dependency cannot fail-fast calls to an unrelated one. Breakers live for
// the process lifetime.
type BreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewBreakerRegistry creates an empty breaker registry.
func NewBreakerRegistry() *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for the given target key, creating it with the
// supplied threshold and cooldown on first use.
func (r *BreakerRegistry) Get(key string, threshold int, cooldown time.Duration) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[key]
	r.mu.RUnlock()

	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Double check
	if b, ok := r.breakers[key]; ok {
		return b
	}

	b = NewBreaker(threshold, cooldown)
	r.breakers[key] = b
	return b
}
