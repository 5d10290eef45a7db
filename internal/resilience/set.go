package resilience

import (
	"sync"
	"time"
)

// BreakerSet lazily creates one breaker per key (external system id) so a
// failing vendor cannot starve calls to the others.
type BreakerSet struct {
	mu          sync.Mutex
	breakers    map[string]*Breaker
	maxFailures int
	timeout     time.Duration
	opts        []Option
}

// NewBreakerSet creates an empty set; every breaker shares the given settings.
func NewBreakerSet(maxFailures int, timeout time.Duration, opts ...Option) *BreakerSet {
	return &BreakerSet{
		breakers:    make(map[string]*Breaker),
		maxFailures: maxFailures,
		timeout:     timeout,
		opts:        opts,
	}
}

// Get returns the breaker for key, creating it on first use.
func (s *BreakerSet) Get(key string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.breakers[key]
	if !ok {
		b = NewBreaker(s.maxFailures, s.timeout, s.opts...)
		s.breakers[key] = b
	}
	return b
}

// Forget drops the breaker for key, e.g. after the system was reconfigured.
func (s *BreakerSet) Forget(key string) {
	s.mu.Lock()
	delete(s.breakers, key)
	s.mu.Unlock()
}

// States returns the state of every known breaker.
func (s *BreakerSet) States() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]string, len(s.breakers))
	for k, b := range s.breakers {
		out[k] = b.State()
	}
	return out
}
