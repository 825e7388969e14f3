package score

import (
	"sort"
	"sync"
	"time"

	"github.com/ppiankov/sentinel/internal/model"
)

// Breaker is the circuit breaker of one provider. All transitions happen
// under mu so concurrent scoring calls observe a consistent state.
type Breaker struct {
	mu        sync.Mutex
	name      string
	threshold int
	cooldown  time.Duration
	now       func() time.Time

	phase     model.BreakerPhase
	failures  int
	openUntil time.Time
	trialOut  bool // half-open trial call in flight
}

// NewBreaker creates a closed breaker that opens after threshold consecutive failures
func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 1
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
		phase:     model.BreakerClosed,
	}
}

// Allow reports whether a call may be made now. After the cooldown the
// first caller gets the single half-open trial; others are refused until
// that trial reports back.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.phase {
	case model.BreakerClosed:
		return true
	case model.BreakerOpen:
		if b.now().Before(b.openUntil) {
			return false
		}
		b.phase = model.BreakerHalfOpen
		b.trialOut = true
		return true
	case model.BreakerHalfOpen:
		if b.trialOut {
			return false
		}
		b.trialOut = true
		return true
	}
	return false
}

// Success closes the breaker
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.phase = model.BreakerClosed
	b.failures = 0
	b.trialOut = false
	b.openUntil = time.Time{}
}

// Failure counts a failed call; a failed half-open trial reopens immediately
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.trialOut = false
	if b.phase == model.BreakerHalfOpen || b.failures >= b.threshold {
		b.phase = model.BreakerOpen
		b.openUntil = b.now().Add(b.cooldown)
	}
}

// Release gives back a half-open trial that never reached the provider
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.phase == model.BreakerHalfOpen {
		b.trialOut = false
	}
}

// Snapshot returns the current state
func (b *Breaker) Snapshot() model.ProviderState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return model.ProviderState{
		Provider:            b.name,
		Phase:               b.phase,
		OpenUntil:           b.openUntil,
		ConsecutiveFailures: b.failures,
	}
}

// Breakers is the process-wide registry, one breaker per provider name
type Breakers struct {
	mu        sync.Mutex
	byName    map[string]*Breaker
	threshold int
	cooldown  time.Duration
	now       func() time.Time
}

// NewBreakers creates an empty registry
func NewBreakers(threshold int, cooldown time.Duration) *Breakers {
	return &Breakers{
		byName:    make(map[string]*Breaker),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Get returns the breaker for name, creating it on first use
func (r *Breakers) Get(name string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.byName[name]
	if !ok {
		b = NewBreaker(name, r.threshold, r.cooldown)
		b.now = r.now
		r.byName[name] = b
	}
	return b
}

// Snapshot returns every provider state, sorted by name
func (r *Breakers) Snapshot() []model.ProviderState {
	r.mu.Lock()
	breakers := make([]*Breaker, 0, len(r.byName))
	for _, b := range r.byName {
		breakers = append(breakers, b)
	}
	r.mu.Unlock()

	out := make([]model.ProviderState, 0, len(breakers))
	for _, b := range breakers {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
