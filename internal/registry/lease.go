package registry

import (
	"sync"

	"github.com/lexiqai/voice-composer/internal/resilience"
)

// Lease holds one concurrency slot on a backend plus the breaker permit for
// the current attempt. Each permit is settled exactly once; the slot is
// released exactly once by Release.
type Lease struct {
	backend *Backend

	mu      sync.Mutex
	permit  resilience.Permit
	settled bool
	done    bool
}

// Backend returns the leased backend
func (l *Lease) Backend() *Backend {
	return l.backend
}

// Success records a successful attempt
func (l *Lease) Success() {
	l.settle(func(p resilience.Permit) { l.backend.breaker.RecordSuccess(p) })
}

// Failure records a failed attempt toward the breaker
func (l *Lease) Failure() {
	l.settle(func(p resilience.Permit) { l.backend.breaker.RecordFailure(p) })
}

// Abandon settles the attempt without counting it (cancellation, rejected input)
func (l *Lease) Abandon() {
	l.settle(func(p resilience.Permit) { l.backend.breaker.Abandon(p) })
}

// Permit asks the breaker to admit another attempt on the same slot. It fails
// with resilience.ErrCircuitOpen once the breaker has tripped.
func (l *Lease) Permit() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.settled {
		return nil
	}
	p, err := l.backend.breaker.Allow()
	if err != nil {
		return err
	}
	l.permit = p
	l.settled = false
	return nil
}

// Release gives the slot back; an unsettled attempt is abandoned. Safe to call twice.
func (l *Lease) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.done {
		return
	}
	if !l.settled {
		l.backend.breaker.Abandon(l.permit)
		l.settled = true
	}
	l.done = true
	l.backend.inUse.Add(-1)
	l.backend.slots.Release(1)
}

func (l *Lease) settle(fn func(resilience.Permit)) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.settled || l.done {
		return
	}
	fn(l.permit)
	l.settled = true
}
