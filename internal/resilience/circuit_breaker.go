package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	StateClosed   CircuitState = iota // Normal operation
	StateOpen                         // Circuit is open, requests fail immediately
	StateHalfOpen                     // One probe request is testing recovery
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// StateChangeFunc is called after every state transition, outside the breaker lock
type StateChangeFunc func(name string, from, to CircuitState)

// BreakerConfig configures a circuit breaker
type BreakerConfig struct {
	MaxFailures   int           // failures within Window that open the circuit
	Window        time.Duration // rolling failure window; zero counts consecutive failures
	ResetTimeout  time.Duration // time in OPEN before a probe is admitted
	OnStateChange StateChangeFunc
	Now           func() time.Time
}

// DefaultBreakerConfig returns the standard breaker settings
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:  3,
		Window:       60 * time.Second,
		ResetTimeout: 30 * time.Second,
	}
}

// Permit is handed out by Allow and must be settled with exactly one of
// RecordSuccess, RecordFailure or Abandon
type Permit struct {
	probe      bool
	generation uint64
}

// Probe reports whether this permit is the half-open trial request
func (p Permit) Probe() bool {
	return p.probe
}

// BreakerSnapshot is a point-in-time view of a breaker
type BreakerSnapshot struct {
	State         CircuitState
	Failures      int // failures inside the current window
	OpenedAt      time.Time
	Requests      int64
	TotalFailures int64
}

// CircuitBreaker implements the circuit breaker pattern with a rolling
// failure window and a single half-open probe
type CircuitBreaker struct {
	name string
	cfg  BreakerConfig

	mu            sync.Mutex
	state         CircuitState
	generation    uint64 // bumped on every transition; stale permits are ignored
	failures      []time.Time
	openedAt      time.Time
	probeInFlight bool

	requestCount      int64
	failureCountTotal int64
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, cfg BreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = DefaultBreakerConfig().MaxFailures
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:  name,
		cfg:   cfg,
		state: StateClosed,
	}
}

// Name returns the breaker name
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Usable reports whether Allow would currently admit a request, without
// claiming the half-open probe
func (cb *CircuitBreaker) Usable() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		return cb.cfg.Now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout
	default:
		return !cb.probeInFlight
	}
}

// Allow checks whether a request may proceed
func (cb *CircuitBreaker) Allow() (Permit, error) {
	cb.mu.Lock()

	switch cb.state {
	case StateClosed:
		p := Permit{generation: cb.generation}
		cb.mu.Unlock()
		return p, nil

	case StateOpen:
		if cb.cfg.Now().Sub(cb.openedAt) < cb.cfg.ResetTimeout {
			cb.mu.Unlock()
			return Permit{}, ErrCircuitOpen
		}
		from := cb.transition(StateHalfOpen)
		cb.probeInFlight = true
		p := Permit{probe: true, generation: cb.generation}
		cb.mu.Unlock()
		cb.notify(from, StateHalfOpen)
		return p, nil

	default:
		if cb.probeInFlight {
			cb.mu.Unlock()
			return Permit{}, ErrCircuitOpen
		}
		cb.probeInFlight = true
		p := Permit{probe: true, generation: cb.generation}
		cb.mu.Unlock()
		return p, nil
	}
}

// RecordSuccess settles a permit whose call succeeded
func (cb *CircuitBreaker) RecordSuccess(p Permit) {
	cb.mu.Lock()
	cb.requestCount++

	if p.generation != cb.generation {
		cb.mu.Unlock()
		return
	}

	switch cb.state {
	case StateClosed:
		cb.failures = cb.failures[:0]
		cb.mu.Unlock()

	case StateHalfOpen:
		if !p.probe {
			cb.mu.Unlock()
			return
		}
		from := cb.transition(StateClosed)
		cb.mu.Unlock()
		cb.notify(from, StateClosed)

	default:
		cb.mu.Unlock()
	}
}

// RecordFailure settles a permit whose call failed
func (cb *CircuitBreaker) RecordFailure(p Permit) {
	cb.mu.Lock()
	cb.requestCount++
	cb.failureCountTotal++

	if p.generation != cb.generation {
		cb.mu.Unlock()
		return
	}

	now := cb.cfg.Now()
	switch cb.state {
	case StateClosed:
		cb.failures = append(cb.pruneLocked(now), now)
		if len(cb.failures) < cb.cfg.MaxFailures {
			cb.mu.Unlock()
			return
		}
		from := cb.transition(StateOpen)
		cb.mu.Unlock()
		cb.notify(from, StateOpen)

	case StateHalfOpen:
		if !p.probe {
			cb.mu.Unlock()
			return
		}
		from := cb.transition(StateOpen)
		cb.mu.Unlock()
		cb.notify(from, StateOpen)

	default:
		cb.mu.Unlock()
	}
}

// Abandon settles a permit whose call was cancelled; the outcome is not counted
func (cb *CircuitBreaker) Abandon(p Permit) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if p.probe && p.generation == cb.generation && cb.state == StateHalfOpen {
		cb.probeInFlight = false
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Snapshot returns a point-in-time view of the breaker
func (cb *CircuitBreaker) Snapshot() BreakerSnapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return BreakerSnapshot{
		State:         cb.state,
		Failures:      len(cb.pruneLocked(cb.cfg.Now())),
		OpenedAt:      cb.openedAt,
		Requests:      cb.requestCount,
		TotalFailures: cb.failureCountTotal,
	}
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	if cb.state == StateClosed {
		cb.failures = cb.failures[:0]
		cb.mu.Unlock()
		return
	}
	from := cb.transition(StateClosed)
	cb.mu.Unlock()
	cb.notify(from, StateClosed)
}

// transition moves to state and clears per-state bookkeeping. Caller holds mu.
func (cb *CircuitBreaker) transition(to CircuitState) CircuitState {
	from := cb.state
	cb.state = to
	cb.generation++
	cb.probeInFlight = false
	cb.failures = cb.failures[:0]
	if to == StateOpen {
		cb.openedAt = cb.cfg.Now()
	}
	return from
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	if cb.cfg.OnStateChange != nil && from != to {
		cb.cfg.OnStateChange(cb.name, from, to)
	}
}

// pruneLocked drops failures that fell out of the window. Caller holds mu.
func (cb *CircuitBreaker) pruneLocked(now time.Time) []time.Time {
	if cb.cfg.Window <= 0 {
		return cb.failures
	}
	cutoff := now.Add(-cb.cfg.Window)
	keep := cb.failures[:0]
	for _, t := range cb.failures {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	cb.failures = keep
	return keep
}
