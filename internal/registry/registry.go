// Package registry holds the process-wide set of synthesis backends together
// with their concurrency slots and circuit-breaker state.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/lexiqai/voice-composer/internal/resilience"
	"github.com/lexiqai/voice-composer/internal/tts"
)

var (
	// ErrNoBackendAvailable is returned when every candidate is open or excluded
	ErrNoBackendAvailable = errors.New("no backend available")

	// ErrUnknownBackend is returned for an id that was never registered
	ErrUnknownBackend = errors.New("unknown backend")
)

// BackendOptions describe one backend's static configuration
type BackendOptions struct {
	Kind           string
	Tier           string
	Priority       int // lower runs first
	MaxConcurrency int
	Timeout        time.Duration
}

// Backend is a registered adapter with its slots and breaker
type Backend struct {
	ID      string
	Kind    string
	Tier    string
	Adapter tts.Backend

	priority       int
	order          int
	maxConcurrency int
	timeout        time.Duration

	slots   *semaphore.Weighted
	inUse   atomic.Int32
	breaker *resilience.CircuitBreaker
}

// Timeout returns the per-attempt timeout of the backend
func (b *Backend) Timeout() time.Duration {
	return b.timeout
}

// Breaker exposes the backend's circuit breaker
func (b *Backend) Breaker() *resilience.CircuitBreaker {
	return b.breaker
}

// InUse returns the number of held concurrency slots
func (b *Backend) InUse() int {
	return int(b.inUse.Load())
}

// Status is a point-in-time view of one backend
type Status struct {
	ID             string    `json:"id"`
	Kind           string    `json:"kind"`
	Tier           string    `json:"tier,omitempty"`
	Priority       int       `json:"priority"`
	MaxConcurrency int       `json:"max_concurrency"`
	InUse          int       `json:"in_use"`
	State          string    `json:"state"`
	Failures       int       `json:"failures"`
	OpenedAt       time.Time `json:"opened_at,omitempty"`
	Requests       int64     `json:"requests"`
	TotalFailures  int64     `json:"total_failures"`
}

// HealthReport is the outcome of probing one backend
type HealthReport struct {
	ID      string        `json:"id"`
	OK      bool          `json:"ok"`
	State   string        `json:"state"`
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// Registry is the process-wide backend table
type Registry struct {
	breakerCfg resilience.BreakerConfig

	mu       sync.RWMutex
	backends []*Backend
	byID     map[string]*Backend
}

// New creates an empty registry; every backend gets a breaker built from cfg
func New(cfg resilience.BreakerConfig) *Registry {
	return &Registry{
		breakerCfg: cfg,
		byID:       make(map[string]*Backend),
	}
}

// Register adds a backend. Registration order breaks priority ties.
func (r *Registry) Register(id string, adapter tts.Backend, opts BackendOptions) (*Backend, error) {
	if id == "" || adapter == nil {
		return nil, fmt.Errorf("backend id and adapter are required")
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = 1
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[id]; exists {
		return nil, fmt.Errorf("backend %q already registered", id)
	}

	b := &Backend{
		ID:             id,
		Kind:           opts.Kind,
		Tier:           opts.Tier,
		Adapter:        adapter,
		priority:       opts.Priority,
		order:          len(r.backends),
		maxConcurrency: opts.MaxConcurrency,
		timeout:        opts.Timeout,
		slots:          semaphore.NewWeighted(int64(opts.MaxConcurrency)),
		breaker:        resilience.NewCircuitBreaker(id, r.breakerCfg),
	}
	r.backends = append(r.backends, b)
	r.byID[id] = b
	return b, nil
}

// Get returns a registered backend
func (r *Registry) Get(id string) (*Backend, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.byID[id]
	return b, ok
}

// Len returns the number of registered backends
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.backends)
}

// Candidates orders backends by voice affinity, then tier match, then
// priority and registration order. Excluded ids are left out.
func (r *Registry) Candidates(affinity []string, tier string, exclude map[string]bool) []*Backend {
	rank := make(map[string]int, len(affinity))
	for i, id := range affinity {
		if _, seen := rank[id]; !seen {
			rank[id] = i
		}
	}
	affinityRank := func(b *Backend) int {
		if i, ok := rank[b.ID]; ok {
			return i
		}
		return len(affinity)
	}
	tierRank := func(b *Backend) int {
		if tier == "" || b.Tier == tier {
			return 0
		}
		return 1
	}

	r.mu.RLock()
	out := make([]*Backend, 0, len(r.backends))
	for _, b := range r.backends {
		if !exclude[b.ID] {
			out = append(out, b)
		}
	}
	r.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if ra, rb := affinityRank(a), affinityRank(b); ra != rb {
			return ra < rb
		}
		if ta, tb := tierRank(a), tierRank(b); ta != tb {
			return ta < tb
		}
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		return a.order < b.order
	})
	return out
}

// Acquire leases the first usable candidate with a free slot. When every
// usable candidate is busy it waits for a slot on the best one. It fails with
// ErrNoBackendAvailable only when no candidate is usable at all.
func (r *Registry) Acquire(ctx context.Context, affinity []string, tier string, exclude map[string]bool) (*Lease, error) {
	candidates := r.Candidates(affinity, tier, exclude)

	for {
		var best *Backend
		for _, b := range candidates {
			if !b.breaker.Usable() {
				continue
			}
			if best == nil {
				best = b
			}
			if !b.slots.TryAcquire(1) {
				continue
			}
			if lease, ok := b.lease(); ok {
				return lease, nil
			}
		}

		if best == nil {
			return nil, ErrNoBackendAvailable
		}

		if err := best.slots.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		if lease, ok := best.lease(); ok {
			return lease, nil
		}
		// Breaker tripped while waiting; reselect
	}
}

// lease turns a held slot into a lease, or gives the slot back when the
// breaker refuses the call
func (b *Backend) lease() (*Lease, bool) {
	permit, err := b.breaker.Allow()
	if err != nil {
		b.slots.Release(1)
		return nil, false
	}
	b.inUse.Add(1)
	return &Lease{backend: b, permit: permit}, true
}

// Reset closes a backend's breaker; the only way out of OPEN besides a probe
func (r *Registry) Reset(id string) error {
	b, ok := r.Get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownBackend, id)
	}
	b.breaker.Reset()
	return nil
}

// Snapshot returns the status of every backend in registration order
func (r *Registry) Snapshot() []Status {
	r.mu.RLock()
	backends := append([]*Backend(nil), r.backends...)
	r.mu.RUnlock()

	out := make([]Status, len(backends))
	for i, b := range backends {
		snap := b.breaker.Snapshot()
		out[i] = Status{
			ID:             b.ID,
			Kind:           b.Kind,
			Tier:           b.Tier,
			Priority:       b.priority,
			MaxConcurrency: b.maxConcurrency,
			InUse:          b.InUse(),
			State:          snap.State.String(),
			Failures:       snap.Failures,
			OpenedAt:       snap.OpenedAt,
			Requests:       snap.Requests,
			TotalFailures:  snap.TotalFailures,
		}
	}
	return out
}

// HealthCheck probes every adapter concurrently. Breaker state is not changed.
func (r *Registry) HealthCheck(ctx context.Context) []HealthReport {
	r.mu.RLock()
	backends := append([]*Backend(nil), r.backends...)
	r.mu.RUnlock()

	reports := make([]HealthReport, len(backends))
	g, gctx := errgroup.WithContext(ctx)
	for i, b := range backends {
		g.Go(func() error {
			h, err := b.Adapter.HealthCheck(gctx)
			report := HealthReport{
				ID:      b.ID,
				OK:      err == nil && h.OK,
				State:   b.breaker.GetState().String(),
				Latency: h.Latency,
			}
			if err != nil {
				report.Error = err.Error()
			}
			reports[i] = report
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

// Close closes every adapter
func (r *Registry) Close() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var errs []error
	for _, b := range r.backends {
		if err := b.Adapter.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", b.ID, err))
		}
	}
	return errors.Join(errs...)
}
