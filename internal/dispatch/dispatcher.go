// Package dispatch runs planned synthesis jobs against the backend registry
// with retries, failover and circuit breaking.
package dispatch

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/lexiqai/voice-composer/internal/cache"
	"github.com/lexiqai/voice-composer/internal/diag"
	"github.com/lexiqai/voice-composer/internal/observability"
	"github.com/lexiqai/voice-composer/internal/planner"
	"github.com/lexiqai/voice-composer/internal/registry"
	"github.com/lexiqai/voice-composer/internal/resilience"
	"github.com/lexiqai/voice-composer/internal/tts"
)

// DefaultMaxParallel bounds concurrent jobs per request
const DefaultMaxParallel = 8

// State is a job's position in its lifecycle
type State string

const (
	StatePending    State = "PENDING"
	StateAttempting State = "ATTEMPTING"
	StateSucceeded  State = "SUCCEEDED"
	StateFailedOver State = "FAILED_OVER"
	StateExhausted  State = "EXHAUSTED"
	StateCancelled  State = "CANCELLED"
)

// Terminal reports whether no further transition can happen
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateExhausted || s == StateCancelled
}

// Attempt records one synthesis call
type Attempt struct {
	Backend string        `json:"backend"`
	Number  int           `json:"number"` // 1-based, per backend
	Latency time.Duration `json:"latency"`
	Error   string        `json:"error,omitempty"`
}

// Outcome is the result of one job, stored at its index
type Outcome struct {
	Index    int           `json:"index"`
	State    State         `json:"state"`
	Audio    *tts.Audio    `json:"-"`
	Backend  string        `json:"backend,omitempty"`
	CacheHit bool          `json:"cache_hit"`
	Attempts []Attempt     `json:"attempts,omitempty"`
	Path     []State       `json:"path"`
	Failure  *diag.Failure `json:"failure,omitempty"`
}

func (o *Outcome) transition(s State) {
	o.State = s
	o.Path = append(o.Path, s)
}

// Options configures a dispatcher
type Options struct {
	MaxParallel int
	Retry       *resilience.RetryConfig
	SampleRate  int // preferred backend output rate
}

// Dispatcher fans jobs out over the registry
type Dispatcher struct {
	registry *registry.Registry
	segments *cache.Segments
	opts     Options
}

// New creates a dispatcher. segments may be nil to disable caching.
func New(reg *registry.Registry, segments *cache.Segments, opts Options) *Dispatcher {
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = DefaultMaxParallel
	}
	if opts.Retry == nil {
		opts.Retry = resilience.DefaultRetryConfig()
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 1
	}
	return &Dispatcher{registry: reg, segments: segments, opts: opts}
}

// Dispatch runs every job and returns one outcome per job, in job order.
// It returns only after every job has settled and released its slot.
func (d *Dispatcher) Dispatch(ctx context.Context, jobs []planner.Job) []Outcome {
	outcomes := make([]Outcome, len(jobs))

	var g errgroup.Group
	g.SetLimit(d.opts.MaxParallel)
	for i := range jobs {
		outcomes[i] = Outcome{Index: i}
		outcomes[i].transition(StatePending)
		g.Go(func() error {
			d.run(ctx, &jobs[i], &outcomes[i])
			return nil
		})
	}
	_ = g.Wait()

	return outcomes
}

// Request builds the backend request for a job
func (d *Dispatcher) Request(job *planner.Job) *tts.Request {
	return &tts.Request{
		Text:        job.Text,
		Voice:       job.Voice,
		Emotion:     job.Emotion,
		StyleDegree: job.StyleDegree,
		Speed:       job.Prosody.Speed,
		Pitch:       job.Prosody.Pitch,
		Volume:      job.Prosody.Volume,
		SampleRate:  d.opts.SampleRate,
	}
}

func (d *Dispatcher) run(ctx context.Context, job *planner.Job, out *Outcome) {
	ctx, span := observability.Tracer().Start(ctx, "dispatch.job", trace.WithAttributes(
		attribute.Int("job.index", job.Index),
		attribute.String("job.voice", job.Voice),
	))
	defer span.End()

	logger := observability.FromContext(ctx).With().Int("chunk", job.Index).Str("voice", job.Voice).Logger()
	req := d.Request(job)

	if ctx.Err() != nil {
		d.cancelled(out, ctx.Err())
		return
	}

	key := cache.KeyFor(req)
	if entry, ok := d.segments.Get(key); ok {
		observability.RecordCacheLookup(true)
		out.Audio, out.Backend, out.CacheHit = entry.Audio, entry.Backend, true
		out.transition(StateSucceeded)
		span.SetAttributes(attribute.Bool("cache.hit", true))
		return
	}
	if d.segments != nil {
		observability.RecordCacheLookup(false)
	}

	exclude := make(map[string]bool)
	var lastErr error
	lastBackend := ""

	for {
		lease, err := d.registry.Acquire(ctx, job.Backends, job.Tier, exclude)
		if err != nil {
			if ctx.Err() != nil {
				d.cancelled(out, ctx.Err())
				return
			}
			out.transition(StateExhausted)
			out.Failure = exhausted(job.Index, err, lastErr, lastBackend)
			span.SetStatus(codes.Error, out.Failure.Reason)
			logger.Warn().Str("code", string(out.Failure.Code)).Str("reason", out.Failure.Reason).Msg("Chunk exhausted every backend")
			return
		}

		backend := lease.Backend()
		out.transition(StateAttempting)
		audio, err := d.attempts(ctx, lease, req, out)
		lease.Release()

		if err == nil {
			out.Audio, out.Backend = audio, backend.ID
			out.transition(StateSucceeded)
			d.segments.Add(key, cache.Entry{Audio: audio, Backend: backend.ID})
			span.SetAttributes(attribute.String("backend", backend.ID))
			return
		}
		if ctx.Err() != nil {
			d.cancelled(out, ctx.Err())
			return
		}

		lastErr, lastBackend = err, backend.ID
		exclude[backend.ID] = true
		out.transition(StateFailedOver)
		observability.RecordFailover(backend.ID)
		logger.Info().Err(err).Str("backend", backend.ID).Msg("Failing over to next backend")
	}
}

// attempts retries the job on one leased backend until it succeeds, the
// error is not retryable, attempts run out, the next backoff would overrun the
// request deadline or the breaker refuses a retry
func (d *Dispatcher) attempts(ctx context.Context, lease *registry.Lease, req *tts.Request, out *Outcome) (*tts.Audio, error) {
	backend := lease.Backend()
	var (
		audio   *tts.Audio
		lastErr error
	)

	err := resilience.Retry(ctx, func(ctx context.Context, n int) error {
		if n > 0 {
			if err := lease.Permit(); err != nil {
				return err
			}
		}

		a, err := d.attempt(ctx, backend, req, n+1, out)
		if err == nil {
			lease.Success()
			audio = a
			return nil
		}
		lastErr = err

		if ctx.Err() != nil || !tts.IsRetryable(err) {
			lease.Abandon()
			return err
		}
		lease.Failure()
		observability.IncrementCircuitBreakerFailures(backend.ID)
		return err
	}, d.opts.Retry, func(err error) bool {
		return ctx.Err() == nil && !errors.Is(err, resilience.ErrCircuitOpen) && tts.IsRetryable(err)
	})

	switch {
	case err == nil:
		return audio, nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		// Budget and breaker refusals surface the backend's own error
		return nil, lastErr
	}
}

func (d *Dispatcher) attempt(ctx context.Context, backend *registry.Backend, req *tts.Request, number int, out *Outcome) (*tts.Audio, error) {
	ctx, span := observability.Tracer().Start(ctx, "dispatch.attempt", trace.WithAttributes(
		attribute.String("backend", backend.ID),
		attribute.Int("attempt", number),
	))
	defer span.End()

	// WithTimeout keeps the earlier of the backend timeout and the request deadline
	cancel := context.CancelFunc(func() {})
	if t := backend.Timeout(); t > 0 {
		ctx, cancel = context.WithTimeout(ctx, t)
	}
	defer cancel()

	start := time.Now()
	audio, err := backend.Adapter.Synthesize(ctx, req)
	if err == nil && (audio == nil || len(audio.Data) == 0) {
		err = tts.NewSynthesisError(backend.ID, "empty response", tts.ErrEmptyAudio, true)
	}
	latency := time.Since(start)

	rec := Attempt{Backend: backend.ID, Number: number, Latency: latency}
	status := "success"
	if err != nil {
		rec.Error = err.Error()
		status = string(classify(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
	} else {
		observability.RecordBackendAudio(len(audio.Data))
	}
	out.Attempts = append(out.Attempts, rec)
	observability.RecordAttempt(backend.ID, status, latency)

	return audio, err
}

func (d *Dispatcher) cancelled(out *Outcome, err error) {
	out.transition(StateCancelled)
	out.Failure = &diag.Failure{Index: out.Index, Code: diag.Cancelled, Reason: err.Error()}
}

// exhausted builds the failure for a job that ran out of backends. The last
// backend error wins over the registry's reason.
func exhausted(index int, acquireErr, lastErr error, lastBackend string) *diag.Failure {
	if lastErr == nil {
		return &diag.Failure{Index: index, Code: classify(acquireErr), Reason: acquireErr.Error()}
	}
	return &diag.Failure{Index: index, Code: classify(lastErr), Reason: lastErr.Error(), Backend: lastBackend}
}

// classify maps an error to its diagnostic code
func classify(err error) diag.Code {
	switch {
	case errors.Is(err, registry.ErrNoBackendAvailable):
		return diag.NoBackendAvailable
	case errors.Is(err, context.Canceled):
		return diag.Cancelled
	case tts.IsTimeout(err):
		return diag.BackendTimeout
	case tts.IsRejected(err):
		return diag.BackendRejected
	default:
		return diag.BackendTransportError
	}
}
