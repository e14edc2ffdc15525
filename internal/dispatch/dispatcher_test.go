package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/lexiqai/voice-composer/internal/cache"
	"github.com/lexiqai/voice-composer/internal/diag"
	"github.com/lexiqai/voice-composer/internal/planner"
	"github.com/lexiqai/voice-composer/internal/registry"
	"github.com/lexiqai/voice-composer/internal/resilience"
	"github.com/lexiqai/voice-composer/internal/tts"
)

func fastRetry() *resilience.RetryConfig {
	return &resilience.RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2,
	}
}

func newRegistry() *registry.Registry {
	return registry.New(resilience.BreakerConfig{MaxFailures: 3, Window: time.Minute, ResetTimeout: time.Hour})
}

func recordFailure(t *testing.T, cb *resilience.CircuitBreaker) {
	t.Helper()
	p, err := cb.Allow()
	if err != nil {
		t.Fatalf("Allow() rejected: %v", err)
	}
	cb.RecordFailure(p)
}

func mustRegister(t *testing.T, r *registry.Registry, m *tts.MockBackend, opts registry.BackendOptions) *registry.Backend {
	t.Helper()
	b, err := r.Register(m.Name(), m, opts)
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", m.Name(), err)
	}
	return b
}

func repeat(n int, b tts.MockBehavior) []tts.MockBehavior {
	out := make([]tts.MockBehavior, n)
	for i := range out {
		out[i] = b
	}
	return out
}

func jobs(texts ...string) []planner.Job {
	out := make([]planner.Job, len(texts))
	for i, text := range texts {
		out[i] = planner.Job{Index: i, Source: i, Text: text, Voice: "en-US-JennyNeural", Intensity: 2, StyleDegree: 1.0}
	}
	return out
}

func TestDispatch_BreakerOpensAndRoutesAway(t *testing.T) {
	r := newRegistry()
	flaky := tts.NewMockBackend("flaky").Script(repeat(10, tts.MockBehavior{Err: tts.StatusError("flaky", http.StatusServiceUnavailable, "")})...)
	steady := tts.NewMockBackend("steady")
	fb := mustRegister(t, r, flaky, registry.BackendOptions{Priority: 0, MaxConcurrency: 1})
	mustRegister(t, r, steady, registry.BackendOptions{Priority: 1, MaxConcurrency: 1})

	d := New(r, nil, Options{MaxParallel: 1, Retry: fastRetry()})

	first := d.Dispatch(context.Background(), jobs("First line of dialogue."))
	if first[0].State != StateSucceeded || first[0].Backend != "steady" {
		t.Fatalf("Expected success on steady, got %+v", first[0])
	}
	if len(flaky.Calls()) != 3 {
		t.Errorf("Expected 3 attempts on flaky, got %d", len(flaky.Calls()))
	}
	if fb.Breaker().GetState() != resilience.StateOpen {
		t.Errorf("Expected flaky breaker open, got %s", fb.Breaker().GetState())
	}
	wantPath := []State{StatePending, StateAttempting, StateFailedOver, StateAttempting, StateSucceeded}
	if fmt.Sprint(first[0].Path) != fmt.Sprint(wantPath) {
		t.Errorf("Expected path %v, got %v", wantPath, first[0].Path)
	}

	second := d.Dispatch(context.Background(), jobs("Second line of dialogue."))
	if second[0].Backend != "steady" {
		t.Errorf("Expected second job on steady, got %s", second[0].Backend)
	}
	if len(flaky.Calls()) != 3 {
		t.Errorf("Expected no further attempts on the open backend, got %d calls", len(flaky.Calls()))
	}
}

func TestDispatch_PreservesOrder(t *testing.T) {
	r := newRegistry()
	m := tts.NewMockBackend("mock").Script(
		tts.MockBehavior{Delay: 40 * time.Millisecond},
		tts.MockBehavior{Delay: 5 * time.Millisecond},
		tts.MockBehavior{Delay: 20 * time.Millisecond},
	)
	mustRegister(t, r, m, registry.BackendOptions{MaxConcurrency: 4})

	in := jobs("alpha is first here", "beta is the second", "gamma comes third", "delta closes it out")
	out := New(r, nil, Options{MaxParallel: 4, Retry: fastRetry()}).Dispatch(context.Background(), in)

	for i, o := range out {
		if o.Index != i || o.State != StateSucceeded {
			t.Fatalf("Outcome %d: unexpected %+v", i, o)
		}
		want := tts.MockTone(tts.DefaultFormat(), tts.MockDuration(in[i].Text))
		if len(o.Audio.Data) != len(want) {
			t.Errorf("Outcome %d: expected audio for %q", i, in[i].Text)
		}
	}
}

func TestDispatch_RejectedFailsOverWithoutCounting(t *testing.T) {
	r := newRegistry()
	picky := tts.NewMockBackend("picky").Script(tts.MockBehavior{Err: tts.StatusError("picky", http.StatusBadRequest, "unknown voice")})
	pb := mustRegister(t, r, picky, registry.BackendOptions{Priority: 0})
	mustRegister(t, r, tts.NewMockBackend("fallback"), registry.BackendOptions{Priority: 1})

	out := New(r, nil, Options{Retry: fastRetry()}).Dispatch(context.Background(), jobs("Hello there friend."))

	if out[0].Backend != "fallback" {
		t.Errorf("Expected fallback, got %+v", out[0])
	}
	if len(picky.Calls()) != 1 {
		t.Errorf("Expected a single attempt on a 4xx, got %d", len(picky.Calls()))
	}
	if s := pb.Breaker().Snapshot(); s.Failures != 0 || s.State != resilience.StateClosed {
		t.Errorf("Expected 4xx to leave the breaker untouched, got %+v", s)
	}
}

func TestDispatch_ExhaustedKeepsLastReason(t *testing.T) {
	r := newRegistry()
	m := tts.NewMockBackend("only").Script(repeat(3, tts.MockBehavior{Err: tts.StatusError("only", http.StatusBadGateway, "")})...)
	mustRegister(t, r, m, registry.BackendOptions{})

	out := New(r, nil, Options{Retry: fastRetry()}).Dispatch(context.Background(), jobs("Nobody will say this."))

	o := out[0]
	if o.State != StateExhausted || o.Failure == nil {
		t.Fatalf("Expected exhausted outcome, got %+v", o)
	}
	if o.Failure.Code != diag.BackendTransportError || o.Failure.Backend != "only" {
		t.Errorf("Expected transport failure from only, got %+v", o.Failure)
	}
	if len(o.Attempts) != 3 {
		t.Errorf("Expected 3 recorded attempts, got %d", len(o.Attempts))
	}
}

func TestDispatch_NoBackendAvailable(t *testing.T) {
	r := newRegistry()
	b := mustRegister(t, r, tts.NewMockBackend("down"), registry.BackendOptions{})
	for i := 0; i < 3; i++ {
		recordFailure(t, b.Breaker())
	}

	out := New(r, nil, Options{Retry: fastRetry()}).Dispatch(context.Background(), jobs("Anyone out there?"))
	if out[0].Failure == nil || out[0].Failure.Code != diag.NoBackendAvailable {
		t.Errorf("Expected NoBackendAvailable, got %+v", out[0])
	}
}

func TestDispatch_TimeoutIsRetried(t *testing.T) {
	r := newRegistry()
	slow := tts.NewMockBackend("slow").Script(tts.MockBehavior{Delay: time.Second})
	mustRegister(t, r, slow, registry.BackendOptions{Timeout: 20 * time.Millisecond})

	out := New(r, nil, Options{Retry: fastRetry()}).Dispatch(context.Background(), jobs("Eventually this works."))

	o := out[0]
	if o.State != StateSucceeded || len(o.Attempts) != 2 {
		t.Fatalf("Expected success on the second attempt, got %+v", o)
	}
	if o.Attempts[0].Error == "" {
		t.Error("Expected the first attempt to record a timeout")
	}
}

func TestDispatch_RetryRespectsDeadline(t *testing.T) {
	r := newRegistry()
	m := tts.NewMockBackend("flaky").Script(repeat(3, tts.MockBehavior{Err: tts.StatusError("flaky", http.StatusInternalServerError, "")})...)
	mustRegister(t, r, m, registry.BackendOptions{})

	retry := fastRetry()
	retry.InitialBackoff = time.Second
	retry.MaxBackoff = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	out := New(r, nil, Options{Retry: retry}).Dispatch(ctx, jobs("Not enough time left."))

	if time.Since(start) > 150*time.Millisecond {
		t.Errorf("Expected the oversized backoff to be skipped, took %s", time.Since(start))
	}
	if len(m.Calls()) != 1 || out[0].State != StateExhausted {
		t.Errorf("Expected one attempt then exhaustion, got %d calls, %+v", len(m.Calls()), out[0])
	}
	if f := out[0].Failure; f == nil || f.Code != diag.BackendTransportError || strings.Contains(f.Reason, resilience.ErrDeadlineBudget.Error()) {
		t.Errorf("Expected the backend error as the reason, got %+v", f)
	}
}

func TestDispatch_BreakerStopsRetries(t *testing.T) {
	r := registry.New(resilience.BreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour})
	m := tts.NewMockBackend("flaky").Script(repeat(3, tts.MockBehavior{Err: tts.StatusError("flaky", http.StatusServiceUnavailable, "")})...)
	b := mustRegister(t, r, m, registry.BackendOptions{})

	out := New(r, nil, Options{Retry: fastRetry()}).Dispatch(context.Background(), jobs("Stop after the breaker trips."))

	if len(m.Calls()) != 2 {
		t.Errorf("Expected the open breaker to refuse the third attempt, got %d calls", len(m.Calls()))
	}
	if b.Breaker().GetState() != resilience.StateOpen {
		t.Errorf("Expected breaker open, got %s", b.Breaker().GetState())
	}
	f := out[0].Failure
	if out[0].State != StateExhausted || f == nil || f.Backend != "flaky" || f.Code != diag.BackendTransportError {
		t.Errorf("Expected exhaustion with the backend error, got %+v", out[0])
	}
}

func TestDispatch_CancellationReleasesSlots(t *testing.T) {
	r := newRegistry()
	m := tts.NewMockBackend("slow").Script(repeat(8, tts.MockBehavior{Delay: 5 * time.Second})...)
	b := mustRegister(t, r, m, registry.BackendOptions{MaxConcurrency: 2})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)

	in := jobs("one one one one", "two two two two", "three three three", "four four four four")
	out := New(r, nil, Options{MaxParallel: 4, Retry: fastRetry()}).Dispatch(ctx, in)

	for i, o := range out {
		if o.State != StateCancelled || o.Failure == nil || o.Failure.Code != diag.Cancelled {
			t.Errorf("Outcome %d: expected cancelled, got %+v", i, o)
		}
	}
	if b.InUse() != 0 {
		t.Errorf("Expected every slot released, got %d in use", b.InUse())
	}
	if s := b.Breaker().Snapshot(); s.Failures != 0 || s.State != resilience.StateClosed {
		t.Errorf("Expected cancellation to leave the breaker untouched, got %+v", s)
	}
}

func TestDispatch_BoundsConcurrency(t *testing.T) {
	r := newRegistry()
	m := tts.NewMockBackend("mock").Script(repeat(6, tts.MockBehavior{Delay: 20 * time.Millisecond})...)
	mustRegister(t, r, m, registry.BackendOptions{MaxConcurrency: 10})

	New(r, nil, Options{MaxParallel: 2, Retry: fastRetry()}).Dispatch(context.Background(),
		jobs("aaaa aaaa", "bbbb bbbb", "cccc cccc", "dddd dddd", "eeee eeee", "ffff ffff"))

	if m.MaxInFlight() > 2 {
		t.Errorf("Expected at most 2 concurrent calls, saw %d", m.MaxInFlight())
	}
}

func TestDispatch_CacheHit(t *testing.T) {
	r := newRegistry()
	m := tts.NewMockBackend("mock")
	mustRegister(t, r, m, registry.BackendOptions{})

	segments, err := cache.New(8)
	if err != nil {
		t.Fatal(err)
	}
	d := New(r, segments, Options{MaxParallel: 1, Retry: fastRetry()})

	d.Dispatch(context.Background(), jobs("Say it once."))
	out := d.Dispatch(context.Background(), jobs("Say it once."))

	if !out[0].CacheHit || out[0].Backend != "mock" {
		t.Errorf("Expected cache hit attributed to mock, got %+v", out[0])
	}
	if len(m.Calls()) != 1 {
		t.Errorf("Expected one backend call, got %d", len(m.Calls()))
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want diag.Code
	}{
		{registry.ErrNoBackendAvailable, diag.NoBackendAvailable},
		{context.Canceled, diag.Cancelled},
		{tts.TransportError("x", context.DeadlineExceeded), diag.BackendTimeout},
		{tts.StatusError("x", http.StatusUnprocessableEntity, ""), diag.BackendRejected},
		{tts.StatusError("x", http.StatusServiceUnavailable, ""), diag.BackendTransportError},
		{errors.New("connection reset by peer"), diag.BackendTransportError},
	}
	for _, tt := range tests {
		if got := classify(tt.err); got != tt.want {
			t.Errorf("classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
