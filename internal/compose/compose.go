// Package compose wires the parser, planner, dispatcher and assembler into
// one request pipeline.
package compose

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/lexiqai/voice-composer/internal/audio"
	"github.com/lexiqai/voice-composer/internal/catalog"
	"github.com/lexiqai/voice-composer/internal/diag"
	"github.com/lexiqai/voice-composer/internal/dialogue"
	"github.com/lexiqai/voice-composer/internal/dispatch"
	"github.com/lexiqai/voice-composer/internal/events"
	"github.com/lexiqai/voice-composer/internal/observability"
	"github.com/lexiqai/voice-composer/internal/planner"
	"github.com/lexiqai/voice-composer/internal/tts"
)

// ErrInvalidRequest marks requests rejected before any synthesis
var ErrInvalidRequest = errors.New("invalid compose request")

// Request is one compose call
type Request struct {
	RequestID string

	// Exactly one of Text and Chunks is set
	Text   string
	Chunks []dialogue.Chunk

	Voice   string // global voice; the configured default when empty
	Tier    string
	Prosody dialogue.Prosody // applies to every chunk field left at zero

	SilenceMs *int         // gap between chunks; the configured default when nil
	Mode      audio.Mode   // the configured default when empty
	Encoding  tts.Encoding // the configured default when empty
}

// ChunkReport is the per-chunk part of a result
type ChunkReport struct {
	Index    int            `json:"index"`
	Source   int            `json:"source"`
	Text     string         `json:"text"`
	Voice    string         `json:"voice"`
	Emotion  string         `json:"emotion,omitempty"`
	State    dispatch.State `json:"state"`
	Backend  string         `json:"backend,omitempty"`
	CacheHit bool           `json:"cache_hit"`
	Attempts int            `json:"attempts"`
	Frames   int            `json:"frames"`
	Failure  *diag.Failure  `json:"failure,omitempty"`
}

// Result is the outcome of a compose call
type Result struct {
	RequestID string
	Output    *audio.Output // nil when assembly failed
	Warnings  []diag.Warning
	Chunks    []ChunkReport
	Failures  []diag.Failure
}

// Options holds the service-wide defaults
type Options struct {
	DefaultVoice      string
	SilenceMs         int
	Mode              audio.Mode
	Encoding          tts.Encoding
	SampleRate        int
	Channels          int
	LeadingSilenceMs  int
	TrailingSilenceMs int
	RequestTimeout    time.Duration
}

// Composer runs the compose pipeline
type Composer struct {
	catalog    catalog.Catalog
	parser     *dialogue.Parser
	planner    *planner.Planner
	dispatcher *dispatch.Dispatcher
	publisher  events.Publisher
	opts       Options
}

// New creates a composer. A nil publisher disables result events.
func New(cat catalog.Catalog, pl *planner.Planner, d *dispatch.Dispatcher, pub events.Publisher, opts Options) *Composer {
	if pub == nil {
		pub = events.Noop{}
	}
	if opts.Mode == "" {
		opts.Mode = audio.ModeStrict
	}
	if opts.Encoding == "" {
		opts.Encoding = tts.EncodingWAV
	}
	return &Composer{
		catalog:    cat,
		parser:     dialogue.NewParser(cat.Speakers()),
		planner:    pl,
		dispatcher: d,
		publisher:  pub,
		opts:       opts,
	}
}

// Plan parses and plans a request without synthesizing it
func (c *Composer) Plan(req Request) (*planner.Plan, error) {
	if err := c.validate(&req); err != nil {
		return nil, err
	}

	var (
		chunks   []dialogue.Chunk
		markup   = true
		warnings []diag.Warning
	)
	if len(req.Chunks) > 0 {
		chunks = req.Chunks
	} else {
		parsed := c.parser.Parse(req.Text)
		chunks, markup, warnings = parsed.Chunks, parsed.Markup, parsed.Warnings
	}

	plan, err := c.planner.Plan(planner.Request{
		Chunks:  chunks,
		Markup:  markup,
		Voice:   req.Voice,
		Prosody: req.Prosody,
		Tier:    req.Tier,
	})
	if err != nil {
		if errors.Is(err, planner.ErrNoVoice) {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		return nil, err
	}

	if len(plan.Jobs) == 0 {
		return nil, fmt.Errorf("%w: no synthesizable content", ErrInvalidRequest)
	}

	plan.Warnings = append(remap(warnings, plan.Jobs), plan.Warnings...)
	sortWarnings(plan.Warnings)
	return plan, nil
}

// Compose synthesizes a request into one audio buffer. When synthesis ran
// but assembly failed, the partial result is returned together with an
// *audio.AssemblyError.
func (c *Composer) Compose(ctx context.Context, req Request) (*Result, error) {
	if req.RequestID == "" {
		req.RequestID = observability.NewCorrelationID()
	}
	ctx, logger := observability.RequestContext(ctx, req.RequestID)

	if c.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.RequestTimeout)
		defer cancel()
	}

	ctx, span := observability.Tracer().Start(ctx, "compose", trace.WithAttributes(
		attribute.String("request.id", req.RequestID),
	))
	defer span.End()

	metrics := observability.NewRequestMetrics(req.RequestID)
	metrics.RecordStart()
	start := time.Now()

	_, planSpan := observability.Tracer().Start(ctx, "compose.plan")
	plan, err := c.Plan(req)
	planSpan.End()
	if err != nil {
		metrics.RecordEnd("invalid")
		span.SetStatus(otelcodes.Error, err.Error())
		logger.Warn().Err(err).Msg("Rejected compose request")
		return nil, err
	}
	span.SetAttributes(attribute.Int("chunks", len(plan.Jobs)), attribute.Bool("multi_voice", plan.MultiVoice))
	logger.Info().Int("chunks", len(plan.Jobs)).Strs("voices", plan.Voices).Msg("Planned compose request")

	outcomes := c.dispatcher.Dispatch(ctx, plan.Jobs)

	slots := make([]audio.Slot, len(outcomes))
	for i, o := range outcomes {
		slots[i] = audio.Slot{Index: i, Audio: o.Audio, Failure: o.Failure}
	}

	assembler := audio.NewAssembler(c.assemblyOptions(req))
	silence := c.opts.SilenceMs
	if req.SilenceMs != nil {
		silence = *req.SilenceMs
	}

	_, asmSpan := observability.Tracer().Start(ctx, "compose.assemble")
	output, asmErr := assembler.Assemble(slots, silence)
	asmSpan.End()

	result := &Result{
		RequestID: req.RequestID,
		Output:    output,
		Warnings:  plan.Warnings,
		Chunks:    reports(plan.Jobs, outcomes, output),
	}
	var ae *audio.AssemblyError
	switch {
	case output != nil:
		result.Failures = output.Failures
	case errors.As(asmErr, &ae):
		result.Failures = ae.Failures
	}

	status := "ok"
	switch {
	case asmErr != nil:
		status = "failed"
		span.SetStatus(otelcodes.Error, asmErr.Error())
	case len(result.Failures) > 0:
		status = "partial"
	}

	c.record(metrics, result, status)
	c.publish(ctx, logger, result, status, time.Since(start))

	if asmErr != nil {
		logger.Error().Err(asmErr).Int("failed", len(result.Failures)).Msg("Compose failed")
		return result, asmErr
	}

	logger.Info().
		Int64("duration_ms", output.DurationMs).
		Int("bytes", len(output.Data)).
		Int("failed", len(result.Failures)).
		Dur("elapsed", time.Since(start)).
		Msg("Compose completed")
	return result, nil
}

func (c *Composer) validate(req *Request) error {
	hasText := strings.TrimSpace(req.Text) != ""
	switch {
	case hasText && len(req.Chunks) > 0:
		return fmt.Errorf("%w: text and chunks are mutually exclusive", ErrInvalidRequest)
	case !hasText && len(req.Chunks) == 0:
		return fmt.Errorf("%w: text or chunks is required", ErrInvalidRequest)
	}

	if req.Voice == "" {
		req.Voice = c.opts.DefaultVoice
	}
	switch req.Mode {
	case "", audio.ModeStrict, audio.ModeLenient:
	default:
		return fmt.Errorf("%w: unknown assembly mode %q", ErrInvalidRequest, req.Mode)
	}
	switch req.Encoding {
	case "", tts.EncodingWAV, tts.EncodingPCM, tts.EncodingMulaw:
	default:
		return fmt.Errorf("%w: unknown encoding %q", ErrInvalidRequest, req.Encoding)
	}
	if req.SilenceMs != nil && *req.SilenceMs < 0 {
		return fmt.Errorf("%w: silence_ms must not be negative", ErrInvalidRequest)
	}
	return nil
}

func (c *Composer) assemblyOptions(req Request) audio.Options {
	opts := audio.Options{
		SampleRate:        c.opts.SampleRate,
		Channels:          c.opts.Channels,
		LeadingSilenceMs:  c.opts.LeadingSilenceMs,
		TrailingSilenceMs: c.opts.TrailingSilenceMs,
		Mode:              c.opts.Mode,
		Encoding:          c.opts.Encoding,
	}
	if req.Mode != "" {
		opts.Mode = req.Mode
	}
	if req.Encoding != "" {
		opts.Encoding = req.Encoding
	}
	return opts
}

func (c *Composer) record(m *observability.Metrics, r *Result, status string) {
	for _, ch := range r.Chunks {
		m.RecordChunk(string(ch.State))
	}
	for _, w := range r.Warnings {
		m.RecordWarning(string(w.Code))
	}
	if r.Output != nil {
		m.RecordAudioBytes("out", int64(len(r.Output.Data)))
	}
	m.RecordEnd(status)
}

func (c *Composer) publish(ctx context.Context, logger zerolog.Logger, r *Result, status string, elapsed time.Duration) {
	evt := events.Completed{
		RequestID:  r.RequestID,
		Status:     status,
		Chunks:     len(r.Chunks),
		FinishedAt: time.Now().UTC(),
	}
	if r.Output != nil {
		evt.DurationMs = r.Output.DurationMs
	}

	seenCode := make(map[string]bool)
	seenBackend := make(map[string]bool)
	for _, w := range r.Warnings {
		if code := string(w.Code); !seenCode[code] {
			seenCode[code] = true
			evt.WarningCodes = append(evt.WarningCodes, code)
		}
	}
	for _, f := range r.Failures {
		evt.FailedIndices = append(evt.FailedIndices, f.Index)
	}
	for _, ch := range r.Chunks {
		if ch.CacheHit {
			evt.CacheHits++
		}
		if ch.Backend != "" && !seenBackend[ch.Backend] {
			seenBackend[ch.Backend] = true
			evt.Backends = append(evt.Backends, ch.Backend)
		}
	}

	// The request context may already be cancelled; the event still goes out
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := c.publisher.Publish(pubCtx, evt); err != nil {
		logger.Warn().Err(err).Dur("elapsed", elapsed).Msg("Failed to publish compose result")
	}
}

// remap moves parse warnings from parsed-line indices to the first job that
// came from that line
func remap(warnings []diag.Warning, jobs []planner.Job) []diag.Warning {
	if len(warnings) == 0 {
		return nil
	}
	first := make(map[int]int, len(jobs))
	for _, j := range jobs {
		if _, ok := first[j.Source]; !ok {
			first[j.Source] = j.Index
		}
	}

	out := make([]diag.Warning, len(warnings))
	for i, w := range warnings {
		if idx, ok := first[w.Index]; ok && w.Index != diag.RequestLevel {
			w.Index = idx
		} else {
			w.Index = diag.RequestLevel
		}
		out[i] = w
	}
	return out
}

// sortWarnings orders request-level warnings first, then by chunk
func sortWarnings(warnings []diag.Warning) {
	sort.SliceStable(warnings, func(i, j int) bool {
		return warnings[i].Index < warnings[j].Index
	})
}

func reports(jobs []planner.Job, outcomes []dispatch.Outcome, output *audio.Output) []ChunkReport {
	out := make([]ChunkReport, len(jobs))
	for i, j := range jobs {
		o := outcomes[i]
		out[i] = ChunkReport{
			Index:    j.Index,
			Source:   j.Source,
			Text:     j.Text,
			Voice:    j.Voice,
			Emotion:  j.Emotion,
			State:    o.State,
			Backend:  o.Backend,
			CacheHit: o.CacheHit,
			Attempts: len(o.Attempts),
			Failure:  o.Failure,
		}
		if output != nil && i < len(output.SegmentFrames) {
			out[i].Frames = output.SegmentFrames[i]
		}
	}
	return out
}
