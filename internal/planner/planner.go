// Package planner normalizes chunk sizes and resolves each chunk's voice,
// emotion and prosody against the voice catalog.
package planner

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lexiqai/voice-composer/internal/catalog"
	"github.com/lexiqai/voice-composer/internal/diag"
	"github.com/lexiqai/voice-composer/internal/dialogue"
)

// Chunk size defaults
const (
	DefaultMaxChunkChars         = 240
	DefaultMinFragmentChars      = 15
	DefaultMaxDialogueChunkChars = 900
)

// ErrNoVoice is returned when a chunk has no voice and the request has no global voice
var ErrNoVoice = errors.New("no voice for chunk and no global voice set")

// styleDegrees maps intensity 1..3 to a backend style degree
var styleDegrees = map[int]float64{
	1: 0.7,
	2: 1.0,
	3: 1.3,
}

// Options tunes chunk size normalization
type Options struct {
	MaxChunkChars         int
	MinFragmentChars      int
	MaxDialogueChunkChars int
}

// DefaultOptions returns the standard chunk size limits
func DefaultOptions() Options {
	return Options{
		MaxChunkChars:         DefaultMaxChunkChars,
		MinFragmentChars:      DefaultMinFragmentChars,
		MaxDialogueChunkChars: DefaultMaxDialogueChunkChars,
	}
}

// Request is the planner input
type Request struct {
	Chunks []dialogue.Chunk

	// Markup is true for dialogue markup or caller-supplied chunks; prose
	// length normalization is skipped for those
	Markup bool

	Voice   string           // global voice
	Prosody dialogue.Prosody // global prosody; fills chunk fields left at zero
	Tier    string           // requested quality tier
}

// Job is one planned synthesis unit
type Job struct {
	Index       int              `json:"index"`
	Source      int              `json:"source"` // index of the parsed chunk this job came from
	Text        string           `json:"text"`
	Voice       string           `json:"voice"`
	Emotion     string           `json:"emotion,omitempty"`
	Intensity   int              `json:"intensity"`
	StyleDegree float64          `json:"style_degree"`
	Prosody     dialogue.Prosody `json:"prosody"`
	Backends    []string         `json:"backends,omitempty"` // voice affinity, best first
	Tier        string           `json:"tier,omitempty"`
}

// Plan is the planner output
type Plan struct {
	Jobs       []Job
	Warnings   []diag.Warning
	Voices     []string // distinct resolved voices, sorted
	MultiVoice bool
}

// Planner turns parsed chunks into synthesis jobs
type Planner struct {
	catalog catalog.Catalog
	opts    Options
}

// New creates a planner
func New(cat catalog.Catalog, opts Options) *Planner {
	if cat == nil {
		cat = catalog.New(nil, nil)
	}
	defaults := DefaultOptions()
	if opts.MaxChunkChars <= 0 {
		opts.MaxChunkChars = defaults.MaxChunkChars
	}
	if opts.MinFragmentChars <= 0 {
		opts.MinFragmentChars = defaults.MinFragmentChars
	}
	if opts.MaxDialogueChunkChars <= 0 {
		opts.MaxDialogueChunkChars = defaults.MaxDialogueChunkChars
	}
	return &Planner{catalog: cat, opts: opts}
}

// Normalize applies length normalization and re-indexes the result.
// Free-form prose is split on sentence punctuation, short fragments merged and
// long ones hard-split; markup chunks are only hard-split at the dialogue limit.
func (p *Planner) Normalize(chunks []dialogue.Chunk, markup bool) ([]dialogue.Chunk, []int, []diag.Warning) {
	var warnings []diag.Warning

	// Until re-indexing, a piece's Index holds the chunk it came from
	var pieces []dialogue.Chunk
	for i, c := range chunks {
		c.Index = i
		c.Content = strings.TrimSpace(c.Content)
		if c.Content == "" {
			warnings = append(warnings, diag.Warnf(diag.RequestLevel, diag.EmptyChunk,
				"chunk %d has no content and was dropped", i))
			continue
		}
		if markup {
			pieces = append(pieces, c)
			continue
		}
		for _, frag := range splitSentences(c.Content) {
			fc := c
			fc.Content = frag
			pieces = append(pieces, fc)
		}
	}

	maxLen := p.opts.MaxDialogueChunkChars
	if !markup {
		maxLen = p.opts.MaxChunkChars
		pieces = mergeShort(pieces, p.opts.MinFragmentChars)
	}

	out := make([]dialogue.Chunk, 0, len(pieces))
	srcs := make([]int, 0, len(pieces))
	for _, piece := range pieces {
		parts, oversized := hardSplit(piece.Content, maxLen, p.opts.MinFragmentChars)
		for _, word := range oversized {
			warnings = append(warnings, diag.Warnf(len(out), diag.WordTooLong,
				"word of %d characters exceeds the %d character chunk limit and was kept whole", runeLen(word), maxLen))
		}
		for _, part := range parts {
			c := piece
			c.Content = part
			c.Index = len(out)
			out = append(out, c)
			srcs = append(srcs, piece.Index)
		}
	}

	return out, srcs, warnings
}

// Plan normalizes and resolves a request into synthesis jobs
func (p *Planner) Plan(req Request) (*Plan, error) {
	chunks, sources, warnings := p.Normalize(req.Chunks, req.Markup)
	plan := &Plan{Warnings: warnings}

	// Pass 1: resolve voices so the multi-voice rule is known before prosody
	voices := make([]string, len(chunks))
	distinct := make(map[string]struct{})
	for i, c := range chunks {
		voice := c.Voice
		if voice == "" {
			if c.Speaker != "" {
				plan.Warnings = append(plan.Warnings, diag.Warnf(i, diag.VoiceUnresolved,
					"speaker %q not found; using global voice %q", c.Speaker, req.Voice))
			}
			voice = req.Voice
		}
		if voice == "" {
			return nil, fmt.Errorf("chunk %d: %w", i, ErrNoVoice)
		}
		voices[i] = voice
		distinct[voice] = struct{}{}
	}

	for v := range distinct {
		plan.Voices = append(plan.Voices, v)
	}
	sort.Strings(plan.Voices)
	plan.MultiVoice = len(plan.Voices) > 1
	if plan.MultiVoice {
		plan.Warnings = append(plan.Warnings, diag.Warnf(diag.RequestLevel, diag.ProsodyNeutralized,
			"%d voices in request; speed, pitch and volume forced to neutral", len(plan.Voices)))
	}

	// Pass 2: emotion, intensity and prosody
	plan.Jobs = make([]Job, len(chunks))
	for i, c := range chunks {
		job := Job{
			Index:     i,
			Source:    sources[i],
			Text:      c.Content,
			Voice:     voices[i],
			Intensity: c.Intensity,
			Tier:      req.Tier,
		}

		job.Emotion = p.resolveEmotion(i, job.Voice, c.Emotion, &plan.Warnings)
		job.Intensity = clampIntensity(i, c.Intensity, &plan.Warnings)
		job.StyleDegree = styleDegrees[job.Intensity]

		if !plan.MultiVoice {
			job.Prosody = resolveProsody(i, c.Prosody, req.Prosody, &plan.Warnings)
		}

		if profile, ok := p.catalog.Voice(job.Voice); ok {
			job.Backends = append([]string(nil), profile.Backends...)
		}

		plan.Jobs[i] = job
	}

	return plan, nil
}

// resolveEmotion returns the catalog spelling of emotion, or "" when the voice
// does not support it
func (p *Planner) resolveEmotion(index int, voice, emotion string, warnings *[]diag.Warning) string {
	if emotion == "" {
		return ""
	}

	styles, _ := p.catalog.Styles(voice)
	if canonical, ok := styles[strings.ToLower(emotion)]; ok {
		return canonical
	}

	*warnings = append(*warnings, diag.Warnf(index, diag.StyleUnsupported,
		"emotion %q is not supported by voice %q; using the neutral style", emotion, voice))
	return ""
}

func clampIntensity(index, intensity int, warnings *[]diag.Warning) int {
	if intensity == 0 {
		return dialogue.DefaultIntensity
	}
	clamped := clamp(intensity, dialogue.MinIntensity, dialogue.MaxIntensity)
	if clamped != intensity {
		*warnings = append(*warnings, diag.Warnf(index, diag.ValueClamped,
			"intensity clamped %d -> %d", intensity, clamped))
	}
	return clamped
}

// resolveProsody lets zero chunk fields inherit the global value, then clamps
func resolveProsody(index int, chunk, global dialogue.Prosody, warnings *[]diag.Warning) dialogue.Prosody {
	pick := func(name string, own, fallback int) int {
		v := own
		if v == 0 {
			v = fallback
		}
		c := clamp(v, dialogue.MinProsody, dialogue.MaxProsody)
		if c != v {
			*warnings = append(*warnings, diag.Warnf(index, diag.ValueClamped,
				"%s clamped %d -> %d", name, v, c))
		}
		return c
	}

	return dialogue.Prosody{
		Speed:  pick("speed", chunk.Speed, global.Speed),
		Pitch:  pick("pitch", chunk.Pitch, global.Pitch),
		Volume: pick("volume", chunk.Volume, global.Volume),
	}
}

func clamp(v, low, high int) int {
	if v < low {
		return low
	}
	if v > high {
		return high
	}
	return v
}
