package audio

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"

	"github.com/lexiqai/voice-composer/internal/diag"
	"github.com/lexiqai/voice-composer/internal/tts"
)

// Mode selects how the assembler treats failed slots
type Mode string

const (
	// ModeStrict aborts assembly when any slot failed
	ModeStrict Mode = "strict"
	// ModeLenient skips failed slots but keeps their silence gaps
	ModeLenient Mode = "lenient"
)

// MulawSampleRate is the telephony rate forced for mu-law output
const MulawSampleRate = 8000

// ErrNothingToAssemble is returned for an empty assembly plan
var ErrNothingToAssemble = errors.New("nothing to assemble")

// Options configures the output of an assembly
type Options struct {
	SampleRate        int
	Channels          int
	LeadingSilenceMs  int
	TrailingSilenceMs int
	Mode              Mode
	Encoding          tts.Encoding
}

// DefaultOptions returns strict 24kHz mono WAV output
func DefaultOptions() Options {
	return Options{
		SampleRate: tts.DefaultSampleRate,
		Channels:   tts.DefaultChannels,
		Mode:       ModeStrict,
		Encoding:   tts.EncodingWAV,
	}
}

// Slot is one position of the assembly plan. Exactly one of Audio and
// Failure is set.
type Slot struct {
	Index   int
	Audio   *tts.Audio
	Failure *diag.Failure
}

// Segment is decoded 16-bit interleaved audio for one slot
type Segment struct {
	Index      int
	SampleRate int
	Channels   int
	Samples    []int16
}

// Frames returns the number of sample frames in the segment
func (s *Segment) Frames() int {
	if s.Channels <= 0 {
		return 0
	}
	return len(s.Samples) / s.Channels
}

// DurationMs returns the segment duration in milliseconds
func (s *Segment) DurationMs() float64 {
	if s.SampleRate <= 0 {
		return 0
	}
	return float64(s.Frames()) * 1000 / float64(s.SampleRate)
}

// Output is the assembled audio
type Output struct {
	Data          []byte
	Format        tts.Format
	Frames        int
	DurationMs    int64
	SegmentFrames []int // per slot, 0 for failed slots
	SilenceFrames int   // nominal gap; individual gaps may differ by one frame
	Failures      []diag.Failure
}

// AssemblyError lists every slot that prevented assembly
type AssemblyError struct {
	Failures []diag.Failure
}

func (e *AssemblyError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.String()
	}
	return fmt.Sprintf("assembly failed for %d chunk(s): %s", len(e.Failures), strings.Join(parts, "; "))
}

// Indices returns the failed slot indices in order
func (e *AssemblyError) Indices() []int {
	out := make([]int, len(e.Failures))
	for i, f := range e.Failures {
		out[i] = f.Index
	}
	return out
}

// Assembler concatenates per-chunk audio into one output buffer
type Assembler struct {
	opts Options
}

// NewAssembler creates an assembler; zero option fields take defaults.
// Mu-law output is always 8kHz mono.
func NewAssembler(opts Options) *Assembler {
	def := DefaultOptions()
	if opts.SampleRate <= 0 {
		opts.SampleRate = def.SampleRate
	}
	if opts.Channels <= 0 {
		opts.Channels = def.Channels
	}
	if opts.Mode == "" {
		opts.Mode = def.Mode
	}
	if opts.Encoding == "" {
		opts.Encoding = def.Encoding
	}
	if opts.Encoding == tts.EncodingMulaw {
		opts.SampleRate = MulawSampleRate
		opts.Channels = 1
	}
	return &Assembler{opts: opts}
}

// Options returns the effective options
func (a *Assembler) Options() Options {
	return a.opts
}

// Assemble joins the slots in index order with silenceMs of silence between
// consecutive slots. slots[i].Index must equal i.
func (a *Assembler) Assemble(slots []Slot, silenceMs int) (*Output, error) {
	if len(slots) == 0 {
		return nil, ErrNothingToAssemble
	}
	if silenceMs < 0 {
		silenceMs = 0
	}

	rate, channels := a.opts.SampleRate, a.opts.Channels
	segments := make([]*Segment, len(slots))
	var failures []diag.Failure

	for i, slot := range slots {
		if slot.Index != i {
			return nil, fmt.Errorf("slot %d carries index %d", i, slot.Index)
		}
		switch {
		case slot.Failure != nil:
			failures = append(failures, *slot.Failure)
		case slot.Audio == nil:
			failures = append(failures, diag.Failure{Index: i, Code: diag.AssemblyFailure, Reason: "no audio produced"})
		default:
			seg, err := DecodeSegment(i, slot.Audio)
			if err != nil {
				failures = append(failures, diag.Failure{Index: i, Code: diag.DecodeFailure, Reason: err.Error()})
				continue
			}
			seg.Samples, seg.Channels = Remix(seg.Samples, seg.Channels, channels), channels
			segments[i] = seg
		}
	}

	if len(failures) > 0 && (a.opts.Mode != ModeLenient || len(failures) == len(slots)) {
		return nil, &AssemblyError{Failures: failures}
	}

	// Every boundary is rounded once from an exact timeline
	var tl timeline
	tl.addMs(a.opts.LeadingSilenceMs)
	starts := make([]int, len(slots))
	segFrames := make([]int, len(slots))
	for i, seg := range segments {
		if i > 0 {
			tl.addMs(silenceMs)
		}
		starts[i] = tl.frame(rate)
		if seg != nil {
			tl.addFrames(seg.Frames(), seg.SampleRate)
			segFrames[i] = tl.frame(rate) - starts[i]
			segments[i] = normalize(seg, rate, segFrames[i])
		}
	}
	tl.addMs(a.opts.TrailingSilenceMs)
	total := tl.frame(rate)

	// Silence is the zero value, so only segment audio needs copying
	pcm := make([]int16, total*channels)
	for i, seg := range segments {
		if seg != nil {
			copy(pcm[starts[i]*channels:], seg.Samples[:segFrames[i]*channels])
		}
	}

	data, format, err := a.encode(pcm)
	if err != nil {
		return nil, err
	}

	return &Output{
		Data:          data,
		Format:        format,
		Frames:        total,
		DurationMs:    int64(math.Round(float64(total) * 1000 / float64(rate))),
		SegmentFrames: segFrames,
		SilenceFrames: msToFrames(silenceMs, rate),
		Failures:      failures,
	}, nil
}

func (a *Assembler) encode(pcm []int16) ([]byte, tts.Format, error) {
	format := tts.Format{
		Encoding:   a.opts.Encoding,
		SampleRate: a.opts.SampleRate,
		Channels:   a.opts.Channels,
		BitDepth:   16,
	}

	switch a.opts.Encoding {
	case tts.EncodingWAV:
		data, err := EncodeWAV(pcm, format.SampleRate, format.Channels)
		return data, format, err
	case tts.EncodingPCM:
		return EncodePCM16(pcm), format, nil
	case tts.EncodingMulaw:
		format.BitDepth = 8
		return EncodeMulaw(pcm), format, nil
	default:
		return nil, format, fmt.Errorf("unsupported output encoding %q", a.opts.Encoding)
	}
}

// DecodeSegment decodes a backend payload into 16-bit samples. Missing
// format fields fall back to the backend defaults.
func DecodeSegment(index int, a *tts.Audio) (*Segment, error) {
	if a == nil || len(a.Data) == 0 {
		return nil, tts.ErrEmptyAudio
	}

	seg := &Segment{Index: index, SampleRate: a.Format.SampleRate, Channels: a.Format.Channels}
	var err error

	switch a.Format.Encoding {
	case tts.EncodingWAV:
		seg.Samples, seg.SampleRate, seg.Channels, err = DecodeWAV(a.Data)
	case tts.EncodingMulaw:
		seg.Samples = DecodeMulaw(a.Data)
		if seg.SampleRate <= 0 {
			seg.SampleRate = MulawSampleRate
		}
	case tts.EncodingPCM, "":
		depth := a.Format.BitDepth
		if depth == 0 {
			depth = tts.DefaultBitDepth
		}
		seg.Samples, err = DecodePCM(a.Data, depth)
	default:
		err = fmt.Errorf("unsupported encoding %q", a.Format.Encoding)
	}
	if err != nil {
		return nil, err
	}

	if seg.SampleRate <= 0 {
		seg.SampleRate = tts.DefaultSampleRate
	}
	if seg.Channels <= 0 {
		seg.Channels = tts.DefaultChannels
	}
	// Drop a trailing partial frame
	seg.Samples = seg.Samples[:len(seg.Samples)/seg.Channels*seg.Channels]
	if len(seg.Samples) == 0 {
		return nil, tts.ErrEmptyAudio
	}
	return seg, nil
}

// normalize resamples a segment to exactly frames frames at rate
func normalize(seg *Segment, rate, frames int) *Segment {
	samples := ResampleTo(seg.Samples, seg.Channels, seg.SampleRate, rate, frames)
	return &Segment{Index: seg.Index, SampleRate: rate, Channels: seg.Channels, Samples: samples}
}

// timeline is an exact running position in seconds
type timeline struct {
	t big.Rat
}

func (tl *timeline) addMs(ms int) {
	if ms > 0 {
		tl.t.Add(&tl.t, big.NewRat(int64(ms), 1000))
	}
}

func (tl *timeline) addFrames(frames, rate int) {
	if frames > 0 && rate > 0 {
		tl.t.Add(&tl.t, big.NewRat(int64(frames), int64(rate)))
	}
}

// frame returns the output frame nearest the current position, halves up
func (tl *timeline) frame(rate int) int {
	var x big.Rat
	x.Mul(&tl.t, big.NewRat(int64(rate), 1))
	x.Add(&x, big.NewRat(1, 2))
	return int(new(big.Int).Quo(x.Num(), x.Denom()).Int64())
}

func msToFrames(ms, rate int) int {
	if ms <= 0 {
		return 0
	}
	return int(math.Round(float64(ms) * float64(rate) / 1000))
}
