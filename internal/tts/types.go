// Package tts defines the synthesis backend contract and its provider adapters.
package tts

import (
	"context"
	"time"
)

// Encoding of an audio payload returned by a backend
type Encoding string

const (
	EncodingPCM   Encoding = "pcm"   // raw little-endian PCM
	EncodingWAV   Encoding = "wav"   // RIFF/WAVE container
	EncodingMulaw Encoding = "mulaw" // G.711 mu-law, 8 bits per sample
)

// Default output format requested from backends
const (
	DefaultSampleRate = 24000
	DefaultChannels   = 1
	DefaultBitDepth   = 16
)

// Format describes raw audio
type Format struct {
	Encoding   Encoding `json:"encoding"`
	SampleRate int      `json:"sample_rate"`
	Channels   int      `json:"channels"`
	BitDepth   int      `json:"bit_depth"`
}

// DefaultFormat returns 24kHz mono 16-bit PCM
func DefaultFormat() Format {
	return Format{
		Encoding:   EncodingPCM,
		SampleRate: DefaultSampleRate,
		Channels:   DefaultChannels,
		BitDepth:   DefaultBitDepth,
	}
}

// Request is one synthesis call
type Request struct {
	Text        string
	Voice       string
	Emotion     string  // empty for the neutral style
	StyleDegree float64 // 0.7, 1.0 or 1.3
	Speed       int     // percent offset, -50..50
	Pitch       int     // percent offset, -50..50
	Volume      int     // percent offset, -50..50
	SampleRate  int     // preferred output rate
}

// Audio is a synthesized segment
type Audio struct {
	Data   []byte
	Format Format
}

// Health is the result of a backend health probe
type Health struct {
	OK      bool          `json:"ok"`
	Latency time.Duration `json:"latency"`
	Detail  string        `json:"detail,omitempty"`
}

// Backend is the provider-agnostic synthesis capability
type Backend interface {
	// Name returns the backend identifier (for logging/debugging)
	Name() string

	// Synthesize converts one request to audio
	Synthesize(ctx context.Context, req *Request) (*Audio, error)

	// HealthCheck probes the backend without synthesizing
	HealthCheck(ctx context.Context) (Health, error)

	// Close releases connections held by the backend
	Close() error
}

// speedMultiplier maps a percent offset to a rate multiplier (1.0 is neutral)
func speedMultiplier(percent int) float64 {
	return 1.0 + float64(percent)/100.0
}
