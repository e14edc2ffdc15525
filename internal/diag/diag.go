// Package diag holds the per-chunk diagnostics vocabulary shared by the
// parser, planner, dispatcher and assembler.
package diag

import "fmt"

// Code identifies a class of warning or failure
type Code string

const (
	// Non-fatal warnings
	ParseAmbiguity     Code = "parse_ambiguity"
	VoiceUnresolved    Code = "voice_unresolved"
	StyleUnsupported   Code = "style_unsupported"
	ValueClamped       Code = "value_clamped"
	ProsodyNeutralized Code = "prosody_neutralized"
	EmptyChunk         Code = "empty_chunk"
	WordTooLong        Code = "word_too_long"

	// Chunk-level failures
	BackendTimeout        Code = "backend_timeout"
	BackendTransportError Code = "backend_transport_error"
	BackendRejected       Code = "backend_rejected"
	NoBackendAvailable    Code = "no_backend_available"
	Cancelled             Code = "cancelled"
	DecodeFailure         Code = "decode_failure"

	// Request-level failure
	AssemblyFailure Code = "assembly_failure"
)

// RequestLevel is the index used for warnings that apply to the whole request
const RequestLevel = -1

// Warning is a non-fatal diagnostic attached to a chunk (or the request)
type Warning struct {
	Index   int    `json:"index"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// Warnf builds a warning with a formatted message
func Warnf(index int, code Code, format string, args ...interface{}) Warning {
	return Warning{Index: index, Code: code, Message: fmt.Sprintf(format, args...)}
}

// Failure records why a chunk slot produced no audio
type Failure struct {
	Index   int    `json:"index"`
	Code    Code   `json:"code"`
	Reason  string `json:"reason"`
	Backend string `json:"backend,omitempty"`
}

func (f Failure) String() string {
	if f.Backend != "" {
		return fmt.Sprintf("chunk %d: %s (%s via %s)", f.Index, f.Reason, f.Code, f.Backend)
	}
	return fmt.Sprintf("chunk %d: %s (%s)", f.Index, f.Reason, f.Code)
}
