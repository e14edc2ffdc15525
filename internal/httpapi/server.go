// Package httpapi exposes the composer to the upstream API tier and to
// operators: compose, backend administration, health and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/lexiqai/voice-composer/internal/audio"
	"github.com/lexiqai/voice-composer/internal/compose"
	"github.com/lexiqai/voice-composer/internal/diag"
	"github.com/lexiqai/voice-composer/internal/dialogue"
	"github.com/lexiqai/voice-composer/internal/observability"
	"github.com/lexiqai/voice-composer/internal/registry"
	"github.com/lexiqai/voice-composer/internal/tts"
)

// MaxBodyBytes bounds the size of a compose request body
const MaxBodyBytes = 1 << 20

// RequestIDHeader carries the caller's correlation id
const RequestIDHeader = "X-Request-ID"

// ComposeRequest is the JSON body of POST /v1/compose
type ComposeRequest struct {
	Text      string           `json:"text,omitempty"`
	Chunks    []dialogue.Chunk `json:"chunks,omitempty"`
	Voice     string           `json:"voice"`
	Tier      string           `json:"tier,omitempty"`
	Speed     int              `json:"speed,omitempty"`
	Pitch     int              `json:"pitch,omitempty"`
	Volume    int              `json:"volume,omitempty"`
	SilenceMs *int             `json:"silence_ms,omitempty"`
	Mode      string           `json:"mode,omitempty"`
	Encoding  string           `json:"encoding,omitempty"`
}

// ComposeResponse is returned on success
type ComposeResponse struct {
	RequestID  string                `json:"request_id"`
	Audio      []byte                `json:"audio"` // base64 in JSON
	Format     tts.Format            `json:"format"`
	DurationMs int64                 `json:"duration_ms"`
	Warnings   []diag.Warning        `json:"warnings"`
	Failures   []diag.Failure        `json:"failures,omitempty"`
	Chunks     []compose.ChunkReport `json:"chunks"`
}

// ErrorResponse is returned on failure
type ErrorResponse struct {
	RequestID string         `json:"request_id,omitempty"`
	Error     string         `json:"error"`
	Failures  []diag.Failure `json:"failures,omitempty"`
	Warnings  []diag.Warning `json:"warnings,omitempty"`
}

// Server holds the HTTP handlers
type Server struct {
	composer       *compose.Composer
	registry       *registry.Registry
	metricsEnabled bool
	readyTimeout   time.Duration
}

// NewServer creates the HTTP surface
func NewServer(c *compose.Composer, reg *registry.Registry, metricsEnabled bool) *Server {
	return &Server{
		composer:       c,
		registry:       reg,
		metricsEnabled: metricsEnabled,
		readyTimeout:   5 * time.Second,
	}
}

// Routes returns the service mux
func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/compose", s.handleCompose)
	mux.HandleFunc("GET /admin/backends", s.handleBackends)
	mux.HandleFunc("POST /admin/backends/{id}/reset", s.handleReset)

	mux.HandleFunc("GET /health", observability.HealthCheckHandler())
	mux.HandleFunc("GET /ready", observability.ReadinessHandler(s.readyTimeout, s.backendProbe))

	if s.metricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}
	return mux
}

func (s *Server) handleCompose(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = observability.NewCorrelationID()
	}
	w.Header().Set(RequestIDHeader, requestID)

	var body ComposeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{RequestID: requestID, Error: "invalid JSON body: " + err.Error()})
		return
	}

	res, err := s.composer.Compose(r.Context(), compose.Request{
		RequestID: requestID,
		Text:      body.Text,
		Chunks:    body.Chunks,
		Voice:     body.Voice,
		Tier:      body.Tier,
		Prosody:   dialogue.Prosody{Speed: body.Speed, Pitch: body.Pitch, Volume: body.Volume},
		SilenceMs: body.SilenceMs,
		Mode:      audio.Mode(body.Mode),
		Encoding:  tts.Encoding(body.Encoding),
	})

	var ae *audio.AssemblyError
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, ComposeResponse{
			RequestID:  res.RequestID,
			Audio:      res.Output.Data,
			Format:     res.Output.Format,
			DurationMs: res.Output.DurationMs,
			Warnings:   nonNil(res.Warnings),
			Failures:   res.Failures,
			Chunks:     res.Chunks,
		})
	case errors.Is(err, compose.ErrInvalidRequest):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{RequestID: requestID, Error: err.Error()})
	case errors.As(err, &ae) && res != nil:
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			RequestID: requestID,
			Error:     err.Error(),
			Failures:  ae.Failures,
			Warnings:  res.Warnings,
		})
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write
		log.Debug().Str("correlation_id", requestID).Msg("Compose cancelled by client")
	default:
		log.Error().Err(err).Str("correlation_id", requestID).Msg("Compose failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{RequestID: requestID, Error: err.Error()})
	}
}

func (s *Server) handleBackends(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"backends": s.registry.Snapshot(),
	})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.registry.Reset(id); err != nil {
		if errors.Is(err, registry.ErrUnknownBackend) {
			writeJSON(w, http.StatusNotFound, ErrorResponse{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
		return
	}

	log.Info().Str("backend", id).Msg("Circuit breaker reset by operator")
	b, _ := s.registry.Get(id)
	writeJSON(w, http.StatusOK, map[string]string{
		"id":    id,
		"state": b.Breaker().GetState().String(),
	})
}

// backendProbe maps registry health reports to readiness dependencies
func (s *Server) backendProbe(ctx context.Context) map[string]observability.DependencyStatus {
	out := make(map[string]observability.DependencyStatus)
	for _, rep := range s.registry.HealthCheck(ctx) {
		status := "healthy"
		if !rep.OK {
			status = "unhealthy"
		}
		out["backend:"+rep.ID] = observability.DependencyStatus{
			Status:    status,
			State:     rep.State,
			Message:   rep.Error,
			LatencyMs: rep.Latency.Milliseconds(),
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func nonNil(ws []diag.Warning) []diag.Warning {
	if ws == nil {
		return []diag.Warning{}
	}
	return ws
}
