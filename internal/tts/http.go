package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const maxErrorBody = 1024

// HTTPBackend synthesizes through a JSON POST endpoint that answers with
// raw PCM, WAV or mu-law bytes
type HTTPBackend struct {
	cfg        Config
	healthURL  string
	httpClient *http.Client
}

// httpSynthesisRequest is the request payload for the synthesis endpoint
type httpSynthesisRequest struct {
	Text         string  `json:"text"`
	VoiceID      string  `json:"voice_id"`
	ModelID      string  `json:"model_id,omitempty"`
	OutputFormat string  `json:"output_format"`
	SampleRate   int     `json:"sample_rate"`
	Speed        float64 `json:"speed"`
	Pitch        int     `json:"pitch,omitempty"`
	Volume       int     `json:"volume,omitempty"`
	Emotion      string  `json:"emotion,omitempty"`
	StyleDegree  float64 `json:"style_degree,omitempty"`
}

type httpErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// NewHTTPBackend creates a new HTTP synthesis backend
func NewHTTPBackend(cfg Config) *HTTPBackend {
	cfg = cfg.withDefaults()
	return &HTTPBackend{
		cfg:        cfg,
		healthURL:  healthURL(cfg.Endpoint),
		httpClient: &http.Client{},
	}
}

// Name returns the backend identifier
func (b *HTTPBackend) Name() string {
	return b.cfg.Name
}

// Synthesize converts text to audio
func (b *HTTPBackend) Synthesize(ctx context.Context, req *Request) (*Audio, error) {
	if req.Text == "" {
		return nil, ErrEmptyText
	}

	rate := req.SampleRate
	if rate <= 0 {
		rate = b.cfg.SampleRate
	}

	jsonData, err := json.Marshal(httpSynthesisRequest{
		Text:         req.Text,
		VoiceID:      req.Voice,
		ModelID:      b.cfg.Model,
		OutputFormat: string(EncodingPCM),
		SampleRate:   rate,
		Speed:        speedMultiplier(req.Speed),
		Pitch:        req.Pitch,
		Volume:       req.Volume,
		Emotion:      req.Emotion,
		StyleDegree:  req.StyleDegree,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.cfg.Endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if b.cfg.APIKey != "" {
		httpReq.Header.Set("X-API-Key", b.cfg.APIKey)
	}

	resp, err := b.httpClient.Do(httpReq)
	if err != nil {
		return nil, TransportError(b.cfg.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, b.handleError(resp)
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, TransportError(b.cfg.Name, fmt.Errorf("failed to read audio response: %w", err))
	}
	if len(audioData) == 0 {
		return nil, NewSynthesisError(b.cfg.Name, "empty response body", ErrEmptyAudio, true)
	}

	return &Audio{Data: audioData, Format: responseFormat(resp.Header, rate)}, nil
}

// HealthCheck issues a GET against the endpoint's /health path
func (b *HTTPBackend) HealthCheck(ctx context.Context) (Health, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.healthURL, nil)
	if err != nil {
		return Health{}, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return Health{Latency: time.Since(start), Detail: err.Error()}, TransportError(b.cfg.Name, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	h := Health{OK: resp.StatusCode < 300, Latency: time.Since(start), Detail: resp.Status}
	if !h.OK {
		return h, StatusError(b.cfg.Name, resp.StatusCode, "health check failed")
	}
	return h, nil
}

// Close closes idle connections
func (b *HTTPBackend) Close() error {
	b.httpClient.CloseIdleConnections()
	return nil
}

func (b *HTTPBackend) handleError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var errResp httpErrorResponse
	message := string(bytes.TrimSpace(body))
	if json.Unmarshal(body, &errResp) == nil {
		if errResp.Message != "" {
			message = errResp.Message
		} else if errResp.Error != "" {
			message = errResp.Error
		}
	}

	return StatusError(b.cfg.Name, resp.StatusCode, message)
}

// responseFormat derives the payload format from response headers
func responseFormat(h http.Header, requestedRate int) Format {
	f := DefaultFormat()
	f.SampleRate = requestedRate

	mediaType, params, _ := mime.ParseMediaType(h.Get("Content-Type"))
	switch mediaType {
	case "audio/wav", "audio/wave", "audio/x-wav":
		f.Encoding = EncodingWAV
	case "audio/basic", "audio/x-mulaw", "audio/pcmu":
		f.Encoding = EncodingMulaw
		f.SampleRate = 8000
		f.BitDepth = 8
	}

	if rate, err := strconv.Atoi(firstNonEmpty(h.Get("X-Sample-Rate"), params["rate"])); err == nil && rate > 0 {
		f.SampleRate = rate
	}
	if ch, err := strconv.Atoi(firstNonEmpty(h.Get("X-Channels"), params["channels"])); err == nil && ch > 0 {
		f.Channels = ch
	}
	return f
}

func healthURL(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	u.Path = "/health"
	u.RawQuery = ""
	return u.String()
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
