package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/lexiqai/voice-composer/internal/resilience"
)

const maxIdleConns = 4

// wsRequest is the JSON frame that starts a synthesis
type wsRequest struct {
	Type        string  `json:"type"`
	Text        string  `json:"text"`
	VoiceID     string  `json:"voice_id"`
	ModelID     string  `json:"model_id,omitempty"`
	SampleRate  int     `json:"sample_rate"`
	Speed       float64 `json:"speed"`
	Pitch       int     `json:"pitch,omitempty"`
	Volume      int     `json:"volume,omitempty"`
	Emotion     string  `json:"emotion,omitempty"`
	StyleDegree float64 `json:"style_degree,omitempty"`
}

// wsResponse is a JSON control frame from the server; audio arrives as binary frames
type wsResponse struct {
	Type       string `json:"type"` // "done" or "error"
	SampleRate int    `json:"sample_rate,omitempty"`
	Channels   int    `json:"channels,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	Code       int    `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
}

// WebSocketBackend streams audio frames over a pooled WebSocket connection
type WebSocketBackend struct {
	cfg    Config
	dialer *websocket.Dialer

	mu     sync.Mutex
	idle   []*websocket.Conn
	closed bool
}

// NewWebSocketBackend creates a new WebSocket synthesis backend
func NewWebSocketBackend(cfg Config) *WebSocketBackend {
	cfg = cfg.withDefaults()
	return &WebSocketBackend{
		cfg: cfg,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 5 * time.Second,
		},
	}
}

// Name returns the backend identifier
func (b *WebSocketBackend) Name() string {
	return b.cfg.Name
}

// Synthesize sends one request frame and collects binary frames until "done"
func (b *WebSocketBackend) Synthesize(ctx context.Context, req *Request) (*Audio, error) {
	if req.Text == "" {
		return nil, ErrEmptyText
	}

	rate := req.SampleRate
	if rate <= 0 {
		rate = b.cfg.SampleRate
	}
	frame := wsRequest{
		Type:        "synthesize",
		Text:        req.Text,
		VoiceID:     req.Voice,
		ModelID:     b.cfg.Model,
		SampleRate:  rate,
		Speed:       speedMultiplier(req.Speed),
		Pitch:       req.Pitch,
		Volume:      req.Volume,
		Emotion:     req.Emotion,
		StyleDegree: req.StyleDegree,
	}

	conn, pooled, err := b.acquire(ctx)
	if err != nil {
		return nil, err
	}

	if err := conn.WriteJSON(frame); err != nil {
		conn.Close()
		if !pooled {
			return nil, TransportError(b.cfg.Name, fmt.Errorf("failed to send request: %w", err))
		}

		// Pooled connection went stale; dial a fresh one
		conn, err = b.redial(ctx)
		if err != nil {
			return nil, err
		}
		if err := conn.WriteJSON(frame); err != nil {
			conn.Close()
			return nil, TransportError(b.cfg.Name, fmt.Errorf("failed to send request: %w", err))
		}
	}

	audio, err := b.receive(ctx, conn, rate)
	if err != nil {
		conn.Close()
		return nil, err
	}
	b.release(conn)
	return audio, nil
}

// receive reads frames until the server signals completion
func (b *WebSocketBackend) receive(ctx context.Context, conn *websocket.Conn, rate int) (*Audio, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	var buf bytes.Buffer
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, TransportError(b.cfg.Name, ctxErr)
			}
			return nil, TransportError(b.cfg.Name, fmt.Errorf("failed to read frame: %w", err))
		}

		if msgType == websocket.BinaryMessage {
			buf.Write(data)
			continue
		}

		var resp wsResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return nil, NewSynthesisError(b.cfg.Name, "malformed control frame", err, false)
		}

		switch resp.Type {
		case "done":
			if buf.Len() == 0 {
				return nil, NewSynthesisError(b.cfg.Name, "no audio frames before done", ErrEmptyAudio, true)
			}
			_ = conn.SetReadDeadline(time.Time{})
			f := DefaultFormat()
			f.SampleRate = rate
			if resp.SampleRate > 0 {
				f.SampleRate = resp.SampleRate
			}
			if resp.Channels > 0 {
				f.Channels = resp.Channels
			}
			if resp.Encoding != "" {
				f.Encoding = Encoding(resp.Encoding)
			}
			if f.Encoding == EncodingMulaw {
				f.BitDepth = 8
			}
			return &Audio{Data: buf.Bytes(), Format: f}, nil

		case "error":
			code := resp.Code
			if code == 0 {
				code = http.StatusBadGateway
			}
			return nil, StatusError(b.cfg.Name, code, resp.Message)
		}
	}
}

// HealthCheck dials and closes a connection
func (b *WebSocketBackend) HealthCheck(ctx context.Context) (Health, error) {
	start := time.Now()
	conn, err := b.dial(ctx)
	if err != nil {
		return Health{Latency: time.Since(start), Detail: err.Error()}, err
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	return Health{OK: true, Latency: time.Since(start)}, nil
}

// Close closes all idle connections
func (b *WebSocketBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	for _, conn := range b.idle {
		conn.Close()
	}
	b.idle = nil
	return nil
}

func (b *WebSocketBackend) acquire(ctx context.Context) (*websocket.Conn, bool, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, false, ErrClosed
	}
	if n := len(b.idle); n > 0 {
		conn := b.idle[n-1]
		b.idle = b.idle[:n-1]
		b.mu.Unlock()
		return conn, true, nil
	}
	b.mu.Unlock()

	conn, err := b.dial(ctx)
	return conn, false, err
}

func (b *WebSocketBackend) release(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed || len(b.idle) >= maxIdleConns {
		conn.Close()
		return
	}
	b.idle = append(b.idle, conn)
}

// redial replaces a stale pooled connection, backing off briefly between tries
func (b *WebSocketBackend) redial(ctx context.Context) (*websocket.Conn, error) {
	var conn *websocket.Conn
	err := resilience.Reconnect(ctx, b.cfg.Name, func(ctx context.Context) error {
		c, err := b.dial(ctx)
		if err != nil {
			return err
		}
		conn = c
		return nil
	}, b.reconnectConfig())
	if err != nil {
		return nil, TransportError(b.cfg.Name, err)
	}
	return conn, nil
}

func (b *WebSocketBackend) reconnectConfig() *resilience.ReconnectConfig {
	if b.cfg.Reconnect != nil {
		return b.cfg.Reconnect
	}
	return &resilience.ReconnectConfig{
		MaxAttempts: 2,
		Backoff:     50 * time.Millisecond,
		Multiplier:  2.0,
		MaxBackoff:  200 * time.Millisecond,
	}
}

func (b *WebSocketBackend) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if b.cfg.APIKey != "" {
		header.Set("X-API-Key", b.cfg.APIKey)
	}

	conn, resp, err := b.dialer.DialContext(ctx, b.cfg.Endpoint, header)
	if err != nil {
		if resp != nil && resp.StatusCode != 0 && !errors.Is(err, context.Canceled) {
			return nil, StatusError(b.cfg.Name, resp.StatusCode, "websocket handshake rejected")
		}
		return nil, TransportError(b.cfg.Name, fmt.Errorf("failed to dial: %w", err))
	}
	return conn, nil
}
