package tts

import (
	"fmt"
	"time"

	"github.com/lexiqai/voice-composer/internal/resilience"
)

// Backend kinds
const (
	KindHTTP      = "http"
	KindWebSocket = "websocket"
	KindGRPC      = "grpc"
	KindDeepgram  = "deepgram"
	KindMock      = "mock"
)

// Config holds the connection settings shared by every adapter
type Config struct {
	Name       string
	Endpoint   string
	APIKey     string
	Model      string
	SampleRate int
	Timeout    time.Duration

	// Reconnect tunes redialing of streaming connections; nil uses a short default
	Reconnect *resilience.ReconnectConfig
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = DefaultSampleRate
	}
	if c.Timeout <= 0 {
		c.Timeout = 20 * time.Second
	}
	return c
}

// New builds the adapter for kind
func New(kind string, cfg Config) (Backend, error) {
	cfg = cfg.withDefaults()

	switch kind {
	case KindHTTP:
		return NewHTTPBackend(cfg), nil
	case KindWebSocket:
		return NewWebSocketBackend(cfg), nil
	case KindGRPC:
		return NewGRPCBackend(cfg)
	case KindDeepgram:
		return NewDeepgramBackend(cfg)
	case KindMock:
		return NewMockBackend(cfg.Name), nil
	default:
		return nil, fmt.Errorf("unknown backend kind %q for %s", kind, cfg.Name)
	}
}
