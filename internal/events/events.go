// Package events publishes compose results for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// DefaultSubject is used when no subject is configured
const DefaultSubject = "voice.compose.completed"

// Completed describes one finished compose request
type Completed struct {
	RequestID     string    `json:"request_id"`
	Status        string    `json:"status"` // "ok", "partial" or "failed"
	Chunks        int       `json:"chunks"`
	FailedIndices []int     `json:"failed_indices,omitempty"`
	WarningCodes  []string  `json:"warning_codes,omitempty"`
	DurationMs    int64     `json:"duration_ms"`
	Backends      []string  `json:"backends,omitempty"`
	CacheHits     int       `json:"cache_hits"`
	FinishedAt    time.Time `json:"finished_at"`
}

// Publisher delivers compose results
type Publisher interface {
	Publish(ctx context.Context, evt Completed) error
	Close()
}

// Noop discards every event
type Noop struct{}

// Publish does nothing
func (Noop) Publish(context.Context, Completed) error { return nil }

// Close does nothing
func (Noop) Close() {}

// NATSPublisher publishes JSON events on a NATS subject
type NATSPublisher struct {
	conn    *nats.Conn
	subject string
}

// Connect dials NATS. url may list several servers separated by commas.
func Connect(url, subject string, timeout time.Duration) (*NATSPublisher, error) {
	if strings.TrimSpace(url) == "" {
		return nil, errors.New("no NATS servers configured")
	}
	if subject == "" {
		subject = DefaultSubject
	}
	if timeout <= 0 {
		timeout = 2 * time.Second
	}

	conn, err := nats.Connect(url,
		nats.Name("voice-composer"),
		nats.Timeout(timeout),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("NATS disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("server", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	log.Info().Str("servers", url).Str("subject", subject).Msg("Connected to NATS")
	return &NATSPublisher{conn: conn, subject: subject}, nil
}

// Publish encodes evt as JSON and publishes it
func (p *NATSPublisher) Publish(ctx context.Context, evt Completed) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", p.subject, err)
	}
	return nil
}

// Healthy reports whether the connection is up
func (p *NATSPublisher) Healthy() bool {
	return p != nil && p.conn != nil && p.conn.Status() == nats.CONNECTED
}

// Close drains pending messages and closes the connection
func (p *NATSPublisher) Close() {
	if p == nil {
		return
	}
	log.Info().Msg("Closing NATS connection")
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
