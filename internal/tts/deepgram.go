package tts

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	speakv1api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/speak/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	speakClient "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/speak"
)

const defaultDeepgramModel = "aura-asteria-en"

var (
	deepgramInitOnce sync.Once
	statusCodeRegex  = regexp.MustCompile(`\b([45]\d\d)\b`)
)

// DeepgramBackend synthesizes through Deepgram's Aura speak REST API as linear16 PCM
type DeepgramBackend struct {
	cfg    Config
	client *speakv1api.Client
}

// NewDeepgramBackend creates a Deepgram speak backend
func NewDeepgramBackend(cfg Config) (*DeepgramBackend, error) {
	cfg = cfg.withDefaults()
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("deepgram backend %s: API key is required", cfg.Name)
	}
	if cfg.Model == "" {
		cfg.Model = defaultDeepgramModel
	}

	deepgramInitOnce.Do(speakClient.InitWithDefault)

	opts := &interfaces.ClientOptions{}
	if cfg.Endpoint != "" {
		opts.Host = cfg.Endpoint
	}

	c := speakClient.NewREST(cfg.APIKey, opts)
	return &DeepgramBackend{cfg: cfg, client: speakv1api.New(c)}, nil
}

// Name returns the backend identifier
func (b *DeepgramBackend) Name() string {
	return b.cfg.Name
}

// Synthesize converts text to audio. Aura voices are selected by model name,
// so a voice id starting with "aura" overrides the configured model.
// Aura has no style or prosody controls; those fields are ignored.
func (b *DeepgramBackend) Synthesize(ctx context.Context, req *Request) (*Audio, error) {
	if req.Text == "" {
		return nil, ErrEmptyText
	}

	model := b.cfg.Model
	if strings.HasPrefix(req.Voice, "aura") {
		model = req.Voice
	}
	rate := req.SampleRate
	if rate <= 0 {
		rate = b.cfg.SampleRate
	}

	options := &interfaces.SpeakOptions{
		Model:      model,
		Encoding:   "linear16",
		Container:  "none",
		SampleRate: rate,
	}

	var buf interfaces.RawResponse
	if _, err := b.client.ToStream(ctx, req.Text, options, &buf); err != nil {
		return nil, b.classify(ctx, err)
	}
	if buf.Len() == 0 {
		return nil, NewSynthesisError(b.cfg.Name, "empty response", ErrEmptyAudio, true)
	}

	f := DefaultFormat()
	f.SampleRate = rate
	return &Audio{Data: append([]byte(nil), buf.Bytes()...), Format: f}, nil
}

// HealthCheck reports configuration readiness; Aura has no free probe endpoint
func (b *DeepgramBackend) HealthCheck(ctx context.Context) (Health, error) {
	if err := ctx.Err(); err != nil {
		return Health{}, err
	}
	return Health{OK: b.client != nil, Detail: "configured (not probed)"}, nil
}

// Close is a no-op; the SDK client holds no persistent connection
func (b *DeepgramBackend) Close() error {
	return nil
}

// classify maps SDK errors, which carry the HTTP status only in their text
func (b *DeepgramBackend) classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return TransportError(b.cfg.Name, ctxErr)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return TransportError(b.cfg.Name, err)
	}

	if m := statusCodeRegex.FindStringSubmatch(err.Error()); m != nil {
		if code, convErr := strconv.Atoi(m[1]); convErr == nil {
			se := StatusError(b.cfg.Name, code, "speak request failed")
			se.Cause = err
			return se
		}
	}
	return TransportError(b.cfg.Name, err)
}
