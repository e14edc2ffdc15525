package tts

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// SynthesizeMethod is the unary method invoked on gRPC synthesis servers.
// Request and response are google.protobuf.Struct messages.
const SynthesizeMethod = "/voicecomposer.tts.v1.Synthesizer/Synthesize"

// GRPCBackend calls a unary Synthesize method over a shared client connection
type GRPCBackend struct {
	cfg  Config
	opts []grpc.DialOption

	mu   sync.Mutex
	conn *grpc.ClientConn
}

// NewGRPCBackend creates a gRPC synthesis backend. The connection is created
// lazily on first use; extra dial options are appended to the defaults.
func NewGRPCBackend(cfg Config, opts ...grpc.DialOption) (*GRPCBackend, error) {
	cfg = cfg.withDefaults()
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("grpc backend %s: endpoint is required", cfg.Name)
	}

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		// Keepalive settings for long-lived connections
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	dialOpts = append(dialOpts, opts...)

	return &GRPCBackend{cfg: cfg, opts: dialOpts}, nil
}

// Name returns the backend identifier
func (b *GRPCBackend) Name() string {
	return b.cfg.Name
}

func (b *GRPCBackend) connect() (*grpc.ClientConn, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn != nil {
		return b.conn, nil
	}

	conn, err := grpc.NewClient(b.cfg.Endpoint, b.opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", b.cfg.Endpoint, err)
	}
	b.conn = conn
	return conn, nil
}

// Synthesize invokes the remote Synthesize method
func (b *GRPCBackend) Synthesize(ctx context.Context, req *Request) (*Audio, error) {
	if req.Text == "" {
		return nil, ErrEmptyText
	}

	conn, err := b.connect()
	if err != nil {
		return nil, TransportError(b.cfg.Name, err)
	}

	rate := req.SampleRate
	if rate <= 0 {
		rate = b.cfg.SampleRate
	}

	in, err := structpb.NewStruct(map[string]interface{}{
		"text":         req.Text,
		"voice":        req.Voice,
		"model":        b.cfg.Model,
		"emotion":      req.Emotion,
		"style_degree": req.StyleDegree,
		"sample_rate":  rate,
		"speed":        speedMultiplier(req.Speed),
		"pitch":        req.Pitch,
		"volume":       req.Volume,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	if b.cfg.APIKey != "" {
		ctx = withAPIKey(ctx, b.cfg.APIKey)
	}

	out := &structpb.Struct{}
	if err := conn.Invoke(ctx, SynthesizeMethod, in, out); err != nil {
		return nil, b.classify(err)
	}

	fields := out.GetFields()
	data, err := base64.StdEncoding.DecodeString(fields["audio"].GetStringValue())
	if err != nil {
		return nil, NewSynthesisError(b.cfg.Name, "audio field is not base64", err, false)
	}
	if len(data) == 0 {
		return nil, NewSynthesisError(b.cfg.Name, "empty audio field", ErrEmptyAudio, true)
	}

	f := DefaultFormat()
	f.SampleRate = rate
	if v := int(fields["sample_rate"].GetNumberValue()); v > 0 {
		f.SampleRate = v
	}
	if v := int(fields["channels"].GetNumberValue()); v > 0 {
		f.Channels = v
	}
	if v := int(fields["bit_depth"].GetNumberValue()); v > 0 {
		f.BitDepth = v
	}
	if v := fields["encoding"].GetStringValue(); v != "" {
		f.Encoding = Encoding(v)
	}

	return &Audio{Data: data, Format: f}, nil
}

// HealthCheck uses the standard grpc.health.v1 service
func (b *GRPCBackend) HealthCheck(ctx context.Context) (Health, error) {
	start := time.Now()

	conn, err := b.connect()
	if err != nil {
		return Health{Detail: err.Error()}, TransportError(b.cfg.Name, err)
	}

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return Health{Latency: time.Since(start), Detail: err.Error()}, b.classify(err)
	}

	h := Health{
		OK:      resp.GetStatus() == healthpb.HealthCheckResponse_SERVING,
		Latency: time.Since(start),
		Detail:  resp.GetStatus().String(),
	}
	if !h.OK {
		return h, StatusError(b.cfg.Name, http.StatusServiceUnavailable, "not serving")
	}
	return h, nil
}

// Close closes the client connection
func (b *GRPCBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}

// classify maps gRPC status codes onto the HTTP-style taxonomy
func (b *GRPCBackend) classify(err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return TransportError(b.cfg.Name, err)
	}

	switch st.Code() {
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return &SynthesisError{Backend: b.cfg.Name, Message: st.Message(), Cause: err, Retryable: true, Timeout: true}
	case codes.Unavailable, codes.Aborted:
		return TransportError(b.cfg.Name, err)
	case codes.ResourceExhausted:
		return StatusError(b.cfg.Name, http.StatusTooManyRequests, st.Message())
	case codes.Internal, codes.Unknown, codes.DataLoss:
		return StatusError(b.cfg.Name, http.StatusInternalServerError, st.Message())
	case codes.Unauthenticated:
		return StatusError(b.cfg.Name, http.StatusUnauthorized, st.Message())
	case codes.PermissionDenied:
		return StatusError(b.cfg.Name, http.StatusForbidden, st.Message())
	case codes.NotFound:
		return StatusError(b.cfg.Name, http.StatusNotFound, st.Message())
	default:
		return StatusError(b.cfg.Name, http.StatusBadRequest, st.Message())
	}
}

func withAPIKey(ctx context.Context, key string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "x-api-key", key)
}
