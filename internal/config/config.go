package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the voice composer service
type Config struct {
	// Server configuration
	Port string `envconfig:"PORT" default:"8080"`

	// Voice catalog
	VoiceCatalogPath string `envconfig:"VOICE_CATALOG_PATH" default:"voices.yaml"`
	DefaultVoice     string `envconfig:"DEFAULT_VOICE" default:""` // global voice when a request names none

	// Dispatch configuration
	MaxParallelJobs  int `envconfig:"MAX_PARALLEL_JOBS" default:"8"`
	RequestTimeoutMs int `envconfig:"REQUEST_TIMEOUT_MS" default:"120000"`

	// Resilience configuration
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum attempts per backend
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	RetryMaxBackoff            int `envconfig:"RETRY_MAX_BACKOFF" default:"2000"`           // Backoff cap in milliseconds
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"3"`   // Failures within the window before opening
	CircuitBreakerWindow       int `envconfig:"CIRCUIT_BREAKER_WINDOW" default:"60"`        // Rolling failure window in seconds
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before a probe is admitted
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"3"`         // Streaming backend redial attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"200"`            // Redial backoff in milliseconds

	// Chunk planning
	MaxChunkChars         int `envconfig:"MAX_CHUNK_CHARS" default:"240"`
	MinFragmentChars      int `envconfig:"MIN_FRAGMENT_CHARS" default:"15"`
	MaxDialogueChunkChars int `envconfig:"MAX_DIALOGUE_CHUNK_CHARS" default:"900"`

	// Assembly
	SilenceMs         int    `envconfig:"SILENCE_MS" default:"300"`
	LeadingSilenceMs  int    `envconfig:"LEADING_SILENCE_MS" default:"0"`
	TrailingSilenceMs int    `envconfig:"TRAILING_SILENCE_MS" default:"0"`
	TargetSampleRate  int    `envconfig:"TARGET_SAMPLE_RATE" default:"24000"`
	TargetChannels    int    `envconfig:"TARGET_CHANNELS" default:"1"`
	OutputEncoding    string `envconfig:"OUTPUT_ENCODING" default:"wav"`  // wav, pcm, mulaw
	AssemblyMode      string `envconfig:"ASSEMBLY_MODE" default:"strict"` // strict, lenient

	// Segment cache; 0 disables it
	SegmentCacheSize int `envconfig:"SEGMENT_CACHE_SIZE" default:"512"`

	// Result events; publishing is off when NATS_URL is empty
	NATSURL     string `envconfig:"NATS_URL" default:""`
	NATSSubject string `envconfig:"NATS_SUBJECT" default:"voice.compose.completed"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
	TracingEnabled bool   `envconfig:"TRACING_ENABLED" default:"false"`
	OTLPEndpoint   string `envconfig:"OTLP_ENDPOINT" default:""` // stdout exporter when empty

	// Synthesis backends, in registration order
	BackendIDs []string `envconfig:"BACKENDS" default:""`
	Backends   []Backend `ignored:"true"`
}

// Backend is the static configuration of one synthesis backend, read from
// BACKEND_<ID>_* variables
type Backend struct {
	ID             string `ignored:"true"`
	Kind           string `envconfig:"KIND" default:"http"` // http, websocket, grpc, deepgram, mock
	Endpoint       string `envconfig:"ENDPOINT"`
	APIKey         string `envconfig:"API_KEY"`
	Model          string `envconfig:"MODEL"`
	Tier           string `envconfig:"TIER"`
	Priority       int    `envconfig:"PRIORITY" default:"0"` // lower runs first
	MaxConcurrency int    `envconfig:"MAX_CONCURRENCY" default:"4"`
	TimeoutMs      int    `envconfig:"TIMEOUT_MS" default:"20000"`
}

// Timeout returns the per-attempt timeout
func (b Backend) Timeout() time.Duration {
	return time.Duration(b.TimeoutMs) * time.Millisecond
}

// RequestTimeout returns the end-to-end request budget
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMs) * time.Millisecond
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	for _, raw := range cfg.BackendIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			continue
		}
		b := Backend{ID: id}
		if err := envconfig.Process(envPrefix(id), &b); err != nil {
			return nil, fmt.Errorf("failed to load backend %s: %w", id, err)
		}
		cfg.Backends = append(cfg.Backends, b)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field constraints
func (c *Config) Validate() error {
	if len(c.Backends) == 0 {
		return fmt.Errorf("BACKENDS is required")
	}
	if c.RequestTimeoutMs <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT_MS must be positive")
	}
	if c.MaxParallelJobs <= 0 {
		return fmt.Errorf("MAX_PARALLEL_JOBS must be positive")
	}
	if c.RetryMaxAttempts <= 0 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be positive")
	}

	switch c.AssemblyMode {
	case "strict", "lenient":
	default:
		return fmt.Errorf("ASSEMBLY_MODE must be strict or lenient, got %q", c.AssemblyMode)
	}
	switch c.OutputEncoding {
	case "wav", "pcm", "mulaw":
	default:
		return fmt.Errorf("OUTPUT_ENCODING must be wav, pcm or mulaw, got %q", c.OutputEncoding)
	}

	seen := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if seen[b.ID] {
			return fmt.Errorf("backend %s listed twice in BACKENDS", b.ID)
		}
		seen[b.ID] = true

		if b.TimeoutMs <= 0 || b.TimeoutMs >= c.RequestTimeoutMs {
			return fmt.Errorf("%s_TIMEOUT_MS (%d) must be positive and smaller than REQUEST_TIMEOUT_MS (%d)",
				envPrefix(b.ID), b.TimeoutMs, c.RequestTimeoutMs)
		}
		if b.MaxConcurrency <= 0 {
			return fmt.Errorf("%s_MAX_CONCURRENCY must be positive", envPrefix(b.ID))
		}
		if b.Kind != "mock" && b.Kind != "deepgram" && b.Endpoint == "" {
			return fmt.Errorf("%s_ENDPOINT is required for %s backends", envPrefix(b.ID), b.Kind)
		}
	}
	return nil
}

// envPrefix maps a backend id to its variable prefix, e.g. "edge-tts" -> "BACKEND_EDGE_TTS"
func envPrefix(id string) string {
	return "BACKEND_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(id))
}

// GetEnv returns the value of an environment variable or a default value
func GetEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
