package config

import (
	"os"
	"strings"
	"testing"
	"time"
)

func setBackendEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BACKENDS", "primary, edge-tts")
	t.Setenv("BACKEND_PRIMARY_KIND", "mock")
	t.Setenv("BACKEND_EDGE_TTS_ENDPOINT", "http://localhost:5002/synthesize")
	t.Setenv("BACKEND_EDGE_TTS_PRIORITY", "1")
	t.Setenv("BACKEND_EDGE_TTS_TIER", "standard")
}

func TestLoad(t *testing.T) {
	setBackendEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if len(cfg.Backends) != 2 {
		t.Fatalf("Expected 2 backends, got %d", len(cfg.Backends))
	}

	primary, edge := cfg.Backends[0], cfg.Backends[1]
	if primary.ID != "primary" || primary.Kind != "mock" {
		t.Errorf("Unexpected primary backend %+v", primary)
	}
	if edge.ID != "edge-tts" || edge.Kind != "http" {
		t.Errorf("Unexpected edge backend %+v", edge)
	}
	if edge.Endpoint != "http://localhost:5002/synthesize" || edge.Priority != 1 || edge.Tier != "standard" {
		t.Errorf("Expected edge-tts variables applied, got %+v", edge)
	}
}

func TestLoad_MissingBackends(t *testing.T) {
	os.Unsetenv("BACKENDS")

	_, err := Load()
	if err == nil {
		t.Error("Expected error when BACKENDS is missing")
	}
}

func TestLoad_Defaults(t *testing.T) {
	setBackendEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	// Check defaults
	if cfg.Port != "8080" {
		t.Errorf("Expected default Port '8080', got '%s'", cfg.Port)
	}

	if cfg.MaxParallelJobs != 8 {
		t.Errorf("Expected default MaxParallelJobs 8, got %d", cfg.MaxParallelJobs)
	}

	if cfg.RequestTimeout() != 2*time.Minute {
		t.Errorf("Expected default request timeout 2m, got %s", cfg.RequestTimeout())
	}

	if cfg.SilenceMs != 300 {
		t.Errorf("Expected default SilenceMs 300, got %d", cfg.SilenceMs)
	}

	if cfg.AssemblyMode != "strict" || cfg.OutputEncoding != "wav" {
		t.Errorf("Expected strict wav output, got %s %s", cfg.AssemblyMode, cfg.OutputEncoding)
	}

	if cfg.TargetSampleRate != 24000 || cfg.TargetChannels != 1 {
		t.Errorf("Expected 24kHz mono, got %d/%d", cfg.TargetSampleRate, cfg.TargetChannels)
	}

	if cfg.SegmentCacheSize != 512 {
		t.Errorf("Expected default SegmentCacheSize 512, got %d", cfg.SegmentCacheSize)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}

	b := cfg.Backends[0]
	if b.MaxConcurrency != 4 || b.Timeout() != 20*time.Second {
		t.Errorf("Expected backend defaults 4 / 20s, got %d / %s", b.MaxConcurrency, b.Timeout())
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			MaxParallelJobs:  8,
			RequestTimeoutMs: 10000,
			RetryMaxAttempts: 3,
			AssemblyMode:     "strict",
			OutputEncoding:   "wav",
			Backends: []Backend{
				{ID: "primary", Kind: "http", Endpoint: "http://tts", MaxConcurrency: 4, TimeoutMs: 5000},
			},
		}
	}

	if err := valid().Validate(); err != nil {
		t.Fatalf("Expected valid config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"no backends", func(c *Config) { c.Backends = nil }, "BACKENDS"},
		{"backend timeout too long", func(c *Config) { c.Backends[0].TimeoutMs = 10000 }, "TIMEOUT_MS"},
		{"zero concurrency", func(c *Config) { c.Backends[0].MaxConcurrency = 0 }, "MAX_CONCURRENCY"},
		{"missing endpoint", func(c *Config) { c.Backends[0].Endpoint = "" }, "ENDPOINT"},
		{"bad mode", func(c *Config) { c.AssemblyMode = "loose" }, "ASSEMBLY_MODE"},
		{"bad encoding", func(c *Config) { c.OutputEncoding = "mp3" }, "OUTPUT_ENCODING"},
		{"zero parallel", func(c *Config) { c.MaxParallelJobs = 0 }, "MAX_PARALLEL_JOBS"},
		{"duplicate id", func(c *Config) { c.Backends = append(c.Backends, c.Backends[0]) }, "twice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if err == nil {
				t.Fatal("Expected validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %s, got %v", tt.want, err)
			}
		})
	}
}

func TestValidate_MockNeedsNoEndpoint(t *testing.T) {
	c := &Config{
		MaxParallelJobs:  1,
		RequestTimeoutMs: 1000,
		RetryMaxAttempts: 1,
		AssemblyMode:     "lenient",
		OutputEncoding:   "mulaw",
		Backends:         []Backend{{ID: "m", Kind: "mock", MaxConcurrency: 1, TimeoutMs: 500}},
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Expected mock backend without endpoint to be valid, got %v", err)
	}
}

func TestEnvPrefix(t *testing.T) {
	tests := map[string]string{
		"primary":    "BACKEND_PRIMARY",
		"edge-tts":   "BACKEND_EDGE_TTS",
		"azure.east": "BACKEND_AZURE_EAST",
	}
	for id, want := range tests {
		if got := envPrefix(id); got != want {
			t.Errorf("envPrefix(%q) = %s, want %s", id, got, want)
		}
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("TEST_VAR", "test-value")

	value := GetEnv("TEST_VAR", "default")
	if value != "test-value" {
		t.Errorf("Expected 'test-value', got '%s'", value)
	}

	value = GetEnv("NON_EXISTENT_VAR", "default")
	if value != "default" {
		t.Errorf("Expected 'default', got '%s'", value)
	}
}
