package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/lexiqai/voice-composer/internal/compose"
	"github.com/lexiqai/voice-composer/internal/config"
	"github.com/lexiqai/voice-composer/internal/tts"
)

const testCatalog = `
speakers:
  Jenny: en-US-JennyNeural
  Guy: en-US-GuyNeural
voices:
  - id: en-US-JennyNeural
    styles: [cheerful]
    backends: [local]
  - id: en-US-GuyNeural
    backends: [local]
`

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "voices.yaml")
	if err := os.WriteFile(path, []byte(testCatalog), 0o644); err != nil {
		t.Fatal(err)
	}
	return &config.Config{
		VoiceCatalogPath:           path,
		MaxParallelJobs:            4,
		RequestTimeoutMs:           10000,
		RetryMaxAttempts:           2,
		RetryInitialBackoff:        1,
		RetryMaxBackoff:            5,
		CircuitBreakerMaxFailures:  3,
		CircuitBreakerWindow:       60,
		CircuitBreakerResetTimeout: 30,
		ReconnectMaxAttempts:       1,
		ReconnectBackoff:           10,
		SilenceMs:                  100,
		TargetSampleRate:           16000,
		TargetChannels:             1,
		OutputEncoding:             "wav",
		AssemblyMode:               "strict",
		SegmentCacheSize:           16,
		Backends: []config.Backend{
			{ID: "local", Kind: "mock", MaxConcurrency: 2, TimeoutMs: 5000},
			{ID: "spare", Kind: "mock", Priority: 5, MaxConcurrency: 1, TimeoutMs: 5000},
		},
	}
}

func TestBuild(t *testing.T) {
	svc, err := Build(testConfig(t))
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	defer svc.Close()

	if svc.Registry.Len() != 2 {
		t.Errorf("Expected 2 registered backends, got %d", svc.Registry.Len())
	}
	if len(svc.Catalog.ListVoices()) != 2 {
		t.Errorf("Expected 2 catalog voices, got %d", len(svc.Catalog.ListVoices()))
	}

	res, err := svc.Composer.Compose(context.Background(), compose.Request{
		Text: "[Jenny:cheerful]: Hello there.\n[Guy]: Hi Jenny.",
	})
	if err != nil {
		t.Fatalf("Compose() failed: %v", err)
	}
	if res.Output.Format.SampleRate != 16000 || res.Output.Format.Encoding != tts.EncodingWAV {
		t.Errorf("Expected configured output format, got %+v", res.Output.Format)
	}
	for _, c := range res.Chunks {
		if c.Backend != "local" {
			t.Errorf("Chunk %d: expected affinity backend local, got %s", c.Index, c.Backend)
		}
	}
}

func TestBuild_MissingCatalog(t *testing.T) {
	cfg := testConfig(t)
	cfg.VoiceCatalogPath = filepath.Join(t.TempDir(), "missing.yaml")

	if _, err := Build(cfg); err == nil {
		t.Error("Expected error for a missing catalog file")
	}
}

func TestBuild_UnknownKind(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backends[1].Kind = "carrier-pigeon"

	if _, err := Build(cfg); err == nil {
		t.Error("Expected error for an unknown backend kind")
	}
}

func TestBuild_UnreachableNATSIsNotFatal(t *testing.T) {
	cfg := testConfig(t)
	cfg.NATSURL = "nats://127.0.0.1:1"

	svc, err := Build(cfg)
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	defer svc.Close()
}
