// Package app assembles the composer service from configuration. Both the
// HTTP server and the command line tool build through here.
package app

import (
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/lexiqai/voice-composer/internal/audio"
	"github.com/lexiqai/voice-composer/internal/cache"
	"github.com/lexiqai/voice-composer/internal/catalog"
	"github.com/lexiqai/voice-composer/internal/compose"
	"github.com/lexiqai/voice-composer/internal/config"
	"github.com/lexiqai/voice-composer/internal/dispatch"
	"github.com/lexiqai/voice-composer/internal/events"
	"github.com/lexiqai/voice-composer/internal/observability"
	"github.com/lexiqai/voice-composer/internal/planner"
	"github.com/lexiqai/voice-composer/internal/registry"
	"github.com/lexiqai/voice-composer/internal/resilience"
	"github.com/lexiqai/voice-composer/internal/tts"
)

// Service is a fully wired composer
type Service struct {
	Catalog   *catalog.StaticCatalog
	Registry  *registry.Registry
	Planner   *planner.Planner
	Composer  *compose.Composer
	Publisher events.Publisher
}

// Build loads the voice catalog, registers every configured backend and wires
// the compose pipeline
func Build(cfg *config.Config) (*Service, error) {
	cat, err := catalog.Load(cfg.VoiceCatalogPath)
	if err != nil {
		return nil, err
	}
	return BuildWithCatalog(cfg, cat)
}

// BuildWithCatalog is Build with an already loaded catalog
func BuildWithCatalog(cfg *config.Config, cat *catalog.StaticCatalog) (*Service, error) {
	reg := registry.New(breakerConfig(cfg))
	for _, bc := range cfg.Backends {
		adapter, err := tts.New(bc.Kind, tts.Config{
			Name:       bc.ID,
			Endpoint:   bc.Endpoint,
			APIKey:     bc.APIKey,
			Model:      bc.Model,
			SampleRate: cfg.TargetSampleRate,
			Timeout:    bc.Timeout(),
			Reconnect:  reconnectConfig(cfg),
		})
		if err != nil {
			return nil, errors.Join(err, reg.Close())
		}
		if _, err := reg.Register(bc.ID, adapter, registry.BackendOptions{
			Kind:           bc.Kind,
			Tier:           bc.Tier,
			Priority:       bc.Priority,
			MaxConcurrency: bc.MaxConcurrency,
			Timeout:        bc.Timeout(),
		}); err != nil {
			adapter.Close()
			return nil, errors.Join(err, reg.Close())
		}
		log.Info().
			Str("backend", bc.ID).
			Str("kind", bc.Kind).
			Int("priority", bc.Priority).
			Int("max_concurrency", bc.MaxConcurrency).
			Msg("Registered synthesis backend")
	}

	segments, err := cache.New(cfg.SegmentCacheSize)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("segment cache: %w", err), reg.Close())
	}

	var pub events.Publisher = events.Noop{}
	if cfg.NATSURL != "" {
		nc, err := events.Connect(cfg.NATSURL, cfg.NATSSubject, 2*time.Second)
		if err != nil {
			// Events are best effort; compose keeps working without them
			log.Warn().Err(err).Msg("Result events disabled")
		} else {
			pub = nc
		}
	}

	pl := planner.New(cat, planner.Options{
		MaxChunkChars:         cfg.MaxChunkChars,
		MinFragmentChars:      cfg.MinFragmentChars,
		MaxDialogueChunkChars: cfg.MaxDialogueChunkChars,
	})

	d := dispatch.New(reg, segments, dispatch.Options{
		MaxParallel: cfg.MaxParallelJobs,
		Retry: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        time.Duration(cfg.RetryMaxBackoff) * time.Millisecond,
			BackoffMultiplier: 2.0,
			Jitter:            true,
		},
		SampleRate: cfg.TargetSampleRate,
	})

	c := compose.New(cat, pl, d, pub, compose.Options{
		DefaultVoice:      cfg.DefaultVoice,
		SilenceMs:         cfg.SilenceMs,
		Mode:              audio.Mode(cfg.AssemblyMode),
		Encoding:          tts.Encoding(cfg.OutputEncoding),
		SampleRate:        cfg.TargetSampleRate,
		Channels:          cfg.TargetChannels,
		LeadingSilenceMs:  cfg.LeadingSilenceMs,
		TrailingSilenceMs: cfg.TrailingSilenceMs,
		RequestTimeout:    cfg.RequestTimeout(),
	})

	return &Service{
		Catalog:   cat,
		Registry:  reg,
		Planner:   pl,
		Composer:  c,
		Publisher: pub,
	}, nil
}

// Close releases backend connections and flushes pending events
func (s *Service) Close() {
	if err := s.Registry.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close backends")
	}
	s.Publisher.Close()
}

func breakerConfig(cfg *config.Config) resilience.BreakerConfig {
	return resilience.BreakerConfig{
		MaxFailures:   cfg.CircuitBreakerMaxFailures,
		Window:        time.Duration(cfg.CircuitBreakerWindow) * time.Second,
		ResetTimeout:  time.Duration(cfg.CircuitBreakerResetTimeout) * time.Second,
		OnStateChange: observability.BreakerStateHook(),
	}
}

func reconnectConfig(cfg *config.Config) *resilience.ReconnectConfig {
	backoff := time.Duration(cfg.ReconnectBackoff) * time.Millisecond
	return &resilience.ReconnectConfig{
		MaxAttempts: cfg.ReconnectMaxAttempts,
		Backoff:     backoff,
		Multiplier:  2.0,
		MaxBackoff:  8 * backoff,
	}
}
