package tts

import (
	"context"
	"sort"

	"github.com/sirupsen/logrus"

	"voicecall-server/pkg/metrics"
)

// Service tries a prioritized chain of speech providers until one
// succeeds. Providers are always tried sequentially; the chain trades
// latency for availability.
type Service struct {
	providers []Provider
	logger    *logrus.Logger
}

// NewService builds the fallback chain from configuration. Disabled
// entries are dropped, unknown provider names are logged and skipped,
// and the remaining providers are ordered by ascending priority.
func NewService(ctx context.Context, logger *logrus.Logger, configs []ProviderConfig) (*Service, error) {
	svc := &Service{logger: logger}

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}

		provider, err := buildProvider(ctx, logger, cfg)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"provider": cfg.Name,
			}).WithError(err).Error("Failed to construct TTS provider, skipping")
			continue
		}
		if provider == nil {
			logger.WithField("provider", cfg.Name).Warn("Unknown or unconfigured TTS provider, skipping")
			continue
		}

		svc.providers = append(svc.providers, provider)
		logger.WithFields(logrus.Fields{
			"provider": provider.Name(),
			"priority": provider.Priority(),
		}).Info("Registered TTS provider")
	}

	sort.SliceStable(svc.providers, func(a, b int) bool {
		return svc.providers[a].Priority() < svc.providers[b].Priority()
	})

	return svc, nil
}

// NewServiceWithProviders builds a chain directly from provider
// instances. Used by the caller facade in tests and by custom wiring.
func NewServiceWithProviders(logger *logrus.Logger, providers ...Provider) *Service {
	svc := &Service{logger: logger, providers: providers}
	sort.SliceStable(svc.providers, func(a, b int) bool {
		return svc.providers[a].Priority() < svc.providers[b].Priority()
	})
	return svc
}

// Providers returns the chain in trial order
func (s *Service) Providers() []Provider {
	return s.providers
}

// GenerateSpeech synthesizes text to audio. The first provider to
// succeed wins; per-provider failures are recorded and the next backend
// is tried. When every backend fails the returned AggregateError
// enumerates each one's failure.
func (s *Service) GenerateSpeech(ctx context.Context, text string, opts *Options) ([]byte, error) {
	var failures []*ProviderError

	for _, provider := range s.providers {
		audio, err := provider.GenerateSpeech(ctx, text, opts)
		if err == nil {
			metrics.RecordTTSRequest(provider.Name(), "success")
			s.logger.WithFields(logrus.Fields{
				"provider": provider.Name(),
				"bytes":    len(audio),
			}).Debug("Speech synthesis succeeded")
			return audio, nil
		}

		metrics.RecordTTSRequest(provider.Name(), "failure")
		s.logger.WithField("provider", provider.Name()).
			WithError(err).Warn("TTS provider failed, trying next")
		failures = append(failures, &ProviderError{Provider: provider.Name(), Err: err})
	}

	return nil, &AggregateError{Errors: failures}
}
