package tts

import (
	"context"
	"fmt"
	"strings"

	apperrors "voicecall-server/pkg/errors"
)

// VoiceSettings tunes the rendered voice, all values 0..1
type VoiceSettings struct {
	Stability       float64
	SimilarityBoost float64
	Style           float64
}

// Options tunes speech synthesis. Zero values defer to provider defaults.
type Options struct {
	Language string
	Voice    string
	Speed    float64
	Pitch    float64
	Emotion  string
	Settings *VoiceSettings
}

// Provider is a speech-synthesis backend. Lower priority is tried first
// by the fallback chain.
type Provider interface {
	Name() string
	Priority() int
	GenerateSpeech(ctx context.Context, text string, opts *Options) ([]byte, error)
}

// ProviderError records a single backend failure, tagged with the
// provider that produced it.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is matches the generic provider-failure sentinel
func (e *ProviderError) Is(target error) bool {
	return target == apperrors.ErrProviderFailure
}

// AggregateError is returned when every provider in the chain failed.
// It carries each provider's individual failure so callers can inspect
// which backends were tried and why each one failed.
type AggregateError struct {
	Errors []*ProviderError
}

func (e *AggregateError) Error() string {
	parts := make([]string, 0, len(e.Errors))
	for _, pe := range e.Errors {
		parts = append(parts, pe.Error())
	}
	return fmt.Sprintf("all speech providers failed: %s", strings.Join(parts, "; "))
}

// Unwrap exposes the per-provider failures to errors.Is/As
func (e *AggregateError) Unwrap() []error {
	errs := make([]error, 0, len(e.Errors)+1)
	errs = append(errs, apperrors.ErrAllProvidersFailed)
	for _, pe := range e.Errors {
		errs = append(errs, pe)
	}
	return errs
}
