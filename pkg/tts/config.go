package tts

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// ElevenLabsConfig configures the ElevenLabs backend
type ElevenLabsConfig struct {
	APIKey  string
	VoiceID string
	BaseURL string
	Timeout time.Duration
}

// GoogleConfig configures the Google Cloud Text-to-Speech backend.
// CredentialsJSON is optional; when empty the client falls back to
// application default credentials.
type GoogleConfig struct {
	CredentialsJSON string
}

// PollyConfig configures the AWS Polly backend
type PollyConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	VoiceID         string
}

// OpenAIConfig configures the OpenAI speech backend
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// TwilioConfig configures the TwiML <Say> fallback backend
type TwilioConfig struct {
	Voice    string
	Language string
}

// ProviderConfig declares one chain entry. Exactly one of the typed
// payloads must be set, matching Name.
type ProviderConfig struct {
	Name     string
	Enabled  bool
	Priority int

	ElevenLabs *ElevenLabsConfig
	Google     *GoogleConfig
	Polly      *PollyConfig
	OpenAI     *OpenAIConfig
	Twilio     *TwilioConfig
}

// buildProvider instantiates the concrete backend for a chain entry.
// Unknown names and missing payloads return nil; the chain logs and
// skips them.
func buildProvider(ctx context.Context, logger *logrus.Logger, cfg ProviderConfig) (Provider, error) {
	switch cfg.Name {
	case "elevenlabs":
		if cfg.ElevenLabs == nil {
			return nil, nil
		}
		return NewElevenLabsProvider(logger, cfg.Priority, cfg.ElevenLabs), nil
	case "google":
		if cfg.Google == nil {
			return nil, nil
		}
		return NewGoogleProvider(ctx, logger, cfg.Priority, cfg.Google)
	case "polly":
		if cfg.Polly == nil {
			return nil, nil
		}
		return NewPollyProvider(ctx, logger, cfg.Priority, cfg.Polly)
	case "openai":
		if cfg.OpenAI == nil {
			return nil, nil
		}
		return NewOpenAIProvider(logger, cfg.Priority, cfg.OpenAI), nil
	case "twilio":
		return NewTwilioProvider(logger, cfg.Priority, cfg.Twilio), nil
	default:
		return nil, nil
	}
}
