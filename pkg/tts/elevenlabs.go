package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const defaultElevenLabsTimeout = 45 * time.Second

// ElevenLabsProvider synthesizes speech through the ElevenLabs HTTP API
type ElevenLabsProvider struct {
	logger     *logrus.Logger
	priority   int
	config     *ElevenLabsConfig
	httpClient *http.Client
}

// NewElevenLabsProvider creates a new ElevenLabs provider instance
func NewElevenLabsProvider(logger *logrus.Logger, priority int, cfg *ElevenLabsConfig) *ElevenLabsProvider {
	timeout := defaultElevenLabsTimeout
	if cfg != nil && cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}

	return &ElevenLabsProvider{
		logger:   logger,
		priority: priority,
		config:   cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the provider name
func (p *ElevenLabsProvider) Name() string {
	return "elevenlabs"
}

// Priority returns the chain priority
func (p *ElevenLabsProvider) Priority() int {
	return p.priority
}

type elevenLabsRequest struct {
	Text          string                  `json:"text"`
	ModelID       string                  `json:"model_id"`
	VoiceSettings elevenLabsVoiceSettings `json:"voice_settings"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// GenerateSpeech posts text to the text-to-speech endpoint and returns
// the raw audio body.
func (p *ElevenLabsProvider) GenerateSpeech(ctx context.Context, text string, opts *Options) ([]byte, error) {
	baseURL := "https://api.elevenlabs.io/v1"
	if p.config.BaseURL != "" {
		baseURL = strings.TrimRight(p.config.BaseURL, "/")
	}

	voiceID := p.config.VoiceID
	if opts != nil && opts.Voice != "" {
		voiceID = opts.Voice
	}

	settings := elevenLabsVoiceSettings{
		Stability:       0.5,
		SimilarityBoost: 0.75,
		Style:           0.5,
		UseSpeakerBoost: true,
	}
	if opts != nil && opts.Settings != nil {
		settings.Stability = opts.Settings.Stability
		settings.SimilarityBoost = opts.Settings.SimilarityBoost
		settings.Style = opts.Settings.Style
	}

	payload := elevenLabsRequest{
		Text:          text,
		ModelID:       "eleven_monolingual_v1",
		VoiceSettings: settings,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/text-to-speech/%s", baseURL, voiceID), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("xi-api-key", p.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(snippet))
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio body: %w", err)
	}

	return audio, nil
}
