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

const defaultOpenAITimeout = 60 * time.Second

// OpenAIProvider synthesizes speech through the OpenAI audio API
type OpenAIProvider struct {
	logger     *logrus.Logger
	priority   int
	config     *OpenAIConfig
	httpClient *http.Client
}

// NewOpenAIProvider creates a new OpenAI speech provider
func NewOpenAIProvider(logger *logrus.Logger, priority int, cfg *OpenAIConfig) *OpenAIProvider {
	timeout := defaultOpenAITimeout
	if cfg != nil && cfg.Timeout > 0 {
		timeout = cfg.Timeout
	}

	return &OpenAIProvider{
		logger:   logger,
		priority: priority,
		config:   cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the provider name
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Priority returns the chain priority
func (p *OpenAIProvider) Priority() int {
	return p.priority
}

// GenerateSpeech posts text to the speech endpoint and returns the audio
func (p *OpenAIProvider) GenerateSpeech(ctx context.Context, text string, opts *Options) ([]byte, error) {
	baseURL := "https://api.openai.com"
	if p.config.BaseURL != "" {
		baseURL = strings.TrimRight(p.config.BaseURL, "/")
	}

	model := p.config.Model
	if model == "" {
		model = "tts-1"
	}

	voice := "alloy"
	if opts != nil && opts.Voice != "" {
		voice = opts.Voice
	}

	payload := map[string]interface{}{
		"model": model,
		"input": text,
		"voice": voice,
	}
	if opts != nil && opts.Speed > 0 {
		payload["speed"] = opts.Speed
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		baseURL+"/v1/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.config.APIKey)
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
