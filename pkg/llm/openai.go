package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"voicecall-server/pkg/errors"
)

const defaultTimeout = 60 * time.Second

// Message is one turn of prompt history
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// Client is the language-model boundary consumed by the orchestration
// core.
type Client interface {
	Complete(ctx context.Context, history []Message) (string, error)
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

// Config holds OpenAI client configuration
type Config struct {
	APIKey             string
	Model              string
	TranscriptionModel string
	BaseURL            string
	Timeout            time.Duration
}

// OpenAIClient implements Client against the OpenAI HTTP API
type OpenAIClient struct {
	logger     *logrus.Logger
	config     Config
	httpClient *http.Client
}

// NewOpenAIClient creates a language-model client
func NewOpenAIClient(logger *logrus.Logger, config Config) *OpenAIClient {
	if config.Model == "" {
		config.Model = "gpt-4o-mini"
	}
	if config.TranscriptionModel == "" {
		config.TranscriptionModel = "whisper-1"
	}
	if config.BaseURL == "" {
		config.BaseURL = "https://api.openai.com"
	}
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")

	timeout := defaultTimeout
	if config.Timeout > 0 {
		timeout = config.Timeout
	}

	return &OpenAIClient{
		logger:     logger,
		config:     config,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type chatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Complete sends the prompt history and returns the model's reply text
func (c *OpenAIClient) Complete(ctx context.Context, history []Message) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:    c.config.Model,
		Messages: history,
	})
	if err != nil {
		return "", errors.Wrap(err, "failed to encode completion request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "failed to build completion request")
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(errors.ErrCompletionFailed, "completion request failed").
			WithField("cause", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", errors.Wrap(errors.ErrCompletionFailed,
			fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(snippet)))
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", errors.Wrap(errors.ErrCompletionFailed, "failed to decode completion response")
	}
	if len(decoded.Choices) == 0 {
		return "", errors.Wrap(errors.ErrCompletionFailed, "completion response had no choices")
	}

	return decoded.Choices[0].Message.Content, nil
}

type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads audio and returns its transcription text
func (c *OpenAIClient) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("model", c.config.TranscriptionModel); err != nil {
		return "", errors.Wrap(err, "failed to write model field")
	}

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", errors.Wrap(err, "failed to create audio part")
	}
	if _, err := io.Copy(part, audio); err != nil {
		return "", errors.Wrap(err, "failed to copy audio payload")
	}
	if err := writer.Close(); err != nil {
		return "", errors.Wrap(err, "failed to finalize multipart body")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.config.BaseURL+"/v1/audio/transcriptions", &buf)
	if err != nil {
		return "", errors.Wrap(err, "failed to build transcription request")
	}
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", errors.Wrap(errors.ErrTranscriptionFailed, "transcription request failed").
			WithField("cause", err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", errors.Wrap(errors.ErrTranscriptionFailed,
			fmt.Sprintf("unexpected status %d: %s", resp.StatusCode, string(snippet)))
	}

	var decoded transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", errors.Wrap(errors.ErrTranscriptionFailed, "failed to decode transcription response")
	}

	return decoded.Text, nil
}
