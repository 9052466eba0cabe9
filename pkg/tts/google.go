package tts

import (
	"context"
	"fmt"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"
)

// GoogleProvider synthesizes speech through Google Cloud Text-to-Speech
type GoogleProvider struct {
	logger   *logrus.Logger
	priority int
	client   *texttospeech.Client
}

// NewGoogleProvider creates the provider and its underlying API client
func NewGoogleProvider(ctx context.Context, logger *logrus.Logger, priority int, cfg *GoogleConfig) (*GoogleProvider, error) {
	var opts []option.ClientOption
	if cfg.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}

	client, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create text-to-speech client: %w", err)
	}

	return &GoogleProvider{
		logger:   logger,
		priority: priority,
		client:   client,
	}, nil
}

// Name returns the provider name
func (p *GoogleProvider) Name() string {
	return "google"
}

// Priority returns the chain priority
func (p *GoogleProvider) Priority() int {
	return p.priority
}

// GenerateSpeech synthesizes MP3 audio for the given text
func (p *GoogleProvider) GenerateSpeech(ctx context.Context, text string, opts *Options) ([]byte, error) {
	language := "en-US"
	voice := "en-US-Neural2-F"
	speakingRate := 1.0
	pitch := 0.0
	if opts != nil {
		if opts.Language != "" {
			language = opts.Language
		}
		if opts.Voice != "" {
			voice = opts.Voice
		}
		if opts.Speed > 0 {
			speakingRate = opts.Speed
		}
		pitch = opts.Pitch
	}

	resp, err := p.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: language,
			Name:         voice,
			SsmlGender:   texttospeechpb.SsmlVoiceGender_FEMALE,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
			SpeakingRate:  speakingRate,
			Pitch:         pitch,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize request failed: %w", err)
	}

	return resp.AudioContent, nil
}

// Close releases the underlying API client
func (p *GoogleProvider) Close() error {
	return p.client.Close()
}
