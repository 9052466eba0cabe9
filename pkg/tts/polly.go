package tts

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/sirupsen/logrus"
)

// PollyProvider synthesizes speech through AWS Polly
type PollyProvider struct {
	logger   *logrus.Logger
	priority int
	client   *polly.Client
	voiceID  types.VoiceId
}

// NewPollyProvider creates the provider. Explicit keys take precedence;
// otherwise the default AWS credential chain applies.
func NewPollyProvider(ctx context.Context, logger *logrus.Logger, priority int, cfg *PollyConfig) (*PollyProvider, error) {
	var loadOpts []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.Region))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	voiceID := types.VoiceIdJoanna
	if cfg.VoiceID != "" {
		voiceID = types.VoiceId(cfg.VoiceID)
	}

	return &PollyProvider{
		logger:   logger,
		priority: priority,
		client:   polly.NewFromConfig(awsCfg),
		voiceID:  voiceID,
	}, nil
}

// Name returns the provider name
func (p *PollyProvider) Name() string {
	return "polly"
}

// Priority returns the chain priority
func (p *PollyProvider) Priority() int {
	return p.priority
}

// GenerateSpeech synthesizes MP3 audio for the given text
func (p *PollyProvider) GenerateSpeech(ctx context.Context, text string, opts *Options) ([]byte, error) {
	voiceID := p.voiceID
	if opts != nil && opts.Voice != "" {
		voiceID = types.VoiceId(opts.Voice)
	}

	input := &polly.SynthesizeSpeechInput{
		Text:         aws.String(text),
		OutputFormat: types.OutputFormatMp3,
		VoiceId:      voiceID,
		Engine:       types.EngineNeural,
	}
	if opts != nil && opts.Language != "" {
		input.LanguageCode = types.LanguageCode(opts.Language)
	}

	out, err := p.client.SynthesizeSpeech(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("synthesize request failed: %w", err)
	}
	defer out.AudioStream.Close()

	audio, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return nil, fmt.Errorf("failed to read audio stream: %w", err)
	}

	return audio, nil
}
