package tts

import (
	"context"
	"encoding/xml"
	"fmt"

	"github.com/sirupsen/logrus"
)

// TwilioProvider is the last-resort backend. It produces no audio of its
// own; it renders TwiML that instructs the carrier to speak the text
// with its built-in voices.
type TwilioProvider struct {
	logger   *logrus.Logger
	priority int
	voice    string
	language string
}

// NewTwilioProvider creates the TwiML fallback provider
func NewTwilioProvider(logger *logrus.Logger, priority int, cfg *TwilioConfig) *TwilioProvider {
	voice := "alice"
	language := "en-US"
	if cfg != nil {
		if cfg.Voice != "" {
			voice = cfg.Voice
		}
		if cfg.Language != "" {
			language = cfg.Language
		}
	}

	return &TwilioProvider{
		logger:   logger,
		priority: priority,
		voice:    voice,
		language: language,
	}
}

// Name returns the provider name
func (p *TwilioProvider) Name() string {
	return "twilio"
}

// Priority returns the chain priority
func (p *TwilioProvider) Priority() int {
	return p.priority
}

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Say     twimlSay `xml:"Say"`
}

type twimlSay struct {
	Voice    string `xml:"voice,attr"`
	Language string `xml:"language,attr"`
	Text     string `xml:",chardata"`
}

// GenerateSpeech renders a TwiML <Say> document for the text
func (p *TwilioProvider) GenerateSpeech(ctx context.Context, text string, opts *Options) ([]byte, error) {
	voice := p.voice
	language := p.language
	if opts != nil {
		if opts.Voice != "" {
			voice = opts.Voice
		}
		if opts.Language != "" {
			language = opts.Language
		}
	}

	doc, err := xml.Marshal(twimlResponse{
		Say: twimlSay{
			Voice:    voice,
			Language: language,
			Text:     text,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render TwiML: %w", err)
	}

	return append([]byte(xml.Header), doc...), nil
}
