// Package validation checks call submissions before they reach the
// work queue: phone number shape, speech payload presence, webhook
// callback settings, and voice tuning ranges.
package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"voicecall-server/pkg/errors"
)

// e164 covers formatted numbers: +, country code, up to 15 digits total
var e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)

// WebhookEvents is the set of call status callbacks a submission may
// subscribe to.
var WebhookEvents = []string{"initiated", "ringing", "answered", "completed"}

// VoiceSettings tunes synthesized speech. All values range 0..1.
type VoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
}

// CallOptions is one outbound call submission
type CallOptions struct {
	To             string                 `json:"to"`
	Message        string                 `json:"message,omitempty"`
	AudioURL       string                 `json:"audio_url,omitempty"`
	Voice          string                 `json:"voice,omitempty"`
	Priority       int                    `json:"priority,omitempty"`
	CallbackURL    string                 `json:"callback_url,omitempty"`
	CallbackEvents []string               `json:"callback_events,omitempty"`
	VoiceSettings  *VoiceSettings         `json:"voice_settings,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// FormatPhoneNumber normalizes a dialable number: strips separators,
// converts a 00 international prefix, and ensures a leading +.
func FormatPhoneNumber(number string) string {
	trimmed := strings.TrimSpace(number)
	hasPlus := strings.HasPrefix(trimmed, "+")

	var digits strings.Builder
	for _, r := range trimmed {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}

	formatted := digits.String()
	if !hasPlus && strings.HasPrefix(formatted, "00") {
		formatted = formatted[2:]
	}
	if formatted == "" {
		return ""
	}
	return "+" + formatted
}

// ValidatePhoneNumber reports whether the number, once formatted, is a
// plausible E.164 number.
func ValidatePhoneNumber(number string) bool {
	return e164Pattern.MatchString(FormatPhoneNumber(number))
}

// ValidateCallOptions checks a submission before it is queued. The
// returned error wraps ErrInvalidInput (or ErrInvalidPhoneNumber for
// destination problems).
func ValidateCallOptions(opts CallOptions) error {
	if opts.To == "" {
		return errors.Wrap(errors.ErrInvalidPhoneNumber, "destination number is required")
	}
	if !ValidatePhoneNumber(opts.To) {
		return errors.Wrap(errors.ErrInvalidPhoneNumber, "destination number is not dialable").
			WithField("to", opts.To)
	}

	if opts.Message == "" && opts.AudioURL == "" {
		return errors.Wrap(errors.ErrInvalidInput, "either message or audio_url is required")
	}

	if opts.AudioURL != "" {
		if err := validateURL(opts.AudioURL); err != nil {
			return errors.Wrap(errors.ErrInvalidInput, "audio_url is not a valid URL").
				WithField("audio_url", opts.AudioURL)
		}
	}

	if len(opts.CallbackEvents) > 0 && opts.CallbackURL == "" {
		return errors.Wrap(errors.ErrInvalidInput, "callback_events require a callback_url")
	}
	if opts.CallbackURL != "" {
		if err := validateURL(opts.CallbackURL); err != nil {
			return errors.Wrap(errors.ErrInvalidInput, "callback_url is not a valid URL").
				WithField("callback_url", opts.CallbackURL)
		}
	}
	for _, event := range opts.CallbackEvents {
		if !isWebhookEvent(event) {
			return errors.Wrap(errors.ErrInvalidInput,
				fmt.Sprintf("unknown callback event %q", event)).
				WithField("allowed", strings.Join(WebhookEvents, ","))
		}
	}

	if opts.VoiceSettings != nil {
		if err := validateVoiceSettings(opts.VoiceSettings); err != nil {
			return err
		}
	}

	return nil
}

func validateURL(raw string) error {
	parsed, err := url.ParseRequestURI(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}

func isWebhookEvent(event string) bool {
	for _, candidate := range WebhookEvents {
		if event == candidate {
			return true
		}
	}
	return false
}

func validateVoiceSettings(settings *VoiceSettings) error {
	checks := []struct {
		name  string
		value float64
	}{
		{"stability", settings.Stability},
		{"similarity_boost", settings.SimilarityBoost},
		{"style", settings.Style},
	}
	for _, check := range checks {
		if check.value < 0 || check.value > 1 {
			return errors.Wrap(errors.ErrInvalidInput,
				fmt.Sprintf("voice setting %s must be between 0 and 1", check.name)).
				WithField(check.name, check.value)
		}
	}
	return nil
}
