// Package caller is the orchestration core. It ties the outbound rate
// limiter, synthesis cache, speech fallback chain, work queue,
// conversation store, metrics, event stream, and carrier together
// behind one facade.
package caller

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"voicecall-server/pkg/cache"
	"voicecall-server/pkg/carrier"
	"voicecall-server/pkg/config"
	"voicecall-server/pkg/conversation"
	"voicecall-server/pkg/errors"
	"voicecall-server/pkg/events"
	"voicecall-server/pkg/llm"
	"voicecall-server/pkg/messaging"
	"voicecall-server/pkg/metrics"
	"voicecall-server/pkg/queue"
	"voicecall-server/pkg/ratelimit"
	"voicecall-server/pkg/tts"
	"voicecall-server/pkg/validation"
)

// Per-minute pricing: carrier leg plus synthesis.
const (
	carrierRatePerSecond = 0.02
	speechRatePerSecond  = 0.01
)

// CallOptions aliases the submission payload checked by pkg/validation
type CallOptions = validation.CallOptions

// VoiceSettings aliases the synthesis tuning payload
type VoiceSettings = validation.VoiceSettings

// CallResponse acknowledges an accepted call
type CallResponse struct {
	CallID string `json:"call_id"`
	SID    string `json:"sid"`
	Status string `json:"status"`
	To     string `json:"to"`
}

// callRequest is the queue payload: the submission's call id travels
// with its options so the processor can attribute failures to it.
type callRequest struct {
	id   string
	opts CallOptions
}

// CallStatusEvent is a push update about a live call
type CallStatusEvent struct {
	CallID    string  `json:"call_id"`
	Status    string  `json:"status"`
	Duration  float64 `json:"duration,omitempty"`
	Sentiment string  `json:"sentiment,omitempty"`
	Message   string  `json:"message,omitempty"`
}

// Deps lets callers substitute collaborators; nil fields are built from
// configuration.
type Deps struct {
	Carrier   carrier.Client
	Speech    *tts.Service
	LLM       llm.Client
	Stream    *events.StreamClient
	Publisher *messaging.Publisher
}

// Service is the voice call orchestration facade
type Service struct {
	logger *logrus.Logger
	config *config.Configuration

	carrier   carrier.Client
	speech    *tts.Service
	llm       llm.Client
	stream    *events.StreamClient
	publisher *messaging.Publisher

	limiter       *ratelimit.Limiter
	audioCache    *cache.Cache[[]byte]
	queue         *queue.Queue[callRequest]
	conversations *conversation.Store
	aggregator    *metrics.Aggregator

	closeOnce sync.Once
}

// New builds the facade from configuration, constructing any
// collaborator not supplied in deps. The event stream and the AMQP
// publisher are not connected yet; call Connect.
func New(ctx context.Context, logger *logrus.Logger, cfg *config.Configuration, deps Deps) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Service{
		logger:        logger,
		config:        cfg,
		carrier:       deps.Carrier,
		speech:        deps.Speech,
		llm:           deps.LLM,
		stream:        deps.Stream,
		publisher:     deps.Publisher,
		limiter:       ratelimit.New(cfg.RateLimit, cfg.RateLimitInterval, logger),
		audioCache:    cache.New[[]byte](cfg.CacheTTL, cfg.CacheMaxSize, logger),
		conversations: conversation.NewStore(logger),
		aggregator:    metrics.NewAggregator(logger),
	}

	if s.carrier == nil {
		s.carrier = carrier.NewTwilioClient(logger, carrier.TwilioConfig{
			AccountSID:  cfg.TwilioAccountSID,
			AuthToken:   cfg.TwilioAuthToken,
			PhoneNumber: cfg.TwilioPhoneNumber,
			BaseURL:     cfg.TwilioBaseURL,
		})
	}

	if s.speech == nil {
		chain, err := tts.NewService(ctx, logger, providerConfigs(cfg))
		if err != nil {
			return nil, err
		}
		s.speech = chain
	}

	if s.llm == nil && cfg.OpenAIAPIKey != "" {
		s.llm = llm.NewOpenAIClient(logger, llm.Config{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
		})
	}

	if s.stream == nil && cfg.EventStreamURL != "" {
		s.stream = events.NewStreamClient(events.Config{
			URL:                  cfg.EventStreamURL,
			APIKey:               cfg.EventStreamAPIKey,
			MaxReconnectAttempts: cfg.MaxReconnectAttempts,
			BaseDelay:            cfg.ReconnectBaseDelay,
		}, logger)
	}

	if s.publisher == nil {
		s.publisher = messaging.NewPublisher(logger, messaging.Config{
			URL:       cfg.AMQPUrl,
			QueueName: cfg.AMQPQueueName,
			Durable:   true,
		})
	}

	s.queue = queue.New(s.processCall, cfg.MaxConcurrentCalls, logger)

	if s.stream != nil {
		s.stream.On("call_status", s.handleCallStatus)
	}

	return s, nil
}

// Connect brings up the push collaborators: the event stream and, when
// configured, the AMQP publisher. A publisher connection failure is
// downgraded to a warning since call events degrade to log lines.
func (s *Service) Connect() error {
	if s.publisher.Enabled() {
		if err := s.publisher.Connect(); err != nil {
			s.logger.WithError(err).Warn("Call event publisher unavailable, continuing without it")
		}
	}
	if s.stream != nil {
		if err := s.stream.Connect(); err != nil {
			return err
		}
	}
	return nil
}

// SubmitCall validates a submission, queues it, and blocks until the
// call has been placed or rejected. Higher Priority values drain first.
func (s *Service) SubmitCall(ctx context.Context, opts CallOptions) (*CallResponse, error) {
	if err := validation.ValidateCallOptions(opts); err != nil {
		return nil, err
	}
	opts.To = validation.FormatPhoneNumber(opts.To)

	callID := uuid.New().String()
	result, err := s.queue.Submit(ctx, callID, callRequest{id: callID, opts: opts}, opts.Priority)
	if err != nil {
		return nil, err
	}

	response, ok := result.(*CallResponse)
	if !ok {
		return nil, errors.New("unexpected call result type").WithField("call_id", callID)
	}
	metrics.SetQueueDepth(s.queue.Len())
	return response, nil
}

// processCall is the queue processor for one submission
func (s *Service) processCall(ctx context.Context, req callRequest) (interface{}, error) {
	opts := req.opts
	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, errors.Wrap(err, "rate limit wait aborted")
	}

	params := carrier.CallParams{
		To:             opts.To,
		StatusCallback: opts.CallbackURL,
		CallbackEvents: opts.CallbackEvents,
	}

	if opts.AudioURL != "" {
		params.AudioURL = opts.AudioURL
	} else {
		// The carrier fetches media by URL, so binary audio from the
		// chain stays in the cache for later retrieval while the call
		// itself carries TwiML.
		audio, err := s.Synthesize(ctx, opts.Message, synthesisOptions(opts))
		if err != nil {
			return nil, errors.Wrap(errors.ErrCallFailed, "speech synthesis failed").
				WithField("cause", err.Error())
		}
		if bytes.HasPrefix(bytes.TrimSpace(audio), []byte("<Response")) {
			params.TwiML = string(audio)
		} else {
			params.TwiML = sayTwiML(opts.Message, opts.Voice)
		}
	}

	result, err := s.carrier.PlaceCall(ctx, params)
	if err != nil {
		s.aggregator.Record(req.id, metrics.Update{Status: metrics.String("failed")})
		metrics.RecordCall("failed", 0)
		return nil, errors.Wrap(errors.ErrCallFailed, "carrier rejected call").
			WithField("to", opts.To)
	}

	callID := result.SID
	s.conversations.Create(callID, opts.Metadata)
	if opts.Message != "" {
		if err := s.conversations.AppendTurn(callID, conversation.SpeakerSystem, opts.Message); err != nil {
			s.logger.WithError(err).WithField("call_id", callID).Warn("Could not record opening turn")
		}
	}

	s.aggregator.Record(callID, metrics.Update{Status: metrics.String(result.Status)})
	metrics.RecordCall(result.Status, 0)
	s.publishEvent(callID, result.Status, opts.Metadata)

	s.logger.WithFields(logrus.Fields{
		"call_id": callID,
		"to":      opts.To,
		"status":  result.Status,
	}).Info("Call placed")

	return &CallResponse{
		CallID: callID,
		SID:    result.SID,
		Status: result.Status,
		To:     result.To,
	}, nil
}

// Synthesize returns speech audio for the text, serving repeated
// requests from the TTL cache. The cache key covers text and tuning so
// differently-voiced renditions never collide.
func (s *Service) Synthesize(ctx context.Context, text string, opts *tts.Options) ([]byte, error) {
	key := synthesisKey(text, opts)
	if audio, ok := s.audioCache.Get(key); ok {
		metrics.RecordCacheHit()
		return audio, nil
	}
	metrics.RecordCacheMiss()

	audio, err := s.speech.GenerateSpeech(ctx, text, opts)
	if err != nil {
		return nil, err
	}
	s.audioCache.Set(key, audio)
	return audio, nil
}

// Respond appends the caller's utterance to the conversation, asks the
// language model for a reply with the full history as context, and
// records the reply as a system turn.
func (s *Service) Respond(ctx context.Context, callID, userText string) (string, error) {
	if s.llm == nil {
		return "", errors.Wrap(errors.ErrFailedPrecondition, "no language model configured")
	}

	if err := s.conversations.AppendTurn(callID, conversation.SpeakerUser, userText); err != nil {
		return "", err
	}
	state, err := s.conversations.Get(callID)
	if err != nil {
		return "", err
	}

	history := make([]llm.Message, 0, len(state.Turns))
	for _, turn := range state.Turns {
		role := "assistant"
		if turn.Speaker == conversation.SpeakerUser {
			role = "user"
		}
		history = append(history, llm.Message{Role: role, Content: turn.Message})
	}

	reply, err := s.llm.Complete(ctx, history)
	if err != nil {
		return "", err
	}
	if err := s.conversations.AppendTurn(callID, conversation.SpeakerSystem, reply); err != nil {
		return "", err
	}
	return reply, nil
}

// SendSMS sends a text message through the carrier
func (s *Service) SendSMS(ctx context.Context, to, body string) (*carrier.MessageResult, error) {
	if !validation.ValidatePhoneNumber(to) {
		return nil, errors.Wrap(errors.ErrInvalidPhoneNumber, "sms destination is not dialable").
			WithField("to", to)
	}
	if body == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "sms body is required")
	}
	return s.carrier.SendSMS(ctx, validation.FormatPhoneNumber(to), body)
}

// EndCall hangs up a live call
func (s *Service) EndCall(ctx context.Context, callID string) error {
	return s.carrier.EndCall(ctx, callID)
}

// CallHistory lists recent carrier call records
func (s *Service) CallHistory(ctx context.Context, limit int) ([]carrier.CallRecord, error) {
	return s.carrier.CallHistory(ctx, limit)
}

// Transcript exports a conversation in the requested format
func (s *Service) Transcript(callID string, opts conversation.TranscriptOptions) (string, error) {
	return s.conversations.Transcript(callID, opts)
}

// Conversation returns a snapshot of one conversation's state
func (s *Service) Conversation(callID string) (*conversation.State, error) {
	return s.conversations.Get(callID)
}

// Metrics returns aggregate figures across all recorded calls
func (s *Service) Metrics() metrics.AggregateMetrics {
	return s.aggregator.Aggregate()
}

// CallMetrics returns the record for one call
func (s *Service) CallMetrics(callID string) (metrics.CallMetrics, bool) {
	return s.aggregator.Call(callID)
}

// ClearCache drops all cached synthesis audio
func (s *Service) ClearCache() {
	s.audioCache.Clear()
}

// CacheSize reports the number of cached synthesis entries
func (s *Service) CacheSize() int {
	return s.audioCache.Len()
}

// QueueDepth reports the number of submissions awaiting processing
func (s *Service) QueueDepth() int {
	return s.queue.Len()
}

// StreamState reports the push channel's connection state
func (s *Service) StreamState() events.ConnState {
	if s.stream == nil {
		return events.StateDisconnected
	}
	return s.stream.State()
}

// OnCallStatus registers a listener for call status push events
func (s *Service) OnCallStatus(listener func(CallStatusEvent)) {
	if s.stream == nil {
		return
	}
	s.stream.On("call_status", func(data json.RawMessage) {
		var event CallStatusEvent
		if err := json.Unmarshal(data, &event); err != nil {
			s.logger.WithError(err).Warn("Discarding malformed call status event")
			return
		}
		listener(event)
	})
}

// OnError registers a listener for error push events
func (s *Service) OnError(listener func(CallStatusEvent)) {
	if s.stream == nil {
		return
	}
	s.stream.On("error", func(data json.RawMessage) {
		var event CallStatusEvent
		if err := json.Unmarshal(data, &event); err != nil {
			return
		}
		listener(event)
	})
}

// handleCallStatus is the standing push listener: it folds status
// updates into the per-call metrics and releases conversation state
// once a call reaches a terminal status.
func (s *Service) handleCallStatus(data json.RawMessage) {
	var event CallStatusEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.logger.WithError(err).Warn("Discarding malformed call status event")
		return
	}
	if event.CallID == "" {
		return
	}

	update := metrics.Update{Status: metrics.String(event.Status)}
	if event.Duration > 0 {
		update.Duration = metrics.Float64(event.Duration)
		update.Cost = metrics.Float64(callCost(event.Duration))
	}
	if event.Sentiment != "" {
		update.Sentiment = metrics.String(event.Sentiment)
	}
	s.aggregator.Record(event.CallID, update)

	if isTerminalStatus(event.Status) {
		metrics.RecordCall(event.Status, event.Duration)
		s.publishEvent(event.CallID, event.Status, nil)
		s.conversations.Delete(event.CallID)
		s.logger.WithFields(logrus.Fields{
			"call_id": event.CallID,
			"status":  event.Status,
		}).Info("Call finished")
	}
}

// Close shuts the facade down in dependency order: stop accepting work,
// then drop the push and messaging connections.
func (s *Service) Close() {
	s.closeOnce.Do(func() {
		s.queue.Close()
		if s.stream != nil {
			s.stream.Close()
		}
		s.publisher.Disconnect()
		s.logger.Info("Caller service closed")
	})
}

func (s *Service) publishEvent(callID, status string, metadata map[string]interface{}) {
	if !s.publisher.Enabled() {
		return
	}
	if err := s.publisher.PublishCallEvent(callID, status, metadata); err != nil {
		s.logger.WithError(err).WithField("call_id", callID).Warn("Could not publish call event")
	}
}

func isTerminalStatus(status string) bool {
	switch status {
	case "completed", "failed", "busy", "no-answer", "canceled":
		return true
	}
	return false
}

// callCost prices a finished call: carrier leg plus synthesis usage,
// both billed per second.
func callCost(durationSeconds float64) float64 {
	return durationSeconds*carrierRatePerSecond + durationSeconds*speechRatePerSecond
}

// synthesisKey derives the cache key from the text and every tuning
// field that changes the rendered audio.
func synthesisKey(text string, opts *tts.Options) string {
	h := sha256.New()
	h.Write([]byte(text))
	if opts != nil {
		fmt.Fprintf(h, "|%s|%s|%g|%g|%s",
			opts.Language, opts.Voice, opts.Speed, opts.Pitch, opts.Emotion)
		if opts.Settings != nil {
			fmt.Fprintf(h, "|%g|%g|%g",
				opts.Settings.Stability, opts.Settings.SimilarityBoost, opts.Settings.Style)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func synthesisOptions(opts CallOptions) *tts.Options {
	if opts.Voice == "" && opts.VoiceSettings == nil {
		return nil
	}
	rendered := &tts.Options{Voice: opts.Voice}
	if opts.VoiceSettings != nil {
		rendered.Settings = &tts.VoiceSettings{
			Stability:       opts.VoiceSettings.Stability,
			SimilarityBoost: opts.VoiceSettings.SimilarityBoost,
			Style:           opts.VoiceSettings.Style,
		}
	}
	return rendered
}

func sayTwiML(message, voice string) string {
	if voice == "" {
		voice = "Polly.Joanna"
	}
	var escaped strings.Builder
	xml.EscapeText(&escaped, []byte(message))
	return fmt.Sprintf(`<Response><Say voice="%s">%s</Say></Response>`, voice, escaped.String())
}

// providerConfigs maps the configured provider order onto chain
// entries. Position in TTS_PROVIDERS is the fallback priority.
func providerConfigs(cfg *config.Configuration) []tts.ProviderConfig {
	configs := make([]tts.ProviderConfig, 0, len(cfg.TTSProviders))
	for i, name := range cfg.TTSProviders {
		entry := tts.ProviderConfig{Name: name, Enabled: true, Priority: i}
		switch name {
		case "elevenlabs":
			entry.ElevenLabs = &tts.ElevenLabsConfig{
				APIKey:  cfg.ElevenLabsAPIKey,
				VoiceID: cfg.ElevenLabsVoiceID,
				BaseURL: cfg.ElevenLabsBaseURL,
			}
		case "google":
			entry.Google = &tts.GoogleConfig{CredentialsJSON: cfg.GoogleCredentials}
		case "polly":
			entry.Polly = &tts.PollyConfig{
				Region:          cfg.AWSRegion,
				AccessKeyID:     cfg.AWSAccessKeyID,
				SecretAccessKey: cfg.AWSSecretKey,
			}
		case "openai":
			entry.OpenAI = &tts.OpenAIConfig{
				APIKey:  cfg.OpenAIAPIKey,
				BaseURL: cfg.OpenAIBaseURL,
			}
		case "twilio":
			entry.Twilio = &tts.TwilioConfig{}
		}
		configs = append(configs, entry)
	}
	return configs
}
