package caller

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicecall-server/pkg/carrier"
	"voicecall-server/pkg/config"
	"voicecall-server/pkg/conversation"
	"voicecall-server/pkg/errors"
	"voicecall-server/pkg/llm"
	"voicecall-server/pkg/tts"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func newTestConfig() *config.Configuration {
	return &config.Configuration{
		TwilioAccountSID:   "AC_test",
		TwilioAuthToken:    "token",
		TwilioPhoneNumber:  "+15550000000",
		TTSProviders:       []string{"twilio"},
		MaxConcurrentCalls: 2,
		CacheTTL:           time.Minute,
		CacheMaxSize:       10,
		RateLimit:          100,
		RateLimitInterval:  time.Second,
	}
}

type fakeCarrier struct {
	mu        sync.Mutex
	placed    []carrier.CallParams
	placeErr  error
	nextSID   string
	smsSent   []string
	endedSIDs []string
}

func (f *fakeCarrier) PlaceCall(ctx context.Context, params carrier.CallParams) (*carrier.CallResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	f.placed = append(f.placed, params)
	sid := f.nextSID
	if sid == "" {
		sid = "CA0001"
	}
	return &carrier.CallResult{SID: sid, Status: "queued", To: params.To, From: "+15550000000"}, nil
}

func (f *fakeCarrier) SendSMS(ctx context.Context, to, body string) (*carrier.MessageResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.smsSent = append(f.smsSent, to)
	return &carrier.MessageResult{SID: "SM0001", Status: "queued"}, nil
}

func (f *fakeCarrier) EndCall(ctx context.Context, callSID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.endedSIDs = append(f.endedSIDs, callSID)
	return nil
}

func (f *fakeCarrier) CallHistory(ctx context.Context, limit int) ([]carrier.CallRecord, error) {
	return []carrier.CallRecord{{SID: "CA0001", Status: "completed", Duration: 30}}, nil
}

func (f *fakeCarrier) Health(ctx context.Context) error { return nil }

func (f *fakeCarrier) placedCalls() []carrier.CallParams {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]carrier.CallParams(nil), f.placed...)
}

type fakeProvider struct {
	mu       sync.Mutex
	calls    int
	audio    []byte
	err      error
	lastOpts *tts.Options
}

func (p *fakeProvider) Name() string  { return "fake" }
func (p *fakeProvider) Priority() int { return 0 }

func (p *fakeProvider) GenerateSpeech(ctx context.Context, text string, opts *tts.Options) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.lastOpts = opts
	if p.err != nil {
		return nil, p.err
	}
	if p.audio != nil {
		return p.audio, nil
	}
	return []byte("audio:" + text), nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type fakeLLM struct {
	history []llm.Message
	reply   string
}

func (f *fakeLLM) Complete(ctx context.Context, history []llm.Message) (string, error) {
	f.history = history
	return f.reply, nil
}

func (f *fakeLLM) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	return "", nil
}

func newTestService(t *testing.T, fc *fakeCarrier, fp *fakeProvider) *Service {
	t.Helper()
	logger := newTestLogger()
	s, err := New(context.Background(), logger, newTestConfig(), Deps{
		Carrier: fc,
		Speech:  tts.NewServiceWithProviders(logger, fp),
	})
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestSubmitCallPlacesCall(t *testing.T) {
	fc := &fakeCarrier{nextSID: "CA1234"}
	fp := &fakeProvider{}
	s := newTestService(t, fc, fp)

	resp, err := s.SubmitCall(context.Background(), CallOptions{
		To:      "+1 (555) 123-4567",
		Message: "Your appointment is tomorrow at nine",
	})

	require.NoError(t, err)
	assert.Equal(t, "CA1234", resp.SID)
	assert.Equal(t, "queued", resp.Status)

	placed := fc.placedCalls()
	require.Len(t, placed, 1)
	assert.Equal(t, "+15551234567", placed[0].To)
	assert.Contains(t, placed[0].TwiML, "Your appointment is tomorrow at nine")

	// conversation opened with the system's opening line
	state, err := s.Conversation("CA1234")
	require.NoError(t, err)
	require.Len(t, state.Turns, 1)
	assert.Equal(t, conversation.SpeakerSystem, state.Turns[0].Speaker)

	recorded, ok := s.CallMetrics("CA1234")
	require.True(t, ok)
	assert.Equal(t, "queued", recorded.Status)
}

func TestSubmitCallAudioURLSkipsSynthesis(t *testing.T) {
	fc := &fakeCarrier{}
	fp := &fakeProvider{}
	s := newTestService(t, fc, fp)

	_, err := s.SubmitCall(context.Background(), CallOptions{
		To:       "+15551234567",
		AudioURL: "https://cdn.example.com/prompt.mp3",
	})

	require.NoError(t, err)
	assert.Equal(t, 0, fp.callCount())
	placed := fc.placedCalls()
	require.Len(t, placed, 1)
	assert.Equal(t, "https://cdn.example.com/prompt.mp3", placed[0].AudioURL)
}

func TestSubmitCallRejectsInvalidOptions(t *testing.T) {
	fc := &fakeCarrier{}
	s := newTestService(t, fc, &fakeProvider{})

	_, err := s.SubmitCall(context.Background(), CallOptions{To: "not-a-number", Message: "hi"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidPhoneNumber))
	assert.Empty(t, fc.placedCalls())
}

func TestSubmitCallCarrierFailure(t *testing.T) {
	fc := &fakeCarrier{placeErr: errors.Wrap(errors.ErrCarrierFailure, "boom")}
	s := newTestService(t, fc, &fakeProvider{})

	_, err := s.SubmitCall(context.Background(), CallOptions{
		To:      "+15551234567",
		Message: "hello",
	})

	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCallFailed))
}

func TestSynthesizeCaches(t *testing.T) {
	fp := &fakeProvider{}
	s := newTestService(t, &fakeCarrier{}, fp)

	first, err := s.Synthesize(context.Background(), "hello", nil)
	require.NoError(t, err)
	second, err := s.Synthesize(context.Background(), "hello", nil)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, fp.callCount(), "repeat request should hit the cache")
	assert.Equal(t, 1, s.CacheSize())

	// a different voice renders differently and must not share the entry
	_, err = s.Synthesize(context.Background(), "hello", &tts.Options{Voice: "nova"})
	require.NoError(t, err)
	assert.Equal(t, 2, fp.callCount())

	s.ClearCache()
	assert.Equal(t, 0, s.CacheSize())
}

func TestTwiMLSynthesisPassedThrough(t *testing.T) {
	fc := &fakeCarrier{}
	fp := &fakeProvider{audio: []byte(`<Response><Say voice="alice">hello</Say></Response>`)}
	s := newTestService(t, fc, fp)

	_, err := s.SubmitCall(context.Background(), CallOptions{To: "+15551234567", Message: "hello"})
	require.NoError(t, err)

	placed := fc.placedCalls()
	require.Len(t, placed, 1)
	assert.Equal(t, `<Response><Say voice="alice">hello</Say></Response>`, placed[0].TwiML)
}

func TestHandleCallStatusTerminal(t *testing.T) {
	fc := &fakeCarrier{nextSID: "CA9"}
	s := newTestService(t, fc, &fakeProvider{})

	_, err := s.SubmitCall(context.Background(), CallOptions{To: "+15551234567", Message: "hi"})
	require.NoError(t, err)

	payload, _ := json.Marshal(CallStatusEvent{
		CallID:    "CA9",
		Status:    "completed",
		Duration:  10,
		Sentiment: "positive",
	})
	s.handleCallStatus(payload)

	recorded, ok := s.CallMetrics("CA9")
	require.True(t, ok)
	assert.Equal(t, "completed", recorded.Status)
	assert.Equal(t, 10.0, recorded.Duration)
	assert.InDelta(t, 0.3, recorded.Cost, 1e-9)
	assert.Equal(t, "positive", recorded.Sentiment)

	// conversation state released on terminal status
	_, err = s.Conversation("CA9")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConversationNotFound))

	aggregate := s.Metrics()
	assert.Equal(t, 1, aggregate.TotalCalls)
	assert.Equal(t, 100.0, aggregate.SuccessRate)
}

func TestHandleCallStatusNonTerminalKeepsConversation(t *testing.T) {
	fc := &fakeCarrier{nextSID: "CA10"}
	s := newTestService(t, fc, &fakeProvider{})

	_, err := s.SubmitCall(context.Background(), CallOptions{To: "+15551234567", Message: "hi"})
	require.NoError(t, err)

	payload, _ := json.Marshal(CallStatusEvent{CallID: "CA10", Status: "answered"})
	s.handleCallStatus(payload)

	_, err = s.Conversation("CA10")
	assert.NoError(t, err)
}

func TestRespondUsesConversationHistory(t *testing.T) {
	fc := &fakeCarrier{nextSID: "CA11"}
	model := &fakeLLM{reply: "Of course, what time works for you?"}
	logger := newTestLogger()
	s, err := New(context.Background(), logger, newTestConfig(), Deps{
		Carrier: fc,
		Speech:  tts.NewServiceWithProviders(logger, &fakeProvider{}),
		LLM:     model,
	})
	require.NoError(t, err)
	defer s.Close()

	_, err = s.SubmitCall(context.Background(), CallOptions{To: "+15551234567", Message: "Hello, calling about your appointment"})
	require.NoError(t, err)

	reply, err := s.Respond(context.Background(), "CA11", "Can I reschedule?")
	require.NoError(t, err)
	assert.Equal(t, "Of course, what time works for you?", reply)

	require.Len(t, model.history, 2)
	assert.Equal(t, "assistant", model.history[0].Role)
	assert.Equal(t, "user", model.history[1].Role)
	assert.Equal(t, "Can I reschedule?", model.history[1].Content)

	state, err := s.Conversation("CA11")
	require.NoError(t, err)
	require.Len(t, state.Turns, 3)
	assert.Equal(t, conversation.SpeakerSystem, state.Turns[2].Speaker)
}

func TestFailedCallsKeyedPerSubmission(t *testing.T) {
	fc := &fakeCarrier{placeErr: errors.Wrap(errors.ErrCarrierFailure, "line down")}
	s := newTestService(t, fc, &fakeProvider{})

	for i := 0; i < 2; i++ {
		_, err := s.SubmitCall(context.Background(), CallOptions{
			To:      "+15551234567",
			Message: "hello",
		})
		require.Error(t, err)
	}

	// two rejections to the same destination are still two calls
	aggregate := s.Metrics()
	assert.Equal(t, 2, aggregate.TotalCalls)
	assert.Equal(t, 0.0, aggregate.SuccessRate)
}

func TestVoiceSettingsReachProvider(t *testing.T) {
	fp := &fakeProvider{}
	s := newTestService(t, &fakeCarrier{}, fp)

	_, err := s.SubmitCall(context.Background(), CallOptions{
		To:            "+15551234567",
		Message:       "hello",
		Voice:         "nova",
		VoiceSettings: &VoiceSettings{Stability: 0.9, SimilarityBoost: 0.4, Style: 0.1},
	})
	require.NoError(t, err)

	require.NotNil(t, fp.lastOpts)
	assert.Equal(t, "nova", fp.lastOpts.Voice)
	require.NotNil(t, fp.lastOpts.Settings)
	assert.Equal(t, 0.9, fp.lastOpts.Settings.Stability)
	assert.Equal(t, 0.4, fp.lastOpts.Settings.SimilarityBoost)
	assert.Equal(t, 0.1, fp.lastOpts.Settings.Style)
}

func TestSynthesizeKeyCoversSettings(t *testing.T) {
	fp := &fakeProvider{}
	s := newTestService(t, &fakeCarrier{}, fp)

	soft := &tts.Options{Settings: &tts.VoiceSettings{Stability: 0.2}}
	firm := &tts.Options{Settings: &tts.VoiceSettings{Stability: 0.8}}

	_, err := s.Synthesize(context.Background(), "hello", soft)
	require.NoError(t, err)
	_, err = s.Synthesize(context.Background(), "hello", firm)
	require.NoError(t, err)

	assert.Equal(t, 2, fp.callCount(), "different settings must not share a cache entry")
}

func TestNewBuildsLanguageModelFromConfig(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices":[{"message":{"role":"assistant","content":"Certainly"}}]}`)
	}))
	defer server.Close()

	fc := &fakeCarrier{nextSID: "CA20"}
	logger := newTestLogger()
	cfg := newTestConfig()
	cfg.OpenAIAPIKey = "test-key"
	cfg.OpenAIBaseURL = server.URL

	s, err := New(context.Background(), logger, cfg, Deps{
		Carrier: fc,
		Speech:  tts.NewServiceWithProviders(logger, &fakeProvider{}),
	})
	require.NoError(t, err)
	defer s.Close()
	require.NotNil(t, s.llm)

	_, err = s.SubmitCall(context.Background(), CallOptions{To: "+15551234567", Message: "hi"})
	require.NoError(t, err)

	reply, err := s.Respond(context.Background(), "CA20", "Can you repeat that?")
	require.NoError(t, err)
	assert.Equal(t, "Certainly", reply)
}

func TestSendSMSValidatesDestination(t *testing.T) {
	fc := &fakeCarrier{}
	s := newTestService(t, fc, &fakeProvider{})

	_, err := s.SendSMS(context.Background(), "nope", "hi")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidPhoneNumber))

	_, err = s.SendSMS(context.Background(), "+15551234567", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	result, err := s.SendSMS(context.Background(), "+1 555 123 4567", "hi")
	require.NoError(t, err)
	assert.Equal(t, "SM0001", result.SID)
	assert.Equal(t, []string{"+15551234567"}, fc.smsSent)
}

func TestCallCost(t *testing.T) {
	assert.InDelta(t, 0.0, callCost(0), 1e-9)
	assert.InDelta(t, 0.3, callCost(10), 1e-9)
	assert.InDelta(t, 1.8, callCost(60), 1e-9)
}

func TestCloseIsIdempotent(t *testing.T) {
	s := newTestService(t, &fakeCarrier{}, &fakeProvider{})
	s.Close()
	s.Close()

	_, err := s.SubmitCall(context.Background(), CallOptions{To: "+15551234567", Message: "hi"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrQueueClosed))
}
