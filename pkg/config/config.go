package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"voicecall-server/pkg/errors"
)

// Configuration defines the structure for storing application configuration
type Configuration struct {
	// Carrier (Twilio) configuration
	TwilioAccountSID  string
	TwilioAuthToken   string
	TwilioPhoneNumber string
	TwilioBaseURL     string

	// Speech synthesis providers
	ElevenLabsAPIKey  string
	ElevenLabsVoiceID string
	ElevenLabsBaseURL string
	GoogleCredentials string
	AWSRegion         string
	AWSAccessKeyID    string
	AWSSecretKey      string
	OpenAIAPIKey      string
	OpenAIBaseURL     string
	TTSProviders      []string

	// Work queue
	MaxConcurrentCalls int

	// TTS cache
	CacheTTL     time.Duration
	CacheMaxSize int

	// Outbound rate limiting
	RateLimit         int
	RateLimitInterval time.Duration

	// Event stream
	EventStreamURL       string
	EventStreamAPIKey    string
	MaxReconnectAttempts int
	ReconnectBaseDelay   time.Duration

	// AMQP configuration
	AMQPUrl       string
	AMQPQueueName string

	// HTTP server
	HTTPPort    int
	HTTPEnabled bool

	// Logging
	LogLevel logrus.Level
}

// Load loads the application configuration from environment variables.
// A missing .env file is not an error; explicit environment wins either way.
func Load(logger *logrus.Logger) (*Configuration, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.WithError(err).Warn("Could not load .env file, relying on process environment")
	}

	config := &Configuration{}

	config.TwilioAccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	config.TwilioAuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	config.TwilioPhoneNumber = os.Getenv("TWILIO_PHONE_NUMBER")
	config.TwilioBaseURL = os.Getenv("TWILIO_BASE_URL")
	if config.TwilioBaseURL == "" {
		config.TwilioBaseURL = "https://api.twilio.com"
	}

	config.ElevenLabsAPIKey = os.Getenv("ELEVENLABS_API_KEY")
	config.ElevenLabsVoiceID = os.Getenv("ELEVENLABS_VOICE_ID")
	config.ElevenLabsBaseURL = os.Getenv("ELEVENLABS_BASE_URL")
	config.GoogleCredentials = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON")
	config.AWSRegion = os.Getenv("AWS_REGION")
	config.AWSAccessKeyID = os.Getenv("AWS_ACCESS_KEY_ID")
	config.AWSSecretKey = os.Getenv("AWS_SECRET_ACCESS_KEY")
	config.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	config.OpenAIBaseURL = os.Getenv("OPENAI_BASE_URL")

	providersEnv := os.Getenv("TTS_PROVIDERS")
	if providersEnv == "" {
		config.TTSProviders = []string{"elevenlabs", "twilio"}
		logger.Info("No TTS_PROVIDERS specified, defaulting to elevenlabs, twilio")
	} else {
		for _, p := range strings.Split(providersEnv, ",") {
			config.TTSProviders = append(config.TTSProviders, strings.TrimSpace(strings.ToLower(p)))
		}
	}

	config.MaxConcurrentCalls = getEnvInt(logger, "MAX_CONCURRENT_CALLS", 5)
	config.CacheMaxSize = getEnvInt(logger, "CACHE_MAX_SIZE", 1000)
	config.CacheTTL = getEnvDurationMs(logger, "CACHE_TTL_MS", 5*time.Minute)
	config.RateLimit = getEnvInt(logger, "RATE_LIMIT", 10)
	config.RateLimitInterval = getEnvDurationMs(logger, "RATE_LIMIT_INTERVAL_MS", time.Second)

	config.EventStreamURL = os.Getenv("EVENT_STREAM_URL")
	if config.EventStreamURL == "" {
		config.EventStreamURL = "wss://api.atrix.dev/v1/ws"
	}
	config.EventStreamAPIKey = os.Getenv("EVENT_STREAM_API_KEY")
	config.MaxReconnectAttempts = getEnvInt(logger, "MAX_RECONNECT_ATTEMPTS", 5)
	config.ReconnectBaseDelay = getEnvDurationMs(logger, "RECONNECT_BASE_DELAY_MS", time.Second)

	config.AMQPUrl = os.Getenv("AMQP_URL")
	config.AMQPQueueName = os.Getenv("AMQP_QUEUE_NAME")
	if config.AMQPUrl != "" && config.AMQPQueueName == "" {
		config.AMQPQueueName = "call_events"
	}

	config.HTTPPort = getEnvInt(logger, "HTTP_PORT", 8080)
	config.HTTPEnabled = os.Getenv("HTTP_ENABLED") != "false"

	logLevelStr := os.Getenv("LOG_LEVEL")
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := logrus.ParseLevel(logLevelStr)
	if err != nil {
		logger.WithField("log_level", logLevelStr).Warn("Invalid LOG_LEVEL, defaulting to info")
		level = logrus.InfoLevel
	}
	config.LogLevel = level

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks that every required setting is present and consistent.
// Validation failures are fatal to startup.
func (c *Configuration) Validate() error {
	required := map[string]string{
		"TWILIO_ACCOUNT_SID":  c.TwilioAccountSID,
		"TWILIO_AUTH_TOKEN":   c.TwilioAuthToken,
		"TWILIO_PHONE_NUMBER": c.TwilioPhoneNumber,
	}
	for name, value := range required {
		if value == "" {
			return errors.Wrap(errors.ErrInvalidConfig, fmt.Sprintf("missing required configuration: %s", name))
		}
	}

	if len(c.TTSProviders) == 0 {
		return errors.Wrap(errors.ErrInvalidConfig, "at least one TTS provider must be configured")
	}

	for _, p := range c.TTSProviders {
		if p == "elevenlabs" && c.ElevenLabsAPIKey == "" {
			return errors.Wrap(errors.ErrInvalidConfig, "ELEVENLABS_API_KEY is required when the elevenlabs provider is enabled")
		}
		if p == "openai" && c.OpenAIAPIKey == "" {
			return errors.Wrap(errors.ErrInvalidConfig, "OPENAI_API_KEY is required when the openai provider is enabled")
		}
	}

	if c.MaxConcurrentCalls < 1 || c.MaxConcurrentCalls > 100 {
		return errors.Wrap(errors.ErrInvalidConfig, "MAX_CONCURRENT_CALLS must be between 1 and 100")
	}

	if c.CacheTTL < 0 {
		return errors.Wrap(errors.ErrInvalidConfig, "CACHE_TTL_MS must not be negative")
	}

	if c.RateLimit < 1 {
		return errors.Wrap(errors.ErrInvalidConfig, "RATE_LIMIT must be at least 1")
	}

	return nil
}

func getEnvInt(logger *logrus.Logger, name string, fallback int) int {
	value := os.Getenv(name)
	if value == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(value)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"name":  name,
			"value": value,
		}).Warn("Invalid integer environment variable, using default")
		return fallback
	}

	return parsed
}

func getEnvDurationMs(logger *logrus.Logger, name string, fallback time.Duration) time.Duration {
	value := os.Getenv(name)
	if value == "" {
		return fallback
	}

	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		logger.WithFields(logrus.Fields{
			"name":  name,
			"value": value,
		}).Warn("Invalid duration environment variable, using default")
		return fallback
	}

	return time.Duration(parsed) * time.Millisecond
}
