package config

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/lexiqai/voice-chat/internal/language"
)

// Config holds all configuration for the voice chat service
type Config struct {
	// Server configuration
	Port           string   `envconfig:"PORT" default:"8080"`
	GRPCHealthPort string   `envconfig:"GRPC_HEALTH_PORT" default:"9090"` // Empty disables the gRPC health service
	AllowedOrigins []string `envconfig:"ALLOWED_ORIGINS" default:"*"`
	RateLimit      int      `envconfig:"RATE_LIMIT_PER_MINUTE" default:"60"` // Completion requests per IP per minute

	// OpenAI completion provider. The credential never leaves the server.
	OpenAIAPIKey          string  `envconfig:"OPENAI_API_KEY" required:"true"`
	OpenAIBaseURL         string  `envconfig:"OPENAI_BASE_URL" default:""`
	CompletionModel       string  `envconfig:"COMPLETION_MODEL" default:"gpt-4o-mini"`
	CompletionTemperature float32 `envconfig:"COMPLETION_TEMPERATURE" default:"0.6"`
	CompletionMaxTokens   int     `envconfig:"COMPLETION_MAX_TOKENS" default:"2000"`
	CompletionTimeout     int     `envconfig:"COMPLETION_TIMEOUT" default:"0"` // seconds, 0 waits forever
	HistoryLimit          int     `envconfig:"HISTORY_LIMIT" default:"0"`      // turns sent as context, 0 sends all

	// Conversation behaviour
	DefaultLanguage   string  `envconfig:"DEFAULT_LANGUAGE" default:"de-DE"`
	SpeechRate        float64 `envconfig:"SPEECH_RATE" default:"1.2"`
	TranslationTarget string  `envconfig:"TRANSLATION_TARGET" default:"English"`

	// Deepgram server-side recognition, used when the browser cannot recognize speech itself.
	// Optional; without a key the capability is reported unavailable.
	DeepgramAPIKey     string `envconfig:"DEEPGRAM_API_KEY" default:""`
	DeepgramModel      string `envconfig:"DEEPGRAM_MODEL" default:"nova-2"`
	DeepgramSampleRate int    `envconfig:"DEEPGRAM_SAMPLE_RATE" default:"16000"` // Rate of PCM16 frames sent by the browser
	DeepgramHost       string `envconfig:"DEEPGRAM_HOST" default:""`             // Empty uses api.deepgram.com; ws:// disables TLS

	// Resilience configuration
	CircuitBreakerMaxFailures  int `envconfig:"CIRCUIT_BREAKER_MAX_FAILURES" default:"5"`   // Failures before opening circuit
	CircuitBreakerResetTimeout int `envconfig:"CIRCUIT_BREAKER_RESET_TIMEOUT" default:"30"` // Seconds before attempting recovery
	RetryMaxAttempts           int `envconfig:"RETRY_MAX_ATTEMPTS" default:"3"`             // Maximum retry attempts
	RetryInitialBackoff        int `envconfig:"RETRY_INITIAL_BACKOFF" default:"100"`        // Initial backoff in milliseconds
	ReconnectMaxAttempts       int `envconfig:"RECONNECT_MAX_ATTEMPTS" default:"5"`         // Maximum reconnection attempts
	ReconnectBackoff           int `envconfig:"RECONNECT_BACKOFF" default:"1000"`           // Reconnection backoff in milliseconds

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	if _, ok := language.Lookup(c.DefaultLanguage); !ok {
		return fmt.Errorf("DEFAULT_LANGUAGE %q is not a supported language", c.DefaultLanguage)
	}
	if c.SpeechRate <= 0 {
		return fmt.Errorf("SPEECH_RATE must be positive, got %v", c.SpeechRate)
	}
	if c.HistoryLimit < 0 {
		return fmt.Errorf("HISTORY_LIMIT must not be negative, got %d", c.HistoryLimit)
	}
	return nil
}

// DeepgramEnabled reports whether server-side recognition can be offered
func (c *Config) DeepgramEnabled() bool {
	return c.DeepgramAPIKey != ""
}
