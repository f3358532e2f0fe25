// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings such as
// server timeouts, logging, the SQLite path, Slack and Gemini credentials,
// the conversation encryption key, and completion pipeline knobs.
package config

import (
	"encoding/base64"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults for the completion pipeline. Each numeric setting independently
// falls back to its default when the override is absent, non-numeric, or
// non-positive.
const (
	DefaultModel          = "gemini-2.5-flash-lite"
	DefaultMaxAttempts    = 3
	DefaultGeminiTimeout  = 15 * time.Second
	DefaultHistoryLimit   = 10
	DefaultMaxMessageLen  = 4000
	DefaultDedupCapacity  = 10000
	defaultSlackAPIBase   = "https://slack.com/api"
	defaultGeminiAPIBase  = "https://generativelanguage.googleapis.com/v1beta"
	encryptionKeyRawBytes = 32
)

// ErrInvalidKeyLength is returned when CONV_ENC_KEY does not decode to
// exactly 32 raw bytes.
var ErrInvalidKeyLength = errors.New("CONV_ENC_KEY must decode to exactly 32 bytes")

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// SlackConfig holds credentials and endpoints for the Slack Web API.
type SlackConfig struct {
	BotToken string // SLACK_BOT_TOKEN (bearer)
	BotID    string // SLACK_BOT_ID; resolved via auth.test when empty
	APIBase  string // SLACK_API_BASE; overridable for tests
}

// GeminiConfig holds credentials and pipeline knobs for the completion service.
type GeminiConfig struct {
	APIKey         string        // GEMINI_API_KEY
	APIBase        string        // GEMINI_API_BASE
	Model          string        // GEMINI_MODEL (primary)
	FallbackModels []string      // GEMINI_FALLBACK_MODELS (CSV, ordered)
	MaxAttempts    int           // GEMINI_MAX_ATTEMPTS
	Timeout        time.Duration // GEMINI_TIMEOUT (per attempt)
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string
	ReadTimeout       time.Duration
	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int
	GinMode           string // debug|release|test

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool

	// Storage
	DBPath string // SQLite path

	// Conversation pipeline
	HistoryLimit  int    // max context turns fetched per mention
	MaxMessageLen int    // max accepted mention length, in runes
	SystemPrompt  string // persona text prepended to every prompt
	DedupCapacity int    // bound of the event admission set

	// Encryption at rest
	EncryptionKey []byte // decoded CONV_ENC_KEY, exactly 32 bytes

	// Collaborators
	Slack  SlackConfig
	Gemini GeminiConfig

	// Rate limiting (webhook edge)
	RateRPS   float64
	RateBurst int

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables, applies defaults,
// normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		// Storage
		DBPath: getenv("DB_PATH", "app.db"),

		// Conversation pipeline
		HistoryLimit:  getposint("HISTORY_MAX", DefaultHistoryLimit),
		MaxMessageLen: getposint("MAX_MESSAGE_LEN", DefaultMaxMessageLen),
		SystemPrompt:  getenv("SYSTEM_PROMPT", ""),
		DedupCapacity: getposint("DEDUP_CAPACITY", DefaultDedupCapacity),

		// Collaborators
		Slack: SlackConfig{
			BotToken: getenv("SLACK_BOT_TOKEN", ""),
			BotID:    getenv("SLACK_BOT_ID", ""),
			APIBase:  getenv("SLACK_API_BASE", defaultSlackAPIBase),
		},
		Gemini: GeminiConfig{
			APIKey:         getenv("GEMINI_API_KEY", ""),
			APIBase:        getenv("GEMINI_API_BASE", defaultGeminiAPIBase),
			Model:          getenv("GEMINI_MODEL", DefaultModel),
			FallbackModels: splitCSV(getenv("GEMINI_FALLBACK_MODELS", "")),
			MaxAttempts:    getposint("GEMINI_MAX_ATTEMPTS", DefaultMaxAttempts),
			Timeout:        getposdur("GEMINI_TIMEOUT", DefaultGeminiTimeout),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 10.0),
		RateBurst: getint("RATE_BURST", 20),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "slack-relay-bot"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if strings.TrimSpace(cfg.Gemini.Model) == "" {
		cfg.Gemini.Model = DefaultModel
	}

	// Encryption key: base64, exactly 32 raw bytes.
	if raw := getenv("CONV_ENC_KEY", ""); raw != "" {
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil || len(key) != encryptionKeyRawBytes {
			return cfg, ErrInvalidKeyLength
		}
		cfg.EncryptionKey = key
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// CandidateModels returns the ordered model list for a completion attempt:
// primary first, then fallbacks, capped at MaxAttempts.
func (g GeminiConfig) CandidateModels() []string {
	out := make([]string, 0, 1+len(g.FallbackModels))
	out = append(out, g.Model)
	out = append(out, g.FallbackModels...)
	if g.MaxAttempts > 0 && len(out) > g.MaxAttempts {
		out = out[:g.MaxAttempts]
	}
	return out
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

// getposint is getint that also treats zero and negative overrides as absent.
func getposint(k string, def int) int {
	if i := getint(k, def); i > 0 {
		return i
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// getposdur is getdur that also treats non-positive overrides as absent.
func getposdur(k string, def time.Duration) time.Duration {
	if d := getdur(k, def); d > 0 {
		return d
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
