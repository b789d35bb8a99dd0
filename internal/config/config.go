package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the lead-capture assistant service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	AllowAnyOrigin bool

	// CRM is the remote system of record for guest profiles.
	CRMBaseURL string
	CRMTimeout time.Duration

	// Completion endpoint settings (OpenAI-compatible chat completions).
	CompletionURL    string
	CompletionAPIKey string
	CompletionModel  string
	MaxTokens        int
	Temperature      float64

	// StreamTimeout bounds one streaming reply end-to-end; the tool-decision
	// call gets its own shorter timeout plus a bounded retry.
	StreamTimeout      time.Duration
	DecideTimeout      time.Duration
	DecideRetryMax     int
	DecideRetryBase    time.Duration
	ConversationWindow int

	ContactWebhookURL string

	// ConversationIdleTimeout evicts in-memory per-guest sessions after
	// inactivity; durable state survives in the store.
	ConversationIdleTimeout time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:                envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:        envOrDefault("APP_METRICS_NAMESPACE", "leadchat"),
		AllowAnyOrigin:          false,
		CRMBaseURL:              trimmedEnv("CRM_BASE_URL"),
		CompletionURL:           envOrDefault("COMPLETION_API_URL", "https://api.openai.com/v1/chat/completions"),
		CompletionAPIKey:        trimmedEnv("COMPLETION_API_KEY"),
		CompletionModel:         envOrDefault("COMPLETION_MODEL", "gpt-4o-mini"),
		ContactWebhookURL:       trimmedEnv("CONTACT_WEBHOOK_URL"),
		DatabaseURL:             trimmedEnv("DATABASE_URL"),
		MaxTokens:               500,
		Temperature:             0.7,
		ConversationWindow:      15,
		DecideRetryMax:          2,
		DecideRetryBase:         300 * time.Millisecond,
		ShutdownTimeout:         15 * time.Second,
		CRMTimeout:              5 * time.Second,
		StreamTimeout:           90 * time.Second,
		DecideTimeout:           15 * time.Second,
		ConversationIdleTimeout: 30 * time.Minute,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CRMTimeout, err = durationFromEnv("CRM_TIMEOUT", cfg.CRMTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.StreamTimeout, err = durationFromEnv("COMPLETION_STREAM_TIMEOUT", cfg.StreamTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.DecideTimeout, err = durationFromEnv("COMPLETION_DECIDE_TIMEOUT", cfg.DecideTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ConversationIdleTimeout, err = durationFromEnv("APP_CONVERSATION_IDLE_TIMEOUT", cfg.ConversationIdleTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.DecideRetryBase, err = durationFromEnv("COMPLETION_DECIDE_RETRY_BASE", cfg.DecideRetryBase)
	if err != nil {
		return Config{}, err
	}
	cfg.MaxTokens, err = intFromEnv("COMPLETION_MAX_TOKENS", cfg.MaxTokens)
	if err != nil {
		return Config{}, err
	}
	cfg.ConversationWindow, err = intFromEnv("COMPLETION_CONTEXT_WINDOW", cfg.ConversationWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.DecideRetryMax, err = intFromEnv("COMPLETION_DECIDE_RETRY_MAX", cfg.DecideRetryMax)
	if err != nil {
		return Config{}, err
	}
	cfg.Temperature, err = floatFromEnv("COMPLETION_TEMPERATURE", cfg.Temperature)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if strings.TrimSpace(cfg.CompletionURL) == "" {
		return Config{}, fmt.Errorf("COMPLETION_API_URL must not be empty")
	}
	if cfg.MaxTokens <= 0 {
		return Config{}, fmt.Errorf("COMPLETION_MAX_TOKENS must be positive")
	}
	if cfg.ConversationWindow < 2 {
		return Config{}, fmt.Errorf("COMPLETION_CONTEXT_WINDOW must be at least 2")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return Config{}, fmt.Errorf("COMPLETION_TEMPERATURE must be in [0, 2]")
	}
	if cfg.DecideRetryMax < 0 {
		return Config{}, fmt.Errorf("COMPLETION_DECIDE_RETRY_MAX must be >= 0")
	}
	if cfg.ConversationIdleTimeout < time.Minute {
		return Config{}, fmt.Errorf("APP_CONVERSATION_IDLE_TIMEOUT must be at least 1m")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func trimmedEnv(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := trimmedEnv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(trimmedEnv(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
