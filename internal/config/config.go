// Package config provides application configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port        string
	FrontendURL string
	DBPath      string
	LogLevel    slog.Level

	// OrderAmount is the default order total in naira.
	OrderAmount int64

	Paystack        PaystackConfig
	Generation      GenerationConfig
	Telegram        TelegramConfig
	ConversationLog ConversationLogConfig

	// LockTTL bounds how long a payment lock may wait for its checkout URL.
	LockTTL       time.Duration
	SweepInterval time.Duration

	// ChatRateLimit is messages per second per session; zero disables throttling.
	ChatRateLimit float64
	ChatRateBurst int
}

// PaystackConfig configures the payment gateway client.
type PaystackConfig struct {
	SecretKey   string
	BaseURL     string
	CallbackURL string
	Timeout     time.Duration
}

// GenerationConfig configures the optional language-model sidecar.
type GenerationConfig struct {
	// Addr is the sidecar's gRPC address. Empty selects the local fallbacks.
	Addr    string
	Timeout time.Duration

	// OpenAI is used directly when no sidecar address is set.
	OpenAIKey     string
	OpenAIBaseURL string
	OpenAIModel   string
}

// TelegramConfig configures the Telegram channel. An empty token disables it.
type TelegramConfig struct {
	Token   string
	BaseURL string
	// WebhookSecret is checked against X-Telegram-Bot-Api-Secret-Token when set.
	WebhookSecret string
}

// ConversationLogConfig controls JSON conversation logging.
type ConversationLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	queueSize := getEnvInt("CONVERSATION_LOG_QUEUE_SIZE", 1000)
	if queueSize <= 0 {
		queueSize = 1000
	}

	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		FrontendURL: getEnv("FRONTEND_URL", ""),
		DBPath:      getEnv("DB_PATH", "./data/salesagent.db"),
		LogLevel:    parseLevel(getEnv("LOG_LEVEL", "info")),
		OrderAmount: int64(getEnvInt("ORDER_AMOUNT", 27000)),
		Paystack: PaystackConfig{
			SecretKey:   getEnv("PAYSTACK_SECRET_KEY", ""),
			BaseURL:     getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"),
			CallbackURL: getEnv("PAYSTACK_CALLBACK_URL", ""),
			Timeout:     getEnvDuration("GATEWAY_TIMEOUT", 15*time.Second),
		},
		Generation: GenerationConfig{
			Addr:    getEnv("GENERATION_ADDR", ""),
			Timeout: getEnvDuration("GENERATION_TIMEOUT", 20*time.Second),

			OpenAIKey:     getEnv("OPENAI_API_KEY", ""),
			OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
			OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		},
		Telegram: TelegramConfig{
			Token:         getEnv("TELEGRAM_BOT_TOKEN", ""),
			BaseURL:       getEnv("TELEGRAM_BASE_URL", "https://api.telegram.org"),
			WebhookSecret: getEnv("TELEGRAM_WEBHOOK_SECRET", ""),
		},
		ConversationLog: ConversationLogConfig{
			Enabled:       getEnvBool("CONVERSATION_LOG_ENABLED", true),
			Dir:           getEnv("CONVERSATION_LOG_DIR", "./data/logs/conversations"),
			GlobalEnabled: getEnvBool("CONVERSATION_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CONVERSATION_LOG_GLOBAL_PATH", "./data/logs/conversations/all.ndjson"),
			QueueSize:     queueSize,
		},
		LockTTL:       getEnvDuration("LOCK_TTL", 10*time.Minute),
		SweepInterval: getEnvDuration("LOCK_SWEEP_INTERVAL", time.Minute),
		ChatRateLimit: getEnvFloat("CHAT_RATE_LIMIT", 1),
		ChatRateBurst: getEnvInt("CHAT_RATE_BURST", 5),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty")
	}
	if c.OrderAmount <= 0 {
		return errors.New("ORDER_AMOUNT must be > 0")
	}
	if c.Paystack.BaseURL == "" {
		return errors.New("PAYSTACK_BASE_URL cannot be empty")
	}
	if c.Paystack.Timeout <= 0 {
		return errors.New("GATEWAY_TIMEOUT must be > 0")
	}
	if c.Generation.Timeout <= 0 {
		return errors.New("GENERATION_TIMEOUT must be > 0")
	}
	if c.LockTTL <= 0 {
		return errors.New("LOCK_TTL must be > 0")
	}
	// The sweeper must never release a lock whose gateway call is still running.
	if c.LockTTL <= c.Paystack.Timeout {
		return fmt.Errorf("LOCK_TTL (%s) must exceed GATEWAY_TIMEOUT (%s)", c.LockTTL, c.Paystack.Timeout)
	}
	if c.SweepInterval <= 0 {
		return errors.New("LOCK_SWEEP_INTERVAL must be > 0")
	}
	if c.ChatRateLimit < 0 {
		return errors.New("CHAT_RATE_LIMIT must be >= 0")
	}
	if c.ChatRateLimit > 0 && c.ChatRateBurst <= 0 {
		return errors.New("CHAT_RATE_BURST must be > 0")
	}
	if c.ConversationLog.Dir == "" {
		return errors.New("CONVERSATION_LOG_DIR cannot be empty")
	}
	if c.ConversationLog.GlobalPath == "" {
		return errors.New("CONVERSATION_LOG_GLOBAL_PATH cannot be empty")
	}
	if c.ConversationLog.QueueSize <= 0 {
		return errors.New("CONVERSATION_LOG_QUEUE_SIZE must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// PaymentsEnabled reports whether a gateway secret is configured.
func (c *Config) PaymentsEnabled() bool {
	return c.Paystack.SecretKey != ""
}

func parseLevel(value string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(value))); err != nil {
		return slog.LevelInfo
	}
	return level
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// getEnvDuration accepts Go durations ("90s") or bare seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	value = strings.TrimSpace(value)
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if n, err := strconv.Atoi(value); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}
