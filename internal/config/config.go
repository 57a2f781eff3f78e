// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultSystemPrompt = "You are a supportive mental coach. Use markdown formatting when appropriate " +
	"to make your responses clear and well-structured. Use **bold** for emphasis, bullet points for lists, " +
	"and break up long responses into paragraphs."

// Config holds all application configuration.
type Config struct {
	Port             string
	Environment      string
	DBPath           string
	OpenAIAPIKey     string
	OpenAIModel      string
	SystemPrompt     string
	APIKey           string // shared secret for bearer auth; empty disables auth
	AllowedOrigins   []string
	MaxMessageLength int
	Debug            bool
	RetentionMaxAge  time.Duration // 0 disables retention
	RateLimit        RateLimitConfig
	ChatLog          ChatLogConfig
}

// RateLimitConfig controls per-client admission limits.
type RateLimitConfig struct {
	RequestsPerWindow int
	WindowDuration    time.Duration
}

// ChatLogConfig controls NDJSON exchange logging.
type ChatLogConfig struct {
	Enabled       bool
	Dir           string
	GlobalEnabled bool
	GlobalPath    string
	QueueSize     int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		Environment:      getEnv("APP_ENV", "development"),
		DBPath:           getEnv("DB_PATH", "./data/coach.db"),
		OpenAIAPIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:      getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		SystemPrompt:     getEnv("SYSTEM_PROMPT", defaultSystemPrompt),
		APIKey:           getEnv("API_KEY", ""),
		AllowedOrigins:   splitCSV(getEnv("ALLOWED_ORIGINS", "*")),
		MaxMessageLength: getEnvInt("MAX_MESSAGE_LENGTH", 5000),
		Debug:            getEnvBool("DEBUG", false),
		RetentionMaxAge:  getEnvDuration("RETENTION_MAX_AGE", 0),
		RateLimit: RateLimitConfig{
			RequestsPerWindow: getEnvInt("RATE_LIMIT_REQUESTS", 10),
			WindowDuration:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		ChatLog: ChatLogConfig{
			Enabled:       getEnvBool("CHAT_LOG_ENABLED", false),
			Dir:           getEnv("CHAT_LOG_DIR", "./data/logs/chats"),
			GlobalEnabled: getEnvBool("CHAT_LOG_GLOBAL_ENABLED", false),
			GlobalPath:    getEnv("CHAT_LOG_GLOBAL_PATH", "./data/logs/chats/all.ndjson"),
			QueueSize:     getEnvInt("CHAT_LOG_QUEUE_SIZE", 1000),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if c.MaxMessageLength <= 0 {
		return fmt.Errorf("MAX_MESSAGE_LENGTH must be > 0")
	}
	if c.RateLimit.RequestsPerWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.WindowDuration <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	if c.ChatLog.Enabled && c.ChatLog.Dir == "" {
		return fmt.Errorf("CHAT_LOG_DIR cannot be empty when chat logging is enabled")
	}
	if c.ChatLog.GlobalEnabled && c.ChatLog.GlobalPath == "" {
		return fmt.Errorf("CHAT_LOG_GLOBAL_PATH cannot be empty when global chat logging is enabled")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Environment != "production"
}

// ProviderConfigured returns true if a completion-provider API key is set.
func (c *Config) ProviderConfigured() bool {
	return c.OpenAIAPIKey != ""
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

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		out = []string{"*"}
	}
	return out
}
