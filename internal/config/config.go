// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultPersonaPrompt = "You are a seasoned business negotiator representing the seller of a " +
	"mid-sized logistics company. Negotiate the sale price firmly but fairly. " +
	"Open high, concede slowly, and never reveal your walk-away number. " +
	"Keep replies short and conversational."

const defaultAnswerPrompt = "The negotiation has concluded. Answer the user's questions about how " +
	"it went, but do not reopen the negotiation or discuss new offers."

// Config holds all application configuration.
type Config struct {
	Port             string
	FrontendURL      string
	AllowedOrigins   []string
	AccessCodes      []string
	AccessCodeDBPath string

	OpenAIKey     string
	OpenAIModel   string
	OpenAIBaseURL string

	PersonaPrompt string
	AnswerPrompt  string

	NegotiationWindow  time.Duration
	FeedbackTTL        time.Duration
	GenerationTimeout  time.Duration
	MinAcceptableOffer float64
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:             getEnv("PORT", "8080"),
		FrontendURL:      getEnv("FRONTEND_URL", ""),
		AllowedOrigins:   splitList(getEnv("ALLOWED_ORIGINS", "*")),
		AccessCodes:      splitList(getEnv("ACCESS_CODES", "")),
		AccessCodeDBPath: getEnv("ACCESS_CODE_DB_PATH", "./data/access_codes.db"),

		OpenAIKey:     getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:   getEnv("OPENAI_MODEL", ""),
		OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),

		PersonaPrompt: getEnv("PERSONA_PROMPT", defaultPersonaPrompt),
		AnswerPrompt:  getEnv("ANSWER_PROMPT", defaultAnswerPrompt),

		NegotiationWindow:  getEnvDuration("NEGOTIATION_WINDOW", 18*time.Minute),
		FeedbackTTL:        getEnvDuration("FEEDBACK_TTL", 24*time.Hour),
		GenerationTimeout:  getEnvDuration("GENERATION_TIMEOUT", 30*time.Second),
		MinAcceptableOffer: getEnvFloat("MIN_ACCEPTABLE_OFFER", 850000),
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
	if c.AccessCodeDBPath == "" {
		return fmt.Errorf("ACCESS_CODE_DB_PATH cannot be empty")
	}
	if c.OpenAIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY cannot be empty")
	}
	if c.NegotiationWindow <= 0 {
		return fmt.Errorf("NEGOTIATION_WINDOW must be > 0")
	}
	if c.FeedbackTTL <= 0 {
		return fmt.Errorf("FEEDBACK_TTL must be > 0")
	}
	if c.MinAcceptableOffer <= 0 {
		return fmt.Errorf("MIN_ACCEPTABLE_OFFER must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
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

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
