package config

import (
	"fmt"
	"time"
)

// Provider names accepted by the LLM dispatch layer.
const (
	ProviderAnthropic  = "anthropic"
	ProviderOpenAI     = "openai"
	ProviderGemini     = "gemini"
	ProviderOpenRouter = "openrouter"
	ProviderMock       = "mock"
)

// LLMConfig configures the text generation dispatch layer.
type LLMConfig struct {
	Provider string `yaml:"provider"` // anthropic, openai, gemini, openrouter, mock
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"` // OpenAI-compatible endpoint override

	// Fallbacks lists providers to try, in order, when the primary
	// provider fails with a connection or unknown-model error.
	Fallbacks []string `yaml:"fallbacks"`

	// Generation defaults; per-call options override these.
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`

	Timeout string `yaml:"timeout"`

	// Breaker trips a provider open after consecutive failures so a dead
	// endpoint stops eating the retry budget.
	Breaker BreakerConfig `yaml:"breaker"`
}

// BreakerConfig configures the per-provider circuit breaker.
type BreakerConfig struct {
	MaxFailures uint32 `yaml:"max_failures"` // consecutive failures before opening
	OpenFor     string `yaml:"open_for"`     // how long the breaker stays open
}

// DefaultLLMConfig returns the default dispatch configuration.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:    "", // detected from environment keys
		Model:       "", // provider default applies
		MaxTokens:   2048,
		Temperature: 0.7,
		Timeout:     "120s",
		Breaker: BreakerConfig{
			MaxFailures: 5,
			OpenFor:     "60s",
		},
	}
}

// Validate checks value ranges.
func (c LLMConfig) Validate() error {
	if c.MaxTokens < 1 {
		return fmt.Errorf("max_tokens must be >= 1")
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("temperature must be in [0, 2]")
	}
	if _, err := time.ParseDuration(c.Timeout); err != nil {
		return fmt.Errorf("invalid timeout: %w", err)
	}
	if c.Breaker.OpenFor != "" {
		if _, err := time.ParseDuration(c.Breaker.OpenFor); err != nil {
			return fmt.Errorf("invalid breaker open_for: %w", err)
		}
	}
	return nil
}

// TimeoutDuration returns the parsed request timeout.
func (c LLMConfig) TimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 120 * time.Second
	}
	return d
}

// RateLimitConfig configures outbound request pacing and the retry policy
// that wraps every provider call.
type RateLimitConfig struct {
	RequestsPerMinute float64 `yaml:"requests_per_minute"`
	MaxRetries        int     `yaml:"max_retries"`
	InitialBackoff    string  `yaml:"initial_backoff"`
}

// DefaultRateLimitConfig returns the default pacing policy.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
		MaxRetries:        3,
		InitialBackoff:    "1s",
	}
}

// Validate checks value ranges.
func (c RateLimitConfig) Validate() error {
	if c.RequestsPerMinute <= 0 {
		return fmt.Errorf("requests_per_minute must be > 0")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be >= 0")
	}
	if _, err := time.ParseDuration(c.InitialBackoff); err != nil {
		return fmt.Errorf("invalid initial_backoff: %w", err)
	}
	return nil
}

// InitialBackoffDuration returns the parsed first-retry delay.
func (c RateLimitConfig) InitialBackoffDuration() time.Duration {
	d, err := time.ParseDuration(c.InitialBackoff)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}
