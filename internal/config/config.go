package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all mastermind configuration.
type Config struct {
	// Core settings
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// DataDir is the root for all persisted state (backlog, history,
	// schedules, lessons, memory journal, logs).
	DataDir string `yaml:"data_dir"`

	// LLM dispatch configuration
	LLM LLMConfig `yaml:"llm"`

	// Outbound request pacing and retry policy
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Kernel configuration
	Kernel KernelConfig `yaml:"kernel"`

	// BDI agent configuration
	Agent AgentConfig `yaml:"agent"`

	// Autonomous audit scheduler configuration
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Tool execution settings
	Execution ExecutionConfig `yaml:"execution"`

	// System-wide resource constraints
	CoreLimits CoreLimits `yaml:"core_limits"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "mastermind",
		Version: "0.4.0",
		DataDir: ".mind",

		LLM:       DefaultLLMConfig(),
		RateLimit: DefaultRateLimitConfig(),
		Kernel:    DefaultKernelConfig(),
		Agent:     DefaultAgentConfig(),
		Scheduler: DefaultSchedulerConfig(),
		Execution: DefaultExecutionConfig(),
		CoreLimits: CoreLimits{
			MaxConcurrentHeavyTasks: 2,
			MaxConcurrentActions:    4,
			MaxBeliefs:              100000,
			MaxBacklogItems:         500,
			MaxGoals:                1000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a YAML file. A missing file yields the
// defaults; environment overrides apply either way.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}

// Validate checks the whole configuration tree.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if err := c.LLM.Validate(); err != nil {
		return fmt.Errorf("llm: %w", err)
	}
	if err := c.RateLimit.Validate(); err != nil {
		return fmt.Errorf("rate_limit: %w", err)
	}
	if err := c.Kernel.Validate(); err != nil {
		return fmt.Errorf("kernel: %w", err)
	}
	if err := c.Agent.Validate(); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := c.ValidateCoreLimits(); err != nil {
		return err
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if dir := os.Getenv("MASTERMIND_DATA_DIR"); dir != "" {
		c.DataDir = dir
	}
	if level := os.Getenv("MASTERMIND_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if model := os.Getenv("MASTERMIND_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if provider := os.Getenv("MASTERMIND_PROVIDER"); provider != "" {
		c.LLM.Provider = provider
	}

	// Fill the API key for an explicitly chosen provider, or detect the
	// provider from whichever key is present (fixed preference order).
	if c.LLM.Provider != "" {
		if c.LLM.APIKey == "" {
			c.LLM.APIKey = os.Getenv(ProviderKeyEnv(c.LLM.Provider))
		}
		return
	}
	for _, p := range []string{ProviderAnthropic, ProviderOpenAI, ProviderGemini, ProviderOpenRouter} {
		if key := os.Getenv(ProviderKeyEnv(p)); key != "" {
			c.LLM.Provider = p
			c.LLM.APIKey = key
			return
		}
	}
}

// ProviderKeyEnv maps a provider name to its API key environment variable.
func ProviderKeyEnv(provider string) string {
	switch provider {
	case ProviderAnthropic:
		return "ANTHROPIC_API_KEY"
	case ProviderOpenAI:
		return "OPENAI_API_KEY"
	case ProviderGemini:
		return "GEMINI_API_KEY"
	case ProviderOpenRouter:
		return "OPENROUTER_API_KEY"
	}
	return ""
}
