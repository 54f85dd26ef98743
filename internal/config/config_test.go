package config

import (
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Name != "mastermind" {
		t.Errorf("expected Name=mastermind, got %s", cfg.Name)
	}
	if cfg.DataDir != ".mind" {
		t.Errorf("expected DataDir=.mind, got %s", cfg.DataDir)
	}
	if cfg.RateLimit.RequestsPerMinute != 60 {
		t.Errorf("expected RequestsPerMinute=60, got %v", cfg.RateLimit.RequestsPerMinute)
	}
	if cfg.Kernel.MaxConcurrentHeavyTasks != 2 {
		t.Errorf("expected MaxConcurrentHeavyTasks=2, got %d", cfg.Kernel.MaxConcurrentHeavyTasks)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	// Ensure no provider keys interfere with detection.
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")

	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	cfg := DefaultConfig()
	cfg.LLM.Provider = ProviderAnthropic
	cfg.LLM.APIKey = "sk-test"
	cfg.Agent.MaxRepairAttempts = 4

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if loaded.LLM.Provider != ProviderAnthropic {
		t.Errorf("expected Provider=anthropic, got %s", loaded.LLM.Provider)
	}
	if loaded.LLM.APIKey != "sk-test" {
		t.Errorf("expected APIKey=sk-test, got %s", loaded.LLM.APIKey)
	}
	if loaded.Agent.MaxRepairAttempts != 4 {
		t.Errorf("expected MaxRepairAttempts=4, got %d", loaded.Agent.MaxRepairAttempts)
	}
}

func TestConfig_LoadMissingFileReturnsDefaults(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Name != "mastermind" {
		t.Errorf("expected defaults, got Name=%s", cfg.Name)
	}
}

func TestConfig_EnvProviderDetection(t *testing.T) {
	// Anthropic outranks the rest when several keys are present.
	t.Setenv("ANTHROPIC_API_KEY", "key-a")
	t.Setenv("OPENAI_API_KEY", "key-o")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("OPENROUTER_API_KEY", "")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	if cfg.LLM.Provider != ProviderAnthropic {
		t.Errorf("expected anthropic detected, got %s", cfg.LLM.Provider)
	}
	if cfg.LLM.APIKey != "key-a" {
		t.Errorf("expected key-a, got %s", cfg.LLM.APIKey)
	}
}

func TestConfig_EnvExplicitProviderKeepsKey(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "key-a")
	t.Setenv("OPENAI_API_KEY", "key-o")

	cfg := DefaultConfig()
	cfg.LLM.Provider = ProviderOpenAI
	cfg.applyEnvOverrides()

	if cfg.LLM.Provider != ProviderOpenAI {
		t.Errorf("explicit provider must win, got %s", cfg.LLM.Provider)
	}
	if cfg.LLM.APIKey != "key-o" {
		t.Errorf("expected key-o for openai, got %s", cfg.LLM.APIKey)
	}
}

func TestValidate_Ranges(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimit.RequestsPerMinute = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero rpm")
	}

	cfg = DefaultConfig()
	cfg.Agent.SuccessRateAlpha = 1.5
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for alpha out of range")
	}

	cfg = DefaultConfig()
	cfg.Scheduler.MaxCPUPercent = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero cpu threshold")
	}

	cfg = DefaultConfig()
	cfg.Kernel.DirectiveTimeout = "soon"
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for bad directive timeout")
	}
}
