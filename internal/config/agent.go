package config

import "fmt"

// AgentConfig configures BDI agent behavior.
type AgentConfig struct {
	// MaxCycles bounds one reasoning run (perceive..learn iterations).
	MaxCycles int `yaml:"max_cycles"`

	// MaxRepairAttempts is the number of re-prompts after a failed plan
	// validation; total generation attempts are 1 + MaxRepairAttempts.
	MaxRepairAttempts int `yaml:"max_repair_attempts"`

	// MaxRecoveryAttempts bounds failure-recovery rounds per goal before
	// the failure is escalated.
	MaxRecoveryAttempts int `yaml:"max_recovery_attempts"`

	// RetryDelaySeconds is the pause applied by delayed-retry recovery.
	RetryDelaySeconds int `yaml:"retry_delay_seconds"`

	// SuccessRateAlpha is the smoothing factor for the recovery
	// strategy success-rate estimates.
	SuccessRateAlpha float64 `yaml:"success_rate_alpha"`
}

// DefaultAgentConfig returns the default BDI settings.
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		MaxCycles:           25,
		MaxRepairAttempts:   2,
		MaxRecoveryAttempts: 3,
		RetryDelaySeconds:   5,
		SuccessRateAlpha:    0.3,
	}
}

// Validate checks value ranges.
func (c AgentConfig) Validate() error {
	if c.MaxCycles < 1 {
		return fmt.Errorf("max_cycles must be >= 1")
	}
	if c.MaxRepairAttempts < 0 {
		return fmt.Errorf("max_repair_attempts must be >= 0")
	}
	if c.MaxRecoveryAttempts < 0 {
		return fmt.Errorf("max_recovery_attempts must be >= 0")
	}
	if c.SuccessRateAlpha <= 0 || c.SuccessRateAlpha >= 1 {
		return fmt.Errorf("success_rate_alpha must be in (0, 1)")
	}
	return nil
}
