package config

import (
	"fmt"
	"time"
)

// KernelConfig configures interaction routing and the improvement backlog.
type KernelConfig struct {
	// MaxConcurrentHeavyTasks bounds simultaneous analysis and
	// improvement-campaign work. Light interactions bypass the bound.
	MaxConcurrentHeavyTasks int `yaml:"max_concurrent_heavy_tasks"`

	// DirectiveTimeout bounds a single routed interaction end to end.
	DirectiveTimeout string `yaml:"directive_timeout"`

	// RequireApprovalForCritical gates backlog items that target core
	// components behind an explicit approval step.
	RequireApprovalForCritical bool `yaml:"require_approval_for_critical"`

	// CriticalComponents lists targets considered core for approval
	// purposes. Matched by substring against the backlog target.
	CriticalComponents []string `yaml:"critical_components"`
}

// DefaultKernelConfig returns the default kernel settings.
func DefaultKernelConfig() KernelConfig {
	return KernelConfig{
		MaxConcurrentHeavyTasks:    2,
		DirectiveTimeout:           "5m",
		RequireApprovalForCritical: true,
		CriticalComponents: []string{
			"kernel", "evolution", "bdi", "llm",
		},
	}
}

// Validate checks value ranges.
func (c KernelConfig) Validate() error {
	if c.MaxConcurrentHeavyTasks < 1 {
		return fmt.Errorf("max_concurrent_heavy_tasks must be >= 1")
	}
	if _, err := time.ParseDuration(c.DirectiveTimeout); err != nil {
		return fmt.Errorf("invalid directive_timeout: %w", err)
	}
	return nil
}

// DirectiveTimeoutDuration returns the parsed directive deadline.
func (c KernelConfig) DirectiveTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.DirectiveTimeout)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}
