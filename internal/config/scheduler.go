package config

import (
	"fmt"
	"time"
)

// SchedulerConfig configures the autonomous audit scheduler.
type SchedulerConfig struct {
	Enabled bool `yaml:"enabled"`

	// CheckInterval is how often the loop looks for due schedules.
	CheckInterval string `yaml:"check_interval"`

	// CampaignTimeout bounds a single audit campaign run.
	CampaignTimeout string `yaml:"campaign_timeout"`

	// SeedDefaults installs the standing audit schedules (security,
	// full-system, performance, code quality) when none are persisted.
	SeedDefaults bool `yaml:"seed_defaults"`

	// Load policy: audits are deferred, not skipped, while the system
	// is busy. Deferred schedules stay due and run on a later tick.
	MaxCPUPercent    float64 `yaml:"max_cpu_percent"`
	MaxMemoryPercent float64 `yaml:"max_memory_percent"`
	MaxBacklogDepth  int     `yaml:"max_backlog_depth"`
}

// DefaultSchedulerConfig returns the default scheduler settings.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Enabled:          true,
		CheckInterval:    "60s",
		CampaignTimeout:  "30m",
		SeedDefaults:     true,
		MaxCPUPercent:    80,
		MaxMemoryPercent: 85,
		MaxBacklogDepth:  20,
	}
}

// Validate checks value ranges.
func (c SchedulerConfig) Validate() error {
	if _, err := time.ParseDuration(c.CheckInterval); err != nil {
		return fmt.Errorf("invalid check_interval: %w", err)
	}
	if _, err := time.ParseDuration(c.CampaignTimeout); err != nil {
		return fmt.Errorf("invalid campaign_timeout: %w", err)
	}
	if c.MaxCPUPercent <= 0 || c.MaxCPUPercent > 100 {
		return fmt.Errorf("max_cpu_percent must be in (0, 100]")
	}
	if c.MaxMemoryPercent <= 0 || c.MaxMemoryPercent > 100 {
		return fmt.Errorf("max_memory_percent must be in (0, 100]")
	}
	if c.MaxBacklogDepth < 1 {
		return fmt.Errorf("max_backlog_depth must be >= 1")
	}
	return nil
}

// CheckIntervalDuration returns the parsed tick interval.
func (c SchedulerConfig) CheckIntervalDuration() time.Duration {
	d, err := time.ParseDuration(c.CheckInterval)
	if err != nil || d <= 0 {
		return time.Minute
	}
	return d
}

// CampaignTimeoutDuration returns the parsed campaign deadline.
func (c SchedulerConfig) CampaignTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(c.CampaignTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Minute
	}
	return d
}
