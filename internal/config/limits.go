package config

import "fmt"

// CoreLimits enforces system-wide resource constraints.
type CoreLimits struct {
	MaxConcurrentHeavyTasks int `yaml:"max_concurrent_heavy_tasks" json:"max_concurrent_heavy_tasks"` // Kernel heavy-work bound (mirrors Kernel config when set)
	MaxConcurrentActions    int `yaml:"max_concurrent_actions" json:"max_concurrent_actions"`         // Parallel plan execution bound
	MaxBeliefs              int `yaml:"max_beliefs" json:"max_beliefs"`                               // Belief store size guard
	MaxBacklogItems         int `yaml:"max_backlog_items" json:"max_backlog_items"`                   // Improvement backlog size guard
	MaxGoals                int `yaml:"max_goals" json:"max_goals"`                                   // Goal set size guard
}

// ValidateCoreLimits checks that core limits are within acceptable ranges.
func (c *Config) ValidateCoreLimits() error {
	if c.CoreLimits.MaxConcurrentHeavyTasks < 1 {
		return fmt.Errorf("max_concurrent_heavy_tasks must be >= 1")
	}
	if c.CoreLimits.MaxConcurrentActions < 1 {
		return fmt.Errorf("max_concurrent_actions must be >= 1")
	}
	if c.CoreLimits.MaxBeliefs < 100 {
		return fmt.Errorf("max_beliefs must be >= 100")
	}
	if c.CoreLimits.MaxBacklogItems < 10 {
		return fmt.Errorf("max_backlog_items must be >= 10")
	}
	if c.CoreLimits.MaxGoals < 10 {
		return fmt.Errorf("max_goals must be >= 10")
	}
	return nil
}
