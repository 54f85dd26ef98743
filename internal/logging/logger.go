// Package logging provides categorized structured logging for mastermind.
// Every subsystem logs through a named zap child so log lines carry their
// origin category and can be filtered per category from config. Until
// Initialize is called all loggers are no-ops, which keeps library code
// free of nil checks.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Category identifies a logging subsystem.
type Category string

const (
	CategoryBoot      Category = "boot"      // Startup/initialization
	CategoryKernel    Category = "kernel"    // Interaction routing, registries
	CategoryEvents    Category = "events"    // Pub/sub event bus
	CategoryLLM       Category = "llm"       // LLM dispatch and providers
	CategoryRateLimit Category = "ratelimit" // Token bucket and retry/backoff
	CategoryBeliefs   Category = "beliefs"   // Belief store
	CategoryGoals     Category = "goals"     // Goal set management
	CategoryPlan      Category = "plan"      // Plan creation and execution
	CategoryBDI       Category = "bdi"       // BDI agent cycles
	CategoryEvolution Category = "evolution" // Strategic evolution campaigns
	CategoryAudit     Category = "audit"     // Audit scheduler and coordinator
	CategoryTools     Category = "tools"     // Tool registry and execution
	CategoryMemory    Category = "memory"    // Memory journal
	CategoryPersist   Category = "persist"   // Snapshot persistence
	CategoryCLI       Category = "cli"       // Command-line front end
)

// Settings mirrors the relevant parts of config.LoggingConfig to avoid a
// circular import between logging and config.
type Settings struct {
	Level      string          // debug, info, warn, error
	Format     string          // console, json
	File       string          // optional log file path ("" = stderr only)
	Categories map[string]bool // nil = all enabled
}

var (
	mu       sync.RWMutex
	root     *zap.Logger
	sugared  = make(map[Category]*zap.SugaredLogger)
	settings Settings
)

// Initialize builds the root logger from settings. Safe to call more than
// once; later calls replace the root and drop cached category loggers.
func Initialize(s Settings) error {
	level := zapcore.InfoLevel
	switch s.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info", "":
		level = zapcore.InfoLevel
	case "warn", "warning":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		return fmt.Errorf("unknown log level %q", s.Level)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	var enc zapcore.Encoder
	if s.Format == "console" {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	sink := zapcore.Lock(os.Stderr)
	if s.File != "" {
		if err := os.MkdirAll(filepath.Dir(s.File), 0755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(s.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		sink = zapcore.Lock(f)
	}

	logger := zap.New(zapcore.NewCore(enc, sink, level))

	mu.Lock()
	defer mu.Unlock()
	root = logger
	settings = s
	sugared = make(map[Category]*zap.SugaredLogger)
	return nil
}

// IsCategoryEnabled reports whether a category passes the config filter.
// Unlisted categories default to enabled.
func IsCategoryEnabled(category Category) bool {
	mu.RLock()
	defer mu.RUnlock()
	if settings.Categories == nil {
		return true
	}
	enabled, exists := settings.Categories[string(category)]
	if !exists {
		return true
	}
	return enabled
}

var nop = zap.NewNop().Sugar()

// Get returns the sugared logger for a category. Before Initialize, or for
// a disabled category, Get returns a no-op logger.
func Get(category Category) *zap.SugaredLogger {
	mu.RLock()
	if root == nil {
		mu.RUnlock()
		return nop
	}
	if l, ok := sugared[category]; ok {
		mu.RUnlock()
		return l
	}
	mu.RUnlock()

	if !IsCategoryEnabled(category) {
		return nop
	}

	mu.Lock()
	defer mu.Unlock()
	if l, ok := sugared[category]; ok {
		return l
	}
	l := root.Named(string(category)).Sugar()
	sugared[category] = l
	return l
}

// Named returns the structured (non-sugared) logger for a category, for
// call sites that prefer typed zap fields.
func Named(category Category) *zap.Logger {
	return Get(category).Desugar()
}

// Sync flushes buffered log entries. Call at shutdown.
func Sync() {
	mu.RLock()
	defer mu.RUnlock()
	if root != nil {
		_ = root.Sync()
	}
}

// =============================================================================
// CONVENIENCE FUNCTIONS - quick logging without fetching a logger first
// =============================================================================

// Boot logs to the boot category.
func Boot(format string, args ...interface{}) { Get(CategoryBoot).Infof(format, args...) }

// BootDebug logs debug to the boot category.
func BootDebug(format string, args ...interface{}) { Get(CategoryBoot).Debugf(format, args...) }

// BootError logs error to the boot category.
func BootError(format string, args ...interface{}) { Get(CategoryBoot).Errorf(format, args...) }

// Kernel logs to the kernel category.
func Kernel(format string, args ...interface{}) { Get(CategoryKernel).Infof(format, args...) }

// KernelDebug logs debug to the kernel category.
func KernelDebug(format string, args ...interface{}) { Get(CategoryKernel).Debugf(format, args...) }

// KernelWarn logs warning to the kernel category.
func KernelWarn(format string, args ...interface{}) { Get(CategoryKernel).Warnf(format, args...) }

// KernelError logs error to the kernel category.
func KernelError(format string, args ...interface{}) { Get(CategoryKernel).Errorf(format, args...) }

// Events logs to the events category.
func Events(format string, args ...interface{}) { Get(CategoryEvents).Infof(format, args...) }

// EventsDebug logs debug to the events category.
func EventsDebug(format string, args ...interface{}) { Get(CategoryEvents).Debugf(format, args...) }

// EventsError logs error to the events category.
func EventsError(format string, args ...interface{}) { Get(CategoryEvents).Errorf(format, args...) }

// LLM logs to the llm category.
func LLM(format string, args ...interface{}) { Get(CategoryLLM).Infof(format, args...) }

// LLMDebug logs debug to the llm category.
func LLMDebug(format string, args ...interface{}) { Get(CategoryLLM).Debugf(format, args...) }

// LLMWarn logs warning to the llm category.
func LLMWarn(format string, args ...interface{}) { Get(CategoryLLM).Warnf(format, args...) }

// LLMError logs error to the llm category.
func LLMError(format string, args ...interface{}) { Get(CategoryLLM).Errorf(format, args...) }

// RateLimit logs to the ratelimit category.
func RateLimit(format string, args ...interface{}) { Get(CategoryRateLimit).Infof(format, args...) }

// RateLimitDebug logs debug to the ratelimit category.
func RateLimitDebug(format string, args ...interface{}) {
	Get(CategoryRateLimit).Debugf(format, args...)
}

// Beliefs logs to the beliefs category.
func Beliefs(format string, args ...interface{}) { Get(CategoryBeliefs).Infof(format, args...) }

// BeliefsDebug logs debug to the beliefs category.
func BeliefsDebug(format string, args ...interface{}) { Get(CategoryBeliefs).Debugf(format, args...) }

// Goals logs to the goals category.
func Goals(format string, args ...interface{}) { Get(CategoryGoals).Infof(format, args...) }

// GoalsDebug logs debug to the goals category.
func GoalsDebug(format string, args ...interface{}) { Get(CategoryGoals).Debugf(format, args...) }

// Plan logs to the plan category.
func Plan(format string, args ...interface{}) { Get(CategoryPlan).Infof(format, args...) }

// PlanDebug logs debug to the plan category.
func PlanDebug(format string, args ...interface{}) { Get(CategoryPlan).Debugf(format, args...) }

// PlanWarn logs warning to the plan category.
func PlanWarn(format string, args ...interface{}) { Get(CategoryPlan).Warnf(format, args...) }

// PlanError logs error to the plan category.
func PlanError(format string, args ...interface{}) { Get(CategoryPlan).Errorf(format, args...) }

// BDI logs to the bdi category.
func BDI(format string, args ...interface{}) { Get(CategoryBDI).Infof(format, args...) }

// BDIDebug logs debug to the bdi category.
func BDIDebug(format string, args ...interface{}) { Get(CategoryBDI).Debugf(format, args...) }

// BDIWarn logs warning to the bdi category.
func BDIWarn(format string, args ...interface{}) { Get(CategoryBDI).Warnf(format, args...) }

// BDIError logs error to the bdi category.
func BDIError(format string, args ...interface{}) { Get(CategoryBDI).Errorf(format, args...) }

// Evolution logs to the evolution category.
func Evolution(format string, args ...interface{}) { Get(CategoryEvolution).Infof(format, args...) }

// EvolutionDebug logs debug to the evolution category.
func EvolutionDebug(format string, args ...interface{}) {
	Get(CategoryEvolution).Debugf(format, args...)
}

// EvolutionWarn logs warning to the evolution category.
func EvolutionWarn(format string, args ...interface{}) {
	Get(CategoryEvolution).Warnf(format, args...)
}

// EvolutionError logs error to the evolution category.
func EvolutionError(format string, args ...interface{}) {
	Get(CategoryEvolution).Errorf(format, args...)
}

// Audit logs to the audit category.
func Audit(format string, args ...interface{}) { Get(CategoryAudit).Infof(format, args...) }

// AuditDebug logs debug to the audit category.
func AuditDebug(format string, args ...interface{}) { Get(CategoryAudit).Debugf(format, args...) }

// AuditWarn logs warning to the audit category.
func AuditWarn(format string, args ...interface{}) { Get(CategoryAudit).Warnf(format, args...) }

// Tools logs to the tools category.
func Tools(format string, args ...interface{}) { Get(CategoryTools).Infof(format, args...) }

// ToolsDebug logs debug to the tools category.
func ToolsDebug(format string, args ...interface{}) { Get(CategoryTools).Debugf(format, args...) }

// ToolsWarn logs warning to the tools category.
func ToolsWarn(format string, args ...interface{}) { Get(CategoryTools).Warnf(format, args...) }

// ToolsError logs error to the tools category.
func ToolsError(format string, args ...interface{}) { Get(CategoryTools).Errorf(format, args...) }

// Memory logs to the memory category.
func Memory(format string, args ...interface{}) { Get(CategoryMemory).Infof(format, args...) }

// MemoryDebug logs debug to the memory category.
func MemoryDebug(format string, args ...interface{}) { Get(CategoryMemory).Debugf(format, args...) }

// Persist logs to the persist category.
func Persist(format string, args ...interface{}) { Get(CategoryPersist).Infof(format, args...) }

// PersistDebug logs debug to the persist category.
func PersistDebug(format string, args ...interface{}) { Get(CategoryPersist).Debugf(format, args...) }

// PersistWarn logs a warning to the persist category.
func PersistWarn(format string, args ...interface{}) { Get(CategoryPersist).Warnf(format, args...) }

// PersistError logs error to the persist category.
func PersistError(format string, args ...interface{}) { Get(CategoryPersist).Errorf(format, args...) }

// CLI logs to the cli category.
func CLI(format string, args ...interface{}) { Get(CategoryCLI).Infof(format, args...) }

// CLIDebug logs debug to the cli category.
func CLIDebug(format string, args ...interface{}) { Get(CategoryCLI).Debugf(format, args...) }

// CLIWarn logs a warning to the cli category.
func CLIWarn(format string, args ...interface{}) { Get(CategoryCLI).Warnf(format, args...) }

// =============================================================================
// TIMING HELPERS
// =============================================================================

// Timer measures operation duration for performance logging.
type Timer struct {
	category Category
	op       string
	start    time.Time
}

// StartTimer begins timing an operation.
func StartTimer(category Category, operation string) *Timer {
	return &Timer{category: category, op: operation, start: time.Now()}
}

// Stop ends the timer and logs the duration at debug level.
func (t *Timer) Stop() time.Duration {
	elapsed := time.Since(t.start)
	Get(t.category).Debugf("%s completed in %v", t.op, elapsed)
	return elapsed
}

// StopWithThreshold logs a warning if duration exceeds threshold.
func (t *Timer) StopWithThreshold(threshold time.Duration) time.Duration {
	elapsed := time.Since(t.start)
	if elapsed > threshold {
		Get(t.category).Warnf("%s took %v (threshold: %v)", t.op, elapsed, threshold)
	} else {
		Get(t.category).Debugf("%s completed in %v", t.op, elapsed)
	}
	return elapsed
}
