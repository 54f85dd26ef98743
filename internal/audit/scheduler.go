package audit

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"mastermind/internal/config"
	"mastermind/internal/evolution"
	"mastermind/internal/kernel"
	"mastermind/internal/logging"
)

// CampaignRunner executes one audit-driven campaign. The strategic
// evolution coordinator implements it; the scheduler only knows the
// capability.
type CampaignRunner interface {
	RunAuditDrivenCampaign(ctx context.Context, scope string, targets []string) (map[string]any, error)
}

// RunOutcome summarizes one executed schedule on a tick.
type RunOutcome struct {
	CampaignID string `json:"campaign_id"`
	Scope      string `json:"scope"`
	Grade      string `json:"grade,omitempty"`
	Seeded     int    `json:"seeded"`
	Err        error  `json:"-"`
}

// Scheduler runs due audit schedules on a fixed tick, deferring while
// the host or the improvement backlog is overloaded. Deferred schedules
// stay due and run on a later tick.
type Scheduler struct {
	cfg       config.SchedulerConfig
	store     *Store
	campaigns CampaignRunner

	mu     sync.Mutex
	kernel *kernel.Kernel
	load   LoadSampler
	now    func() time.Time

	started  bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewScheduler builds a scheduler from the full configuration. The
// schedule snapshot lives under the data directory; defaults are seeded
// when the store is empty and seeding is enabled.
func NewScheduler(cfg *config.Config, runner CampaignRunner) *Scheduler {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	path := ""
	if cfg.DataDir != "" {
		path = filepath.Join(cfg.DataDir, scheduleFile)
	}
	s := &Scheduler{
		cfg:       cfg.Scheduler,
		store:     NewStore(path),
		campaigns: runner,
		now:       time.Now,
		stopCh:    make(chan struct{}),
	}
	if cfg.Scheduler.SeedDefaults {
		s.store.SeedDefaults()
	}
	return s
}

// Store exposes schedule CRUD to the outer agent.
func (s *Scheduler) Store() *Store { return s.store }

// SetKernel gives the scheduler a lookup edge to the kernel for backlog
// seeding and backlog-depth load checks.
func (s *Scheduler) SetKernel(k *kernel.Kernel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kernel = k
}

// SetLoadSampler wires host load readings into the deferral policy.
// Without one only the backlog-depth check applies.
func (s *Scheduler) SetLoadSampler(l LoadSampler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.load = l
}

// Start begins the tick loop. Starting twice is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop(ctx)
	logging.Audit("audit scheduler started (tick %s, %d schedule(s))",
		s.cfg.CheckIntervalDuration(), s.store.Len())
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.CheckIntervalDuration())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.RunDueOnce(ctx)
		}
	}
}

// Stop ends the tick loop and waits for an in-flight tick. Idempotent.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
	s.wg.Wait()
	logging.Audit("audit scheduler stopped")
}

// deferReason reports why execution should wait, or "" to proceed.
func (s *Scheduler) deferReason() string {
	s.mu.Lock()
	load := s.load
	k := s.kernel
	s.mu.Unlock()

	if load != nil {
		if cpu := load.CPUPercent(); cpu > s.cfg.MaxCPUPercent {
			return fmt.Sprintf("cpu %.0f%% above %.0f%%", cpu, s.cfg.MaxCPUPercent)
		}
		if m := load.MemoryPercent(); m > s.cfg.MaxMemoryPercent {
			return fmt.Sprintf("memory %.0f%% above %.0f%%", m, s.cfg.MaxMemoryPercent)
		}
	}
	if k != nil {
		if depth := k.BacklogSize(); depth > s.cfg.MaxBacklogDepth {
			return fmt.Sprintf("backlog depth %d above %d", depth, s.cfg.MaxBacklogDepth)
		}
	}
	return ""
}

// RunDueOnce executes every currently-due schedule, highest priority
// first, and returns what ran. The load policy is consulted before each
// execution; once it defers, the remaining due schedules wait for a
// later tick. Counters and the next due time advance after every
// execution regardless of outcome.
func (s *Scheduler) RunDueOnce(ctx context.Context) []RunOutcome {
	now := s.now()
	due := s.store.Due(now)
	if len(due) == 0 {
		return nil
	}
	logging.AuditDebug("%d schedule(s) due", len(due))

	var outcomes []RunOutcome
	for i := range due {
		sched := &due[i]
		if ctx.Err() != nil {
			break
		}
		if reason := s.deferReason(); reason != "" {
			logging.Audit("deferring %d due schedule(s): %s", len(due)-len(outcomes), reason)
			break
		}
		outcomes = append(outcomes, s.execute(ctx, sched))
	}
	return outcomes
}

// execute runs one schedule's campaign and settles its bookkeeping.
func (s *Scheduler) execute(ctx context.Context, sched *Schedule) RunOutcome {
	timer := logging.StartTimer(logging.CategoryAudit, "campaign."+sched.CampaignID)
	defer timer.Stop()
	logging.Audit("running %s (scope=%s priority=%d run=%d)",
		sched.CampaignID, sched.Scope, sched.Priority, sched.Runs+1)

	out := RunOutcome{CampaignID: sched.CampaignID, Scope: sched.Scope}

	cctx, cancel := context.WithTimeout(ctx, s.cfg.CampaignTimeoutDuration())
	data, err := s.campaigns.RunAuditDrivenCampaign(cctx, sched.Scope, sched.Targets)
	cancel()

	if err != nil {
		out.Err = err
		logging.AuditWarn("%s failed: %v", sched.CampaignID, err)
	} else {
		out.Grade, _ = data["grade"].(string)
		out.Seeded = s.seedFindings(sched, data)
		logging.Audit("%s finished: grade=%s seeded=%d", sched.CampaignID, out.Grade, out.Seeded)
	}

	s.store.MarkRun(sched.CampaignID, s.now(), err == nil)
	return out
}

// seedFindings appends the campaign's unresolved high-severity findings
// to the kernel improvement backlog. The source carries the audit scope
// so backlog consumers can trace the item back to its campaign.
func (s *Scheduler) seedFindings(sched *Schedule, data map[string]any) int {
	s.mu.Lock()
	k := s.kernel
	s.mu.Unlock()
	if k == nil || data == nil {
		return 0
	}
	findings, _ := data["unresolved_findings"].([]evolution.Finding)

	seeded := 0
	for _, f := range findings {
		if !f.HighSeverity() {
			continue
		}
		priority := 8
		if f.Severity == "critical" {
			priority = 9
		}
		target := f.Target
		if target == "" {
			target = sched.Scope
		}
		if _, created := k.AddBacklogItem(target, f.Description, priority,
			"autonomous_audit_"+sched.Scope); created {
			seeded++
		}
	}
	return seeded
}
