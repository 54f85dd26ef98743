package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"mastermind/internal/config"
	"mastermind/internal/evolution"
	"mastermind/internal/kernel"
	"mastermind/internal/llm"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))
}

func writeFile(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(content), 0644)
}

// fakeCampaigns serves scripted audit-driven campaign results.
type fakeCampaigns struct {
	mu    sync.Mutex
	data  map[string]any
	err   error
	calls []string
}

func (f *fakeCampaigns) RunAuditDrivenCampaign(_ context.Context, scope string, _ []string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, scope)
	if f.err != nil {
		return nil, f.err
	}
	return f.data, nil
}

func (f *fakeCampaigns) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

// fixedLoad is a LoadSampler with constant readings.
type fixedLoad struct{ cpu, mem float64 }

func (l fixedLoad) CPUPercent() float64    { return l.cpu }
func (l fixedLoad) MemoryPercent() float64 { return l.mem }

func testSchedulerConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.Scheduler.CheckInterval = "10ms"
	cfg.Scheduler.CampaignTimeout = "5s"
	cfg.Scheduler.SeedDefaults = false
	return cfg
}

func newTestKernelForAudit(t *testing.T, cfg *config.Config) *kernel.Kernel {
	t.Helper()
	k := kernel.NewTestKernel(cfg, llm.NewMockHandler("ok"), nil)
	t.Cleanup(k.Shutdown)
	return k
}

func TestRunDueOnceSeedsBacklogAndAdvancesSchedule(t *testing.T) {
	t.Parallel()
	cfg := testSchedulerConfig(t)
	k := newTestKernelForAudit(t, cfg)

	campaigns := &fakeCampaigns{data: map[string]any{
		"grade": evolution.GradeNeedsImprovement,
		"unresolved_findings": []evolution.Finding{
			{Target: "tools", Severity: "high", Category: "security", Description: "shell allow-list too broad"},
			{Target: "persist", Severity: "critical", Category: "security", Description: "world-readable snapshots"},
			{Target: "llm", Severity: "low", Category: "security", Description: "verbose prompt logging"},
		},
	}}

	s := NewScheduler(cfg, campaigns)
	s.SetKernel(k)

	now := time.Now()
	mustUpsert(t, s.Store(), Schedule{
		CampaignID: "daily_security_audit",
		Scope:      "security",
		Interval:   24 * time.Hour,
		Priority:   8,
		Enabled:    true,
		NextRunAt:  &now,
	})

	outcomes := s.RunDueOnce(context.Background())
	require.Len(t, outcomes, 1)
	assert.NoError(t, outcomes[0].Err)
	assert.Equal(t, evolution.GradeNeedsImprovement, outcomes[0].Grade)
	assert.Equal(t, 2, outcomes[0].Seeded, "only high and critical findings seed the backlog")

	items := k.BacklogItems()
	require.Len(t, items, 2)
	for _, it := range items {
		assert.True(t, strings.HasPrefix(it.Source, "autonomous_audit_"), "source %q", it.Source)
	}
	assert.Equal(t, 9, items[0].Priority, "critical finding outranks high")

	sched := s.Store().Get("daily_security_audit")
	require.NotNil(t, sched)
	assert.Equal(t, 1, sched.Runs)
	assert.Equal(t, 1, sched.Successes)
	require.NotNil(t, sched.NextRunAt)
	next := *sched.NextRunAt
	assert.False(t, next.Before(now.Add(24*time.Hour)), "next run a full interval out")

	// A second tick finds nothing due.
	assert.Empty(t, s.RunDueOnce(context.Background()))
	assert.Equal(t, []string{"security"}, campaigns.Calls())
}

func TestRunDueOncePriorityOrder(t *testing.T) {
	t.Parallel()
	cfg := testSchedulerConfig(t)
	campaigns := &fakeCampaigns{data: map[string]any{"grade": evolution.GradeExcellent}}
	s := NewScheduler(cfg, campaigns)

	mustUpsert(t, s.Store(), Schedule{CampaignID: "quality", Scope: "code_quality", Interval: time.Hour, Priority: 3, Enabled: true})
	mustUpsert(t, s.Store(), Schedule{CampaignID: "security", Scope: "security", Interval: time.Hour, Priority: 9, Enabled: true})

	outcomes := s.RunDueOnce(context.Background())
	require.Len(t, outcomes, 2)
	assert.Equal(t, []string{"security", "code_quality"}, campaigns.Calls())
}

func TestRunDueOnceDefersUnderLoad(t *testing.T) {
	t.Parallel()
	cfg := testSchedulerConfig(t)
	campaigns := &fakeCampaigns{data: map[string]any{}}
	s := NewScheduler(cfg, campaigns)
	s.SetLoadSampler(fixedLoad{cpu: 99, mem: 10})

	mustUpsert(t, s.Store(), Schedule{CampaignID: "sec", Scope: "security", Interval: time.Hour, Priority: 8, Enabled: true})

	assert.Empty(t, s.RunDueOnce(context.Background()))
	assert.Empty(t, campaigns.Calls(), "campaign must not run while overloaded")

	sched := s.Store().Get("sec")
	assert.Equal(t, 0, sched.Runs)
	assert.True(t, sched.IsDue(time.Now()), "deferred schedules stay due")

	// Load clears; the same schedule runs on the next tick.
	s.SetLoadSampler(fixedLoad{cpu: 5, mem: 10})
	outcomes := s.RunDueOnce(context.Background())
	require.Len(t, outcomes, 1)
	assert.Equal(t, 1, s.Store().Get("sec").Runs)
}

func TestRunDueOnceDefersOnBacklogDepth(t *testing.T) {
	t.Parallel()
	cfg := testSchedulerConfig(t)
	cfg.Scheduler.MaxBacklogDepth = 1
	k := newTestKernelForAudit(t, cfg)
	k.AddBacklogItem("a", "first", 5, "test")
	k.AddBacklogItem("b", "second", 5, "test")

	campaigns := &fakeCampaigns{data: map[string]any{}}
	s := NewScheduler(cfg, campaigns)
	s.SetKernel(k)
	mustUpsert(t, s.Store(), Schedule{CampaignID: "sec", Scope: "security", Interval: time.Hour, Priority: 8, Enabled: true})

	assert.Empty(t, s.RunDueOnce(context.Background()))
	assert.Empty(t, campaigns.Calls())
}

func TestRunDueOnceRecordsFailure(t *testing.T) {
	t.Parallel()
	cfg := testSchedulerConfig(t)
	campaigns := &fakeCampaigns{err: errors.New("auditor offline")}
	s := NewScheduler(cfg, campaigns)
	mustUpsert(t, s.Store(), Schedule{CampaignID: "sec", Scope: "security", Interval: time.Hour, Priority: 8, Enabled: true})

	outcomes := s.RunDueOnce(context.Background())
	require.Len(t, outcomes, 1)
	assert.Error(t, outcomes[0].Err)

	sched := s.Store().Get("sec")
	assert.Equal(t, 1, sched.Runs)
	assert.Equal(t, 1, sched.Failures)
	require.NotNil(t, sched.NextRunAt, "failed runs still advance the schedule")
}

func TestSchedulerLoopRunsDueSchedules(t *testing.T) {
	t.Parallel()
	cfg := testSchedulerConfig(t)
	campaigns := &fakeCampaigns{data: map[string]any{"grade": evolution.GradeExcellent}}
	s := NewScheduler(cfg, campaigns)
	mustUpsert(t, s.Store(), Schedule{CampaignID: "sec", Scope: "security", Interval: time.Hour, Priority: 8, Enabled: true})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.Start(ctx)
	s.Start(ctx) // second Start is a no-op

	require.Eventually(t, func() bool { return len(campaigns.Calls()) >= 1 },
		2*time.Second, 10*time.Millisecond)
	s.Stop()
	s.Stop() // idempotent
}

func TestNewSchedulerSeedsDefaultsOnce(t *testing.T) {
	t.Parallel()
	cfg := testSchedulerConfig(t)
	cfg.Scheduler.SeedDefaults = true

	s := NewScheduler(cfg, &fakeCampaigns{})
	assert.Equal(t, 4, s.Store().Len())

	// Same data dir: the persisted snapshot wins over reseeding.
	require.NoError(t, s.Store().Remove("performance_audit"))
	s2 := NewScheduler(cfg, &fakeCampaigns{})
	assert.Equal(t, 3, s2.Store().Len())
}
