package evolution

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mastermind/internal/llm"
	"mastermind/internal/plan"
	"mastermind/internal/tools"
)

// fakeAuditor serves scripted reports in order; the last one is sticky.
type fakeAuditor struct {
	mu      sync.Mutex
	reports []*AuditReport
	next    int
	calls   int
	err     error
}

func (f *fakeAuditor) RunAudit(_ context.Context, scope string, _ []string) (*AuditReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if len(f.reports) == 0 {
		return &AuditReport{Scope: scope}, nil
	}
	rep := f.reports[f.next]
	if f.next < len(f.reports)-1 {
		f.next++
	}
	return rep, nil
}

func (f *fakeAuditor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func secFinding(target, severity, desc string) Finding {
	return Finding{Target: target, Severity: severity, Category: "security", Description: desc}
}

func TestRunAuditDrivenCampaignGradesResolution(t *testing.T) {
	t.Parallel()

	before := &AuditReport{Scope: "security", Findings: []Finding{
		secFinding("kernel", "low", "verbose debug logging"),
		secFinding("tools", "medium", "shell allow-list too broad"),
		secFinding("llm", "medium", "prompt size unbounded"),
		secFinding("persist", "high", "world-readable snapshots"),
	}}
	after := &AuditReport{Scope: "security", Findings: []Finding{
		secFinding("persist", "high", "world-readable snapshots"),
	}}

	h := llm.NewMockHandler()
	h.Respond("improvement blueprint", testBlueprintJSON)
	c := newTestCoordinator(t, h)
	auditor := &fakeAuditor{reports: []*AuditReport{before, after}}
	c.SetAuditor(auditor)
	c.SetConverter(&fakeConverter{descs: []plan.Descriptor{{ID: "s1", Type: "ANALYZE_DATA"}}})

	data, err := c.RunAuditDrivenCampaign(context.Background(), "security", []string{"kernel", "tools"})
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, data["status"])
	assert.Equal(t, GradeGood, data["grade"])
	assert.InDelta(t, 0.75, data["resolution_rate"].(float64), 1e-9)
	assert.Equal(t, 4, data["findings"])
	assert.Equal(t, 2, auditor.Calls())

	unresolved, ok := data["unresolved_findings"].([]Finding)
	require.True(t, ok)
	require.Len(t, unresolved, 1)
	assert.Equal(t, "persist", unresolved[0].Target)
	assert.True(t, unresolved[0].HighSeverity())

	improvement, ok := data["improvement"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, StatusCompleted, improvement["status"])
	goal, _ := improvement["goal"].(string)
	assert.Contains(t, goal, "Address 4 findings from the security audit")
	assert.Contains(t, goal, "verbose debug logging")

	recent := c.History().Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, KindAuditDriven, recent[0].Kind)
	assert.Equal(t, KindEnhanced, recent[1].Kind)
}

func TestRunAuditDrivenCampaignNoFindings(t *testing.T) {
	t.Parallel()

	h := llm.NewMockHandler()
	c := newTestCoordinator(t, h)
	c.SetAuditor(&fakeAuditor{reports: []*AuditReport{{Scope: "security"}}})
	conv := &fakeConverter{}
	c.SetConverter(conv)

	data, err := c.RunAuditDrivenCampaign(context.Background(), "security", nil)
	require.NoError(t, err)

	assert.Equal(t, StatusCompleted, data["status"])
	assert.Equal(t, GradeExcellent, data["grade"])
	assert.Equal(t, 1.0, data["resolution_rate"])
	assert.Empty(t, data["unresolved_findings"])
	assert.Zero(t, h.CallCount(), "no improvement phase should run")
	assert.Zero(t, conv.Calls())

	recent := c.History().Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, "audit found no issues", recent[0].Message)
}

func TestRunAuditDrivenCampaignCapsGradeOnImprovementFailure(t *testing.T) {
	t.Parallel()

	before := &AuditReport{Scope: "performance", Findings: []Finding{
		secFinding("kernel", "medium", "slow backlog scan"),
		secFinding("plan", "low", "chatty logging"),
	}}
	after := &AuditReport{Scope: "performance"}

	h := llm.NewMockHandler()
	h.Respond("improvement blueprint", testBlueprintJSON)
	c := newTestCoordinator(t, h)
	c.SetAuditor(&fakeAuditor{reports: []*AuditReport{before, after}})
	c.SetConverter(&fakeConverter{err: errors.New("converter offline")})

	data, err := c.RunAuditDrivenCampaign(context.Background(), "performance", nil)
	require.NoError(t, err, "an improvement failure degrades the grade, not the campaign")

	assert.Equal(t, StatusCompleted, data["status"])
	assert.InDelta(t, 1.0, data["resolution_rate"].(float64), 1e-9)
	assert.Equal(t, GradeNeedsImprovement, data["grade"],
		"full resolution cannot outweigh a failed improvement phase")
}

func TestRunAuditDrivenCampaignFailsWhenAuditFails(t *testing.T) {
	t.Parallel()

	c := newTestCoordinator(t, llm.NewMockHandler())
	c.SetAuditor(&fakeAuditor{err: errors.New("probe unreachable")})

	_, err := c.RunAuditDrivenCampaign(context.Background(), "security", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "probe unreachable")

	recent := c.History().Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, StatusFailed, recent[0].Status)
}

func TestAuditGrade(t *testing.T) {
	t.Parallel()

	cases := []struct {
		rate float64
		ok   bool
		want string
	}{
		{1.0, true, GradeExcellent},
		{0.9, true, GradeExcellent},
		{0.89, true, GradeGood},
		{0.7, true, GradeGood},
		{0.5, true, GradeSatisfactory},
		{0.49, true, GradeNeedsImprovement},
		{0.25, true, GradeNeedsImprovement},
		{0.1, true, GradePoor},
		{1.0, false, GradeNeedsImprovement},
		{0.3, false, GradeNeedsImprovement},
		{0.1, false, GradePoor},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, auditGrade(tc.rate, tc.ok), "rate=%.2f ok=%v", tc.rate, tc.ok)
	}
}

func TestResolutionRate(t *testing.T) {
	t.Parallel()

	a := secFinding("kernel", "low", "one")
	b := secFinding("tools", "medium", "two")

	assert.Equal(t, 1.0, resolutionRate(nil, []Finding{a}))
	assert.Equal(t, 1.0, resolutionRate([]Finding{a, b}, nil))
	assert.Equal(t, 0.0, resolutionRate([]Finding{a, b}, []Finding{a, b}))
	assert.Equal(t, 0.5, resolutionRate([]Finding{a, b}, []Finding{b}))
	assert.Equal(t, 0.5, resolutionRate([]Finding{a, a}, []Finding{a}),
		"duplicate findings resolve one at a time")
}

func TestSeverityFromPriority(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "high", severityFromPriority(9))
	assert.Equal(t, "high", severityFromPriority(8))
	assert.Equal(t, "medium", severityFromPriority(6))
	assert.Equal(t, "low", severityFromPriority(3))
	assert.Equal(t, "high", severityFromPriority(float64(8)))
	assert.Equal(t, "low", severityFromPriority(nil))
}

func TestLocalAuditScansRegistry(t *testing.T) {
	t.Parallel()

	reg := tools.NewRegistry()
	reg.MustRegister(tools.NewRegistryAuditor(reg))
	reg.MustRegister(&tools.Tool{
		ID:          "ghost_probe",
		Description: "probe for test",
		Execute:     func(context.Context, map[string]any) (bool, any) { return true, "ok" },
	})
	reg.SetEnabled("ghost_probe", false)

	cfg := testConfig(t)
	c := NewCoordinator(cfg, llm.NewMockHandler(), reg, nil)

	rep := c.localAudit(context.Background(), "security", nil)
	require.NotNil(t, rep)
	assert.Equal(t, "security", rep.Scope)
	require.Len(t, rep.Findings, 1)

	f := rep.Findings[0]
	assert.True(t, strings.HasPrefix(f.ID, "find-"))
	assert.Equal(t, "tools", f.Target)
	assert.Equal(t, "medium", f.Severity)
	assert.Equal(t, "tooling", f.Category)
	assert.Contains(t, f.Description, "ghost_probe is disabled")
	assert.False(t, f.HighSeverity())
}
