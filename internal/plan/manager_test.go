package plan

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mastermind/internal/types"
)

func boolPtr(b bool) *bool { return &b }

func TestNewPlanValidation(t *testing.T) {
	t.Parallel()

	m := NewManager()

	tests := []struct {
		name        string
		descriptors []Descriptor
		wantErr     string
	}{
		{
			name:        "empty plan",
			descriptors: nil,
			wantErr:     "at least one action",
		},
		{
			name:        "empty type",
			descriptors: []Descriptor{{ID: "a", Type: ""}},
			wantErr:     "type must not be empty",
		},
		{
			name: "duplicate ids",
			descriptors: []Descriptor{
				{ID: "a", Type: "NO_OP"},
				{ID: "a", Type: "NO_OP"},
			},
			wantErr: "duplicate action id",
		},
		{
			name: "unknown dependency",
			descriptors: []Descriptor{
				{ID: "a", Type: "NO_OP", DependsOn: []string{"ghost"}},
			},
			wantErr: "unknown action",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.NewPlan("goal-1", "", tt.descriptors)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			assert.Equal(t, types.ErrPlanValidation, types.KindOf(err))
		})
	}
}

func TestNewPlanDefaults(t *testing.T) {
	t.Parallel()

	m := NewManager()
	p, err := m.NewPlan("goal-1", "demo", []Descriptor{
		{ID: "a", Type: "NO_OP"},
		{Type: "NO_OP", Critical: boolPtr(false)},
	})
	require.NoError(t, err)

	assert.Equal(t, PlanReady, p.Status)
	assert.Equal(t, "goal-1", p.GoalID)
	assert.True(t, p.Actions[0].IsCritical, "criticality defaults to true")
	assert.False(t, p.Actions[1].IsCritical)
	assert.NotEmpty(t, p.Actions[1].ID, "missing ids are assigned")
	assert.Same(t, p, m.Get(p.ID))
}

func TestExecuteSequentialSuccess(t *testing.T) {
	t.Parallel()

	m := NewManager()
	p, err := m.NewPlan("goal-1", "", []Descriptor{
		{ID: "a", Type: "ANALYZE_DATA"},
		{ID: "b", Type: "SYNTHESIZE_INFO", DependsOn: []string{"a"}},
	})
	require.NoError(t, err)

	var order []string
	exec := func(_ context.Context, a *Action) (any, error) {
		order = append(order, a.ID)
		return "result-" + a.ID, nil
	}

	require.NoError(t, m.ExecuteSequential(context.Background(), p.ID, exec))

	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, PlanCompleted, p.Status)
	assert.Equal(t, "result-a", p.ActionResults["a"])
	assert.Equal(t, "result-b", p.ActionResults["b"])
	for _, a := range p.Actions {
		assert.Equal(t, ActionCompleted, a.Status)
		assert.Equal(t, 1, a.AttemptCount)
		assert.NotNil(t, a.CompletedAt)
	}
	assert.NotNil(t, p.CompletedAt)
}

func TestExecuteSequentialCriticalFailureHalts(t *testing.T) {
	t.Parallel()

	m := NewManager()
	p, err := m.NewPlan("goal-1", "", []Descriptor{
		{ID: "a", Type: "FAIL"},
		{ID: "b", Type: "NO_OP"},
	})
	require.NoError(t, err)

	calls := 0
	exec := func(_ context.Context, a *Action) (any, error) {
		calls++
		if a.ID == "a" {
			return nil, errors.New("boom")
		}
		return nil, nil
	}

	require.NoError(t, m.ExecuteSequential(context.Background(), p.ID, exec))

	assert.Equal(t, 1, calls, "execution stops after the critical failure")
	assert.Equal(t, PlanFailedAction, p.Status)
	assert.Contains(t, p.FailureReason, "critical action a failed")
	assert.Equal(t, ActionFailed, p.Actions[0].Status)
	assert.Equal(t, "boom", p.Actions[0].ErrorMessage)
	assert.Equal(t, ActionPending, p.Actions[1].Status, "unreached actions stay pending")
}

func TestExecuteSequentialNonCriticalFailureContinues(t *testing.T) {
	t.Parallel()

	m := NewManager()
	p, err := m.NewPlan("goal-1", "", []Descriptor{
		{ID: "a", Type: "FAIL", Critical: boolPtr(false)},
		{ID: "b", Type: "NO_OP"},
		{ID: "c", Type: "NO_OP", DependsOn: []string{"a"}},
	})
	require.NoError(t, err)

	exec := func(_ context.Context, a *Action) (any, error) {
		if a.ID == "a" {
			return nil, errors.New("boom")
		}
		return "ok", nil
	}

	require.NoError(t, m.ExecuteSequential(context.Background(), p.ID, exec))

	assert.Equal(t, ActionFailed, p.Actions[0].Status)
	assert.Equal(t, ActionCompleted, p.Actions[1].Status, "independent action still runs")
	assert.Equal(t, ActionSkipped, p.Actions[2].Status, "dependent of the failure is skipped")
	assert.Equal(t, PlanFailedAction, p.Status, "a failed action fails the plan at completion")
}

func TestExecuteSequentialResolvesParams(t *testing.T) {
	t.Parallel()

	m := NewManager()
	p, err := m.NewPlan("goal-1", "", []Descriptor{
		{ID: "A", Type: "ANALYZE_DATA"},
		{ID: "B", Type: "UPDATE_BELIEF", Params: map[string]any{
			"key":   "out",
			"value": "$action_result.A",
		}},
	})
	require.NoError(t, err)

	var seen map[string]any
	exec := func(_ context.Context, a *Action) (any, error) {
		if a.ID == "A" {
			return "hello", nil
		}
		seen = a.Params
		return nil, nil
	}

	require.NoError(t, m.ExecuteSequential(context.Background(), p.ID, exec))

	assert.Equal(t, PlanCompleted, p.Status)
	assert.Equal(t, "hello", seen["value"], "downstream action receives the upstream result")
}

func TestExecuteSequentialContextCancelled(t *testing.T) {
	t.Parallel()

	m := NewManager()
	p, err := m.NewPlan("goal-1", "", []Descriptor{
		{ID: "a", Type: "NO_OP"},
		{ID: "b", Type: "NO_OP"},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	exec := func(_ context.Context, a *Action) (any, error) {
		cancel()
		return nil, nil
	}

	err = m.ExecuteSequential(ctx, p.ID, exec)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, PlanCancelled, p.Status)
}

func TestExecuteSequentialRejectsWrongState(t *testing.T) {
	t.Parallel()

	m := NewManager()
	p, err := m.NewPlan("goal-1", "", []Descriptor{{ID: "a", Type: "NO_OP"}})
	require.NoError(t, err)

	exec := func(_ context.Context, _ *Action) (any, error) { return nil, nil }
	require.NoError(t, m.ExecuteSequential(context.Background(), p.ID, exec))

	err = m.ExecuteSequential(context.Background(), p.ID, exec)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidInput, types.KindOf(err))

	err = m.ExecuteSequential(context.Background(), "no-such-plan", exec)
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidInput, types.KindOf(err))
}

func TestForGoalReturnsLatest(t *testing.T) {
	t.Parallel()

	m := NewManager()
	first, err := m.NewPlan("goal-1", "", []Descriptor{{ID: "a", Type: "NO_OP"}})
	require.NoError(t, err)
	second, err := m.NewPlan("goal-1", "", []Descriptor{{ID: "a", Type: "NO_OP"}})
	require.NoError(t, err)
	second.CreatedAt = first.CreatedAt.Add(1) // force distinct ordering

	assert.Same(t, second, m.ForGoal("goal-1"))
	assert.Nil(t, m.ForGoal("goal-2"))
}

func TestUpdateStatus(t *testing.T) {
	t.Parallel()

	m := NewManager()
	p, err := m.NewPlan("goal-1", "", []Descriptor{{ID: "a", Type: "NO_OP"}})
	require.NoError(t, err)

	require.NoError(t, m.UpdateStatus(p.ID, PlanFailedValidation, "doctrine check failed"))
	assert.Equal(t, PlanFailedValidation, p.Status)
	assert.Equal(t, "doctrine check failed", p.FailureReason)
	assert.NotNil(t, p.CompletedAt)

	err = m.UpdateStatus("ghost", PlanPaused, "")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidInput, types.KindOf(err))
}

func TestCompletionRule(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		statuses []ActionStatus
		want     PlanStatus
	}{
		{"all completed", []ActionStatus{ActionCompleted, ActionCompleted}, PlanCompleted},
		{"skips allowed", []ActionStatus{ActionCompleted, ActionSkipped}, PlanCompleted},
		{"any failure fails", []ActionStatus{ActionCompleted, ActionFailed}, PlanFailedAction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &Plan{}
			for i, s := range tt.statuses {
				p.Actions = append(p.Actions, &Action{ID: fmt.Sprintf("a%d", i), Status: s})
			}
			assert.Equal(t, tt.want, p.finalStatus())
		})
	}
}
