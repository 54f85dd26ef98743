package plan

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mastermind/internal/types"
)

func TestExecuteNextStepsThroughPlan(t *testing.T) {
	t.Parallel()
	m := NewManager()
	p, err := m.NewPlan("goal-1", "", []Descriptor{
		{ID: "a", Type: "STEP"},
		{ID: "b", Type: "STEP", DependsOn: []string{"a"}},
	}, WithCreatedBy("bdi-test"))
	require.NoError(t, err)
	assert.Equal(t, "bdi-test", p.CreatedBy)

	exec := func(ctx context.Context, a *Action) (any, error) {
		return a.ID + "-done", nil
	}

	a1, done, err := m.ExecuteNext(context.Background(), p.ID, exec)
	require.NoError(t, err)
	require.NotNil(t, a1)
	assert.Equal(t, "a", a1.ID)
	assert.Equal(t, ActionCompleted, a1.Status)
	assert.False(t, done)
	assert.Equal(t, PlanRunning, p.Status)

	a2, done, err := m.ExecuteNext(context.Background(), p.ID, exec)
	require.NoError(t, err)
	assert.Equal(t, "b", a2.ID)
	assert.True(t, done)
	assert.Equal(t, PlanCompleted, p.Status)
	assert.Equal(t, "a-done", p.ActionResults["a"])

	_, done, err = m.ExecuteNext(context.Background(), p.ID, exec)
	require.Error(t, err, "terminal plans cannot step")
	assert.True(t, done)
}

func TestExecuteNextCriticalFailureHaltsPlan(t *testing.T) {
	t.Parallel()
	m := NewManager()
	p, err := m.NewPlan("goal-1", "", []Descriptor{
		{ID: "a", Type: "STEP"},
		{ID: "b", Type: "STEP"},
	})
	require.NoError(t, err)

	exec := func(ctx context.Context, a *Action) (any, error) {
		return nil, errors.New("boom")
	}

	a, done, err := m.ExecuteNext(context.Background(), p.ID, exec)
	require.NoError(t, err)
	assert.Equal(t, ActionFailed, a.Status)
	assert.True(t, done)
	assert.Equal(t, PlanFailedAction, p.Status)
	assert.Equal(t, ActionPending, p.Actions[1].Status, "halt leaves later actions untouched")
}

func TestExecuteNextNonCriticalFailureContinues(t *testing.T) {
	t.Parallel()
	m := NewManager()
	f := false
	p, err := m.NewPlan("goal-1", "", []Descriptor{
		{ID: "a", Type: "STEP", Critical: &f},
		{ID: "b", Type: "STEP"},
	})
	require.NoError(t, err)

	exec := func(ctx context.Context, a *Action) (any, error) {
		if a.ID == "a" {
			return nil, errors.New("soft failure")
		}
		return "ok", nil
	}

	a, done, err := m.ExecuteNext(context.Background(), p.ID, exec)
	require.NoError(t, err)
	assert.Equal(t, ActionFailed, a.Status)
	assert.False(t, done)

	b, done, err := m.ExecuteNext(context.Background(), p.ID, exec)
	require.NoError(t, err)
	assert.Equal(t, ActionCompleted, b.Status)
	assert.True(t, done)
	assert.Equal(t, PlanFailedAction, p.Status, "a failed action fails the plan at completion")
}

func TestExecuteNextSkipsUnmetDependency(t *testing.T) {
	t.Parallel()
	m := NewManager()
	f := false
	p, err := m.NewPlan("goal-1", "", []Descriptor{
		{ID: "a", Type: "STEP", Critical: &f},
		{ID: "b", Type: "STEP", DependsOn: []string{"a"}},
	})
	require.NoError(t, err)

	exec := func(ctx context.Context, a *Action) (any, error) {
		if a.ID == "a" {
			return nil, errors.New("soft failure")
		}
		return "ok", nil
	}

	_, _, err = m.ExecuteNext(context.Background(), p.ID, exec)
	require.NoError(t, err)

	b, done, err := m.ExecuteNext(context.Background(), p.ID, exec)
	require.NoError(t, err)
	assert.Equal(t, "b", b.ID)
	assert.Equal(t, ActionSkipped, b.Status)
	assert.True(t, done)
}

func TestRetryReopensFailedAction(t *testing.T) {
	t.Parallel()
	m := NewManager()
	p, err := m.NewPlan("goal-1", "", []Descriptor{{ID: "a", Type: "STEP"}})
	require.NoError(t, err)

	calls := 0
	exec := func(ctx context.Context, a *Action) (any, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("transient")
		}
		return "ok", nil
	}

	_, done, err := m.ExecuteNext(context.Background(), p.ID, exec)
	require.NoError(t, err)
	assert.True(t, done)
	require.Equal(t, PlanFailedAction, p.Status)

	require.NoError(t, m.Retry(p.ID, "a"))
	assert.Equal(t, PlanReady, p.Status)
	assert.Empty(t, p.FailureReason)
	assert.Nil(t, p.CompletedAt)
	assert.Equal(t, ActionPending, p.Actions[0].Status)
	assert.Equal(t, 1, p.Actions[0].AttemptCount, "attempt history survives the reset")

	a, done, err := m.ExecuteNext(context.Background(), p.ID, exec)
	require.NoError(t, err)
	assert.Equal(t, ActionCompleted, a.Status)
	assert.True(t, done)
	assert.Equal(t, PlanCompleted, p.Status)
	assert.Equal(t, 2, a.AttemptCount)
}

func TestRetryRejectsHealthyAction(t *testing.T) {
	t.Parallel()
	m := NewManager()
	p, err := m.NewPlan("goal-1", "", []Descriptor{{ID: "a", Type: "STEP"}})
	require.NoError(t, err)

	err = m.Retry(p.ID, "a")
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidInput, types.KindOf(err))

	err = m.Retry(p.ID, "nope")
	require.Error(t, err)
	err = m.Retry("plan-nope", "a")
	require.Error(t, err)
}

func TestRetargetActionSwapsType(t *testing.T) {
	t.Parallel()
	m := NewManager()
	p, err := m.NewPlan("goal-1", "", []Descriptor{{ID: "a", Type: "broken_tool"}})
	require.NoError(t, err)

	exec := func(ctx context.Context, a *Action) (any, error) {
		if a.Type == "broken_tool" {
			return nil, errors.New("tool gone")
		}
		return "alt ok", nil
	}

	_, _, err = m.ExecuteNext(context.Background(), p.ID, exec)
	require.NoError(t, err)

	require.Error(t, m.RetargetAction(p.ID, "a", ""), "empty type rejected")
	require.NoError(t, m.RetargetAction(p.ID, "a", "backup_tool"))
	assert.Equal(t, "backup_tool", p.Actions[0].Type)

	a, done, err := m.ExecuteNext(context.Background(), p.ID, exec)
	require.NoError(t, err)
	assert.Equal(t, ActionCompleted, a.Status)
	assert.True(t, done)
	assert.Equal(t, "alt ok", a.Result)
}

func TestExecuteNextContextCancelled(t *testing.T) {
	t.Parallel()
	m := NewManager()
	p, err := m.NewPlan("goal-1", "", []Descriptor{{ID: "a", Type: "STEP"}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, done, err := m.ExecuteNext(ctx, p.ID, func(ctx context.Context, a *Action) (any, error) {
		return nil, nil
	})
	require.Error(t, err)
	assert.True(t, done)
	assert.Equal(t, PlanCancelled, p.Status)
}
