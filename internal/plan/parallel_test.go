package plan

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestExecuteParallelRespectsBound(t *testing.T) {
	t.Parallel()

	m := NewManager()
	p, err := m.NewPlan("goal-1", "", []Descriptor{
		{ID: "a", Type: "NO_OP"},
		{ID: "b", Type: "NO_OP"},
		{ID: "c", Type: "NO_OP"},
		{ID: "d", Type: "NO_OP"},
	})
	require.NoError(t, err)

	var inFlight, peak int64
	exec := func(_ context.Context, _ *Action) (any, error) {
		n := atomic.AddInt64(&inFlight, 1)
		for {
			old := atomic.LoadInt64(&peak)
			if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
				break
			}
		}
		defer atomic.AddInt64(&inFlight, -1)
		return "ok", nil
	}

	require.NoError(t, m.ExecuteParallel(context.Background(), p.ID, exec, 2))

	assert.Equal(t, PlanCompleted, p.Status)
	assert.LessOrEqual(t, atomic.LoadInt64(&peak), int64(2))
	for _, a := range p.Actions {
		assert.Equal(t, ActionCompleted, a.Status)
	}
}

func TestExecuteParallelHonorsDependencies(t *testing.T) {
	t.Parallel()

	m := NewManager()
	p, err := m.NewPlan("goal-1", "", []Descriptor{
		{ID: "a", Type: "ANALYZE_DATA"},
		{ID: "b", Type: "SYNTHESIZE_INFO", DependsOn: []string{"a"}},
		{ID: "c", Type: "MAKE_DECISION", DependsOn: []string{"a", "b"}},
	})
	require.NoError(t, err)

	var mu sync.Mutex
	var order []string
	exec := func(_ context.Context, a *Action) (any, error) {
		mu.Lock()
		order = append(order, a.ID)
		mu.Unlock()
		return a.ID, nil
	}

	require.NoError(t, m.ExecuteParallel(context.Background(), p.ID, exec, 3))

	assert.Equal(t, []string{"a", "b", "c"}, order)
	assert.Equal(t, PlanCompleted, p.Status)
}

func TestExecuteParallelResolvesParamsAtStart(t *testing.T) {
	t.Parallel()

	m := NewManager()
	p, err := m.NewPlan("goal-1", "", []Descriptor{
		{ID: "a", Type: "ANALYZE_DATA"},
		{ID: "b", Type: "UPDATE_BELIEF", DependsOn: []string{"a"},
			Params: map[string]any{"value": "$action_result.a.summary"}},
	})
	require.NoError(t, err)

	var got any
	exec := func(_ context.Context, a *Action) (any, error) {
		if a.ID == "a" {
			return map[string]any{"summary": "all clear"}, nil
		}
		got = a.Params["value"]
		return nil, nil
	}

	require.NoError(t, m.ExecuteParallel(context.Background(), p.ID, exec, 2))
	assert.Equal(t, "all clear", got)
}

func TestExecuteParallelCriticalFailureCancelsInFlight(t *testing.T) {
	t.Parallel()

	m := NewManager()
	p, err := m.NewPlan("goal-1", "", []Descriptor{
		{ID: "a", Type: "FAIL"},
		{ID: "b", Type: "NO_OP"},
		{ID: "c", Type: "NO_OP", DependsOn: []string{"b"}},
	})
	require.NoError(t, err)

	bStarted := make(chan struct{})
	exec := func(ctx context.Context, a *Action) (any, error) {
		switch a.ID {
		case "a":
			<-bStarted
			return nil, errors.New("boom")
		case "b":
			close(bStarted)
			<-ctx.Done()
			return nil, ctx.Err()
		default:
			return nil, nil
		}
	}

	require.NoError(t, m.ExecuteParallel(context.Background(), p.ID, exec, 2))

	assert.Equal(t, PlanFailedAction, p.Status)
	assert.Equal(t, ActionFailed, p.Actions[0].Status)
	assert.Equal(t, ActionCancelled, p.Actions[1].Status, "in-flight work is cancelled")
	assert.NotEqual(t, ActionCompleted, p.Actions[2].Status, "dependent work never runs")
}

func TestExecuteParallelSkipsUnsatisfiable(t *testing.T) {
	t.Parallel()

	m := NewManager()
	p, err := m.NewPlan("goal-1", "", []Descriptor{
		{ID: "a", Type: "FAIL", Critical: boolPtr(false)},
		{ID: "b", Type: "NO_OP", DependsOn: []string{"a"}},
		{ID: "c", Type: "NO_OP"},
	})
	require.NoError(t, err)

	exec := func(_ context.Context, a *Action) (any, error) {
		if a.ID == "a" {
			return nil, errors.New("boom")
		}
		return "ok", nil
	}

	require.NoError(t, m.ExecuteParallel(context.Background(), p.ID, exec, 2))

	assert.Equal(t, ActionFailed, p.Actions[0].Status)
	assert.Equal(t, ActionSkipped, p.Actions[1].Status)
	assert.Equal(t, ActionCompleted, p.Actions[2].Status)
	assert.Equal(t, PlanFailedAction, p.Status)
}

func TestExecuteParallelOuterContextCancel(t *testing.T) {
	t.Parallel()

	m := NewManager()
	p, err := m.NewPlan("goal-1", "", []Descriptor{
		{ID: "a", Type: "NO_OP"},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	exec := func(ctx context.Context, _ *Action) (any, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	}

	err = m.ExecuteParallel(ctx, p.ID, exec, 1)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, PlanCancelled, p.Status)
	assert.Equal(t, ActionCancelled, p.Actions[0].Status)
}
