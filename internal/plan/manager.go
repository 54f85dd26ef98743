package plan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"mastermind/internal/logging"
	"mastermind/internal/types"
)

// ExecutorFunc runs a single action and returns its result. The action's
// params are already resolved when the executor sees them.
type ExecutorFunc func(ctx context.Context, action *Action) (any, error)

// Manager creates, stores, and executes plans.
type Manager struct {
	mu    sync.Mutex
	plans map[string]*Plan
	now   func() time.Time
}

// NewManager returns an empty plan manager.
func NewManager() *Manager {
	return &Manager{
		plans: make(map[string]*Plan),
		now:   time.Now,
	}
}

// PlanOption mutates a plan at creation time.
type PlanOption func(*Plan)

// WithCreatedBy records the creating agent.
func WithCreatedBy(agentID string) PlanOption {
	return func(p *Plan) { p.CreatedBy = agentID }
}

// NewPlan validates the descriptors and registers a ready plan for the
// given goal.
func (m *Manager) NewPlan(goalID, description string, descriptors []Descriptor, opts ...PlanOption) (*Plan, error) {
	actions, err := buildActions(descriptors)
	if err != nil {
		return nil, types.NewKindError(types.ErrPlanValidation, "plan.new", err.Error(), err)
	}

	p := &Plan{
		ID:            "plan-" + uuid.New().String()[:8],
		GoalID:        goalID,
		Description:   description,
		Actions:       actions,
		Status:        PlanReady,
		CreatedAt:     m.now().UTC(),
		ActionResults: make(map[string]any),
	}
	for _, opt := range opts {
		opt(p)
	}

	m.mu.Lock()
	m.plans[p.ID] = p
	m.mu.Unlock()

	logging.Plan("plan %s created for goal %s with %d actions", p.ID, goalID, len(actions))
	return p, nil
}

// Get returns the plan with the given id, or nil.
func (m *Manager) Get(planID string) *Plan {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.plans[planID]
}

// ForGoal returns the most recently created plan for a goal, or nil.
func (m *Manager) ForGoal(goalID string) *Plan {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Plan
	for _, p := range m.plans {
		if p.GoalID != goalID {
			continue
		}
		if latest == nil || p.CreatedAt.After(latest.CreatedAt) {
			latest = p
		}
	}
	return latest
}

// UpdateStatus sets the plan status directly. Used for validation
// failures and external pause or cancel signals.
func (m *Manager) UpdateStatus(planID string, status PlanStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.plans[planID]
	if p == nil {
		return types.NewKindError(types.ErrInvalidInput, "plan.update", fmt.Sprintf("unknown plan %q", planID), nil)
	}
	p.Status = status
	if reason != "" {
		p.FailureReason = reason
	}
	if status.Terminal() && p.CompletedAt == nil {
		t := m.now().UTC()
		p.CompletedAt = &t
	}
	return nil
}

// ExecuteSequential runs the plan's actions in declaration order. Actions
// whose dependencies did not complete successfully are marked
// skipped_dependency and the run continues. A failed critical action
// fails the plan and stops execution; a failed non-critical action does
// not halt the run.
func (m *Manager) ExecuteSequential(ctx context.Context, planID string, exec ExecutorFunc) error {
	m.mu.Lock()
	p := m.plans[planID]
	if p == nil {
		m.mu.Unlock()
		return types.NewKindError(types.ErrInvalidInput, "plan.execute", fmt.Sprintf("unknown plan %q", planID), nil)
	}
	if p.Status != PlanReady {
		m.mu.Unlock()
		return types.NewKindError(types.ErrInvalidInput, "plan.execute",
			fmt.Sprintf("plan %s is %s, want %s", planID, p.Status, PlanReady), nil)
	}
	start := m.now().UTC()
	p.Status = PlanRunning
	p.StartedAt = &start
	m.mu.Unlock()

	logging.Plan("plan %s: sequential run of %d actions", p.ID, len(p.Actions))

	for i, a := range p.Actions {
		if err := ctx.Err(); err != nil {
			m.halt(p, PlanCancelled, "context cancelled")
			return err
		}

		m.mu.Lock()
		p.CurrentActionIdx = i
		if !p.depsSatisfied(a) {
			a.Status = ActionSkipped
			m.mu.Unlock()
			logging.PlanWarn("plan %s: action %s skipped, dependency unmet", p.ID, a.ID)
			continue
		}
		a.Status = ActionRunning
		a.AttemptCount++
		st := m.now().UTC()
		a.StartedAt = &st
		a.Params = Resolve(a.Params, p.ActionResults)
		m.mu.Unlock()

		result, err := exec(ctx, a)

		m.mu.Lock()
		done := m.now().UTC()
		a.CompletedAt = &done
		if err != nil {
			a.Status = ActionFailed
			a.ErrorMessage = err.Error()
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				a.Status = ActionCancelled
				m.haltLocked(p, PlanCancelled, "context cancelled")
				m.mu.Unlock()
				return err
			}
			logging.PlanWarn("plan %s: action %s (%s) failed: %v", p.ID, a.ID, a.Type, err)
			if a.IsCritical {
				m.haltLocked(p, PlanFailedAction, fmt.Sprintf("critical action %s failed: %v", a.ID, err))
				m.mu.Unlock()
				return nil
			}
			m.mu.Unlock()
			continue
		}
		a.Status = ActionCompleted
		a.Result = result
		p.ActionResults[a.ID] = result
		m.mu.Unlock()
	}

	m.finish(p)
	return nil
}

// halt marks the plan terminal with the given status and reason.
func (m *Manager) halt(p *Plan, status PlanStatus, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.haltLocked(p, status, reason)
}

func (m *Manager) haltLocked(p *Plan, status PlanStatus, reason string) {
	p.Status = status
	p.FailureReason = reason
	t := m.now().UTC()
	p.CompletedAt = &t
	logging.PlanWarn("plan %s halted: %s (%s)", p.ID, status, reason)
}

// finish applies the completion rule once every action is terminal.
func (m *Manager) finish(p *Plan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Status.Terminal() {
		return
	}
	p.Status = p.finalStatus()
	t := m.now().UTC()
	p.CompletedAt = &t
	logging.Plan("plan %s finished: %s", p.ID, p.Status)
}
