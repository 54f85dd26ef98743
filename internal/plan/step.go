package plan

import (
	"context"
	"errors"
	"fmt"

	"mastermind/internal/logging"
	"mastermind/internal/types"
)

// Stepwise execution. The BDI executor interleaves reasoning between
// actions, so it advances plans one action per call instead of running
// them to completion.

// allTerminal reports whether every action has reached a terminal state.
func (p *Plan) allTerminal() bool {
	for _, a := range p.Actions {
		if !a.Status.Terminal() {
			return false
		}
	}
	return true
}

// ExecuteNext runs the next pending action of the plan. The first call
// on a ready plan starts it. Returns the action this step touched (nil
// when nothing was left to do), whether the plan is now terminal, and an
// error for invalid calls or context cancellation. Dependency handling
// and the critical-failure rule match ExecuteSequential.
func (m *Manager) ExecuteNext(ctx context.Context, planID string, exec ExecutorFunc) (*Action, bool, error) {
	m.mu.Lock()
	p := m.plans[planID]
	if p == nil {
		m.mu.Unlock()
		return nil, false, types.NewKindError(types.ErrInvalidInput, "plan.step",
			fmt.Sprintf("unknown plan %q", planID), nil)
	}
	switch p.Status {
	case PlanReady:
		p.Status = PlanRunning
		if p.StartedAt == nil {
			start := m.now().UTC()
			p.StartedAt = &start
		}
	case PlanRunning:
	default:
		terminal := p.Status.Terminal()
		m.mu.Unlock()
		return nil, terminal, types.NewKindError(types.ErrInvalidInput, "plan.step",
			fmt.Sprintf("plan %s is %s", planID, p.Status), nil)
	}

	if err := ctx.Err(); err != nil {
		m.haltLocked(p, PlanCancelled, "context cancelled")
		m.mu.Unlock()
		return nil, true, err
	}

	var a *Action
	for i, cand := range p.Actions {
		if cand.Status == ActionPending || cand.Status == ActionReady {
			a = cand
			p.CurrentActionIdx = i
			break
		}
	}
	if a == nil {
		m.mu.Unlock()
		m.finish(p)
		return nil, true, nil
	}

	if !p.depsSatisfied(a) {
		a.Status = ActionSkipped
		terminalNow := p.allTerminal()
		m.mu.Unlock()
		logging.PlanWarn("plan %s: action %s skipped, dependency unmet", p.ID, a.ID)
		if terminalNow {
			m.finish(p)
		}
		return a, terminalNow, nil
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
			return a, true, err
		}
		logging.PlanWarn("plan %s: action %s (%s) failed: %v", p.ID, a.ID, a.Type, err)
		if a.IsCritical {
			m.haltLocked(p, PlanFailedAction, fmt.Sprintf("critical action %s failed: %v", a.ID, err))
			m.mu.Unlock()
			return a, true, nil
		}
		terminalNow := p.allTerminal()
		m.mu.Unlock()
		if terminalNow {
			m.finish(p)
		}
		return a, terminalNow, nil
	}

	a.Status = ActionCompleted
	a.Result = result
	p.ActionResults[a.ID] = result
	terminalNow := p.allTerminal()
	m.mu.Unlock()
	if terminalNow {
		m.finish(p)
	}
	return a, terminalNow, nil
}

// Retry returns a failed, skipped, or cancelled action to pending and
// reopens the plan so the next step runs it again. Attempt counts are
// preserved; the delayed-retry recovery strategy builds on this.
func (m *Manager) Retry(planID, actionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.plans[planID]
	if p == nil {
		return types.NewKindError(types.ErrInvalidInput, "plan.retry",
			fmt.Sprintf("unknown plan %q", planID), nil)
	}
	a := p.actionByID(actionID)
	if a == nil {
		return types.NewKindError(types.ErrInvalidInput, "plan.retry",
			fmt.Sprintf("unknown action %q in plan %s", actionID, planID), nil)
	}
	if a.Status != ActionFailed && a.Status != ActionSkipped && a.Status != ActionCancelled {
		return types.NewKindError(types.ErrInvalidInput, "plan.retry",
			fmt.Sprintf("action %s is %s, not retryable", actionID, a.Status), nil)
	}
	m.reopenLocked(p, a)
	logging.Plan("plan %s: action %s queued for retry", planID, actionID)
	return nil
}

// RetargetAction swaps a failed action's type (alternative-tool
// recovery) and queues it for retry.
func (m *Manager) RetargetAction(planID, actionID, newType string) error {
	if newType == "" {
		return types.NewKindError(types.ErrInvalidInput, "plan.retarget", "new action type required", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.plans[planID]
	if p == nil {
		return types.NewKindError(types.ErrInvalidInput, "plan.retarget",
			fmt.Sprintf("unknown plan %q", planID), nil)
	}
	a := p.actionByID(actionID)
	if a == nil {
		return types.NewKindError(types.ErrInvalidInput, "plan.retarget",
			fmt.Sprintf("unknown action %q in plan %s", actionID, planID), nil)
	}
	if a.Status != ActionFailed {
		return types.NewKindError(types.ErrInvalidInput, "plan.retarget",
			fmt.Sprintf("action %s is %s, only failed actions can be retargeted", actionID, a.Status), nil)
	}
	old := a.Type
	a.Type = newType
	m.reopenLocked(p, a)
	logging.Plan("plan %s: action %s retargeted %s -> %s", planID, actionID, old, newType)
	return nil
}

// reopenLocked resets one action and returns the plan to ready.
func (m *Manager) reopenLocked(p *Plan, a *Action) {
	a.Status = ActionPending
	a.ErrorMessage = ""
	a.Result = nil
	a.CompletedAt = nil
	p.Status = PlanReady
	p.FailureReason = ""
	p.CompletedAt = nil
}
