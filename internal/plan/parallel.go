package plan

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/semaphore"

	"mastermind/internal/logging"
	"mastermind/internal/types"
)

// outcome is one finished action delivered back to the scheduler.
type outcome struct {
	action *Action
	result any
	err    error
}

// ExecuteParallel runs the plan's actions concurrently, bounded by
// maxConcurrent. An action starts once all its dependencies completed
// successfully and a worker slot is free; startable actions without a
// free slot are marked ready. Actions whose dependencies terminated
// without success are marked skipped_dependency. A failed critical
// action fails the plan, cancels the in-flight actions, and drains them
// before returning.
func (m *Manager) ExecuteParallel(ctx context.Context, planID string, exec ExecutorFunc, maxConcurrent int) error {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

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

	logging.Plan("plan %s: parallel run of %d actions, max %d in flight", p.ID, len(p.Actions), maxConcurrent)

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := semaphore.NewWeighted(int64(maxConcurrent))
	completions := make(chan outcome, len(p.Actions))
	inFlight := 0

	for {
		m.mu.Lock()
		// Actions that can never run are settled first so the loop
		// terminates even when a dependency chain collapses.
		for _, a := range p.Actions {
			if (a.Status == ActionPending || a.Status == ActionReady) && p.depsUnsatisfiable(a) {
				a.Status = ActionSkipped
				logging.PlanWarn("plan %s: action %s skipped, dependency unmet", p.ID, a.ID)
			}
		}

		halted := p.Status.Terminal()
		if !halted {
			for _, a := range p.Actions {
				if a.Status != ActionPending && a.Status != ActionReady {
					continue
				}
				if !p.depsSatisfied(a) {
					continue
				}
				if !sem.TryAcquire(1) {
					a.Status = ActionReady
					continue
				}
				a.Status = ActionRunning
				a.AttemptCount++
				st := m.now().UTC()
				a.StartedAt = &st
				a.Params = Resolve(a.Params, p.ActionResults)
				inFlight++
				go func(a *Action) {
					defer sem.Release(1)
					result, err := exec(runCtx, a)
					completions <- outcome{action: a, result: result, err: err}
				}(a)
			}
		}
		waiting := 0
		for _, a := range p.Actions {
			if a.Status == ActionPending || a.Status == ActionReady {
				waiting++
			}
		}
		m.mu.Unlock()

		if inFlight == 0 {
			if halted || waiting == 0 {
				break
			}
			// Nothing running and nothing startable: the remaining
			// actions wait on each other. The unsatisfiable sweep
			// should have settled them; fail loudly instead of
			// spinning.
			m.halt(p, PlanFailedAction, "no runnable actions remain")
			break
		}

		out := <-completions
		inFlight--

		m.mu.Lock()
		a := out.action
		done := m.now().UTC()
		a.CompletedAt = &done
		switch {
		case out.err != nil && (errors.Is(out.err, context.Canceled) || errors.Is(out.err, context.DeadlineExceeded)):
			a.Status = ActionCancelled
			a.ErrorMessage = out.err.Error()
			if !p.Status.Terminal() {
				m.haltLocked(p, PlanCancelled, "context cancelled")
			}
		case out.err != nil:
			a.Status = ActionFailed
			a.ErrorMessage = out.err.Error()
			logging.PlanWarn("plan %s: action %s (%s) failed: %v", p.ID, a.ID, a.Type, out.err)
			if a.IsCritical && !p.Status.Terminal() {
				m.haltLocked(p, PlanFailedAction, fmt.Sprintf("critical action %s failed: %v", a.ID, out.err))
				cancel()
			}
		default:
			a.Status = ActionCompleted
			a.Result = out.result
			p.ActionResults[a.ID] = out.result
		}
		m.mu.Unlock()
	}

	if err := ctx.Err(); err != nil {
		m.mu.Lock()
		if !p.Status.Terminal() {
			m.haltLocked(p, PlanCancelled, "context cancelled")
		}
		m.mu.Unlock()
		return err
	}

	m.finish(p)
	return nil
}
