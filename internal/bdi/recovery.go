package bdi

import (
	"context"
	"fmt"
	"time"

	"mastermind/internal/beliefs"
	"mastermind/internal/goals"
	"mastermind/internal/logging"
	"mastermind/internal/memory"
	"mastermind/internal/plan"
)

// recover applies one recovery round for a failure on goal g. The
// action is nil for planning failures. Returns true when the goal was
// closed out as failed; the caller decides whether that stops the run.
func (e *Executor) recover(ctx context.Context, g *goals.Goal, p *plan.Plan, a *plan.Action, cause error) bool {
	ft := classify(cause)
	failStatus := goals.StatusFailedExecution
	actionType := ""
	if a == nil {
		failStatus = goals.StatusFailedPlanning
	} else {
		actionType = a.Type
	}
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}

	e.recoveries[g.ID]++
	round := e.recoveries[g.ID]
	if round > e.cfg.MaxRecoveryAttempts {
		e.escalate(g, ft, actionType, "recovery budget exhausted: "+detail)
		e.abortGoal(g, p, failStatus, "aborted_gracefully: recovery budget exhausted")
		return true
	}

	strategy := e.lessons.Best(ft)
	logging.BDI("agent %s: recovery %d/%d on goal %s: %s -> %s",
		e.agentID, round, e.cfg.MaxRecoveryAttempts, g.ID, ft, strategy)
	if err := e.journal.Record(e.agentID, memory.KindRecovery,
		fmt.Sprintf("%s -> %s on goal %s", ft, strategy, g.ID),
		map[string]any{
			"goal_id":      g.ID,
			"failure_type": string(ft),
			"strategy":     string(strategy),
			"action_type":  actionType,
			"detail":       detail,
			"round":        round,
		}); err != nil {
		logging.BDIWarn("journal recovery: %v", err)
	}

	switch strategy {
	case RecoverRetryWithDelay:
		if err := e.sleep(ctx, time.Duration(e.cfg.RetryDelaySeconds)*time.Second); err != nil {
			return false
		}
		if a == nil || p == nil {
			// Planning failure: the next cycle replans from scratch.
			e.recordLesson(ft, strategy, actionType, true)
			return false
		}
		if err := e.plans.Retry(p.ID, a.ID); err != nil {
			logging.BDIWarn("retry of %s: %v", a.ID, err)
			e.recordLesson(ft, strategy, actionType, false)
			return false
		}
		e.pending[a.ID] = pendingLesson{ft, strategy, actionType}
		return false

	case RecoverAlternativeTool:
		if a == nil || p == nil {
			e.recordLesson(ft, strategy, actionType, false)
			return false
		}
		alt := e.alternativeFor(a)
		if alt == "" {
			e.recordLesson(ft, strategy, actionType, false)
			logging.BDIWarn("no alternative for %s; retrying as-is", a.Type)
			if err := e.plans.Retry(p.ID, a.ID); err != nil {
				logging.BDIWarn("retry of %s: %v", a.ID, err)
			}
			return false
		}
		if err := e.plans.RetargetAction(p.ID, a.ID, alt); err != nil {
			logging.BDIWarn("retarget of %s: %v", a.ID, err)
			e.recordLesson(ft, strategy, actionType, false)
			return false
		}
		e.pending[a.ID] = pendingLesson{ft, strategy, alt}
		return false

	case RecoverSimplifiedApproach:
		child, err := e.goalSet.Add("Simplified approach: "+g.Description, g.Priority,
			goals.WithParent(g.ID), goals.WithSource("recovery"),
			goals.WithMetadata(map[string]any{
				"original_goal":  g.ID,
				"failure_type":   string(ft),
				"failed_action":  actionType,
				"failure_detail": detail,
			}))
		if err != nil {
			e.recordLesson(ft, strategy, actionType, false)
			e.abortGoal(g, p, failStatus, "aborted_gracefully: could not create recovery goal: "+err.Error())
			return true
		}
		e.cancelLivePlan(p, "superseded by simplified approach")
		_ = e.goalSet.AddDependency(g.ID, child.ID)
		_ = e.goalSet.UpdateStatus(g.ID, goals.StatusPending, "")
		e.intentionID = ""
		e.recordLesson(ft, strategy, actionType, true)
		logging.BDI("agent %s: simplified goal %s for %s", e.agentID, child.ID, g.ID)
		return false

	case RecoverEscalate:
		e.escalate(g, ft, actionType, detail)
		e.closeGoal(g, p, failStatus, "escalated for strategic review")
		e.recordLesson(ft, strategy, actionType, true)
		return true

	case RecoverFallbackManual:
		manual, err := e.goalSet.Add("Manual intervention required: "+g.Description, 10,
			goals.WithSource("recovery_manual"),
			goals.WithMetadata(map[string]any{
				"original_goal": g.ID,
				"failure_type":  string(ft),
				"detail":        detail,
			}))
		if err != nil {
			e.recordLesson(ft, strategy, actionType, false)
			e.abortGoal(g, p, failStatus, "aborted_gracefully: could not create manual goal: "+err.Error())
			return true
		}
		_ = e.goalSet.UpdateStatus(manual.ID, goals.StatusPausedDependency, "awaiting human operator")
		e.cancelLivePlan(p, "paused for manual intervention")
		_ = e.goalSet.AddDependency(g.ID, manual.ID)
		_ = e.goalSet.UpdateStatus(g.ID, goals.StatusPending, "")
		e.intentionID = ""
		e.recordLesson(ft, strategy, actionType, true)
		logging.BDI("agent %s: manual goal %s gates %s", e.agentID, manual.ID, g.ID)
		return false

	case RecoverAbortGracefully:
		e.abortGoal(g, p, failStatus, "aborted_gracefully: "+detail)
		e.recordLesson(ft, strategy, actionType, true)
		return true
	}
	return false
}

// alternativeFor finds another enabled tool that could serve the failed
// action: its required parameters must all be present in the action's
// params, and it must require at least one so parameterless tools do
// not match everything.
func (e *Executor) alternativeFor(a *plan.Action) string {
	for _, m := range e.registry.List() {
		if m.ID == a.Type || len(m.RequiredParams) == 0 {
			continue
		}
		ok := true
		for _, req := range m.RequiredParams {
			if _, present := a.Params[req]; !present {
				ok = false
				break
			}
		}
		if ok {
			return m.ID
		}
	}
	return ""
}

// settlePending resolves deferred lessons whose action has reached a
// terminal state; the retried action's outcome is the lesson outcome.
func (e *Executor) settlePending(a *plan.Action) {
	if a == nil {
		return
	}
	pr, ok := e.pending[a.ID]
	if !ok || !a.Status.Terminal() {
		return
	}
	delete(e.pending, a.ID)
	e.recordLesson(pr.failure, pr.strategy, pr.actionType, a.Status == plan.ActionCompleted)
}

// recordLesson stores the outcome in the lessons table and journal.
func (e *Executor) recordLesson(ft FailureType, s RecoveryStrategy, actionType string, success bool) {
	e.lessons.Record(Lesson{
		AgentID:     e.agentID,
		FailureType: ft,
		Strategy:    s,
		ActionType:  actionType,
		Success:     success,
		Timestamp:   e.now().UTC(),
	})
	if err := e.journal.Record(e.agentID, memory.KindLesson,
		fmt.Sprintf("%s via %s: success=%t", ft, s, success),
		map[string]any{
			"failure_type": string(ft),
			"strategy":     string(s),
			"action_type":  actionType,
			"success":      success,
		}); err != nil {
		logging.BDIWarn("journal lesson: %v", err)
	}
	logging.BDIDebug("lesson: %s via %s success=%t (rate now %.2f)", ft, s, success, e.lessons.Rate(ft, s))
}

// escalate surfaces a failure to the strategic layer as a belief and,
// when the kernel is wired, an event.
func (e *Executor) escalate(g *goals.Goal, ft FailureType, actionType, detail string) {
	topic := "escalation.bdi_failure." + e.agentID
	payload := map[string]any{
		"goal_id":      g.ID,
		"goal":         g.Description,
		"failure_type": string(ft),
		"action_type":  actionType,
		"detail":       detail,
		"timestamp":    e.now().UTC().Format(time.RFC3339),
	}
	if err := e.beliefs.Add(topic, payload, 1.0, beliefs.SourceSelfAnalysis, time.Hour); err != nil {
		logging.BDIWarn("escalation belief: %v", err)
	}
	if e.kernel != nil {
		e.kernel.PublishEvent(topic, payload)
	}
	logging.BDIWarn("agent %s: escalated %s on goal %s", e.agentID, ft, g.ID)
}

// closeGoal marks g terminal, cancels any live plan, and releases the
// intention.
func (e *Executor) closeGoal(g *goals.Goal, p *plan.Plan, status goals.Status, reason string) {
	_ = e.goalSet.UpdateStatus(g.ID, status, reason)
	e.cancelLivePlan(p, reason)
	e.clearRecoveries(g.ID)
	if e.intentionID == g.ID {
		e.intentionID = ""
	}
}

// abortGoal closes the goal gracefully and leaves an aborted marker
// belief plus an event when the kernel is wired.
func (e *Executor) abortGoal(g *goals.Goal, p *plan.Plan, status goals.Status, reason string) {
	e.closeGoal(g, p, status, reason)
	topic := "goal.aborted." + g.ID
	payload := map[string]any{"goal": g.Description, "reason": reason}
	if err := e.beliefs.Add(topic, payload, 1.0, beliefs.SourceSelfAnalysis, 0); err != nil {
		logging.BDIWarn("abort belief: %v", err)
	}
	if e.kernel != nil {
		e.kernel.PublishEvent(topic, payload)
	}
	logging.BDI("agent %s: goal %s aborted: %s", e.agentID, g.ID, reason)
}

// cancelLivePlan cancels p when it has not already finished.
func (e *Executor) cancelLivePlan(p *plan.Plan, reason string) {
	if p == nil {
		return
	}
	if live := e.plans.Get(p.ID); live != nil && !live.Status.Terminal() {
		_ = e.plans.UpdateStatus(p.ID, plan.PlanCancelled, reason)
	}
}
