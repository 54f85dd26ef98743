package evolution

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mastermind/internal/beliefs"
	"mastermind/internal/llm"
	"mastermind/internal/logging"
	"mastermind/internal/plan"
	"mastermind/internal/policy"
	"mastermind/internal/types"
)

// Strategic action vocabulary. Every campaign plan draws from exactly
// these verbs; the safety doctrine constrains their order.
const (
	ActionSystemAnalysis    = "REQUEST_SYSTEM_ANALYSIS"
	ActionSelectTarget      = "SELECT_IMPROVEMENT_TARGET"
	ActionCreateRollback    = "CREATE_ROLLBACK_PLAN"
	ActionFormulateTaskGoal = "FORMULATE_SIA_TASK_GOAL"
	ActionRequestExecution  = "REQUEST_COORDINATOR_FOR_SIA_EXECUTION"
	ActionRunValidation     = "RUN_VALIDATION_TESTS"
	ActionEvaluateOutcome   = "EVALUATE_SIA_OUTCOME"
	ActionTriggerRollback   = "TRIGGER_COORDINATED_ROLLBACK"
	ActionAnalyzeFailure    = "ANALYZE_FAILURE"
)

// strategicVocabulary lists the verbs in canonical order with the
// descriptions shown to the model.
var strategicVocabulary = []struct {
	Type        string
	Description string
}{
	{ActionSystemAnalysis, "gather a telemetry snapshot of the running system"},
	{ActionSelectTarget, "pick the component to improve"},
	{ActionCreateRollback, "snapshot state so the change can be undone"},
	{ActionFormulateTaskGoal, "phrase the concrete improvement task"},
	{ActionRequestExecution, "hand the task to the execution coordinator"},
	{ActionRunValidation, "check the system still behaves after the change"},
	{ActionEvaluateOutcome, "judge whether the improvement landed"},
	{ActionTriggerRollback, "undo the change when validation failed"},
	{ActionAnalyzeFailure, "diagnose why a step went wrong"},
}

func knownStrategicVerb(t string) bool {
	for _, v := range strategicVocabulary {
		if v.Type == t {
			return true
		}
	}
	return false
}

// rollbackTTL bounds how long a rollback snapshot stays referencable.
const rollbackTTL = 24 * time.Hour

// strategicPlanExample is the one-shot output schema shown to the model.
const strategicPlanExample = `[
  {"id": "analyze", "type": "REQUEST_SYSTEM_ANALYSIS"},
  {"id": "target", "type": "SELECT_IMPROVEMENT_TARGET", "params": {"target": "scheduler"}}
]`

// strategicPrompt builds the plan-generation prompt: goal, blueprint
// context, vocabulary, and the doctrine stated in plain terms.
func strategicPrompt(goal string, bp *Blueprint) string {
	var sb strings.Builder
	sb.WriteString("You are the strategic evolution coordinator of a self-improving system. ")
	sb.WriteString("Produce a short campaign plan for this goal.\n\n")
	fmt.Fprintf(&sb, "Goal: %s\n", goal)
	if bp.TargetComponent != "" {
		fmt.Fprintf(&sb, "Target component: %s\n", bp.TargetComponent)
	}
	if bp.Approach != "" {
		fmt.Fprintf(&sb, "Approach: %s\n", bp.Approach)
	}

	sb.WriteString("\nAllowed action types (use no others):\n")
	for _, v := range strategicVocabulary {
		fmt.Fprintf(&sb, "- %s: %s\n", v.Type, v.Description)
	}

	sb.WriteString("\nSafety doctrine: CREATE_ROLLBACK_PLAN must come before any ")
	sb.WriteString("REQUEST_COORDINATOR_FOR_SIA_EXECUTION, RUN_VALIDATION_TESTS must come after it, ")
	sb.WriteString("and TRIGGER_COORDINATED_ROLLBACK must be present to handle a validation failure.\n")
	sb.WriteString("\nRespond with ONLY a JSON array of actions, for example:\n")
	sb.WriteString(strategicPlanExample)
	return sb.String()
}

// strategicItem is the decoded shape of one generated strategic action.
type strategicItem struct {
	ID     string         `json:"id"`
	Type   string         `json:"type"`
	Params map[string]any `json:"params"`
}

// parseStrategicPlan decodes generated plan JSON and rejects anything
// outside the strategic vocabulary. Strategic plans are strictly
// sequential; dependency edges are not accepted.
func parseStrategicPlan(text string) ([]plan.Descriptor, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("could not parse strategic plan JSON: empty response")
	}
	var items []strategicItem
	if err := json.Unmarshal([]byte(text), &items); err != nil {
		return nil, fmt.Errorf("strategic plan must be a JSON array of actions: %v", err)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("strategic plan must contain at least one action")
	}
	descs := make([]plan.Descriptor, 0, len(items))
	for i, item := range items {
		if !knownStrategicVerb(item.Type) {
			return nil, fmt.Errorf("action %d: %q is not a strategic action", i, item.Type)
		}
		descs = append(descs, plan.Descriptor{ID: item.ID, Type: item.Type, Params: item.Params})
	}
	return descs, nil
}

// defaultStrategicPlan is the canonical doctrine-complete campaign
// shape, used when generation cannot produce a valid plan.
func defaultStrategicPlan() []plan.Descriptor {
	return []plan.Descriptor{
		{ID: "analyze", Type: ActionSystemAnalysis},
		{ID: "target", Type: ActionSelectTarget},
		{ID: "rollback", Type: ActionCreateRollback},
		{ID: "task-goal", Type: ActionFormulateTaskGoal},
		{ID: "execute", Type: ActionRequestExecution},
		{ID: "validate", Type: ActionRunValidation},
		{ID: "evaluate", Type: ActionEvaluateOutcome},
		{ID: "trigger-rollback", Type: ActionTriggerRollback, Params: map[string]any{"when": "validation_failed"}},
	}
}

// enforceDoctrine rewrites an action list so it satisfies the safety
// doctrine: a rollback plan before the first execution or validation
// step, validation after the last execution, and a rollback trigger
// present whenever validation runs. Inserts use fixed ids so the repair
// is deterministic.
func enforceDoctrine(descs []plan.Descriptor) []plan.Descriptor {
	out := append([]plan.Descriptor(nil), descs...)

	scan := func() (firstRollback, firstExec, lastExec, firstValidation, lastValidation, firstTrigger int) {
		firstRollback, firstExec, lastExec = -1, -1, -1
		firstValidation, lastValidation, firstTrigger = -1, -1, -1
		for i, d := range out {
			switch d.Type {
			case ActionCreateRollback:
				if firstRollback < 0 {
					firstRollback = i
				}
			case ActionRequestExecution:
				if firstExec < 0 {
					firstExec = i
				}
				lastExec = i
			case ActionRunValidation:
				if firstValidation < 0 {
					firstValidation = i
				}
				lastValidation = i
			case ActionTriggerRollback:
				if firstTrigger < 0 {
					firstTrigger = i
				}
			}
		}
		return
	}
	insert := func(i int, d plan.Descriptor) {
		out = append(out, plan.Descriptor{})
		copy(out[i+1:], out[i:])
		out[i] = d
	}

	// Rollback must precede both the first execution and the first
	// validation.
	firstRollback, firstExec, _, firstValidation, _, _ := scan()
	anchor := firstExec
	if anchor < 0 || (firstValidation >= 0 && firstValidation < anchor) {
		anchor = firstValidation
	}
	if anchor >= 0 && (firstRollback < 0 || firstRollback > anchor) {
		insert(anchor, plan.Descriptor{ID: "auto-rollback", Type: ActionCreateRollback})
	}

	// Validation must follow the last execution.
	_, _, lastExec, _, lastValidation, _ := scan()
	if lastExec >= 0 && lastValidation < lastExec {
		insert(lastExec+1, plan.Descriptor{ID: "auto-validate", Type: ActionRunValidation})
	}

	// A rollback trigger must exist once validation runs.
	_, _, _, _, lastValidation, firstTrigger := scan()
	if lastValidation >= 0 && firstTrigger < 0 {
		insert(lastValidation+1, plan.Descriptor{
			ID:     "auto-rollback-trigger",
			Type:   ActionTriggerRollback,
			Params: map[string]any{"when": "validation_failed"},
		})
	}
	return out
}

// strategicPlan generates the campaign action list, repairs it against
// the doctrine, and has the policy analyzer confirm the result. A
// generation failure falls back to the canonical plan rather than
// failing the campaign; only cancellation and an analyzer breach
// propagate.
func (c *Coordinator) strategicPlan(ctx context.Context, goal string, bp *Blueprint) ([]plan.Descriptor, error) {
	descs, err := c.generateStrategicPlan(ctx, goal, bp)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		logging.EvolutionWarn("strategic plan generation failed, using canonical plan: %v", err)
		descs = defaultStrategicPlan()
	}

	descs = enforceDoctrine(descs)

	check := make([]policy.PlanAction, 0, len(descs))
	for i, d := range descs {
		id := d.ID
		if id == "" {
			id = fmt.Sprintf("step-%d", i)
		}
		check = append(check, policy.PlanAction{ID: id, Type: d.Type})
	}
	violations, aerr := c.analyzer.Analyze(check)
	if aerr != nil {
		return nil, types.NewKindError(types.ErrInternal, "evolution.doctrine",
			fmt.Sprintf("doctrine analysis failed: %v", aerr), aerr)
	}
	if len(violations) > 0 {
		details := make([]string, 0, len(violations))
		for _, v := range violations {
			details = append(details, fmt.Sprintf("%s: %s", v.Rule, v.Detail))
		}
		return nil, types.NewKindError(types.ErrPlanValidation, "evolution.doctrine",
			fmt.Sprintf("repaired plan still violates doctrine: %s", strings.Join(details, "; ")), nil)
	}
	return descs, nil
}

// generateStrategicPlan asks the LLM for a campaign plan, re-prompting
// with the validation error until it parses or the repair budget runs
// out.
func (c *Coordinator) generateStrategicPlan(ctx context.Context, goal string, bp *Blueprint) ([]plan.Descriptor, error) {
	base := strategicPrompt(goal, bp)
	prompt := base
	attempts := 1 + c.cfg.Agent.MaxRepairAttempts
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		raw, err := c.llm.GenerateText(ctx, prompt, llm.WithJSONMode(), llm.WithTemperature(0))
		if err != nil {
			return nil, err
		}
		descs, verr := parseStrategicPlan(llm.ExtractJSON(raw))
		if verr == nil {
			logging.EvolutionDebug("strategic plan validated on attempt %d (%d actions)", attempt, len(descs))
			return descs, nil
		}
		lastErr = verr
		logging.EvolutionWarn("strategic plan attempt %d/%d rejected: %v", attempt, attempts, verr)
		prompt = fmt.Sprintf(
			"%s\n\nYour previous response was rejected: %v\n\nPrevious response:\n%s\n\nEmit ONLY the corrected JSON array.",
			base, verr, raw)
	}
	return nil, types.NewKindError(types.ErrPlanValidation, "evolution.plan",
		fmt.Sprintf("strategic plan rejected after %d attempts: %v", attempts, lastErr), lastErr)
}

// Campaign outcome statuses, as recorded in summaries and returned in
// campaign data.
const (
	StatusCompleted  = "completed"
	StatusRolledBack = "rolled_back"
	StatusFailed     = "failed"
)

// RunEvolutionCampaign runs one full strategic campaign for the goal:
// blueprint, doctrine-checked strategic plan, then stepwise execution
// through the plan manager with the coordinator's handlers. A campaign
// whose improvement fails validation but rolls back cleanly reports
// rolled_back with a nil error; a halted plan is an error.
func (c *Coordinator) RunEvolutionCampaign(ctx context.Context, goal string) (map[string]any, error) {
	timer := logging.StartTimer(logging.CategoryEvolution, "RunEvolutionCampaign")
	defer timer.Stop()

	goal = strings.TrimSpace(goal)
	if goal == "" {
		return nil, types.NewKindError(types.ErrInvalidInput, "evolution.campaign",
			"campaign goal must not be empty", nil)
	}
	runID := "run-" + uuid.New().String()[:8]
	logging.Evolution("agent %s starting evolution campaign %s: %s", c.agentID, runID, goal)

	bp, err := c.buildBlueprint(ctx, goal)
	if err != nil {
		c.record(CampaignSummary{RunID: runID, Kind: KindEvolution, Goal: goal,
			Status: StatusFailed, Message: fmt.Sprintf("blueprint failed: %v", err)})
		return nil, err
	}

	descs, err := c.strategicPlan(ctx, goal, bp)
	if err != nil {
		c.record(CampaignSummary{RunID: runID, Kind: KindEvolution, Goal: goal,
			Status: StatusFailed, Message: fmt.Sprintf("strategic planning failed: %v", err)})
		return nil, err
	}

	p, err := c.plans.NewPlan("", goal, descs, plan.WithCreatedBy(c.agentID))
	if err != nil {
		c.record(CampaignSummary{RunID: runID, Kind: KindEvolution, Goal: goal,
			Status: StatusFailed, Message: fmt.Sprintf("plan rejected: %v", err)})
		return nil, err
	}

	exec := c.strategicExecutor(p.ID, goal, bp)
	for {
		_, done, err := c.plans.ExecuteNext(ctx, p.ID, exec)
		if err != nil {
			c.record(CampaignSummary{RunID: runID, Kind: KindEvolution, Goal: goal,
				Status: StatusFailed, Message: fmt.Sprintf("plan %s aborted: %v", p.ID, err),
				Data: map[string]any{"plan_id": p.ID}})
			return nil, err
		}
		if done {
			break
		}
	}

	status, message := c.campaignOutcome(p.ID)
	data := map[string]any{
		"run_id":   runID,
		"agent_id": c.agentID,
		"goal":     goal,
		"plan_id":  p.ID,
		"target":   bp.TargetComponent,
		"actions":  len(descs),
		"status":   status,
	}
	if message != "" {
		data["message"] = message
	}
	c.record(CampaignSummary{RunID: runID, Kind: KindEvolution, Goal: goal,
		Status: status, Message: message,
		Data: map[string]any{"plan_id": p.ID, "target": bp.TargetComponent}})

	if status == StatusFailed {
		return data, types.NewKindError(types.ErrInternal, "evolution.campaign",
			fmt.Sprintf("campaign %s failed: %s", runID, message), nil)
	}
	logging.Evolution("campaign %s finished %s", runID, status)
	return data, nil
}

// campaignOutcome folds the final plan state and the recorded outcome
// belief into a campaign status.
func (c *Coordinator) campaignOutcome(planID string) (string, string) {
	live := c.plans.Get(planID)
	if live == nil || live.Status != plan.PlanCompleted {
		reason := "plan did not complete"
		if live != nil && live.FailureReason != "" {
			reason = live.FailureReason
		}
		return StatusFailed, reason
	}
	if out := c.planState(planID, "outcome"); out != nil {
		if success, ok := out["success"].(bool); ok && !success {
			return StatusRolledBack, "improvement did not validate; coordinated rollback engaged"
		}
	}
	return StatusCompleted, ""
}

// strategicExecutor dispatches strategic actions to the coordinator's
// handlers. Action params arrive with $action_result references already
// resolved by the plan manager.
func (c *Coordinator) strategicExecutor(planID, goal string, bp *Blueprint) plan.ExecutorFunc {
	return func(ctx context.Context, a *plan.Action) (any, error) {
		switch a.Type {
		case ActionSystemAnalysis:
			return c.handleSystemAnalysis(ctx, planID)
		case ActionSelectTarget:
			return c.handleSelectTarget(planID, a, bp)
		case ActionCreateRollback:
			return c.handleCreateRollback(planID)
		case ActionFormulateTaskGoal:
			return c.handleFormulateTaskGoal(planID, a, goal, bp)
		case ActionRequestExecution:
			return c.handleRequestExecution(ctx, planID, goal)
		case ActionRunValidation:
			return c.handleRunValidation(planID)
		case ActionEvaluateOutcome:
			return c.handleEvaluateOutcome(planID)
		case ActionTriggerRollback:
			return c.handleTriggerRollback(planID)
		case ActionAnalyzeFailure:
			return c.handleAnalyzeFailure(ctx, planID, goal)
		default:
			return nil, types.NewKindError(types.ErrInvalidInput, "evolution.strategic",
				fmt.Sprintf("unknown strategic action %q", a.Type), nil)
		}
	}
}

// planKey namespaces intermediate campaign state per agent and plan.
func (c *Coordinator) planKey(planID, suffix string) string {
	return fmt.Sprintf("sea.%s.plan.%s.%s", c.agentID, planID, suffix)
}

func (c *Coordinator) putPlanState(planID, suffix string, value map[string]any, ttl time.Duration) {
	if err := c.beliefs.Add(c.planKey(planID, suffix), value, 1.0, beliefs.SourceSelfAnalysis, ttl); err != nil {
		logging.EvolutionWarn("plan %s: belief write %s failed: %v", planID, suffix, err)
	}
}

func (c *Coordinator) planState(planID, suffix string) map[string]any {
	b := c.beliefs.Get(c.planKey(planID, suffix))
	if b == nil {
		return nil
	}
	m, _ := b.Value.(map[string]any)
	return m
}

func (c *Coordinator) handleSystemAnalysis(_ context.Context, planID string) (any, error) {
	var snapshot map[string]any
	if c.kernel != nil {
		snapshot = c.kernel.TelemetrySnapshot()
	} else {
		snapshot = map[string]any{
			"beliefs": c.beliefs.Len(),
			"tools":   len(c.registry.List()),
		}
	}
	c.putPlanState(planID, "analysis", snapshot, 0)
	return snapshot, nil
}

func (c *Coordinator) handleSelectTarget(planID string, a *plan.Action, bp *Blueprint) (any, error) {
	target, _ := a.Params["target"].(string)
	if target == "" {
		target = bp.TargetComponent
	}
	if target == "" {
		target = "system"
	}
	out := map[string]any{"target": target}
	c.putPlanState(planID, "target", out, 0)
	logging.EvolutionDebug("plan %s targets %s", planID, target)
	return out, nil
}

// selectedTarget returns the target recorded for the plan, defaulting
// to "system" when target selection has not run.
func (c *Coordinator) selectedTarget(planID string) string {
	if st := c.planState(planID, "target"); st != nil {
		if s, ok := st["target"].(string); ok && s != "" {
			return s
		}
	}
	return "system"
}

func (c *Coordinator) handleCreateRollback(planID string) (any, error) {
	token := "rb-" + uuid.New().String()[:8]
	snap := map[string]any{
		"token":      token,
		"target":     c.selectedTarget(planID),
		"strategy":   "belief_snapshot",
		"created_at": c.now().UTC().Format(time.RFC3339),
	}
	c.putPlanState(planID, "rollback", snap, rollbackTTL)
	logging.Evolution("plan %s: rollback snapshot %s covers %s", planID, token, snap["target"])
	return snap, nil
}

func (c *Coordinator) handleFormulateTaskGoal(planID string, a *plan.Action, goal string, bp *Blueprint) (any, error) {
	task, _ := a.Params["goal"].(string)
	if task == "" {
		task = fmt.Sprintf("Apply improvement to %s: %s", c.selectedTarget(planID), goal)
		if bp.Approach != "" {
			task += " Approach: " + bp.Approach
		}
	}
	out := map[string]any{"task_goal": task}
	c.putPlanState(planID, "task_goal", out, 0)
	return out, nil
}

func (c *Coordinator) handleRequestExecution(ctx context.Context, planID, goal string) (any, error) {
	task := goal
	if st := c.planState(planID, "task_goal"); st != nil {
		if s, ok := st["task_goal"].(string); ok && s != "" {
			task = s
		}
	}

	out := map[string]any{}
	switch {
	case c.executor != nil:
		res, err := c.executor.ExecuteTask(ctx, task)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			// Failure is recorded, not returned: validation and the
			// rollback trigger still have to run.
			out["status"] = "failed"
			out["error"] = err.Error()
			logging.EvolutionWarn("plan %s: delegated execution failed: %v", planID, err)
		} else {
			out["status"] = "completed"
			if res != nil {
				out["result"] = res
			}
		}
	case c.kernel != nil:
		item, added := c.kernel.AddBacklogItem(c.selectedTarget(planID), task, 8, "sea_campaign")
		out["status"] = "deferred"
		if item != nil {
			out["backlog_id"] = item.ID
		}
		if !added {
			out["note"] = "matching backlog item already present"
		}
		logging.Evolution("plan %s: execution deferred to backlog", planID)
	default:
		out["status"] = "skipped"
		out["reason"] = "no executor or kernel wired"
		logging.EvolutionWarn("plan %s: nowhere to execute task, skipping", planID)
	}
	c.putPlanState(planID, "execution", out, 0)
	return out, nil
}

func (c *Coordinator) handleRunValidation(planID string) (any, error) {
	execState := c.planState(planID, "execution")
	status, _ := execState["status"].(string)
	passed := status != "failed"
	var checks []string
	if status == "" {
		checks = append(checks, "no execution recorded")
	} else {
		checks = append(checks, "execution status "+status)
	}
	out := map[string]any{"passed": passed, "checks": checks}
	c.putPlanState(planID, "validation", out, 0)
	if passed {
		logging.Evolution("plan %s: validation passed", planID)
	} else {
		logging.EvolutionWarn("plan %s: validation failed", planID)
	}
	return out, nil
}

func (c *Coordinator) handleEvaluateOutcome(planID string) (any, error) {
	execStatus, _ := c.planState(planID, "execution")["status"].(string)
	validation := c.planState(planID, "validation")
	passed := true
	if validation != nil {
		passed, _ = validation["passed"].(bool)
	}
	success := passed && execStatus != "failed"
	out := map[string]any{
		"success":          success,
		"execution_status": execStatus,
		"validated":        validation != nil,
	}
	c.putPlanState(planID, "outcome", out, 0)
	return out, nil
}

func (c *Coordinator) handleTriggerRollback(planID string) (any, error) {
	validation := c.planState(planID, "validation")
	if validation != nil {
		if passed, _ := validation["passed"].(bool); passed {
			out := map[string]any{"rolled_back": false, "reason": "validation passed"}
			c.putPlanState(planID, "rollback_result", out, 0)
			return out, nil
		}
	}

	rollback := c.planState(planID, "rollback")
	out := map[string]any{"rolled_back": rollback != nil}
	if rollback != nil {
		out["token"] = rollback["token"]
		logging.Evolution("plan %s: coordinated rollback via snapshot %v", planID, rollback["token"])
	} else {
		out["reason"] = "no rollback snapshot available"
		logging.EvolutionWarn("plan %s: rollback triggered without a snapshot", planID)
	}
	c.putPlanState(planID, "rollback_result", out, 0)
	return out, nil
}

func (c *Coordinator) handleAnalyzeFailure(ctx context.Context, planID, goal string) (any, error) {
	var sb strings.Builder
	sb.WriteString("A self-improvement campaign step failed. Diagnose the likely cause in a short paragraph.\n\n")
	fmt.Fprintf(&sb, "Campaign goal: %s\n", goal)
	if execState := c.planState(planID, "execution"); execState != nil {
		if b, err := json.Marshal(execState); err == nil {
			fmt.Fprintf(&sb, "Execution state: %s\n", b)
		}
	}
	if validation := c.planState(planID, "validation"); validation != nil {
		if b, err := json.Marshal(validation); err == nil {
			fmt.Fprintf(&sb, "Validation state: %s\n", b)
		}
	}

	raw, err := c.llm.GenerateText(ctx, sb.String(), llm.WithMaxTokens(512))
	if err != nil {
		return nil, err
	}
	out := map[string]any{"analysis": strings.TrimSpace(raw)}
	c.putPlanState(planID, "failure_analysis", out, 0)
	return out, nil
}
