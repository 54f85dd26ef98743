// Package bdi implements the belief-desire-intention executor: an agent
// loop that turns goals into LLM-generated plans, dispatches actions
// against an internal action table and the tool registry, and recovers
// from failures with a strategy table tuned by recorded lessons.
package bdi

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"mastermind/internal/beliefs"
	"mastermind/internal/config"
	"mastermind/internal/goals"
	"mastermind/internal/kernel"
	"mastermind/internal/llm"
	"mastermind/internal/logging"
	"mastermind/internal/memory"
	"mastermind/internal/plan"
	"mastermind/internal/tools"
	"mastermind/internal/types"
)

// Executor is a BDI agent: beliefs about the world, desires as a goal
// set, intentions as committed plans. One Run call drives the loop.
// Configure before the first Run; the executor is not safe for
// concurrent Run calls.
type Executor struct {
	agentID string
	cfg     config.AgentConfig

	beliefs   *beliefs.Store
	goalSet   *goals.Set
	plans     *plan.Manager
	llm       llm.Handler
	registry  *tools.Registry
	lessons   *LessonStore
	journal   *memory.Journal
	kernel    *kernel.Kernel
	campaigns kernel.CampaignRunner

	fileReader  *tools.Tool
	fileWriter  *tools.Tool
	dirLister   *tools.Tool
	shellRunner *tools.Tool

	hints map[string]string

	intentionID string
	recoveries  map[string]int
	pending     map[string]pendingLesson

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// pendingLesson is a deferred recovery outcome, settled when the
// retried action reaches a terminal state.
type pendingLesson struct {
	failure    FailureType
	strategy   RecoveryStrategy
	actionType string
}

// NewExecutor builds an executor from the full configuration. A nil
// belief store gets a fresh one sized from the core limits; the tool
// registry is shared with the caller.
func NewExecutor(agentID string, cfg *config.Config, h llm.Handler, reg *tools.Registry, bs *beliefs.Store) *Executor {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if agentID == "" {
		agentID = "bdi-" + uuid.New().String()[:8]
	}
	if bs == nil {
		bs = beliefs.NewStoreWithLimit(cfg.CoreLimits.MaxBeliefs)
	}
	if reg == nil {
		reg = tools.NewRegistry()
	}
	lessonsPath := ""
	if cfg.DataDir != "" {
		lessonsPath = filepath.Join(cfg.DataDir, "lessons.json")
	}
	return &Executor{
		agentID:     agentID,
		cfg:         cfg.Agent,
		beliefs:     bs,
		goalSet:     goals.NewSetWithLimit(cfg.CoreLimits.MaxGoals),
		plans:       plan.NewManager(),
		llm:         h,
		registry:    reg,
		lessons:     NewLessonStore(lessonsPath, cfg.Agent.SuccessRateAlpha),
		fileReader:  tools.NewFileReader(cfg.Execution.BaseDir),
		fileWriter:  tools.NewFileWriter(cfg.Execution.BaseDir),
		dirLister:   tools.NewDirectoryLister(cfg.Execution.BaseDir),
		shellRunner: tools.NewShellRunner(cfg.Execution),
		hints:       make(map[string]string),
		recoveries:  make(map[string]int),
		pending:     make(map[string]pendingLesson),
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

// SetJournal wires the memory journal (nil stays a no-op).
func (e *Executor) SetJournal(j *memory.Journal) { e.journal = j }

// SetKernel gives the executor a lookup edge to the kernel for event
// publication. Never an ownership edge.
func (e *Executor) SetKernel(k *kernel.Kernel) { e.kernel = k }

// SetCampaignRunner enables the INVOKE_CAMPAIGN action.
func (e *Executor) SetCampaignRunner(r kernel.CampaignRunner) { e.campaigns = r }

// SetPathHint maps a logical component name to a concrete path for plan
// post-processing and prompt augmentation.
func (e *Executor) SetPathHint(name, path string) {
	if name == "" || path == "" {
		return
	}
	e.hints[name] = path
}

// AgentID returns the executor's agent id.
func (e *Executor) AgentID() string { return e.agentID }

// Beliefs exposes the belief store.
func (e *Executor) Beliefs() *beliefs.Store { return e.beliefs }

// Goals exposes the goal set.
func (e *Executor) Goals() *goals.Set { return e.goalSet }

// Plans exposes the plan manager.
func (e *Executor) Plans() *plan.Manager { return e.plans }

// Lessons exposes the recovery lessons store.
func (e *Executor) Lessons() *LessonStore { return e.lessons }

// AddGoal seeds a goal into the executor's desire set.
func (e *Executor) AddGoal(description string, priority int, opts ...goals.GoalOption) (*goals.Goal, error) {
	return e.goalSet.Add(description, priority, opts...)
}

// RunResult summarizes one reasoning run.
type RunResult struct {
	Cycles         int    `json:"cycles"`
	GoalsCompleted int    `json:"goals_completed"`
	GoalsFailed    int    `json:"goals_failed"`
	StopReason     string `json:"stop_reason"`
}

// Stop reasons reported by Run.
const (
	StopNoActionableGoals = "no_actionable_goals"
	StopPrimaryComplete   = "primary_goal_complete"
	StopCycleBudget       = "cycle_budget_exhausted"
	StopCancelled         = "cancelled"
	StopNonRecoverable    = "non_recoverable_failure"
)

// Run drives perceive-deliberate-plan-act-learn cycles until no goal is
// actionable, the primary goal finishes, recovery gives up on the
// primary goal, or the cycle budget runs out. External input is folded
// into environment.* beliefs on the first cycle. The primary goal is
// the first one selected.
func (e *Executor) Run(ctx context.Context, input map[string]any) (*RunResult, error) {
	timer := logging.StartTimer(logging.CategoryBDI, "Run")
	defer timer.Stop()

	res := &RunResult{}
	primaryID := ""
	logging.BDI("agent %s: run started with %d goals (budget %d cycles)",
		e.agentID, e.goalSet.Len(), e.cfg.MaxCycles)

	for res.Cycles < e.cfg.MaxCycles {
		if err := ctx.Err(); err != nil {
			res.StopReason = StopCancelled
			return res, err
		}
		res.Cycles++

		// Perceive.
		e.perceive(input)
		input = nil

		// Deliberate.
		g := e.intention()
		if g == nil {
			g = e.goalSet.NextActionable()
			if g == nil {
				res.StopReason = StopNoActionableGoals
				break
			}
			_ = e.goalSet.UpdateStatus(g.ID, goals.StatusActive, "")
			e.intentionID = g.ID
			if primaryID == "" {
				primaryID = g.ID
			}
			logging.BDIDebug("agent %s: intention %s (%s)", e.agentID, g.ID, g.Description)
		}

		// Plan.
		p, err := e.ensurePlan(ctx, g)
		if err != nil {
			if ctx.Err() != nil {
				res.StopReason = StopCancelled
				return res, ctx.Err()
			}
			if failed := e.recover(ctx, g, nil, nil, err); failed {
				res.GoalsFailed++
				if g.ID == primaryID {
					res.StopReason = StopNonRecoverable
					break
				}
			}
			continue
		}

		// Act.
		var execErr error
		wrapped := func(c context.Context, a *plan.Action) (any, error) {
			v, err := e.dispatch(c, a)
			execErr = err
			return v, err
		}
		action, terminal, stepErr := e.plans.ExecuteNext(ctx, p.ID, wrapped)

		// Learn.
		e.settlePending(action)

		if stepErr != nil {
			if ctx.Err() != nil {
				res.StopReason = StopCancelled
				return res, stepErr
			}
			logging.BDIWarn("agent %s: step on plan %s: %v", e.agentID, p.ID, stepErr)
			continue
		}

		if action != nil && action.Status == plan.ActionFailed {
			if failed := e.recover(ctx, g, p, action, execErr); failed {
				res.GoalsFailed++
				if g.ID == primaryID {
					res.StopReason = StopNonRecoverable
					break
				}
			}
			continue
		}

		if terminal {
			e.settleGoal(res, g.ID, p)
			if g.ID == primaryID {
				if pg, ok := e.goalSet.Get(primaryID); ok && pg.Status.Terminal() {
					if pg.Status == goals.StatusCompletedSuccess || pg.Status == goals.StatusCompletedNoAction {
						res.StopReason = StopPrimaryComplete
					} else {
						res.StopReason = StopNonRecoverable
					}
					break
				}
			}
		}
	}

	if res.StopReason == "" {
		res.StopReason = StopCycleBudget
	}
	logging.BDI("agent %s: run stopped after %d cycles (%s): %d completed, %d failed",
		e.agentID, res.Cycles, res.StopReason, res.GoalsCompleted, res.GoalsFailed)
	return res, nil
}

// perceive folds external input into environment beliefs and drops
// ready plans whose action types are no longer available.
func (e *Executor) perceive(input map[string]any) {
	for k, v := range input {
		if err := e.beliefs.Add("environment."+k, v, 1.0, beliefs.SourcePerception, 0); err != nil {
			logging.BDIWarn("belief environment.%s rejected: %v", k, err)
		}
	}

	if e.intentionID == "" {
		return
	}
	g, ok := e.goalSet.Get(e.intentionID)
	if !ok || g.PlanID == "" {
		return
	}
	p := e.plans.Get(g.PlanID)
	if p == nil || p.Status != plan.PlanReady {
		return
	}
	for _, a := range p.Actions {
		if !e.resolvable(a.Type) {
			_ = e.plans.UpdateStatus(p.ID, plan.PlanFailedValidation,
				fmt.Sprintf("action type %s no longer available", a.Type))
			logging.BDIWarn("plan %s invalidated: %s unavailable", p.ID, a.Type)
			return
		}
	}
}

// resolvable reports whether an action type has a handler right now.
func (e *Executor) resolvable(actionType string) bool {
	if _, ok := internalActions[actionType]; ok {
		return true
	}
	return e.registry.Available(actionType)
}

// intention returns the goal currently being pursued, if still active.
func (e *Executor) intention() *goals.Goal {
	if e.intentionID == "" {
		return nil
	}
	g, ok := e.goalSet.Get(e.intentionID)
	if !ok || g.Status != goals.StatusActive {
		e.intentionID = ""
		return nil
	}
	return g
}

// ensurePlan returns a runnable plan for the goal, reusing a live one
// or generating and committing a fresh plan.
func (e *Executor) ensurePlan(ctx context.Context, g *goals.Goal) (*plan.Plan, error) {
	if g.PlanID != "" {
		if p := e.plans.Get(g.PlanID); p != nil {
			switch p.Status {
			case plan.PlanReady, plan.PlanRunning:
				return p, nil
			}
		}
	}

	descs, err := e.generatePlan(ctx, g)
	if err != nil {
		return nil, err
	}
	p, err := e.plans.NewPlan(g.ID, g.Description, descs, plan.WithCreatedBy(e.agentID))
	if err != nil {
		return nil, err
	}
	_ = e.goalSet.SetPlan(g.ID, p.ID)
	_, _ = e.goalSet.IncrementAttempts(g.ID)
	logging.BDI("agent %s: plan %s (%d actions) for goal %s", e.agentID, p.ID, len(p.Actions), g.ID)
	return p, nil
}

// dispatch routes one action to its handler: internal table first, then
// the tool registry.
func (e *Executor) dispatch(ctx context.Context, a *plan.Action) (any, error) {
	timer := logging.StartTimer(logging.CategoryBDI, "action."+a.Type)
	defer timer.Stop()

	if ia, ok := internalActions[a.Type]; ok {
		for _, req := range ia.required {
			if _, present := a.Params[req]; !present {
				return nil, types.NewKindError(types.ErrInvalidInput, "bdi.action",
					fmt.Sprintf("%s missing required parameter %q", a.Type, req), nil)
			}
		}
		return ia.run(e, ctx, a)
	}
	if e.registry.Has(a.Type) {
		return e.dispatchTool(ctx, a.Type, a.Params)
	}
	return nil, types.NewKindError(types.ErrToolUnavailable, "bdi.action",
		fmt.Sprintf("no handler or tool for action type %q", a.Type), nil)
}

// settleGoal folds a finished plan into its goal's status.
func (e *Executor) settleGoal(res *RunResult, goalID string, p *plan.Plan) {
	live := e.plans.Get(p.ID)
	if live == nil || !live.Status.Terminal() {
		return
	}
	switch live.Status {
	case plan.PlanCompleted:
		_ = e.goalSet.UpdateStatus(goalID, goals.StatusCompletedSuccess, "")
		res.GoalsCompleted++
		logging.BDI("agent %s: goal %s completed", e.agentID, goalID)
	case plan.PlanCancelled:
		_ = e.goalSet.UpdateStatus(goalID, goals.StatusCancelled, live.FailureReason)
	default:
		_ = e.goalSet.UpdateStatus(goalID, goals.StatusFailedExecution, live.FailureReason)
		res.GoalsFailed++
		logging.BDIWarn("agent %s: goal %s failed: %s", e.agentID, goalID, live.FailureReason)
	}
	e.clearRecoveries(goalID)
	if e.intentionID == goalID {
		e.intentionID = ""
	}
}

func (e *Executor) clearRecoveries(goalID string) {
	delete(e.recoveries, goalID)
}

// sleepCtx waits for d unless the context ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
