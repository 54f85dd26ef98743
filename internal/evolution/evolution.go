// Package evolution implements the strategic evolution coordinator: an
// agent that runs self-improvement campaigns against the host system.
// Campaigns plan with a restricted strategic vocabulary under a hard
// safety doctrine (rollback before modification, validation after,
// rollback trigger on validation failure), checked independently by the
// policy analyzer. Execution of the actual improvement work is
// delegated outward: to a wired task executor when one exists,
// otherwise to the kernel improvement backlog.
package evolution

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"mastermind/internal/beliefs"
	"mastermind/internal/config"
	"mastermind/internal/kernel"
	"mastermind/internal/llm"
	"mastermind/internal/logging"
	"mastermind/internal/memory"
	"mastermind/internal/plan"
	"mastermind/internal/policy"
	"mastermind/internal/tools"
)

// Blueprint is the high-level improvement design a campaign works from.
type Blueprint struct {
	Goal            string    `json:"goal"`
	Summary         string    `json:"summary,omitempty"`
	TargetComponent string    `json:"target_component"`
	Approach        string    `json:"approach,omitempty"`
	Objectives      []string  `json:"objectives,omitempty"`
	Risks           []string  `json:"risks,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// BlueprintAgent designs a blueprint for an improvement goal. Wired by
// the outer agent; when absent the coordinator falls back to its own
// LLM prompt.
type BlueprintAgent interface {
	GenerateBlueprint(ctx context.Context, goal string) (*Blueprint, error)
}

// ActionConverter turns a blueprint into a detailed executable action
// sequence for the enhanced campaign.
type ActionConverter interface {
	ConvertToActions(ctx context.Context, bp *Blueprint) ([]plan.Descriptor, error)
}

// Auditor runs a system audit over a scope. When absent the coordinator
// audits with its own registry and telemetry tools.
type Auditor interface {
	RunAudit(ctx context.Context, scope string, targets []string) (*AuditReport, error)
}

// TaskExecutor carries out one formulated improvement task. When absent
// the coordinator defers execution to the kernel backlog.
type TaskExecutor interface {
	ExecuteTask(ctx context.Context, goal string) (map[string]any, error)
}

// Coordinator runs strategic evolution campaigns. It satisfies
// kernel.CampaignRunner so the kernel can launch campaigns without an
// import edge back to this package.
type Coordinator struct {
	agentID string
	cfg     *config.Config

	llm      llm.Handler
	beliefs  *beliefs.Store
	plans    *plan.Manager
	analyzer *policy.Analyzer
	registry *tools.Registry
	history  *History

	kernel  *kernel.Kernel
	journal *memory.Journal

	blueprints BlueprintAgent
	converter  ActionConverter
	auditor    Auditor
	executor   TaskExecutor

	now func() time.Time
}

var _ kernel.CampaignRunner = (*Coordinator)(nil)

// NewCoordinator builds a coordinator from the full configuration. A
// nil belief store gets a fresh one sized from the core limits; the
// tool registry is shared with the caller.
func NewCoordinator(cfg *config.Config, h llm.Handler, reg *tools.Registry, bs *beliefs.Store) *Coordinator {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if bs == nil {
		bs = beliefs.NewStoreWithLimit(cfg.CoreLimits.MaxBeliefs)
	}
	if reg == nil {
		reg = tools.NewRegistry()
	}
	historyPath := ""
	if cfg.DataDir != "" {
		historyPath = filepath.Join(cfg.DataDir, "campaign_history.json")
	}
	return &Coordinator{
		agentID:  "sea-" + uuid.New().String()[:8],
		cfg:      cfg,
		llm:      h,
		beliefs:  bs,
		plans:    plan.NewManager(),
		analyzer: policy.NewAnalyzer(),
		registry: reg,
		history:  NewHistory(historyPath),
		now:      time.Now,
	}
}

// AgentID returns the coordinator's agent identifier.
func (c *Coordinator) AgentID() string { return c.agentID }

// History returns the campaign history store.
func (c *Coordinator) History() *History { return c.history }

// Beliefs returns the belief store campaigns write through.
func (c *Coordinator) Beliefs() *beliefs.Store { return c.beliefs }

// Plans returns the plan manager strategic plans run on.
func (c *Coordinator) Plans() *plan.Manager { return c.plans }

// SetKernel gives the coordinator a lookup edge to the kernel for
// telemetry, backlog seeding, and event publication.
func (c *Coordinator) SetKernel(k *kernel.Kernel) { c.kernel = k }

// SetJournal wires the memory journal (nil stays a no-op).
func (c *Coordinator) SetJournal(j *memory.Journal) { c.journal = j }

// SetBlueprintAgent wires an external blueprint designer.
func (c *Coordinator) SetBlueprintAgent(a BlueprintAgent) { c.blueprints = a }

// SetConverter wires an external blueprint-to-actions converter.
func (c *Coordinator) SetConverter(cv ActionConverter) { c.converter = cv }

// SetAuditor wires an external auditor.
func (c *Coordinator) SetAuditor(a Auditor) { c.auditor = a }

// SetTaskExecutor wires an executor for formulated improvement tasks.
func (c *Coordinator) SetTaskExecutor(e TaskExecutor) { c.executor = e }

// blueprintPrompt asks for an improvement design as a single JSON
// object.
func blueprintPrompt(goal string) string {
	var sb strings.Builder
	sb.WriteString("You are the strategic planning module of a self-improving system. ")
	sb.WriteString("Design an improvement blueprint for this goal.\n\n")
	fmt.Fprintf(&sb, "Goal: %s\n\n", goal)
	sb.WriteString("Respond with ONLY a JSON object:\n")
	sb.WriteString(`{"summary": "...", "target_component": "...", "approach": "...", "objectives": ["..."], "risks": ["..."]}`)
	return sb.String()
}

// buildBlueprint produces the campaign blueprint: from the wired agent
// when present, otherwise from the coordinator's own prompt. The LLM
// fallback tolerates malformed output with a minimal blueprint; a wired
// agent's error fails the campaign.
func (c *Coordinator) buildBlueprint(ctx context.Context, goal string) (*Blueprint, error) {
	if c.blueprints != nil {
		bp, err := c.blueprints.GenerateBlueprint(ctx, goal)
		if err != nil {
			return nil, err
		}
		if bp == nil {
			bp = &Blueprint{Goal: goal}
		}
		c.normalizeBlueprint(bp, goal)
		return bp, nil
	}

	raw, err := c.llm.GenerateText(ctx, blueprintPrompt(goal), llm.WithJSONMode(), llm.WithTemperature(0))
	if err != nil {
		return nil, err
	}
	bp := &Blueprint{Goal: goal}
	var decoded struct {
		Summary         string   `json:"summary"`
		TargetComponent string   `json:"target_component"`
		Approach        string   `json:"approach"`
		Objectives      []string `json:"objectives"`
		Risks           []string `json:"risks"`
	}
	if uerr := json.Unmarshal([]byte(llm.ExtractJSON(raw)), &decoded); uerr != nil {
		logging.EvolutionWarn("blueprint response not parseable, using minimal blueprint: %v", uerr)
	} else {
		bp.Summary = decoded.Summary
		bp.TargetComponent = decoded.TargetComponent
		bp.Approach = decoded.Approach
		bp.Objectives = decoded.Objectives
		bp.Risks = decoded.Risks
	}
	c.normalizeBlueprint(bp, goal)
	return bp, nil
}

func (c *Coordinator) normalizeBlueprint(bp *Blueprint, goal string) {
	if bp.Goal == "" {
		bp.Goal = goal
	}
	if bp.TargetComponent == "" {
		bp.TargetComponent = "system"
	}
	if bp.Summary == "" {
		bp.Summary = goal
	}
	if bp.CreatedAt.IsZero() {
		bp.CreatedAt = c.now().UTC()
	}
}

// record persists a campaign summary to history, the memory journal,
// and the kernel event bus.
func (c *Coordinator) record(s CampaignSummary) {
	if s.AgentID == "" {
		s.AgentID = c.agentID
	}
	if s.Timestamp.IsZero() {
		s.Timestamp = c.now().UTC()
	}
	if c.history != nil {
		c.history.Append(s)
	}
	if c.journal != nil {
		summary := s.Message
		if summary == "" {
			summary = fmt.Sprintf("%s campaign %s %s", s.Kind, s.RunID, s.Status)
		}
		payload := map[string]any{"run_id": s.RunID, "kind": s.Kind, "status": s.Status}
		if s.Goal != "" {
			payload["goal"] = s.Goal
		}
		if err := c.journal.Record(c.agentID, memory.KindCampaign, summary, payload); err != nil {
			logging.EvolutionWarn("journal write failed: %v", err)
		}
	}
	if c.kernel != nil {
		c.kernel.PublishEvent("evolution.campaign_finished", map[string]any{
			"run_id": s.RunID,
			"kind":   s.Kind,
			"status": s.Status,
		})
	}
}
