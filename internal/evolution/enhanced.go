package evolution

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"mastermind/internal/llm"
	"mastermind/internal/logging"
	"mastermind/internal/plan"
	"mastermind/internal/types"
)

// detailedVocabulary lists the executable action types a blueprint may
// be converted into. The set matches what the task executor can
// dispatch; the coordinator only validates and costs them.
var detailedVocabulary = []string{
	"ANALYZE_DATA", "SYNTHESIZE_INFO", "MAKE_DECISION",
	"READ_FILE", "WRITE_FILE", "LIST_DIRECTORY",
	"EXECUTE_SHELL", "CALL_TOOL",
	"UPDATE_BELIEF", "QUERY_BELIEFS", "NO_OP",
}

// cognitiveActions are the LLM-backed types, costed separately.
var cognitiveActions = map[string]bool{
	"ANALYZE_DATA":    true,
	"SYNTHESIZE_INFO": true,
	"MAKE_DECISION":   true,
}

// maxDetailedActions bounds a converted action sequence.
const maxDetailedActions = 25

// ValidationSummary is the structural and cost assessment of a
// converted action sequence.
type ValidationSummary struct {
	Valid             bool     `json:"valid"`
	ActionCount       int      `json:"action_count"`
	Issues            []string `json:"issues,omitempty"`
	EstimatedLLMCalls int      `json:"estimated_llm_calls"`
	EstimatedSeconds  float64  `json:"estimated_seconds"`
	SafetyFlags       []string `json:"safety_flags,omitempty"`
}

// converterPrompt asks for a detailed action sequence implementing the
// blueprint.
func converterPrompt(bp *Blueprint) string {
	var sb strings.Builder
	sb.WriteString("Convert this improvement blueprint into a concrete action sequence.\n\n")
	fmt.Fprintf(&sb, "Goal: %s\n", bp.Goal)
	fmt.Fprintf(&sb, "Target component: %s\n", bp.TargetComponent)
	if bp.Approach != "" {
		fmt.Fprintf(&sb, "Approach: %s\n", bp.Approach)
	}
	for _, obj := range bp.Objectives {
		fmt.Fprintf(&sb, "Objective: %s\n", obj)
	}
	sb.WriteString("\nAllowed action types: ")
	sb.WriteString(strings.Join(detailedVocabulary, ", "))
	sb.WriteString("\n\nRespond with ONLY a JSON array:\n")
	sb.WriteString(`[{"id": "step-1", "type": "READ_FILE", "params": {"path": "..."}, "depends_on": []}]`)
	return sb.String()
}

// convertBlueprint produces the detailed action sequence: through the
// wired converter when present, otherwise via the coordinator's own
// prompt.
func (c *Coordinator) convertBlueprint(ctx context.Context, bp *Blueprint) ([]plan.Descriptor, error) {
	if c.converter != nil {
		return c.converter.ConvertToActions(ctx, bp)
	}

	raw, err := c.llm.GenerateText(ctx, converterPrompt(bp), llm.WithJSONMode(), llm.WithTemperature(0))
	if err != nil {
		return nil, err
	}
	var items []struct {
		ID        string         `json:"id"`
		Type      string         `json:"type"`
		Params    map[string]any `json:"params"`
		DependsOn []string       `json:"depends_on"`
	}
	if uerr := json.Unmarshal([]byte(llm.ExtractJSON(raw)), &items); uerr != nil {
		return nil, types.NewKindError(types.ErrPlanValidation, "evolution.convert",
			fmt.Sprintf("could not parse action sequence: %v", uerr), uerr)
	}
	descs := make([]plan.Descriptor, 0, len(items))
	for _, item := range items {
		descs = append(descs, plan.Descriptor{
			ID:        item.ID,
			Type:      item.Type,
			Params:    item.Params,
			DependsOn: item.DependsOn,
		})
	}
	return descs, nil
}

// validateActionSequence checks a converted sequence structurally and
// estimates its cost and risk surface. It never rejects on cost alone.
func validateActionSequence(descs []plan.Descriptor) ValidationSummary {
	s := ValidationSummary{ActionCount: len(descs)}

	if len(descs) == 0 {
		s.Issues = append(s.Issues, "sequence contains no actions")
	}
	if len(descs) > maxDetailedActions {
		s.Issues = append(s.Issues, fmt.Sprintf("sequence has %d actions, limit is %d", len(descs), maxDetailedActions))
	}

	allowed := make(map[string]bool, len(detailedVocabulary))
	for _, t := range detailedVocabulary {
		allowed[t] = true
	}
	ids := make(map[string]bool, len(descs))
	for i, d := range descs {
		if d.Type == "" {
			s.Issues = append(s.Issues, fmt.Sprintf("action %d has no type", i))
			continue
		}
		if !allowed[d.Type] {
			s.Issues = append(s.Issues, fmt.Sprintf("action %d: %q is not an executable type", i, d.Type))
		}
		if d.ID != "" {
			if ids[d.ID] {
				s.Issues = append(s.Issues, fmt.Sprintf("duplicate action id %q", d.ID))
			}
			ids[d.ID] = true
		}

		switch {
		case cognitiveActions[d.Type]:
			s.EstimatedLLMCalls++
			s.EstimatedSeconds += 8
		case d.Type == "EXECUTE_SHELL":
			s.EstimatedSeconds += 10
			s.SafetyFlags = append(s.SafetyFlags, fmt.Sprintf("action %d runs shell command %v", i, d.Params["command"]))
		case d.Type == "CALL_TOOL":
			s.EstimatedSeconds += 5
			s.SafetyFlags = append(s.SafetyFlags, fmt.Sprintf("action %d dispatches tool %v", i, d.Params["tool_id"]))
		case d.Type == "WRITE_FILE":
			s.EstimatedSeconds += 1
			s.SafetyFlags = append(s.SafetyFlags, fmt.Sprintf("action %d writes file %v", i, d.Params["path"]))
		default:
			s.EstimatedSeconds += 2
		}
	}
	for _, d := range descs {
		for _, dep := range d.DependsOn {
			if !ids[dep] {
				s.Issues = append(s.Issues, fmt.Sprintf("action %q depends on unknown action %q", d.ID, dep))
			}
		}
	}

	s.Valid = len(s.Issues) == 0
	return s
}

// maxObjectiveItems caps per-campaign objective seeding into the
// backlog.
const maxObjectiveItems = 3

// seedBacklog registers the blueprint's work with the kernel
// improvement backlog: one headline item plus one per leading
// objective. Returns the touched backlog item ids.
func (c *Coordinator) seedBacklog(bp *Blueprint) []string {
	if c.kernel == nil {
		logging.EvolutionWarn("no kernel wired; enhanced campaign has nowhere to seed work")
		return nil
	}

	headline := bp.Summary
	if headline == "" {
		headline = bp.Goal
	}
	if bp.Approach != "" {
		headline += " Approach: " + bp.Approach
	}

	var ids []string
	if item, _ := c.kernel.AddBacklogItem(bp.TargetComponent, headline, 7, "sea_enhanced_campaign"); item != nil {
		ids = append(ids, item.ID)
	}
	for i, obj := range bp.Objectives {
		if i >= maxObjectiveItems {
			break
		}
		if item, _ := c.kernel.AddBacklogItem(bp.TargetComponent, "Objective: "+obj, 5, "sea_enhanced_campaign"); item != nil {
			ids = append(ids, item.ID)
		}
	}
	logging.Evolution("seeded %d backlog items for %s", len(ids), bp.TargetComponent)
	return ids
}

// RunEnhancedBlueprintCampaign designs a blueprint, converts it to a
// detailed action sequence, validates and costs the sequence, and
// seeds the kernel backlog with the work. Nothing is executed inline;
// the backlog owns downstream execution.
func (c *Coordinator) RunEnhancedBlueprintCampaign(ctx context.Context, goal string) (map[string]any, error) {
	timer := logging.StartTimer(logging.CategoryEvolution, "RunEnhancedBlueprintCampaign")
	defer timer.Stop()

	goal = strings.TrimSpace(goal)
	if goal == "" {
		return nil, types.NewKindError(types.ErrInvalidInput, "evolution.enhanced",
			"campaign goal must not be empty", nil)
	}
	runID := "run-" + uuid.New().String()[:8]
	logging.Evolution("agent %s starting enhanced blueprint campaign %s: %s", c.agentID, runID, goal)

	bp, err := c.buildBlueprint(ctx, goal)
	if err != nil {
		c.record(CampaignSummary{RunID: runID, Kind: KindEnhanced, Goal: goal,
			Status: StatusFailed, Message: fmt.Sprintf("blueprint failed: %v", err)})
		return nil, err
	}

	descs, err := c.convertBlueprint(ctx, bp)
	if err != nil {
		c.record(CampaignSummary{RunID: runID, Kind: KindEnhanced, Goal: goal,
			Status: StatusFailed, Message: fmt.Sprintf("conversion failed: %v", err),
			Data: map[string]any{"target": bp.TargetComponent}})
		return nil, err
	}

	summary := validateActionSequence(descs)
	data := map[string]any{
		"run_id":       runID,
		"agent_id":     c.agentID,
		"goal":         goal,
		"target":       bp.TargetComponent,
		"action_count": summary.ActionCount,
		"validation":   summary,
	}

	if !summary.Valid {
		msg := "action sequence rejected: " + strings.Join(summary.Issues, "; ")
		data["status"] = StatusFailed
		c.record(CampaignSummary{RunID: runID, Kind: KindEnhanced, Goal: goal,
			Status: StatusFailed, Message: msg,
			Data: map[string]any{"target": bp.TargetComponent, "issues": summary.Issues}})
		return data, types.NewKindError(types.ErrPlanValidation, "evolution.enhanced", msg, nil)
	}

	ids := c.seedBacklog(bp)
	data["status"] = StatusCompleted
	data["backlog_ids"] = ids
	msg := fmt.Sprintf("validated %d actions, seeded %d backlog items for %s",
		summary.ActionCount, len(ids), bp.TargetComponent)
	c.record(CampaignSummary{RunID: runID, Kind: KindEnhanced, Goal: goal,
		Status: StatusCompleted, Message: msg,
		Data: map[string]any{"target": bp.TargetComponent, "backlog_ids": ids}})
	logging.Evolution("campaign %s finished: %d actions validated", runID, summary.ActionCount)
	return data, nil
}
