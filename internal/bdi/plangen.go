package bdi

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"mastermind/internal/goals"
	"mastermind/internal/llm"
	"mastermind/internal/logging"
	"mastermind/internal/plan"
	"mastermind/internal/types"
)

// manifestEntry describes one plannable action for the prompt.
type manifestEntry struct {
	Type        string
	Description string
	Required    []string
}

// actionManifest is the union of internal actions and enabled registry
// tools.
func (e *Executor) actionManifest() []manifestEntry {
	entries := make([]manifestEntry, 0, len(internalActions))
	for _, name := range internalActionNames() {
		ia := internalActions[name]
		entries = append(entries, manifestEntry{
			Type:        name,
			Description: ia.description,
			Required:    append([]string(nil), ia.required...),
		})
	}
	for _, m := range e.registry.List() {
		entries = append(entries, manifestEntry{
			Type:        m.ID,
			Description: m.Description,
			Required:    m.RequiredParams,
		})
	}
	return entries
}

// planExample is the one-shot output schema shown to the model.
const planExample = `[
  {"id": "step-1", "type": "READ_FILE", "params": {"path": "notes/input.txt"}},
  {"id": "step-2", "type": "ANALYZE_DATA", "params": {"data": "$action_result.step-1"}, "depends_on": ["step-1"]}
]`

// planPrompt builds the planning prompt: goal, resolved path context,
// action manifest, and the one-shot example.
func (e *Executor) planPrompt(g *goals.Goal) string {
	var sb strings.Builder
	sb.WriteString("You are the planning module of an autonomous agent. Produce a plan for this goal.\n\n")
	fmt.Fprintf(&sb, "Goal: %s\n", g.Description)

	if hints := e.hintsFor(g.Description); len(hints) > 0 {
		sb.WriteString("\nKnown paths:\n")
		for _, h := range hints {
			fmt.Fprintf(&sb, "- %s: %s\n", h.name, h.path)
		}
	}

	sb.WriteString("\nAvailable actions:\n")
	for _, m := range e.actionManifest() {
		fmt.Fprintf(&sb, "- %s: %s", m.Type, m.Description)
		if len(m.Required) > 0 {
			fmt.Fprintf(&sb, " (required params: %s)", strings.Join(m.Required, ", "))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("\nRespond with ONLY a JSON array of actions, for example:\n")
	sb.WriteString(planExample)
	sb.WriteString("\n\nEvery action needs a \"type\" from the list above and a \"params\" object ")
	sb.WriteString("containing all required parameters. Use \"$action_result.<id>\" to reference ")
	sb.WriteString("an earlier action's result.")
	return sb.String()
}

type pathHint struct{ name, path string }

// hintsFor returns hint entries whose logical name appears in the goal
// description, in stable order.
func (e *Executor) hintsFor(description string) []pathHint {
	if len(e.hints) == 0 {
		return nil
	}
	low := strings.ToLower(description)
	names := make([]string, 0, len(e.hints))
	for name := range e.hints {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []pathHint
	for _, name := range names {
		if strings.Contains(low, strings.ToLower(name)) {
			out = append(out, pathHint{name, e.hints[name]})
		}
	}
	return out
}

// generatePlan asks the LLM for a plan and validates it against the
// action manifest, re-prompting with the validation error until it
// passes or the repair budget runs out.
func (e *Executor) generatePlan(ctx context.Context, g *goals.Goal) ([]plan.Descriptor, error) {
	timer := logging.StartTimer(logging.CategoryBDI, "generatePlan")
	defer timer.Stop()

	known := make(map[string]manifestEntry)
	for _, m := range e.actionManifest() {
		known[m.Type] = m
	}

	base := e.planPrompt(g)
	prompt := base
	attempts := 1 + e.cfg.MaxRepairAttempts
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		raw, err := e.llm.GenerateText(ctx, prompt, llm.WithJSONMode(), llm.WithTemperature(0))
		if err != nil {
			return nil, err
		}
		descs, verr := parsePlan(llm.ExtractJSON(raw), known)
		if verr == nil {
			e.correctPaths(descs)
			logging.BDIDebug("plan for goal %s validated on attempt %d (%d actions)", g.ID, attempt, len(descs))
			return descs, nil
		}
		lastErr = verr
		logging.BDIWarn("plan attempt %d/%d for goal %s rejected: %v", attempt, attempts, g.ID, verr)
		prompt = fmt.Sprintf(
			"%s\n\nYour previous response was rejected: %v\n\nPrevious response:\n%s\n\nEmit ONLY the corrected JSON array.",
			base, verr, raw)
	}
	return nil, types.NewKindError(types.ErrPlanValidation, "bdi.plan",
		fmt.Sprintf("plan rejected after %d attempts: %v", attempts, lastErr), lastErr)
}

// planItem is the decoded shape of one generated action.
type planItem struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Params      map[string]any `json:"params"`
	Description string         `json:"description"`
	DependsOn   []string       `json:"depends_on"`
	Critical    *bool          `json:"is_critical"`
}

// parsePlan decodes and structurally validates generated plan JSON.
func parsePlan(text string, known map[string]manifestEntry) ([]plan.Descriptor, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("could not parse plan JSON: empty response")
	}
	var elems []json.RawMessage
	if err := json.Unmarshal([]byte(text), &elems); err != nil {
		var probe any
		if json.Unmarshal([]byte(text), &probe) != nil {
			return nil, fmt.Errorf("could not parse plan JSON: %v", err)
		}
		return nil, fmt.Errorf("plan must be a JSON array of actions")
	}
	if len(elems) == 0 {
		return nil, fmt.Errorf("plan must contain at least one action")
	}

	descs := make([]plan.Descriptor, 0, len(elems))
	for i, raw := range elems {
		var item planItem
		if err := json.Unmarshal(raw, &item); err != nil {
			return nil, fmt.Errorf("action %d is not an object: %v", i, err)
		}
		entry, ok := known[item.Type]
		if !ok {
			return nil, fmt.Errorf("action %d: unknown type %q", i, item.Type)
		}
		for _, req := range entry.Required {
			if _, present := item.Params[req]; !present {
				return nil, fmt.Errorf("action %d (%s): missing required parameter %q", i, item.Type, req)
			}
		}
		descs = append(descs, plan.Descriptor{
			ID:          item.ID,
			Type:        item.Type,
			Params:      item.Params,
			Description: item.Description,
			DependsOn:   item.DependsOn,
			Critical:    item.Critical,
		})
	}
	return descs, nil
}

// correctPaths rewrites placeholder and logical-name path params using
// the deterministic hint table before the plan is committed.
func (e *Executor) correctPaths(descs []plan.Descriptor) {
	if len(e.hints) == 0 {
		return
	}
	for _, d := range descs {
		for k, v := range d.Params {
			s, ok := v.(string)
			if !ok {
				continue
			}
			if rest, found := strings.CutPrefix(s, "path/to/"); found {
				if path, ok := e.hints[rest]; ok {
					d.Params[k] = path
					logging.BDIDebug("rewrote placeholder %q -> %q", s, path)
				}
				continue
			}
			if path, ok := e.hints[s]; ok {
				d.Params[k] = path
			}
		}
	}
}
