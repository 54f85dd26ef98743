package bdi

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"mastermind/internal/beliefs"
	"mastermind/internal/llm"
	"mastermind/internal/plan"
	"mastermind/internal/tools"
	"mastermind/internal/types"
)

// internalAction is one entry of the built-in action vocabulary.
type internalAction struct {
	description string
	required    []string
	run         func(e *Executor, ctx context.Context, a *plan.Action) (any, error)
}

// internalActions is the built-in action table. File, directory and
// shell entries delegate to path-scoped tool instances held by the
// executor; cognitive entries wrap LLM calls over belief context.
var internalActions = map[string]internalAction{
	"NO_OP": {
		description: "Do nothing and report success",
		run: func(e *Executor, ctx context.Context, a *plan.Action) (any, error) {
			return "ok", nil
		},
	},
	"FAIL": {
		description: "Fail deliberately (recovery drills)",
		run: func(e *Executor, ctx context.Context, a *plan.Action) (any, error) {
			reason, _ := a.Params["reason"].(string)
			if reason == "" {
				reason = "deliberate failure"
			}
			return nil, types.NewKindError(types.ErrToolExecution, "bdi.fail", reason, nil)
		},
	},
	"UPDATE_BELIEF": {
		description: "Store a belief in the agent's belief store",
		required:    []string{"key", "value"},
		run: func(e *Executor, ctx context.Context, a *plan.Action) (any, error) {
			key, _ := a.Params["key"].(string)
			if key == "" {
				return nil, types.NewKindError(types.ErrInvalidInput, "bdi.update_belief",
					"key must be a non-empty string", nil)
			}
			confidence := 0.9
			if c, ok := asFloat(a.Params["confidence"]); ok {
				confidence = c
			}
			ttl := secondsParam(a.Params["ttl_seconds"])
			if err := e.beliefs.Add(key, a.Params["value"], confidence, beliefs.SourceDerivation, ttl); err != nil {
				return nil, types.NewKindError(types.ErrInvalidInput, "bdi.update_belief", err.Error(), err)
			}
			return map[string]any{"key": key}, nil
		},
	},
	"QUERY_BELIEFS": {
		description: "List beliefs matching a key prefix",
		run: func(e *Executor, ctx context.Context, a *plan.Action) (any, error) {
			prefix, _ := a.Params["prefix"].(string)
			found := e.beliefs.Query(prefix)
			sort.Slice(found, func(i, j int) bool { return found[i].Key < found[j].Key })
			out := make([]map[string]any, 0, len(found))
			for _, b := range found {
				out = append(out, map[string]any{
					"key":        b.Key,
					"value":      b.Value,
					"confidence": b.Confidence,
				})
			}
			return out, nil
		},
	},
	"ANALYZE_DATA": {
		description: "Analyze data with the LLM against current beliefs",
		required:    []string{"data"},
		run: func(e *Executor, ctx context.Context, a *plan.Action) (any, error) {
			data := fmt.Sprintf("%v", a.Params["data"])
			return e.cognitive(ctx,
				"Analyze the following data and summarize the key findings:\n\n"+data)
		},
	},
	"SYNTHESIZE_INFO": {
		description: "Synthesize what is known about a topic from beliefs and recent memory",
		required:    []string{"topic"},
		run: func(e *Executor, ctx context.Context, a *plan.Action) (any, error) {
			topic := fmt.Sprintf("%v", a.Params["topic"])
			task := "Synthesize a concise brief on: " + topic
			if recent := e.journalContext(); recent != "" {
				task += "\n\nRecent events:\n" + recent
			}
			return e.cognitive(ctx, task)
		},
	},
	"MAKE_DECISION": {
		description: "Decide between options and justify the choice",
		required:    []string{"question"},
		run: func(e *Executor, ctx context.Context, a *plan.Action) (any, error) {
			question := fmt.Sprintf("%v", a.Params["question"])
			task := "Make a decision and state it on the first line, reasoning after.\n\nQuestion: " + question
			if opts, ok := a.Params["options"]; ok {
				task += fmt.Sprintf("\nOptions: %v", opts)
			}
			return e.cognitive(ctx, task)
		},
	},
	"READ_FILE": {
		description: "Read a text file within the workspace",
		required:    []string{"path"},
		run: func(e *Executor, ctx context.Context, a *plan.Action) (any, error) {
			return e.runScopedTool(ctx, e.fileReader, a.Params)
		},
	},
	"WRITE_FILE": {
		description: "Write a text file within the workspace",
		required:    []string{"path", "content"},
		run: func(e *Executor, ctx context.Context, a *plan.Action) (any, error) {
			return e.runScopedTool(ctx, e.fileWriter, a.Params)
		},
	},
	"LIST_DIRECTORY": {
		description: "List directory entries within the workspace",
		run: func(e *Executor, ctx context.Context, a *plan.Action) (any, error) {
			return e.runScopedTool(ctx, e.dirLister, a.Params)
		},
	},
	"EXECUTE_SHELL": {
		description: "Run an allow-listed command in the workspace",
		required:    []string{"command"},
		run: func(e *Executor, ctx context.Context, a *plan.Action) (any, error) {
			return e.runScopedTool(ctx, e.shellRunner, a.Params)
		},
	},
	"CALL_TOOL": {
		description: "Invoke a registered tool by id",
		required:    []string{"tool_id"},
		run: func(e *Executor, ctx context.Context, a *plan.Action) (any, error) {
			id, _ := a.Params["tool_id"].(string)
			if id == "" {
				return nil, types.NewKindError(types.ErrInvalidInput, "bdi.call_tool",
					"tool_id must be a non-empty string", nil)
			}
			toolParams, _ := a.Params["tool_params"].(map[string]any)
			return e.dispatchTool(ctx, id, toolParams)
		},
	},
	"INVOKE_CAMPAIGN": {
		description: "Start an evolution campaign for a goal",
		required:    []string{"goal"},
		run: func(e *Executor, ctx context.Context, a *plan.Action) (any, error) {
			if e.campaigns == nil {
				return nil, types.NewKindError(types.ErrToolUnavailable, "bdi.invoke_campaign",
					"no campaign runner wired", nil)
			}
			goal := fmt.Sprintf("%v", a.Params["goal"])
			return e.campaigns.RunEvolutionCampaign(ctx, goal)
		},
	},
}

// internalActionNames returns the built-in vocabulary sorted by name.
func internalActionNames() []string {
	names := make([]string, 0, len(internalActions))
	for name := range internalActions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// cognitive runs one LLM call for a reasoning task with belief context
// attached.
func (e *Executor) cognitive(ctx context.Context, task string) (any, error) {
	prompt := task
	if block := e.beliefContext(); block != "" {
		prompt += "\n\nCurrent beliefs:\n" + block
	}
	out, err := e.llm.GenerateText(ctx, prompt, llm.WithMaxTokens(800))
	if err != nil {
		return nil, err
	}
	return strings.TrimSpace(out), nil
}

// beliefContext renders a bounded, stable slice of beliefs for prompts.
func (e *Executor) beliefContext() string {
	bs := e.beliefs.Query("")
	if len(bs) == 0 {
		return ""
	}
	sort.Slice(bs, func(i, j int) bool { return bs[i].Key < bs[j].Key })
	if len(bs) > 12 {
		bs = bs[:12]
	}
	var sb strings.Builder
	for _, b := range bs {
		fmt.Fprintf(&sb, "- %s = %v (confidence %.2f)\n", b.Key, b.Value, b.Confidence)
	}
	return sb.String()
}

// journalContext renders recent journal entries for prompts. Empty when
// no journal is wired.
func (e *Executor) journalContext() string {
	entries, err := e.journal.Recent(e.agentID, "", 5)
	if err != nil || len(entries) == 0 {
		return ""
	}
	var sb strings.Builder
	for _, entry := range entries {
		fmt.Fprintf(&sb, "- [%s] %s\n", entry.Kind, entry.Summary)
	}
	return sb.String()
}

// runScopedTool adapts the built-in tool contract to action dispatch.
func (e *Executor) runScopedTool(ctx context.Context, t *tools.Tool, params map[string]any) (any, error) {
	if missing := t.MissingParams(params); len(missing) > 0 {
		return nil, types.NewKindError(types.ErrInvalidInput, "bdi."+t.ID,
			fmt.Sprintf("missing required parameters: %s", strings.Join(missing, ", ")), nil)
	}
	ok, result := t.Execute(ctx, params)
	if !ok {
		return nil, toolFailure("bdi."+t.ID, result)
	}
	return result, nil
}

// dispatchTool runs a registry tool by id.
func (e *Executor) dispatchTool(ctx context.Context, id string, params map[string]any) (any, error) {
	t := e.registry.Get(id)
	if t == nil || !e.registry.Available(id) {
		return nil, types.NewKindError(types.ErrToolUnavailable, "bdi.tool",
			fmt.Sprintf("tool %s is not available", id), nil)
	}
	if missing := t.MissingParams(params); len(missing) > 0 {
		return nil, types.NewKindError(types.ErrInvalidInput, "bdi.tool",
			fmt.Sprintf("tool %s missing required parameters: %s", id, strings.Join(missing, ", ")), nil)
	}
	ok, result := e.registry.Dispatch(ctx, id, params)
	if !ok {
		return nil, toolFailure("bdi.tool."+id, result)
	}
	return result, nil
}

// toolFailure types a tool's failure reason so recovery can classify it.
func toolFailure(op string, result any) error {
	reason := fmt.Sprintf("%v", result)
	low := strings.ToLower(reason)
	kind := types.ErrToolExecution
	switch {
	case strings.Contains(low, "escapes base directory"),
		strings.Contains(low, "not allowed"),
		strings.Contains(low, "permission denied"),
		strings.Contains(low, "permission_denied"):
		kind = types.ErrPermissionDenied
	case strings.Contains(low, "empty command"),
		strings.Contains(low, "missing required"):
		kind = types.ErrInvalidInput
	}
	return types.NewKindError(kind, op, reason, nil)
}

// asFloat widens numeric parameter values.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// secondsParam reads an optional duration-in-seconds parameter.
func secondsParam(v any) time.Duration {
	if s, ok := asFloat(v); ok && s > 0 {
		return time.Duration(s * float64(time.Second))
	}
	return 0
}
