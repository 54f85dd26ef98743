package kernel

import (
	"context"
	"fmt"
	"strings"

	"mastermind/internal/logging"
	"mastermind/internal/types"
)

// handleQuery answers free-form questions through the LLM dispatch
// stack. Light work: bypasses the heavy-task semaphore.
func (k *Kernel) handleQuery(ctx context.Context, inter *Interaction) (any, error) {
	if strings.TrimSpace(inter.Content) == "" {
		return nil, types.NewKindError(types.ErrInvalidInput, "kernel.query", "empty query", nil)
	}
	k.mu.Lock()
	h := k.llm
	k.mu.Unlock()
	if h == nil {
		return nil, types.NewKindError(types.ErrLLM, "kernel.query", "no llm handler configured", nil)
	}
	k.llmCalls.Add(1)
	text, err := h.GenerateText(ctx, inter.Content)
	if err != nil {
		k.llmErrors.Add(1)
		return nil, err
	}
	return text, nil
}

// handleSystemAnalysis returns the telemetry snapshot. Light work.
func (k *Kernel) handleSystemAnalysis(ctx context.Context, inter *Interaction) (any, error) {
	return k.TelemetrySnapshot(), nil
}

// handlePublishEvent relays a bus event described by the interaction
// metadata: topic (string, required) and data (map, optional).
func (k *Kernel) handlePublishEvent(ctx context.Context, inter *Interaction) (any, error) {
	topic, _ := inter.Metadata["topic"].(string)
	if topic == "" {
		return nil, types.NewKindError(types.ErrInvalidInput, "kernel.publish",
			"metadata.topic is required", nil)
	}
	data, _ := inter.Metadata["data"].(map[string]any)
	n := k.PublishEvent(topic, data)
	return map[string]any{"topic": topic, "subscribers": n}, nil
}

// suggestion is one improvement proposal bound for the backlog.
type suggestion struct {
	target   string
	text     string
	priority int
}

// handleComponentImprovement runs the system analyzer against the
// target, seeds the backlog with its suggestions, and fires a
// best-effort async campaign on the top claimable item. Heavy work:
// holds a semaphore slot for the analysis phase.
func (k *Kernel) handleComponentImprovement(ctx context.Context, inter *Interaction) (any, error) {
	if err := k.heavy.Acquire(ctx, 1); err != nil {
		return nil, types.NewKindError(types.ErrTimeout, "kernel.improve",
			"waiting for a heavy-task slot", err)
	}
	defer k.heavy.Release(1)

	target, _ := inter.Metadata["target"].(string)
	if target == "" {
		target = strings.TrimSpace(inter.Content)
	}
	if target == "" {
		return nil, types.NewKindError(types.ErrInvalidInput, "kernel.improve",
			"no improvement target given", nil)
	}

	suggestions := k.analyzeComponent(ctx, inter, target)

	source := "component_improvement"
	if s, ok := inter.Metadata["source"].(string); ok && s != "" {
		source = s
	}

	added := make([]string, 0, len(suggestions))
	touched := make([]*BacklogItem, 0, len(suggestions))
	for _, s := range suggestions {
		item, fresh := k.backlog.Add(s.target, s.text, s.priority, source)
		if item == nil {
			continue
		}
		touched = append(touched, item)
		if fresh {
			added = append(added, item.ID)
		}
	}

	campaignStarted := k.maybeStartCampaign(inter, touched)

	return map[string]any{
		"target":           target,
		"suggestions":      len(suggestions),
		"backlog_added":    added,
		"backlog_size":     k.backlog.Len(),
		"campaign_started": campaignStarted,
	}, nil
}

// analyzeComponent asks the system_analyzer tool for suggestions. With
// no registry or a failing tool, the directive itself becomes the one
// suggestion so coord_improve still seeds the backlog.
func (k *Kernel) analyzeComponent(ctx context.Context, inter *Interaction, target string) []suggestion {
	if k.tools != nil && k.tools.Available("system_analyzer") {
		params := map[string]any{"target_component": target}
		if c, ok := inter.Metadata["analysis_context"]; ok {
			params["analysis_context"] = c
		}
		ok, result := k.tools.Dispatch(ctx, "system_analyzer", params)
		if ok {
			if parsed := parseSuggestions(result); len(parsed) > 0 {
				return parsed
			}
		} else {
			logging.KernelWarn("system_analyzer failed for %s: %v", target, result)
		}
	}

	text := strings.TrimSpace(inter.Content)
	if text == "" || text == target {
		text = "review " + target + " for improvement opportunities"
	}
	return []suggestion{{target: target, text: text, priority: metaPriority(inter.Metadata, 5)}}
}

// parseSuggestions unwraps the analyzer result shape:
// {"suggestions": [{"target_component", "suggestion", "priority"}]}.
func parseSuggestions(result any) []suggestion {
	m, ok := result.(map[string]any)
	if !ok {
		return nil
	}
	var entries []map[string]any
	switch v := m["suggestions"].(type) {
	case []map[string]any:
		entries = v
	case []any:
		for _, e := range v {
			if em, ok := e.(map[string]any); ok {
				entries = append(entries, em)
			}
		}
	}
	out := make([]suggestion, 0, len(entries))
	for _, e := range entries {
		target, _ := e["target_component"].(string)
		text, _ := e["suggestion"].(string)
		if target == "" || text == "" {
			continue
		}
		pri := 5
		switch p := e["priority"].(type) {
		case int:
			pri = p
		case float64:
			pri = int(p)
		}
		out = append(out, suggestion{target: target, text: text, priority: pri})
	}
	return out
}

func metaPriority(metadata map[string]any, fallback int) int {
	switch p := metadata["priority"].(type) {
	case int:
		return p
	case float64:
		return int(p)
	}
	return fallback
}

// maybeStartCampaign picks the campaign item and launches it. When the
// interaction was made from a popped backlog item (backlog_item_id in
// metadata) that already-claimed item is the campaign target; otherwise
// the highest-priority claimable item among those this run touched.
func (k *Kernel) maybeStartCampaign(inter *Interaction, touched []*BacklogItem) bool {
	k.mu.Lock()
	runner := k.campaigns
	down := k.shutdown
	k.mu.Unlock()
	if runner == nil || down {
		return false
	}

	if id, ok := inter.Metadata["backlog_item_id"].(string); ok && id != "" {
		item := k.backlog.Get(id)
		if item == nil || item.Status != BacklogInProgress {
			logging.KernelWarn("campaign target %s is not claimed, skipping", id)
			return false
		}
		return k.launchCampaign(runner, item)
	}

	var top *BacklogItem
	for _, item := range touched {
		claimable := item.Status == BacklogApproved ||
			(item.Status == BacklogPending && !k.backlog.needsApproval(item.Target))
		if !claimable {
			continue
		}
		if top == nil || item.Priority > top.Priority {
			top = item
		}
	}
	if top == nil {
		return false
	}
	if err := k.backlog.Claim(top.ID); err != nil {
		logging.KernelWarn("could not claim %s for campaign: %v", top.ID, err)
		return false
	}
	return k.launchCampaign(runner, top)
}

// launchCampaign runs the campaign on its own goroutine under a heavy
// slot and closes the backlog item with the outcome. Best effort: every
// failure path logs and marks the item failed, nothing propagates.
func (k *Kernel) launchCampaign(runner CampaignRunner, item *BacklogItem) bool {
	k.mu.Lock()
	if k.shutdown {
		k.mu.Unlock()
		return false
	}
	k.wg.Add(1)
	k.mu.Unlock()

	goal := fmt.Sprintf("Improve %s: %s", item.Target, item.Suggestion)
	logging.Kernel("campaign launched for backlog item %s (%s)", item.ID, item.Target)

	go func() {
		defer k.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				logging.KernelWarn("campaign for %s panicked: %v", item.ID, r)
				if err := k.backlog.Complete(item.ID, false); err != nil {
					logging.KernelDebug("backlog close after panic: %v", err)
				}
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), k.cfg.Kernel.DirectiveTimeoutDuration())
		defer cancel()

		if err := k.heavy.Acquire(ctx, 1); err != nil {
			logging.KernelWarn("campaign for %s never got a heavy slot: %v", item.ID, err)
			if cerr := k.backlog.Complete(item.ID, false); cerr != nil {
				logging.KernelDebug("backlog close: %v", cerr)
			}
			return
		}
		defer k.heavy.Release(1)

		_, err := runner.RunEvolutionCampaign(ctx, goal)
		if err != nil {
			logging.KernelWarn("campaign for %s failed: %v", item.ID, err)
		}
		if cerr := k.backlog.Complete(item.ID, err == nil); cerr != nil {
			logging.KernelDebug("backlog close: %v", cerr)
		}
	}()
	return true
}
