package kernel

import (
	"context"

	"mastermind/internal/logging"
)

// Exported backlog surface used by the CLI verbs, the audit scheduler,
// and the enhanced blueprint campaign.

// AddBacklogItem queues an improvement suggestion. Duplicates (same
// target and suggestion, still open) are absorbed into the existing
// item; the bool reports whether a new entry was created.
func (k *Kernel) AddBacklogItem(target, suggestion string, priority int, source string) (*BacklogItem, bool) {
	return k.backlog.Add(target, suggestion, priority, source)
}

// BacklogItems returns item snapshots, highest priority first,
// optionally filtered by status.
func (k *Kernel) BacklogItems(statuses ...BacklogStatus) []BacklogItem {
	return k.backlog.Items(statuses...)
}

// GetBacklogItem returns one item snapshot, or nil.
func (k *Kernel) GetBacklogItem(id string) *BacklogItem {
	return k.backlog.Get(id)
}

// ApproveBacklogItem clears a pending item for execution. Required
// before critical-component items become actionable.
func (k *Kernel) ApproveBacklogItem(id string) error {
	return k.backlog.Approve(id)
}

// RejectBacklogItem closes a pending or approved item without running it.
func (k *Kernel) RejectBacklogItem(id string) error {
	return k.backlog.Reject(id)
}

// CompleteBacklogItem closes an in_progress item with the given outcome.
func (k *Kernel) CompleteBacklogItem(id string, success bool) error {
	return k.backlog.Complete(id, success)
}

// BacklogSize reports the number of open (pending, approved,
// in_progress) items.
func (k *Kernel) BacklogSize() int {
	return len(k.backlog.Items(BacklogPending, BacklogApproved, BacklogInProgress))
}

// ProcessNextBacklogItem pops the highest-priority actionable item and
// converts it into a component_improvement interaction. Returns
// (nil, nil, nil) when nothing is actionable. When the interaction
// launched a campaign, the campaign goroutine closes the item;
// otherwise the item is closed here from the interaction outcome.
func (k *Kernel) ProcessNextBacklogItem(ctx context.Context) (*Interaction, *BacklogItem, error) {
	item := k.backlog.NextActionable()
	if item == nil {
		return nil, nil, nil
	}
	logging.Kernel("processing backlog item %s (target=%s priority=%d)",
		item.ID, item.Target, item.Priority)

	meta := map[string]any{
		"target":          item.Target,
		"backlog_item_id": item.ID,
		"priority":        item.Priority,
		"source":          "backlog",
	}
	inter, err := k.HandleInput(ctx, item.Suggestion, "system", KindComponentImprovement, meta)
	if err != nil {
		if cerr := k.backlog.Complete(item.ID, false); cerr != nil {
			logging.KernelDebug("backlog close: %v", cerr)
		}
		return nil, item, err
	}

	campaignOwns := false
	if resp, ok := inter.Response.(map[string]any); ok {
		campaignOwns, _ = resp["campaign_started"].(bool)
	}
	if !campaignOwns {
		if cerr := k.backlog.Complete(item.ID, inter.Status == StatusCompleted); cerr != nil {
			logging.KernelDebug("backlog close: %v", cerr)
		}
	}
	return inter, item, nil
}
