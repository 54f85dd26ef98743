package main

import (
	"context"
	"strings"

	"github.com/spf13/cobra"

	"mastermind/internal/kernel"
	"mastermind/internal/types"
)

// interactionResult folds a terminal interaction into the CLI document.
func interactionResult(message string, inter *kernel.Interaction) error {
	data := map[string]any{
		"interaction_id": inter.ID,
		"kind":           string(inter.Kind),
		"status":         string(inter.Status),
		"response":       inter.Response,
	}
	if inter.Error != "" {
		kind := types.ErrInternal
		// Classified errors are prefixed with their kind string.
		if i := strings.Index(inter.Error, ":"); i > 0 {
			if k := types.ErrorKind(inter.Error[:i]); k.Valid() {
				kind = k
			}
		}
		return emitFail(kind, message+" failed", map[string]any{
			"type":    string(kind),
			"details": inter.Error,
			"data":    data,
		})
	}
	return emitOK(message+" completed", data)
}

var coordQueryCmd = &cobra.Command{
	Use:   "coord_query <text>",
	Short: "Route a query interaction through the kernel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd.Context(), func(ctx context.Context, r *runtime) error {
			inter, err := r.kernel.HandleInput(ctx, args[0], "cli", kernel.KindQuery, nil)
			if err != nil {
				return emitErr("query rejected", err)
			}
			return interactionResult("query", inter)
		})
	},
}

var coordAnalyzeCmd = &cobra.Command{
	Use:   "coord_analyze [context]",
	Short: "Run a system analysis interaction",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content := ""
		if len(args) == 1 {
			content = args[0]
		}
		return withRuntime(cmd.Context(), func(ctx context.Context, r *runtime) error {
			inter, err := r.kernel.HandleInput(ctx, content, "cli", kernel.KindSystemAnalysis, nil)
			if err != nil {
				return emitErr("analysis rejected", err)
			}
			return interactionResult("system analysis", inter)
		})
	},
}

var coordImproveCmd = &cobra.Command{
	Use:   "coord_improve <component-id> [context]",
	Short: "Queue improvement work for a component",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		target := args[0]
		content := "improve " + target
		meta := map[string]any{"target": target, "source": "cli"}
		if len(args) == 2 {
			content = args[1]
			meta["analysis_context"] = args[1]
		}
		return withRuntime(cmd.Context(), func(ctx context.Context, r *runtime) error {
			inter, err := r.kernel.HandleInput(ctx, content, "cli", kernel.KindComponentImprovement, meta)
			if err != nil {
				return emitErr("improvement rejected", err)
			}
			return interactionResult("component improvement", inter)
		})
	},
}

var coordBacklogCmd = &cobra.Command{
	Use:   "coord_backlog",
	Short: "Show the improvement backlog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd.Context(), func(ctx context.Context, r *runtime) error {
			items := r.kernel.BacklogItems()
			return emitOK("improvement backlog", map[string]any{
				"items": items,
				"open":  r.kernel.BacklogSize(),
			})
		})
	},
}

var coordProcessBacklogCmd = &cobra.Command{
	Use:   "coord_process_backlog",
	Short: "Run the highest-priority actionable backlog item",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd.Context(), func(ctx context.Context, r *runtime) error {
			inter, item, err := r.kernel.ProcessNextBacklogItem(ctx)
			if err != nil {
				return emitErr("backlog processing failed", err)
			}
			if item == nil {
				return emitOK("no actionable backlog items", nil)
			}
			data := map[string]any{
				"backlog_item_id": item.ID,
				"target":          item.Target,
				"interaction_id":  inter.ID,
				"status":          string(inter.Status),
				"response":        inter.Response,
			}
			if inter.Error != "" {
				return emitFail(types.ErrInternal, "backlog item failed", map[string]any{
					"details": inter.Error,
					"data":    data,
				})
			}
			return emitOK("processed backlog item "+item.ID, data)
		})
	},
}

var coordApproveCmd = &cobra.Command{
	Use:   "coord_approve <item-id>",
	Short: "Approve a backlog item for execution",
	Args:  cobra.ExactArgs(1),
	RunE:  backlogDecision(true),
}

var coordRejectCmd = &cobra.Command{
	Use:   "coord_reject <item-id>",
	Short: "Reject a backlog item",
	Args:  cobra.ExactArgs(1),
	RunE:  backlogDecision(false),
}

func backlogDecision(approve bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id := args[0]
		return withRuntime(cmd.Context(), func(ctx context.Context, r *runtime) error {
			var err error
			verb := "rejected"
			if approve {
				verb = "approved"
				err = r.kernel.ApproveBacklogItem(id)
			} else {
				err = r.kernel.RejectBacklogItem(id)
			}
			if err != nil {
				return emitErr("backlog decision failed", err)
			}
			return emitOK("backlog item "+id+" "+verb, r.kernel.GetBacklogItem(id))
		})
	}
}

var showAgentRegistryCmd = &cobra.Command{
	Use:   "show_agent_registry",
	Short: "Show registered agents",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd.Context(), func(ctx context.Context, r *runtime) error {
			// Registration snapshots exclude instance refs by construction.
			return emitOK("agent registry", map[string]any{"agents": r.kernel.Agents()})
		})
	},
}

func init() {
	rootCmd.AddCommand(coordQueryCmd, coordAnalyzeCmd, coordImproveCmd,
		coordBacklogCmd, coordProcessBacklogCmd, coordApproveCmd,
		coordRejectCmd, showAgentRegistryCmd)
}
