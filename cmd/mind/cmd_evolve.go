package main

import (
	"context"

	"github.com/spf13/cobra"

	"mastermind/internal/kernel"
	"mastermind/internal/types"
)

var evolveCmd = &cobra.Command{
	Use:   "evolve <directive>",
	Short: "Run a strategic evolution campaign for a directive",
	Long: `Creates a component_improvement interaction for the directive. The
improvement handler seeds the backlog and launches a strategic evolution
campaign on the top suggestion; the campaign finishes before the command
exits.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd.Context(), func(ctx context.Context, r *runtime) error {
			inter, err := r.kernel.HandleInput(ctx, args[0], "cli",
				kernel.KindComponentImprovement, map[string]any{"source": "evolve"})
			if err != nil {
				return emitErr("directive rejected", err)
			}
			// Shutdown waits for the campaign goroutine, so the history
			// below reflects the finished run.
			r.kernel.Shutdown()
			if inter.Error != "" {
				return interactionResult("evolution directive", inter)
			}
			data := map[string]any{
				"interaction_id": inter.ID,
				"status":         string(inter.Status),
				"response":       inter.Response,
			}
			if recent := r.coord.History().Recent(1); len(recent) > 0 {
				s := recent[0]
				data["campaign"] = map[string]any{
					"run_id":  s.RunID,
					"kind":    s.Kind,
					"status":  s.Status,
					"message": s.Message,
				}
			}
			return emitOK("evolution directive completed", data)
		})
	},
}

var deployCmd = &cobra.Command{
	Use:   "deploy <directive>",
	Short: "Run a deployment campaign (requires an external deployment agent)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// Deployment execution lives outside the core; only the handler
		// contract exists here.
		return emitFail(types.ErrToolUnavailable,
			"no deployment agent is wired into this build",
			map[string]any{"type": string(types.ErrToolUnavailable), "directive": args[0]})
	},
}

var introspectCmd = &cobra.Command{
	Use:   "introspect <role>",
	Short: "Generate a persona for a role (requires an external persona generator)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return emitFail(types.ErrToolUnavailable,
			"no persona generator is wired into this build",
			map[string]any{"type": string(types.ErrToolUnavailable), "role": args[0]})
	},
}

func init() {
	rootCmd.AddCommand(evolveCmd, deployCmd, introspectCmd)
}
