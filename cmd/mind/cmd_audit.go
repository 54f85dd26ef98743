package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"mastermind/internal/audit"
	"mastermind/internal/logging"
	"mastermind/internal/tools"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Autonomous audit schedules",
}

var auditRunCmd = &cobra.Command{
	Use:   "run [scope]",
	Short: "Run an audit-driven campaign now",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		scope := "full"
		if len(args) == 1 {
			scope = args[0]
		}
		return withRuntime(cmd.Context(), func(ctx context.Context, r *runtime) error {
			data, err := r.coord.RunAuditDrivenCampaign(ctx, scope, nil)
			if err != nil {
				return emitErr("audit campaign failed", err)
			}
			return emitOK("audit campaign completed", data)
		})
	},
}

var auditSchedulesCmd = &cobra.Command{
	Use:   "schedules",
	Short: "List audit schedules",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd.Context(), func(ctx context.Context, r *runtime) error {
			return emitOK("audit schedules", map[string]any{
				"schedules": r.scheduler.Store().List(),
			})
		})
	},
}

var auditEnableCmd = &cobra.Command{
	Use:   "enable <campaign-id>",
	Short: "Enable an audit schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  scheduleToggle(true),
}

var auditDisableCmd = &cobra.Command{
	Use:   "disable <campaign-id>",
	Short: "Disable an audit schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  scheduleToggle(false),
}

func scheduleToggle(enabled bool) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		id := args[0]
		return withRuntime(cmd.Context(), func(ctx context.Context, r *runtime) error {
			if err := r.scheduler.Store().SetEnabled(id, enabled); err != nil {
				return emitErr("schedule update failed", err)
			}
			return emitOK(fmt.Sprintf("schedule %s enabled=%v", id, enabled),
				r.scheduler.Store().Get(id))
		})
	}
}

var auditSetCmd = &cobra.Command{
	Use:   "set <campaign-id> <scope> <interval>",
	Short: "Create or update an audit schedule",
	Long: `Upserts a schedule, e.g.:
  mind audit set nightly_security security 24h --priority 8`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, err := time.ParseDuration(args[2])
		if err != nil {
			return emitErr("invalid interval", err)
		}
		priority, _ := cmd.Flags().GetInt("priority")
		return withRuntime(cmd.Context(), func(ctx context.Context, r *runtime) error {
			s, err := r.scheduler.Store().Upsert(audit.Schedule{
				CampaignID: args[0],
				Scope:      args[1],
				Interval:   interval,
				Priority:   priority,
				Enabled:    true,
			})
			if err != nil {
				return emitErr("schedule rejected", err)
			}
			return emitOK("schedule "+s.CampaignID+" stored", s)
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the orchestrator until interrupted",
	Long: `Keeps the kernel, the resource monitor, and the autonomous audit
scheduler running. Due audit schedules execute on each tick and feed the
improvement backlog; SIGINT or SIGTERM shuts everything down cleanly.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withRuntime(cmd.Context(), func(ctx context.Context, r *runtime) error {
			watcher, err := tools.NewWatcher(filepath.Join(r.cfg.DataDir, toolManifestFile), r.registry)
			if err != nil {
				logging.CLIWarn("manifest watcher unavailable: %v", err)
			} else if werr := watcher.Start(ctx); werr != nil {
				logging.CLIWarn("manifest watcher did not start: %v", werr)
				watcher = nil
			}
			r.scheduler.Start(ctx)
			logging.CLI("orchestrator running (data dir %s); interrupt to stop", r.cfg.DataDir)
			<-ctx.Done()
			r.scheduler.Stop()
			if watcher != nil {
				watcher.Stop()
			}
			return emitOK("orchestrator stopped", map[string]any{
				"backlog_open": r.kernel.BacklogSize(),
				"schedules":    r.scheduler.Store().Len(),
			})
		})
	},
}

func init() {
	auditSetCmd.Flags().Int("priority", 5, "schedule priority (1-10)")
	auditCmd.AddCommand(auditRunCmd, auditSchedulesCmd, auditEnableCmd, auditDisableCmd, auditSetCmd)
	rootCmd.AddCommand(auditCmd, serveCmd)
}
