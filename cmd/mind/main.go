// mind is the command-line front end of the mastermind orchestration
// kernel. Every verb prints one JSON result document; exit codes are 0
// on success, 1 on operational failure, and 2 for argument errors.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"mastermind/internal/config"
	"mastermind/internal/logging"
	"mastermind/internal/types"
)

var (
	cfgPath  string
	dataDir  string
	verbose  bool
	cfg      *config.Config
	usageErr bool
)

var rootCmd = &cobra.Command{
	Use:   "mind",
	Short: "mastermind - autonomous multi-agent orchestration kernel",
	Long: `mastermind routes typed interactions among a society of cooperating
agents: a kernel owns the registries and the improvement backlog, a BDI
executor plans and runs action sequences against the tool registry, the
strategic evolution coordinator runs self-improvement campaigns under a
rollback/validation safety doctrine, and an autonomous audit scheduler
keeps the improvement backlog fed.

Every command prints a single JSON document of the form
{"status": ..., "message": ..., "data": ..., "error_details": ...}.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Provider keys commonly live in a .env next to the binary.
		_ = godotenv.Load()

		var err error
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return types.NewKindError(types.ErrInvalidInput, "cli.config", err.Error(), err)
		}
		if dataDir != "" {
			cfg.DataDir = dataDir
		}
		if verbose {
			cfg.Logging.Level = "debug"
		}
		if err := cfg.Validate(); err != nil {
			return types.NewKindError(types.ErrInvalidInput, "cli.config", err.Error(), err)
		}
		return logging.Initialize(logging.Settings{
			Level:  cfg.Logging.Level,
			Format: cfg.Logging.Format,
			File:   cfg.Logging.File,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "mastermind.yaml", "configuration file")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override the persisted-state directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	// Argument-count failures come out of cobra before RunE; flag them so
	// main can exit with the conventional usage code.
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		usageErr = true
		return err
	})
}

// exitCode maps a command failure to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	if usageErr || types.KindOf(err) == types.ErrInvalidInput {
		return 2
	}
	return 1
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		// RunE paths have already printed a JSON document; anything else
		// (flag parsing, config) is reported here.
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, err)
		}
		stop()
		os.Exit(exitCode(err))
	}
}
