package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ebbridge/internal/eboekhouden"
	"ebbridge/internal/migration/run"
)

var (
	runDryRun bool
	runFromID int64
	runToID   int64
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a migration run over the configured window",
	Long: `Fetches mutations from E-Boekhouden, posts them into the target
administration and writes the run record plus failure log.

Exit codes: 0 clean, 1 permanent failures in the log, 2 aborted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		window, err := a.cfg.ParseWindow()
		if err != nil {
			return err
		}
		if runFromID > 0 || runToID > 0 {
			window = eboekhouden.Window{FromID: runFromID, ToID: runToID}
		}

		record, runErr := a.runner.Run(ctx, run.Options{Window: window, DryRun: runDryRun})
		if record == nil && runErr != nil {
			return runErr
		}
		if runErr != nil {
			fmt.Fprintf(os.Stderr, "run aborted: %v\n", runErr)
		}
		printRun(record)
		os.Exit(run.ExitCode(record, runErr))
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "build and validate documents without posting")
	runCmd.Flags().Int64Var(&runFromID, "from-id", 0, "first mutation id (overrides configured date window)")
	runCmd.Flags().Int64Var(&runToID, "to-id", 0, "last mutation id (overrides configured date window)")
	rootCmd.AddCommand(runCmd)
}
