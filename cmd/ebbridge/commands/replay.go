package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ebbridge/internal/core/id"
	"ebbridge/internal/domain/importlog"
	"ebbridge/internal/migration/run"
)

var replayCmd = &cobra.Command{
	Use:   "replay <run-id>",
	Short: "Re-post the failed mutations of a previous run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, err := id.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid run id %q: %w", args[0], err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		record, runErr := a.runner.Replay(ctx, runID)
		if record == nil && runErr != nil {
			return runErr
		}
		if runErr != nil {
			fmt.Fprintf(os.Stderr, "replay aborted: %v\n", runErr)
		}
		printRun(record)
		os.Exit(run.ExitCode(record, runErr))
		return nil
	},
}

func printRun(r *importlog.RunRecord) {
	fmt.Printf("run %s\n", r.ID)
	fmt.Printf("  fetched:           %d\n", r.Counts.Fetched)
	fmt.Printf("  created:           %d\n", r.Counts.Created)
	fmt.Printf("  already imported:  %d\n", r.Counts.AlreadyImported)
	fmt.Printf("  invoice not found: %d\n", r.Counts.InvoiceNotFound)
	fmt.Printf("  quarantined:       %d\n", r.Counts.Quarantined)
	fmt.Printf("  transient failed:  %d\n", r.Counts.TransientFailed)
	fmt.Printf("  permanent failed:  %d\n", r.Counts.PermanentFailed)
	if r.FailureLogPath != "" {
		fmt.Printf("  failure log:       %s\n", r.FailureLogPath)
	}
	if r.Aborted {
		fmt.Printf("  aborted:           %s\n", r.AbortReason)
	}
}

func init() {
	rootCmd.AddCommand(replayCmd)
}
