package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"ebbridge/internal/core/id"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List past migration runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		records, err := a.runs.ListRuns(ctx, runsLimit)
		if err != nil {
			return err
		}

		for _, r := range records {
			status := "ok"
			if r.Aborted {
				status = "aborted"
			} else if r.FinishedAt == nil {
				status = "running"
			}
			fmt.Printf("%s  %s  fetched=%d created=%d failed=%d  %s\n",
				r.ID, r.StartedAt.Format("2006-01-02 15:04"),
				r.Counts.Fetched, r.Counts.Created,
				r.Counts.TransientFailed+r.Counts.PermanentFailed, status)
		}
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run with its failure entries",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, err := id.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid run id %q: %w", args[0], err)
		}

		ctx := context.Background()
		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		record, err := a.runs.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if record == nil {
			return fmt.Errorf("run %s not found", runID)
		}
		printRun(record)

		failures, err := a.runs.FailuresByRun(ctx, runID)
		if err != nil {
			return err
		}
		for _, f := range failures {
			fmt.Printf("  mutation %-8d %-20s %s\n", f.MutationID, f.Reason, f.Detail)
		}
		return nil
	},
}

func init() {
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "how many runs to list")
	runsCmd.AddCommand(runsShowCmd)
	rootCmd.AddCommand(runsCmd)
}
