package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var proposeLimit int

var proposeCmd = &cobra.Command{
	Use:   "propose-mappings",
	Short: "Suggest mappings for unmapped ledgers and relations in recent failures",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		proposals, err := a.runner.ProposeMappings(ctx, proposeLimit)
		if err != nil {
			return err
		}

		if len(proposals) == 0 {
			fmt.Println("no new proposals")
			return nil
		}
		for _, p := range proposals {
			fmt.Printf("%s  %-6s  %-12s -> %-30s  %s\n", p.ID, p.Kind, p.SourceCode, p.Proposed, p.Reason)
		}
		fmt.Printf("%d proposal(s) pending review\n", len(proposals))
		return nil
	},
}

var sweepCmd = &cobra.Command{
	Use:   "sweep-cancelled",
	Short: "Mark imported documents cancelled when voided in the target system",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		n, err := a.runner.SweepCancelled(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%d document(s) marked cancelled\n", n)
		return nil
	},
}

func init() {
	proposeCmd.Flags().IntVar(&proposeLimit, "limit", 200, "how many recent failures to inspect")
	rootCmd.AddCommand(proposeCmd)
	rootCmd.AddCommand(sweepCmd)
}
