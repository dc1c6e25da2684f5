package commands

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"ebbridge/internal/config"
)

var migrateDir string

// Database schema changes run through goose, same SQL files in development
// and deployment.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("database_url is not configured")
		}

		goose := exec.Command("goose", "-dir", migrateDir, "postgres", cfg.DatabaseURL, "up")
		goose.Stdout = os.Stdout
		goose.Stderr = os.Stderr
		if err := goose.Run(); err != nil {
			return fmt.Errorf("goose: %w", err)
		}
		return nil
	},
}

func init() {
	migrateCmd.Flags().StringVar(&migrateDir, "dir", "db/migrations", "migrations directory")
	rootCmd.AddCommand(migrateCmd)
}
