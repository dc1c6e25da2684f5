package commands

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"ebbridge/internal/domain/auth"
)

var operatorRole string

var operatorCmd = &cobra.Command{
	Use:   "operator",
	Short: "Manage operator accounts",
}

var operatorCreateCmd = &cobra.Command{
	Use:   "create <username>",
	Short: "Create an operator account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()

		a, err := buildApp(ctx)
		if err != nil {
			return err
		}
		defer a.Close()

		fmt.Print("Password: ")
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return fmt.Errorf("read password: %w", err)
		}

		op, err := a.auth.CreateOperator(ctx, args[0], string(password), auth.Role(operatorRole))
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "created operator %s (%s)\n", op.Username, op.Role)
		return nil
	},
}

func init() {
	operatorCreateCmd.Flags().StringVar(&operatorRole, "role", string(auth.RoleOperator), "admin, operator or viewer")
	operatorCmd.AddCommand(operatorCreateCmd)
	rootCmd.AddCommand(operatorCmd)
}
