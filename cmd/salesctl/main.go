// Command salesctl is the operator tool for the sales assistant's store.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/meleki1/salesagent/internal/store"
)

var Version = "dev"

func main() {
	_ = godotenv.Load()

	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "salesctl",
		Short:         "Inspect and repair sales assistant sessions and payments",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("db", envOr("DB_PATH", "./data/salesagent.db"), "SQLite database path")

	root.AddCommand(paymentsCmd())
	root.AddCommand(sessionsCmd())
	root.AddCommand(webhookCmd())
	return root
}

func openStore(cmd *cobra.Command) (*store.SQLiteStore, error) {
	path, err := cmd.Flags().GetString("db")
	if err != nil {
		return nil, err
	}
	repo, err := store.NewSQLite(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return repo, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
