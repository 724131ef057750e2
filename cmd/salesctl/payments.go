package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func paymentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payments",
		Short: "Payment records",
	}
	cmd.AddCommand(unresolvedCmd())
	return cmd
}

func unresolvedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unresolved",
		Short: "List successful payments that cannot be traced to a session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			repo, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer repo.Close()

			payments, err := repo.UnresolvedPayments(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(payments)
			}
			if len(payments) == 0 {
				fmt.Fprintln(out, "No unresolved payments.")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "REFERENCE\tORDER\tAMOUNT (KOBO)\tUPDATED")
			for _, p := range payments {
				fmt.Fprintf(tw, "%s\t%d\t%d\t%s\n", p.Reference, p.OrderID, p.Amount, p.UpdatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolP("json", "j", false, "Output as JSON")
	return cmd
}
