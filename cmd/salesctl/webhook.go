package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/meleki1/salesagent/internal/paystack"
)

func webhookCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webhook",
		Short: "Gateway webhook helpers",
	}
	cmd.AddCommand(signCmd())
	return cmd
}

func signCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Compute the X-Paystack-Signature for a payload, for manual replay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			secret, _ := cmd.Flags().GetString("secret")
			if secret == "" {
				return errors.New("a secret is required (--secret or PAYSTACK_SECRET_KEY)")
			}
			file, _ := cmd.Flags().GetString("file")

			var (
				body []byte
				err  error
			)
			if file == "" || file == "-" {
				body, err = io.ReadAll(cmd.InOrStdin())
			} else {
				body, err = os.ReadFile(file)
			}
			if err != nil {
				return fmt.Errorf("read payload: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), paystack.Sign(secret, body))
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "", "Payload file (default stdin)")
	cmd.Flags().String("secret", os.Getenv("PAYSTACK_SECRET_KEY"), "Gateway secret key")
	return cmd
}
