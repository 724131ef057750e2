package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/meleki1/salesagent/internal/domain"
	"github.com/meleki1/salesagent/internal/session"
)

var errNotLocked = errors.New("session is not payment-locked")

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Chat session state",
	}
	cmd.AddCommand(showCmd())
	cmd.AddCommand(unlockCmd())
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [session-id]",
		Short: "Print a session snapshot as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer repo.Close()

			s, found, err := session.NewStore(repo).Peek(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("session %q not found", args[0])
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"session_id": s.ID,
				"state":      s.State,
				"locked":     s.Locked(),
				"pending":    s.Pending,
				"info":       s.CurrentInfo(),
				"messages":   len(s.Messages()),
				"updated_at": s.UpdatedAt,
			})
		},
	}
}

// The server keeps hydrated sessions in memory; run unlock while it is stopped.
func unlockCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "unlock [session-id]",
		Short: "Release a stuck payment lock so the customer can retry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := openStore(cmd)
			if err != nil {
				return err
			}
			defer repo.Close()

			var previous string
			err = session.NewStore(repo).With(cmd.Context(), args[0], func(s *session.Session) error {
				if s.State != domain.StatePaymentLocked {
					return errNotLocked
				}
				previous = s.PaymentURL()
				s.Unlock(time.Now())
				return nil
			})
			if err != nil {
				return fmt.Errorf("unlock %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Unlocked %s (state %s)", args[0], domain.StateAwaitingPayment)
			if previous != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "; abandoned link %s", previous)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}
}
