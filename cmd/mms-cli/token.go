package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/aboamare/mms-router/internal/auth"
)

func newTokenCommand() *cobra.Command {
	var (
		secret  string
		subject string
		isAdmin bool
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Generate an admin token",
		Long: `Generate a token for the admin API, signed with the router's admin secret
(auth.admin_secret in the router configuration).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if secret == "" {
				return fmt.Errorf("--secret is required")
			}
			signed, expiresAt, err := auth.NewAdminAuth(secret).GenerateToken(subject, isAdmin, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&secret, "secret", "", "Admin secret of the router")
	cmd.Flags().StringVar(&subject, "subject", "operator", "Subject of the token")
	cmd.Flags().BoolVar(&isAdmin, "admin", true, "Grant admin privileges")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultAdminTokenTTL, "Token lifetime")
	return cmd
}
