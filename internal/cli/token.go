package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"chaos-orm/internal/auth"
)

func newTokenCommand() *cobra.Command {
	var subject string
	var roles []string
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token signed with auth.secret",
		Example: `  chaos token --sub deploy --role admin --ttl 24h`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd).Auth
			if ttl > 0 {
				cfg.TokenTTL = ttl
			}
			token, err := auth.GenerateAccessToken(cfg, subject, roles)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "sub", "cli", "token subject")
	cmd.Flags().StringSliceVar(&roles, "role", nil, "role to grant (repeatable)")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (default: auth.token_ttl)")
	return cmd
}
