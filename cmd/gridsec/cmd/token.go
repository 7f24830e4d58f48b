package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/gridsec/internal/security/backend"
)

var (
	tokenLogin string
	tokenRoles []string
	tokenTTL   time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a signed bearer token for a client login",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.JWTSecret == "" {
			return fmt.Errorf("GRIDSEC_JWT_SECRET must be set to issue tokens")
		}
		if tokenLogin == "" {
			return fmt.Errorf("--login is required")
		}

		token, err := backend.SignToken([]byte(cfg.JWTSecret), cfg.JWTIssuer, tokenLogin, tokenRoles, tokenTTL)
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenLogin, "login", "", "Login the token authenticates as")
	tokenCmd.Flags().StringSliceVar(&tokenRoles, "role", nil, "Role to embed in the token (repeatable)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", time.Hour, "Token lifetime")
	rootCmd.AddCommand(tokenCmd)
}
