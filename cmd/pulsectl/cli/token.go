package cli

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/vedran77/pulsecore/internal/identity"
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a development bearer token",
	Long: `Sign a token for a profile with JWT_SECRET. Production tokens come from
the identity provider; this is for local testing only.

Example usage:
  pulsectl token --user 6f1c... --ttl 24h`,
	RunE: runToken,
}

var (
	tokenUser string
	tokenTTL  time.Duration
)

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "profile id the token is issued for (required)")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")

	tokenCmd.MarkFlagRequired("user")
}

func runToken(cmd *cobra.Command, args []string) error {
	userID, err := uuid.Parse(tokenUser)
	if err != nil {
		return fmt.Errorf("invalid --user: %w", err)
	}
	if tokenTTL <= 0 {
		return fmt.Errorf("--ttl must be positive")
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	token, err := identity.IssueToken(cfg.Auth.JWTSecret, userID, tokenTTL)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), token)
	return nil
}
