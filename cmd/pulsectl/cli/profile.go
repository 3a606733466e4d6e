package cli

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/vedran77/pulsecore/internal/domain"
	postgresrepo "github.com/vedran77/pulsecore/internal/repository/postgres"
	"github.com/vedran77/pulsecore/internal/service"
)

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Manage profiles",
}

var profileUpsertCmd = &cobra.Command{
	Use:   "upsert",
	Short: "Create or update a profile",
	Long: `Create or update a profile the way the identity provider would.

Example usage:
  pulsectl profile upsert --username ana --display-name "Ana" --role admin
  pulsectl profile upsert --id 6f1c... --username ana --display-name "Ana B."`,
	RunE: runProfileUpsert,
}

var (
	profileID          string
	profileUsername    string
	profileDisplayName string
	profileRole        string
)

func init() {
	rootCmd.AddCommand(profileCmd)
	profileCmd.AddCommand(profileUpsertCmd)

	profileUpsertCmd.Flags().StringVar(&profileID, "id", "", "profile id (generated when empty)")
	profileUpsertCmd.Flags().StringVar(&profileUsername, "username", "", "unique username (required)")
	profileUpsertCmd.Flags().StringVar(&profileDisplayName, "display-name", "", "display name (defaults to the username)")
	profileUpsertCmd.Flags().StringVar(&profileRole, "role", string(domain.RoleMember), "member, admin or super_admin")

	profileUpsertCmd.MarkFlagRequired("username")
}

func runProfileUpsert(cmd *cobra.Command, args []string) error {
	input := service.UpsertProfileInput{
		Username:    profileUsername,
		DisplayName: profileDisplayName,
		Role:        domain.Role(profileRole),
	}
	if input.DisplayName == "" {
		input.DisplayName = input.Username
	}
	if profileID != "" {
		id, err := uuid.Parse(profileID)
		if err != nil {
			return fmt.Errorf("invalid --id: %w", err)
		}
		input.ID = id
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	pool, err := connect(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	profiles := service.NewProfileService(postgresrepo.NewProfileRepo(pool), nil)
	p, err := profiles.Upsert(cmd.Context(), input)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(p)
}
