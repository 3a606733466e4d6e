// Package cli implements pulsectl, the operator tool for the chat core.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/vedran77/pulsecore/internal/config"
	"github.com/vedran77/pulsecore/internal/database"
	"github.com/vedran77/pulsecore/internal/log"
)

var version = "dev"

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pulsectl",
	Short: "Operator tool for the pulse chat core",
	Long: `pulsectl applies database migrations, provisions profiles and mints
development tokens. It reads the same configuration as the server
(config/config.yaml, .env and environment variables).`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		verbose, _ := cmd.Flags().GetBool("verbose")
		level := "warn"
		if verbose {
			level = "debug"
		}
		log.Init(log.Config{Level: level, Pretty: true, Service: "pulsectl"})
		return nil
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	// Disable completion command
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose output")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return cfg, nil
}

// connect opens the Postgres pool; pulsectl has no use for the memory driver.
func connect(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	if cfg.Database.Driver != "postgres" {
		return nil, fmt.Errorf("database.driver is %q; pulsectl needs postgres", cfg.Database.Driver)
	}
	return database.Connect(ctx, cfg.Database)
}
