package main

import (
	"github.com/joho/godotenv"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"avatar-api/internal/config"
)

var envFile string

// NewRootCmd crea el comando raíz de authctl.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authctl",
		Short: "Operator tooling for avatar-api authentication",
		Long: `authctl signs and verifies X-Auth-Token values, checks the secret
configuration, manages account activation and runs schema migrations.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before reading the environment")

	cmd.AddCommand(NewSignCmd())
	cmd.AddCommand(NewVerifyCmd())
	cmd.AddCommand(NewCheckConfigCmd())
	cmd.AddCommand(NewUserCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			cmd.PrintErrf("warning: loading %s: %v\n", envFile, err)
		}
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("operation", "load config").Wrap(err)
	}
	return cfg, nil
}
