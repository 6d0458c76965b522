package main

import (
	"github.com/spf13/cobra"

	"quizrooms/internal/config"
)

const releaseVersion = "1.0.0"

func main() {
	cfg := &config.Config{}
	cobra.CheckErr(newCmd(cfg).Execute())
}

func newCmd(cfg *config.Config) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "quizrooms",
		Short:   "Real-time quiz rooms with cross-instance event fan-out.",
		Args:    cobra.NoArgs,
		Version: releaseVersion,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return config.ApplyEnv(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			cfg.AI = config.DefaultAIConfig()
			return run(cmd.Context(), cfg)
		},
	}

	cfg.RegisterFlags(cmd.Flags())

	cmd.CompletionOptions.HiddenDefaultCmd = true
	cmd.SetHelpCommand(&cobra.Command{Hidden: true})
	cmd.SetVersionTemplate("quizrooms v{{.Version}}\n")

	cmd.SilenceErrors = true
	cmd.SilenceUsage = true

	return cmd
}
