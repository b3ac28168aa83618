package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Agentic action pipeline: perception, planning and tool dispatch",
	Long: `pipeline turns a user utterance into a structured perception, plans
canonical actions and dispatches them through the capability registry
with validation, confirmation gating and an execution log.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file (default: ./config.yaml or ./configs/config.yaml)")
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
}
