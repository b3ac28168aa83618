package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/xela07ax/spaceai-action-pipeline/internal/engine"
)

var (
	runActor   string
	runUser    string
	runConfirm bool
)

var runCmd = &cobra.Command{
	Use:   "run <utterance>",
	Short: "Run a single utterance through the pipeline and print the result as JSON",
	Long: `Run perceives the utterance, builds a plan, executes the planned actions
for the selected actor and prints the turn result. Sensitive actions are not
executed unless --confirm is set.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTurn,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runActor, "actor", "a", engine.DefaultActorID, "Actor (persona) to act as")
	runCmd.Flags().StringVarP(&runUser, "user", "u", "", "User id recorded in the execution log")
	runCmd.Flags().BoolVar(&runConfirm, "confirm", false, "Treat sensitive actions as already confirmed")
}

func runTurn(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a, err := newApp(cmd.Context(), cfg, logger, false)
	if err != nil {
		return err
	}
	defer a.Close()

	actor, ok := a.actors.Get(runActor)
	if !ok {
		return fmt.Errorf("unknown actor %q", runActor)
	}

	result := a.pipeline.HandleTurn(cmd.Context(), strings.Join(args, " "), actor, engine.ExecOptions{
		UserID:    runUser,
		Confirmed: runConfirm,
	})

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}
