package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/xela07ax/spaceai-action-pipeline/internal/patterns"
)

var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Show learned usage patterns and proactive suggestions",
	RunE:  runPatterns,
}

func init() {
	rootCmd.AddCommand(patternsCmd)
}

func runPatterns(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	a := &app{cfg: cfg, logger: logger}
	defer a.Close()

	store, err := a.patternStore(cmd.Context())
	if err != nil {
		return err
	}
	learner := patterns.NewLearner(cmd.Context(), store, logger)

	out := cmd.OutOrStdout()
	insights := learner.GetPatternInsights()
	if len(insights) == 0 {
		fmt.Fprintln(out, "No patterns recorded yet.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "PATTERN\tCOUNT")
	for _, in := range insights {
		fmt.Fprintf(w, "%s\t%d\n", in.Key, in.Frequency)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if suggestions := learner.SuggestBasedOnPatterns(); len(suggestions) > 0 {
		fmt.Fprintln(out, "\nSuggestions:")
		for _, s := range suggestions {
			fmt.Fprintf(out, "  - %s\n", s)
		}
	}
	return nil
}
