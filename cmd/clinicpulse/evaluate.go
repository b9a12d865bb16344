package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/clinicpulse/internal/briefing"
)

func newEvaluateCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score a clinician briefing",
		Long: `Score a Markdown briefing for structure, clinical completeness and safety
awareness.

Examples:
  clinicpulse evaluate --file briefing.md
  cat briefing.md | clinicpulse evaluate`,
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				content []byte
				err     error
			)
			if file == "" || file == "-" {
				content, err = io.ReadAll(cmd.InOrStdin())
			} else {
				content, err = os.ReadFile(file)
			}
			if err != nil {
				return fmt.Errorf("failed to read briefing: %w", err)
			}
			if strings.TrimSpace(string(content)) == "" {
				return fmt.Errorf("no briefing text to evaluate")
			}

			s := briefing.Evaluate(string(content))
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Structure & clarity:   %d/5\n", s.StructureClarity)
			fmt.Fprintf(out, "Clinical completeness: %d/5\n", s.ClinicalCompleteness)
			fmt.Fprintf(out, "Safety awareness:      %d/5\n", s.SafetyAwareness)
			fmt.Fprintf(out, "Total:                 %d/%d\n", s.Total, briefing.MaxTotal)
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "briefing file (default stdin)")
	return cmd
}
