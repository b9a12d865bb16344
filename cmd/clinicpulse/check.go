package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/clinicpulse/internal/clinic"
)

func newCheckCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Verify the pipeline wiring",
		Long: `Check the stage table, tool registry, final output key, validation gates
and tool handlers. Exits non-zero when any check fails.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, opts.cfg, runtimeOptions{stderr: true})
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			report := clinic.Check(ctx, rt.app)
			out := cmd.OutOrStdout()
			for _, r := range report.Results {
				mark := "ok  "
				if !r.OK {
					mark = "FAIL"
				}
				fmt.Fprintf(out, "%s %s", mark, r.Name)
				if r.Detail != "" {
					fmt.Fprintf(out, ": %s", r.Detail)
				}
				fmt.Fprintln(out)
			}
			if !report.OK() {
				return fmt.Errorf("%d of %d checks failed", len(report.Failed()), len(report.Results))
			}
			fmt.Fprintf(out, "all %d checks passed\n", len(report.Results))
			return nil
		},
	}
}
