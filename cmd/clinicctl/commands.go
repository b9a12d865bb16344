package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/clinicpulse/internal/monitor"
)

func newHealthCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check clinicpulse server health",
		Long: `Check the health status of the clinicpulse HTTP server.

Examples:
  clinicctl health
  clinicctl health --server http://localhost:8080`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			h, err := opts.client().Health(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Server Status: %s\n", h.Status)
			fmt.Fprintf(out, "Server Version: %s\n", h.Version)
			fmt.Fprintf(out, "Server URL: %s\n", opts.serverURL)
			return nil
		},
	}
}

func newSendCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "send <session> <message...>",
		Short: "Send one message to a session",
		Long: `Send one message and print the pipeline's reply.

Examples:
  clinicctl send s1 "Patient P-1042 has a cough"
  clinicctl send s1 Symptoms began 2 days ago`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := opts.client().Send(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, res)
			}
			fmt.Fprintln(out, res.Response)
			for _, step := range res.Steps {
				fmt.Fprintf(out, "  %-12s %-10s iteration %d", step.Stage, step.Status, step.Iteration)
				if step.Diagnostic != "" {
					fmt.Fprintf(out, " (%s)", step.Diagnostic)
				}
				fmt.Fprintln(out)
			}
			switch {
			case res.Aborted:
				fmt.Fprintf(out, "pipeline stopped at %s\n", res.AbortedStage)
			case res.Complete:
				fmt.Fprintln(out, "pipeline complete")
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the full tick result as JSON")
	return cmd
}

func newSessionsCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List stored sessions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ids, err := opts.client().Sessions(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func newStateCmd(opts *globalOptions) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "state <session>",
		Short: "Show stage statuses and state for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := opts.client().Session(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return printJSON(out, sess)
			}
			fmt.Fprintf(out, "Session %s (%d turns)\n", sess.ID, len(sess.Turns))
			for _, st := range sess.Stages {
				fmt.Fprintf(out, "  %-12s %-14s %s", st.Stage, monitor.FormatStatus(st.Status), monitor.FormatIterations(st.Iterations, st.Max))
				if st.Diagnostic != "" {
					fmt.Fprintf(out, "  %s", st.Diagnostic)
				}
				fmt.Fprintln(out)
			}
			if sess.State != nil {
				for _, key := range sess.State.Keys() {
					v, _ := sess.State.Get(key)
					fmt.Fprintf(out, "%s: %s\n", key, v.String())
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the session as JSON")
	return cmd
}

func newToolCmd(opts *globalOptions) *cobra.Command {
	var rawArgs string
	cmd := &cobra.Command{
		Use:   "tool <session> <name>",
		Short: "Invoke a clinic tool for a session",
		Long: `Invoke one clinic tool outside any stage. The result is stored in the
session under the tool's state key.

Examples:
  clinicctl tool s1 fetch_patient_records --args '{"patient_id":"P-1042"}'`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs := map[string]any{}
			if rawArgs != "" {
				if err := json.Unmarshal([]byte(rawArgs), &toolArgs); err != nil {
					return fmt.Errorf("invalid --args JSON: %w", err)
				}
			}
			res, err := opts.client().InvokeTool(cmd.Context(), args[0], args[1], toolArgs)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.OK {
				return fmt.Errorf("tool %s failed: %s", args[1], res.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&rawArgs, "args", "", "tool arguments as a JSON object")
	return cmd
}
