package main

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/clinicpulse/internal/events"
	"github.com/fyrsmithlabs/clinicpulse/internal/monitor"
	"github.com/fyrsmithlabs/clinicpulse/internal/pipeline"
)

func newWatchCmd(opts *globalOptions) *cobra.Command {
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Live session dashboard",
		Long: `Poll the server and show every session's current stage.

Keys: q quit, r refresh, up/down select.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			model := monitor.NewModel(opts.client(), interval)
			p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(cmd.Context()))
			_, err := p.Run()
			if err != nil && cmd.Context().Err() == nil {
				return fmt.Errorf("dashboard error: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "refresh interval")
	return cmd
}

func newEventsCmd() *cobra.Command {
	var (
		natsURL string
		prefix  string
	)
	cmd := &cobra.Command{
		Use:   "events [session]",
		Short: "Tail stage transition events from NATS",
		Long: `Print stage transition events as the server publishes them. With a
session id, stop when that session completes or aborts.

Examples:
  clinicctl events
  clinicctl events demo-session --nats nats://localhost:4222`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			nc, err := events.Connect(natsURL, "clinicctl")
			if err != nil {
				return fmt.Errorf("failed to connect to NATS at %s: %w", natsURL, err)
			}
			defer nc.Close()

			subject := events.AllSubject(prefix)
			var sessionID string
			if len(args) == 1 {
				sessionID = args[0]
				subject = events.SessionSubject(prefix, sessionID)
			}
			return tail(cmd.Context(), nc, subject, sessionID != "", func(e pipeline.Event) {
				line := fmt.Sprintf("%s %-14s %-12s %-10s", e.At.Format(time.RFC3339), e.SessionID, e.Stage, e.Status)
				if e.Iteration > 0 {
					line += fmt.Sprintf(" iteration %d", e.Iteration)
				}
				if e.Diagnostic != "" {
					line += "  " + e.Diagnostic
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			})
		},
	}
	cmd.Flags().StringVar(&natsURL, "nats", envOr("NATS_URL", nats.DefaultURL), "NATS server URL")
	cmd.Flags().StringVar(&prefix, "prefix", events.DefaultPrefix, "event subject prefix")
	return cmd
}

// tail prints events until ctx ends, or until a terminal event when
// untilDone is set.
func tail(ctx context.Context, nc *nats.Conn, subject string, untilDone bool, print func(pipeline.Event)) error {
	return events.Stream(ctx, nc, subject, func(e pipeline.Event) bool {
		print(e)
		return !(untilDone && events.Terminal(e))
	})
}
