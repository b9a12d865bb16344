package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/clinicpulse/internal/clinic"
	"github.com/fyrsmithlabs/clinicpulse/internal/pipeline"
	"github.com/fyrsmithlabs/clinicpulse/internal/session"
)

func newChatCmd(opts *rootOptions) *cobra.Command {
	var (
		demo      bool
		sessionID string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to the pipeline from the terminal",
		Long: `Read messages from stdin, one per line, and print each reply.

Examples:
  # Interactive session
  clinicpulse chat

  # Replay the demo conversation
  clinicpulse chat --demo`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, opts.cfg, runtimeOptions{stderr: true})
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			if sessionID == "" {
				sessionID = session.NewID()
				if demo {
					sessionID = clinic.DemoSessionID
				}
			}
			c := &chat{p: rt.app.Pipeline, sessionID: sessionID, out: cmd.OutOrStdout()}
			if demo {
				return c.replay(ctx, clinic.DemoMessages)
			}
			return c.interactive(ctx, cmd.InOrStdin())
		},
	}
	cmd.Flags().BoolVar(&demo, "demo", false, "replay the demo conversation")
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: a new id)")
	return cmd
}

type ticker interface {
	Tick(ctx context.Context, sessionID, message string) (*pipeline.TickResult, error)
}

type chat struct {
	p         ticker
	sessionID string
	out       io.Writer
}

func (c *chat) replay(ctx context.Context, messages []string) error {
	for _, msg := range messages {
		fmt.Fprintf(c.out, "> %s\n", msg)
		done, err := c.send(ctx, msg)
		if err != nil || done {
			return err
		}
	}
	return nil
}

func (c *chat) interactive(ctx context.Context, in io.Reader) error {
	fmt.Fprintf(c.out, "session %s (ctrl+d to quit)\n> ", c.sessionID)
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		msg := strings.TrimSpace(scanner.Text())
		if msg == "" {
			fmt.Fprint(c.out, "> ")
			continue
		}
		done, err := c.send(ctx, msg)
		if err != nil || done {
			return err
		}
		fmt.Fprint(c.out, "> ")
	}
	return scanner.Err()
}

// send runs one tick and prints the reply. It reports whether the
// conversation is over.
func (c *chat) send(ctx context.Context, msg string) (bool, error) {
	res, err := c.p.Tick(ctx, c.sessionID, msg)
	if err != nil {
		return false, err
	}
	fmt.Fprintf(c.out, "%s\n", res.Response)
	switch {
	case res.Aborted:
		fmt.Fprintf(c.out, "\n[stopped at %s]\n", res.AbortedStage)
		return true, nil
	case res.Complete:
		if len(res.Exhausted) > 0 {
			fmt.Fprintf(c.out, "\n[exhausted: %s]\n", strings.Join(res.Exhausted, ", "))
		}
		if res.FinalOutput != nil {
			fmt.Fprintf(c.out, "\n%s\n", res.FinalOutput.String())
		}
		return true, nil
	}
	return false, nil
}
