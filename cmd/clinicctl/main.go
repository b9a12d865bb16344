// Package main implements the clinicctl CLI for manual operations against
// a running clinicpulse server.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/clinicpulse/internal/monitor"
)

var version = "dev"

type globalOptions struct {
	serverURL string
}

func (o *globalOptions) client() *monitor.Client {
	return monitor.NewClient(o.serverURL)
}

func main() {
	// CLINICPULSE_SERVER and NATS_URL may come from a local .env file.
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "clinicctl",
		Short: "CLI for clinicpulse HTTP server operations",
		Long: `clinicctl is a command-line interface for a running clinicpulse server.
It sends messages, inspects sessions, invokes tools and watches progress.`,
		Version:      version,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.serverURL, "server", envOr("CLINICPULSE_SERVER", "http://localhost:9191"), "clinicpulse server URL")

	cmd.AddCommand(
		newHealthCmd(opts),
		newSendCmd(opts),
		newSessionsCmd(opts),
		newStateCmd(opts),
		newToolCmd(opts),
		newWatchCmd(opts),
		newEventsCmd(),
	)
	return cmd
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	return nil
}
