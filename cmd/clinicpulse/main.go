// Clinicpulse runs the ClinicPulse staged clinic pipeline.
//
// Configuration is loaded from ~/.config/clinicpulse/config.yaml and
// CLINICPULSE_* environment variables. A .env file in the working
// directory is read first.
//
// Usage:
//
//	# Serve the HTTP API
//	clinicpulse serve
//
//	# Replay the demo conversation
//	clinicpulse chat --demo
//
//	# Serve MCP over stdio
//	clinicpulse mcp
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/clinicpulse/internal/config"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

type rootOptions struct {
	configPath string
	envFile    string
	cfg        *config.Config
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "clinicpulse",
		Short: "Staged clinic intake, triage and scheduling pipeline",
		Long: `clinicpulse runs a staged conversation pipeline for a clinic front desk:
intake, triage, optional labs, a clinician briefing and appointment booking.
Each inbound message advances the pipeline by one step.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default ~/.config/clinicpulse/config.yaml)")
	cmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before the config")

	cmd.AddCommand(
		newServeCmd(opts),
		newChatCmd(opts),
		newMCPCmd(opts),
		newCheckCmd(opts),
		newEvaluateCmd(),
		newConfigCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load reads the dotenv file and the configuration. A missing dotenv
// file is not an error.
func (o *rootOptions) load(cmd *cobra.Command) error {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", o.envFile, err)
		}
	}
	cfg, err := config.LoadWithFile(o.configPath)
	if err != nil {
		return err
	}
	o.cfg = cfg
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		// Version needs no configuration.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "clinicpulse by Fyrsmith Labs\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
