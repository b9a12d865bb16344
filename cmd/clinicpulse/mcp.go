package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/clinicpulse/internal/mcp"
)

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the pipeline as MCP tools over stdio",
		Long: `Serve the six clinic tools plus send_message and get_session over the
MCP stdio transport. Logs go to stderr; stdout carries the protocol.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			rt, err := newRuntime(ctx, opts.cfg, runtimeOptions{stderr: true})
			if err != nil {
				return err
			}
			defer rt.Close(context.Background())

			srv, err := mcp.NewServer(&mcp.Config{
				Name:    "clinicpulse",
				Version: version,
				Logger:  rt.logger,
			}, rt.app.Pipeline, rt.app.Tools)
			if err != nil {
				return fmt.Errorf("failed to create MCP server: %w", err)
			}

			fmt.Fprintf(os.Stderr, "clinicpulse MCP server started on stdio\n")
			return srv.Run(ctx)
		},
	}
}
