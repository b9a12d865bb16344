package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	httpserver "github.com/fyrsmithlabs/clinicpulse/internal/http"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the ClinicPulse HTTP API",
		Long: `Serve the ClinicPulse HTTP API until interrupted.

Examples:
  # Serve on the configured port
  clinicpulse serve

  # Serve on another port
  clinicpulse serve --port 8080`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if port != 0 {
				opts.cfg.Server.Port = port
			}
			return runServe(cmd.Context(), opts)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "override server.http_port")
	return cmd
}

// runServe blocks until ctx is cancelled, then shuts the server down
// within the configured timeout.
func runServe(ctx context.Context, opts *rootOptions) error {
	cfg := opts.cfg
	rt, err := newRuntime(ctx, cfg, runtimeOptions{})
	if err != nil {
		return err
	}
	defer rt.Close(context.Background())

	var serverOpts []httpserver.Option
	if cfg.Events.Enabled {
		serverOpts = append(serverOpts, httpserver.WithEvents(rt.natsConn, cfg.Events.SubjectPrefix))
	}
	srv, err := httpserver.NewServer(rt.app.Pipeline, rt.logger, &httpserver.Config{
		Host:    cfg.Server.Host,
		Port:    cfg.Server.Port,
		Version: version,
	}, serverOpts...)
	if err != nil {
		return fmt.Errorf("failed to create HTTP server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		rt.logger.Info(ctx, "serving HTTP API",
			zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
			zap.String("metrics_endpoint", "/metrics"))
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	rt.logger.Info(context.Background(), "shutting down", zap.Duration("timeout", cfg.Server.ShutdownTimeout.Duration()))
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
