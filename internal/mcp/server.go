package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/clinicpulse/internal/logging"
	"github.com/fyrsmithlabs/clinicpulse/internal/pipeline"
	"github.com/fyrsmithlabs/clinicpulse/internal/session"
	"github.com/fyrsmithlabs/clinicpulse/internal/tools"
)

// Pipeline is the part of the orchestrator the MCP tools drive.
type Pipeline interface {
	Tick(ctx context.Context, sessionID, message string) (*pipeline.TickResult, error)
	Session(ctx context.Context, sessionID string) (*session.Session, error)
	InvokeTool(ctx context.Context, sessionID, name string, args map[string]any) (tools.Result, error)
	Stages() []pipeline.Definition
}

// Server is an MCP server over a ClinicPulse pipeline.
type Server struct {
	mcp      *mcp.Server
	pipeline Pipeline
	tools    *tools.Registry
	metrics  *Metrics
	logger   *logging.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "clinicpulse")
	Name string

	// Version is the server version (default: "dev")
	Version string

	Logger *logging.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "clinicpulse",
		Version: "dev",
		Logger:  logging.Nop(),
	}
}

// NewServer creates an MCP server. reg supplies the clinic tool
// descriptions and must be the registry the pipeline was built with.
func NewServer(cfg *Config, p Pipeline, reg *tools.Registry) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if p == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if reg == nil {
		return nil, fmt.Errorf("tool registry is required")
	}

	s := &Server{
		mcp: mcp.NewServer(&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		}, nil),
		pipeline: p,
		tools:    reg,
		logger:   cfg.Logger.Named("mcp"),
	}
	s.metrics = NewMetrics(s.logger)

	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	return s, nil
}

// Run serves MCP on stdio until ctx is cancelled or the client leaves.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}
