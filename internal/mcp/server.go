// Package mcp exposes session, evidence, and gate operations as MCP tools
// over the stdio transport.
//
// This implementation uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// and calls internal services directly.
package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/sessiond/internal/evidence"
	"github.com/fyrsmithlabs/sessiond/internal/gate"
	"github.com/fyrsmithlabs/sessiond/internal/scrub"
	"github.com/fyrsmithlabs/sessiond/internal/session"
	"github.com/fyrsmithlabs/sessiond/internal/template"
)

// Server exposes the session store and its services as MCP tools.
type Server struct {
	mcp         *mcp.Server
	store       *session.Store
	gateSvc     gate.Service
	evidenceSvc evidence.Service
	templates   *template.Service
	scrubber    scrub.Scrubber
	metrics     *Metrics
	logger      *zap.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "sessiond").
	Name string

	// Version is the server version (default: "dev").
	Version string

	// Logger for structured logging.
	Logger *zap.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "sessiond",
		Version: "dev",
		Logger:  zap.NewNop(),
	}
}

// NewServer creates a new MCP server with the given services.
func NewServer(
	cfg *Config,
	store *session.Store,
	gateSvc gate.Service,
	evidenceSvc evidence.Service,
	templates *template.Service,
	scrubber scrub.Scrubber,
) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if store == nil {
		return nil, fmt.Errorf("session store is required")
	}
	if gateSvc == nil {
		return nil, fmt.Errorf("gate service is required")
	}
	if evidenceSvc == nil {
		return nil, fmt.Errorf("evidence service is required")
	}
	if templates == nil {
		return nil, fmt.Errorf("template service is required")
	}
	if scrubber == nil {
		return nil, fmt.Errorf("scrubber is required")
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    cfg.Name,
			Version: cfg.Version,
		},
		nil,
	)

	s := &Server{
		mcp:         mcpServer,
		store:       store,
		gateSvc:     gateSvc,
		evidenceSvc: evidenceSvc,
		templates:   templates,
		scrubber:    scrubber,
		metrics:     NewMetrics(cfg.Logger),
		logger:      cfg.Logger,
	}

	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	s.registerSessionTools()
	s.registerEvidenceTools()
	s.registerGateTools()
}

// Run starts the MCP server on the stdio transport.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting MCP server on stdio transport")
	transport := &mcp.StdioTransport{}
	if err := s.mcp.Run(ctx, transport); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Close closes the server and its services.
func (s *Server) Close() error {
	s.logger.Info("closing MCP server and services")

	var errs []error
	if err := s.gateSvc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("gate service close: %w", err))
	}
	if err := s.evidenceSvc.Close(); err != nil {
		errs = append(errs, fmt.Errorf("evidence service close: %w", err))
	}
	if len(errs) > 0 {
		return fmt.Errorf("close errors: %v", errs)
	}
	return nil
}
