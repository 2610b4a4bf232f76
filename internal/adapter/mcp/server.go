// Package mcp exposes the scheduler to MCP clients: status, manual trigger
// firing, pipeline runs and run lookup, served over streamable HTTP.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/Strob0t/BuzzForge/internal/domain/pipeline"
	"github.com/Strob0t/BuzzForge/internal/domain/schedule"
	"github.com/Strob0t/BuzzForge/internal/service"
)

// EndpointPath is where the streamable HTTP transport is mounted.
const EndpointPath = "/mcp"

// SchedulerControl is the scheduler surface the tools drive.
type SchedulerControl interface {
	Status() schedule.State
	Check(ctx context.Context, name string) (service.FireResult, error)
	StartTheme(ctx context.Context, theme, templateID string) (string, error)
}

// RunReader reads stored pipeline runs.
type RunReader interface {
	Get(ctx context.Context, id string) (*pipeline.Run, error)
	List(ctx context.Context, limit int) ([]pipeline.Run, error)
}

// ServerConfig configures the MCP server.
type ServerConfig struct {
	Addr    string
	Name    string
	Version string
	APIKey  string
}

// ServerDeps are the services behind the tools. Nil deps make the tools
// return an error result.
type ServerDeps struct {
	Scheduler SchedulerControl
	Runs      RunReader
}

// Server wraps an MCP server and its HTTP listener.
type Server struct {
	cfg        ServerConfig
	deps       ServerDeps
	mcpServer  *mcpserver.MCPServer
	httpServer *http.Server
}

// NewServer creates an MCP server with all tools and resources registered.
func NewServer(cfg ServerConfig, deps ServerDeps) *Server {
	s := &Server{cfg: cfg, deps: deps}
	s.mcpServer = mcpserver.NewMCPServer(cfg.Name, cfg.Version,
		mcpserver.WithToolCapabilities(false),
		mcpserver.WithResourceCapabilities(false, false),
		mcpserver.WithRecovery(),
	)
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying server.
func (s *Server) MCPServer() *mcpserver.MCPServer { return s.mcpServer }

// Handler returns the HTTP handler for the streamable transport, wrapped in
// API key auth.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(EndpointPath, AuthMiddleware(s.cfg.APIKey, mcpserver.NewStreamableHTTPServer(s.mcpServer)))
	return mux
}

// Start listens on cfg.Addr and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("mcp listen %s: %w", s.cfg.Addr, err)
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("mcp server failed", "error", err)
		}
	}()
	slog.Info("mcp server started", "addr", ln.Addr().String(), "path", EndpointPath)
	return nil
}

// Stop gracefully shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
