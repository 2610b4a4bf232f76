package mcp

import (
	"context"
	"encoding/json"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

const recentRuns = 20

// registerResources registers all MCP resources on the server.
func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			"buzzforge://scheduler/status",
			"Scheduler Status",
			mcplib.WithResourceDescription("Trigger state and remaining daily quota"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleStatusResource,
	)

	s.mcpServer.AddResource(
		mcplib.NewResource(
			"buzzforge://pipelines/recent",
			"Recent Pipeline Runs",
			mcplib.WithResourceDescription("The most recent pipeline runs, newest first"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRecentRunsResource,
	)
}

func (s *Server) handleStatusResource(_ context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Scheduler == nil {
		return jsonContents(req.Params.URI, `{"error":"scheduler not configured"}`), nil
	}
	data, err := json.Marshal(s.deps.Scheduler.Status())
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, string(data)), nil
}

func (s *Server) handleRecentRunsResource(ctx context.Context, req mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	if s.deps.Runs == nil {
		return jsonContents(req.Params.URI, `{"error":"run reader not configured"}`), nil
	}
	runs, err := s.deps.Runs.List(ctx, recentRuns)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(runs)
	if err != nil {
		return nil, err
	}
	return jsonContents(req.Params.URI, string(data)), nil
}

func jsonContents(uri, text string) []mcplib.ResourceContents {
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{URI: uri, MIMEType: "application/json", Text: text},
	}
}
