// Package mcp exposes the engine's tools to MCP clients over stdio.
package mcp

import (
	"context"
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/amparo-app/engine/tools"
	"github.com/amparo-app/engine/tools/schemas"
)

// NewServer builds an MCP server publishing every tool in the registry that
// has a schema. Tool calls are dispatched through the registry, so MCP
// clients and the chat runner share one execution path.
func NewServer(registry *tools.Registry, version string, logger zerolog.Logger) *server.MCPServer {
	logger = logger.With().Str("component", "mcp_server").Logger()

	s := server.NewMCPServer(
		"amparo-engine",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
	)

	all := schemas.All()
	for _, name := range registry.Names() {
		schema, ok := all[name]
		if !ok {
			logger.Warn().Str("tool", name).Msg("Tool has no schema, not publishing over MCP")
			continue
		}

		rawSchema, err := json.Marshal(schema.Schema)
		if err != nil {
			logger.Error().Str("tool", name).Err(err).Msg("Failed to marshal tool schema")
			continue
		}

		tool := mcp.NewToolWithRawSchema(name, schema.Description, rawSchema)
		s.AddTool(tool, toolHandler(registry, name))
		logger.Debug().Str("tool", name).Msg("Published tool over MCP")
	}

	return s
}

// ServeStdio runs the server over stdin/stdout until the client disconnects.
func ServeStdio(s *server.MCPServer) error {
	return server.ServeStdio(s)
}

func toolHandler(registry *tools.Registry, name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args, err := json.Marshal(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		// MCP callers name the conversation in the arguments themselves.
		result, err := registry.Handle(ctx, name, "", args)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		payload, err := json.Marshal(result)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}
