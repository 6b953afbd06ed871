package ops

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// RegisterMCPTools exposes the full operation catalog as MCP tools on the
// given server, bound to one fixed owner. Stdio MCP carries no per-request
// identity, so the owner comes from configuration; every tool call is
// scoped to it.
func RegisterMCPTools(s *server.MCPServer, r *Registry, owner string) error {
	for _, def := range Definitions() {
		schema, err := json.Marshal(def.JSONSchema())
		if err != nil {
			return fmt.Errorf("ops: schema for %s: %w", def.Name, err)
		}

		tool := mcp.NewToolWithRawSchema(def.Name, def.Description, schema)

		name := def.Name
		s.AddTool(tool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			res := r.Execute(owner, name, req.GetArguments())
			if !res.OK() {
				return mcp.NewToolResultError(res.Reason), nil
			}

			out, err := json.MarshalIndent(res.Data, "", "  ")
			if err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("encoding result: %v", err)), nil
			}
			return mcp.NewToolResultText(string(out)), nil
		})
	}
	return nil
}
