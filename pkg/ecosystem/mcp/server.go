// Package mcp exposes the skill engine to MCP clients: agents can list,
// validate, and run skills over the protocol.
package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates an MCP server with the skillrun tools registered.
func NewServer(version string, h *Handlers) *server.MCPServer {
	s := server.NewMCPServer(
		"skillrun",
		version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(
		mcp.NewTool("skill/run",
			mcp.WithDescription("Execute a skill from the catalog with the given inputs"),
			mcp.WithString("skill", mcp.Required(), mcp.Description("Skill name from the catalog")),
			mcp.WithObject("inputs", mcp.Description("Skill inputs as a JSON object")),
		),
		h.HandleRun,
	)

	s.AddTool(
		mcp.NewTool("skill/validate",
			mcp.WithDescription("Validate a skill YAML file"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the skill YAML file")),
		),
		h.HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("skill/list",
			mcp.WithDescription("List the skills available in the catalog"),
		),
		h.HandleList,
	)

	s.AddTool(
		mcp.NewTool("skill/schema",
			mcp.WithDescription("Export the skill definition JSON Schema"),
		),
		h.HandleSchema,
	)

	return s
}
