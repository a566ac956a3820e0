package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ormasoftchile/skillrun/pkg/runtime"
	"github.com/ormasoftchile/skillrun/pkg/schema"
)

// Handlers binds the MCP tool surface to an engine.
type Handlers struct {
	Engine *runtime.Engine
}

// HandleRun implements the skill/run MCP tool.
func (h *Handlers) HandleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	name, _ := args["skill"].(string)
	if name == "" {
		return errorResult("skill argument is required"), nil
	}
	inputs, _ := args["inputs"].(map[string]any)

	if h.Engine.Catalog == nil {
		return errorResult("no skill catalog configured"), nil
	}
	def, err := h.Engine.Catalog.LoadSkill(name)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	result, err := h.Engine.Execute(ctx, def, inputs)

	response := map[string]any{
		"skill":  name,
		"status": string(result.Status),
	}
	if len(result.Outputs) > 0 {
		response["outputs"] = result.Outputs
	}
	steps := make([]map[string]any, 0, len(result.StepResults))
	for _, sr := range result.StepResults {
		step := map[string]any{
			"name":   sr.Name,
			"status": string(sr.Status),
		}
		if sr.Retries > 0 {
			step["retries"] = sr.Retries
		}
		if sr.ErrorText != "" {
			step["error"] = sr.ErrorText
		}
		steps = append(steps, step)
	}
	response["steps"] = steps
	if err != nil {
		response["error"] = err.Error()
	}

	data, _ := json.MarshalIndent(response, "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: err != nil,
	}, nil
}

// HandleValidate implements the skill/validate MCP tool.
func (h *Handlers) HandleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()
	path, _ := args["path"].(string)
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	def, errs := schema.ValidateFile(path)
	if schema.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}
	msg := fmt.Sprintf("✓ %s is valid (%d steps)", def.Name, len(def.Steps))
	if warnings := formatWarnings(errs); warnings != "" {
		msg += "\nwarnings: " + warnings
	}
	return textResult(msg), nil
}

// HandleList implements the skill/list MCP tool.
func (h *Handlers) HandleList(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if h.Engine.Catalog == nil {
		return errorResult("no skill catalog configured"), nil
	}
	names, err := h.Engine.Catalog.List()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	if len(names) == 0 {
		return textResult("no skills in catalog"), nil
	}
	return textResult(strings.Join(names, "\n")), nil
}

// HandleSchema implements the skill/schema MCP tool.
func (h *Handlers) HandleSchema(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := schema.GenerateJSONSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

func formatErrors(errs []*schema.ValidationError) string {
	var msgs []string
	for _, e := range errs {
		if e.Severity == "error" {
			msgs = append(msgs, fmt.Sprintf("[%s] %s", e.Phase, e.Message))
		}
	}
	return strings.Join(msgs, "; ")
}

func formatWarnings(errs []*schema.ValidationError) string {
	var msgs []string
	for _, e := range errs {
		if e.Severity == "warning" {
			msgs = append(msgs, e.Message)
		}
	}
	return strings.Join(msgs, "; ")
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
