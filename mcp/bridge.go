package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agenticklabs/agentick/tools"
)

// ToolOptions names one MCP-backed tool the runtime should expose: Suite is
// the MCP server/toolset name, Tool is the tool's local identifier within
// that suite, and Alias (if non-empty) overrides the identifier the model
// sees, so two suites can expose a same-named tool without colliding.
type ToolOptions struct {
	Suite       string
	Tool        string
	Alias       tools.Ident
	Description string
	InputSchema tools.TypeSpec
}

// BridgeTool adapts one MCP tool into a dispatchable tools.Tool whose
// Handler round-trips the call through caller. The executor never knows
// the tool is remote: ExecutionTypeMCP routes through the same Handler
// slot SERVER tools use, so confirmation, sandbox recovery, and error
// classification all apply unchanged.
func BridgeTool(caller Caller, opts ToolOptions) tools.Tool {
	name := opts.Alias
	if name == "" {
		name = tools.Ident(opts.Tool)
	}
	return tools.Tool{
		Name:         name,
		Description:  opts.Description,
		Type:         tools.ExecutionTypeMCP,
		InputSchema:  opts.InputSchema,
		MCPConfig:    map[string]any{"suite": opts.Suite, "tool": opts.Tool},
		Handler: func(ctx context.Context, input any, rc tools.RunContext) ([]tools.ContentBlock, error) {
			payload, err := json.Marshal(input)
			if err != nil {
				return nil, fmt.Errorf("marshal mcp tool input: %w", err)
			}
			resp, err := caller.CallTool(ctx, CallRequest{Suite: opts.Suite, Tool: opts.Tool, Payload: payload})
			if err != nil {
				return nil, err
			}
			return resultToContentBlocks(resp), nil
		},
	}
}

// resultToContentBlocks normalizes an MCP CallResponse into the executor's
// content-block shape: structured JSON (when present) becomes a "json"
// block with the decoded value; otherwise the raw result is surfaced as a
// "text" block.
func resultToContentBlocks(resp CallResponse) []tools.ContentBlock {
	if len(resp.Structured) > 0 {
		var data map[string]any
		if err := json.Unmarshal(resp.Structured, &data); err == nil {
			return []tools.ContentBlock{{Type: "json", Data: data}}
		}
	}
	var text string
	if err := json.Unmarshal(resp.Result, &text); err == nil {
		return []tools.ContentBlock{{Type: "text", Text: text}}
	}
	return []tools.ContentBlock{{Type: "text", Text: string(resp.Result)}}
}
