package mcp

import (
	"context"
	"encoding/json"

	"github.com/agenticklabs/agentick/tools"
)

// Config configures MCP tool discovery against a single server, plus the
// prefix/include/exclude filters applied to the discovered list before it
// is handed to the caller for COM registration.
type Config struct {
	HTTPOptions

	// Suite names the MCP server for CallRequest.Suite on every discovered
	// tool's dispatch.
	Suite string

	// Prefix is prepended to every discovered tool name, so two servers that
	// both expose e.g. "search" can coexist once registered into COM.
	Prefix string
	// Include, when non-empty, restricts discovery to these exact
	// (pre-prefix) tool names. Exclude drops names after Include is applied.
	Include []string
	Exclude []string
}

// Discoverer connects to an MCP server and returns its advertised tools as
// dispatchable Tool values, ready for COM.AddTool.
type Discoverer interface {
	Discover(ctx context.Context, cfg Config) ([]tools.Tool, error)
}

type toolDescriptor struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"inputSchema"`
}

type toolsListResult struct {
	Tools []toolDescriptor `json:"tools"`
}

// HTTPDiscoverer discovers tools over the same JSON-RPC HTTP transport
// HTTPCaller uses for tools/call, via tools/list.
type HTTPDiscoverer struct{}

// Discover performs the MCP initialize handshake, lists the server's tools,
// and returns each as a Tool whose Handler dispatches tools/call against the
// same connection.
func (HTTPDiscoverer) Discover(ctx context.Context, cfg Config) ([]tools.Tool, error) {
	caller, err := NewHTTPCaller(ctx, cfg.HTTPOptions)
	if err != nil {
		return nil, err
	}
	var result toolsListResult
	if err := caller.transport.call(ctx, "tools/list", nil, &result); err != nil {
		return nil, err
	}
	return filterAndConvert(result.Tools, cfg, caller), nil
}

// filterAndConvert applies cfg's prefix/include/exclude rules and adapts
// each surviving descriptor into a dispatchable Tool via BridgeTool, so a
// discovered tool dispatches through the same Handler path (and the same
// CallResponse normalization) a hand-declared MCP tool would.
func filterAndConvert(descs []toolDescriptor, cfg Config, caller Caller) []tools.Tool {
	include := toSet(cfg.Include)
	exclude := toSet(cfg.Exclude)
	out := make([]tools.Tool, 0, len(descs))
	for _, d := range descs {
		if len(include) > 0 && !include[d.Name] {
			continue
		}
		if exclude[d.Name] {
			continue
		}
		alias := tools.Ident(d.Name)
		if cfg.Prefix != "" {
			alias = tools.Ident(cfg.Prefix + d.Name)
		}
		out = append(out, BridgeTool(caller, ToolOptions{
			Suite:       cfg.Suite,
			Tool:        d.Name,
			Alias:       alias,
			Description: d.Description,
			InputSchema: tools.TypeSpec{Schema: d.InputSchema},
		}))
	}
	return out
}

func toSet(vals []string) map[string]bool {
	if len(vals) == 0 {
		return nil
	}
	set := make(map[string]bool, len(vals))
	for _, v := range vals {
		set[v] = true
	}
	return set
}
