package mcp_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenticklabs/agentick/mcp"
	"github.com/agenticklabs/agentick/tools"
)

type fakeCaller struct {
	lastReq mcp.CallRequest
	resp    mcp.CallResponse
	err     error
}

func (f *fakeCaller) CallTool(ctx context.Context, req mcp.CallRequest) (mcp.CallResponse, error) {
	f.lastReq = req
	return f.resp, f.err
}

func TestBridgeTool_RoundTripsTextResult(t *testing.T) {
	text, _ := json.Marshal("42 degrees")
	caller := &fakeCaller{resp: mcp.CallResponse{Result: text}}

	tool := mcp.BridgeTool(caller, mcp.ToolOptions{Suite: "weather", Tool: "get_forecast"})
	assert.Equal(t, tools.ExecutionTypeMCP, tool.Type)
	assert.Equal(t, tools.Ident("get_forecast"), tool.Name)

	blocks, err := tool.Handler(context.Background(), map[string]any{"city": "nyc"}, tools.RunContext{ToolCallID: "c1"})
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "text", blocks[0].Type)
	assert.Equal(t, "42 degrees", blocks[0].Text)
	assert.Equal(t, "weather", caller.lastReq.Suite)
	assert.Equal(t, "get_forecast", caller.lastReq.Tool)
}

func TestBridgeTool_StructuredResultBecomesJSONBlock(t *testing.T) {
	structured, _ := json.Marshal(map[string]any{"tempF": 42})
	caller := &fakeCaller{resp: mcp.CallResponse{Result: structured, Structured: structured}}

	tool := mcp.BridgeTool(caller, mcp.ToolOptions{Suite: "weather", Tool: "get_forecast", Alias: "weather_forecast"})
	assert.Equal(t, tools.Ident("weather_forecast"), tool.Name)

	blocks, err := tool.Handler(context.Background(), nil, tools.RunContext{})
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "json", blocks[0].Type)
	assert.Equal(t, float64(42), blocks[0].Data["tempF"])
}

func TestBridgeTool_PropagatesCallerError(t *testing.T) {
	caller := &fakeCaller{err: &mcp.Error{Code: mcp.JSONRPCInvalidParams, Message: "bad args"}}
	tool := mcp.BridgeTool(caller, mcp.ToolOptions{Suite: "weather", Tool: "get_forecast"})

	_, err := tool.Handler(context.Background(), nil, tools.RunContext{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad args")
}
