package compiler_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenticklabs/agentick/com"
	"github.com/agenticklabs/agentick/compiler"
	"github.com/agenticklabs/agentick/hooks"
	"github.com/agenticklabs/agentick/tools"
)

// toolNode is a Node whose only contribution is registering a tool,
// exercising the <tool>-node-to-COM path Collect/annotate are responsible
// for.
type toolNode struct {
	key  string
	tool tools.Tool
}

func (n *toolNode) PositionKey() string                                          { return n.key }
func (n *toolNode) OnMount(*compiler.Context)                                    {}
func (n *toolNode) OnUnmount(*compiler.Context)                                  {}
func (n *toolNode) OnTickStart(*compiler.Context)                                {}
func (n *toolNode) Collect(ctx *compiler.Context, out *compiler.Builder)         { out.AddTool(n.tool) }
func (n *toolNode) OnAfterCompile(*compiler.Context, *compiler.CompiledStructure) {}
func (n *toolNode) Children() []compiler.Node                                    { return nil }

func TestCompile_RegistersCollectedToolIntoCOM(t *testing.T) {
	comInst := com.New(hooks.NewBus())
	root := &toolNode{key: "root", tool: tools.Tool{
		Name:        "echo",
		Description: "echoes input",
		Type:        tools.ExecutionTypeServer,
		Audience:    tools.AudienceModel,
	}}
	c := compiler.New(nil)

	compiled, err := c.Compile(root, comInst, compiler.TickState{})
	require.NoError(t, err)

	// The COM-mediated path: a tool collected via the tree is dispatchable
	// through COM.GetTool, not just present in the builder's own list.
	et, ok := comInst.GetTool("echo")
	require.True(t, ok)
	assert.Equal(t, tools.Ident("echo"), et.Name)

	require.Len(t, compiled.Tools, 1)
	assert.Equal(t, tools.Ident("echo"), compiled.Tools[0].Name)
}

// TestCompile_AudienceUserToolDispatchableButHiddenFromModel covers the
// "a tool is dispatchable iff present in tools" invariant together with
// audience-based visibility: AudienceUser tools register with COM (so
// GetTool finds them) but never appear in the provider-facing definitions.
func TestCompile_AudienceUserToolDispatchableButHiddenFromModel(t *testing.T) {
	comInst := com.New(hooks.NewBus())
	root := &toolNode{key: "root", tool: tools.Tool{
		Name:     "operator_only",
		Type:     tools.ExecutionTypeServer,
		Audience: tools.AudienceUser,
	}}
	c := compiler.New(nil)

	compiled, err := c.Compile(root, comInst, compiler.TickState{})
	require.NoError(t, err)

	_, ok := comInst.GetTool("operator_only")
	require.True(t, ok, "an audience=user tool must still be dispatchable via COM.GetTool")
	assert.Empty(t, compiled.Tools, "an audience=user tool must not appear in the provider-facing tool list")
}

// TestCompile_AliasFirstRegistrationWins covers the alias-collision rule:
// once an alias is claimed by one tool's registration, a later tool
// collected in the same tree cannot steal it.
func TestCompile_AliasFirstRegistrationWins(t *testing.T) {
	comInst := com.New(hooks.NewBus())
	first := &toolNode{key: "first", tool: tools.Tool{
		Name:    "search_v1",
		Type:    tools.ExecutionTypeServer,
		Aliases: []tools.Ident{"search"},
	}}
	second := &toolNode{key: "second", tool: tools.Tool{
		Name:    "search_v2",
		Type:    tools.ExecutionTypeServer,
		Aliases: []tools.Ident{"search"},
	}}
	root := &multiNode{children: []compiler.Node{first, second}}
	c := compiler.New(nil)

	_, err := c.Compile(root, comInst, compiler.TickState{})
	require.NoError(t, err)

	et, ok := comInst.GetToolByAlias("search")
	require.True(t, ok)
	assert.Equal(t, tools.Ident("search_v1"), et.Name)
}

type multiNode struct{ children []compiler.Node }

func (n *multiNode) PositionKey() string                                          { return "root" }
func (n *multiNode) OnMount(*compiler.Context)                                    {}
func (n *multiNode) OnUnmount(*compiler.Context)                                  {}
func (n *multiNode) OnTickStart(*compiler.Context)                                {}
func (n *multiNode) Collect(*compiler.Context, *compiler.Builder)                 {}
func (n *multiNode) OnAfterCompile(*compiler.Context, *compiler.CompiledStructure) {}
func (n *multiNode) Children() []compiler.Node                                    { return n.children }
