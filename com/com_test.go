package com_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenticklabs/agentick/com"
	"github.com/agenticklabs/agentick/tools"
)

func TestAddTool_AudienceUserHiddenFromModel(t *testing.T) {
	c := com.New(nil)
	c.AddTool(tools.Tool{Name: "secret_render", Audience: tools.AudienceUser})

	defs := c.ToolDefinitions()
	assert.Empty(t, defs)

	_, ok := c.GetTool("secret_render")
	assert.True(t, ok, "GetTool must still return a user-audience tool")
}

func TestAddTool_FirstAliasRegistrationWins(t *testing.T) {
	c := com.New(nil)
	c.AddTool(tools.Tool{Name: "tool_a", Aliases: []tools.Ident{"shared_alias"}})
	c.AddTool(tools.Tool{Name: "tool_b", Aliases: []tools.Ident{"shared_alias"}})

	resolved, ok := c.GetToolByAlias("shared_alias")
	require.True(t, ok)
	assert.Equal(t, tools.Ident("tool_a"), resolved.Name)
}

func TestRemoveTool_RemovesAliases(t *testing.T) {
	c := com.New(nil)
	c.AddTool(tools.Tool{Name: "tool_a", Aliases: []tools.Ident{"alias_a"}})
	c.RemoveTool("tool_a")

	_, ok := c.GetToolByAlias("alias_a")
	assert.False(t, ok)
}

func TestResolveTickControl_StopWinsOverContinue(t *testing.T) {
	c := com.New(nil)
	c.RequestContinue(0, "keep going", "owner-a")
	c.RequestStop(5, "done", "owner-b")

	status := c.ResolveTickControl(com.StatusContinue)
	assert.Equal(t, com.StatusCompleted, status)
}

func TestResolveTickControl_HighestPriorityStopWins(t *testing.T) {
	c := com.New(nil)
	c.RequestStop(1, "low priority stop", "a")
	c.RequestStop(10, "high priority stop", "b")

	status := c.ResolveTickControl(com.StatusContinue)
	assert.Equal(t, com.StatusCompleted, status)
}

func TestResolveTickControl_ContinueOverridesNonContinueDefault(t *testing.T) {
	c := com.New(nil)
	c.RequestContinue(0, "more to do", "owner")

	status := c.ResolveTickControl(com.StatusCompleted)
	assert.Equal(t, com.StatusContinue, status)
}

func TestResolveTickControl_DefaultWhenQueueEmpty(t *testing.T) {
	c := com.New(nil)
	status := c.ResolveTickControl(com.StatusCompleted)
	assert.Equal(t, com.StatusCompleted, status)
}

// Universal invariant 7: after Clear, refs/state/injectedHistory/
// queuedMessages/modelOptions survive; everything else resets.
func TestClear_PreservesPersistentState(t *testing.T) {
	c := com.New(nil)
	c.SetRef("widget", "instance")
	c.SetState("count", 1)
	c.QueueMessage(com.Message{Role: "user"})
	c.InjectHistory(com.TimelineEntry{})
	c.SetModelOptions(map[string]any{"temperature": 0.5})

	c.AddMessage(com.Message{Role: "assistant"}, com.TimelineEntry{})
	c.AddSection(com.Section{ID: "sys", Content: "hello"})
	c.AddTool(tools.Tool{Name: "some_tool"})
	c.AddEphemeral("note", com.PositionEnd, 0, "", "")

	c.Clear()

	assert.Empty(t, c.Timeline())
	assert.Empty(t, c.Sections())
	assert.Empty(t, c.ToolDefinitions())
	assert.Empty(t, c.Ephemeral())
	assert.Empty(t, c.SystemMessages())

	ref, ok := c.GetRef("widget")
	assert.True(t, ok)
	assert.Equal(t, "instance", ref)

	state, ok := c.GetState("count")
	assert.True(t, ok)
	assert.Equal(t, 1, state)

	assert.Len(t, c.GetQueuedMessages(), 1)
	assert.Len(t, c.InjectedHistory(), 1)
	assert.Equal(t, 0.5, c.ModelOptions()["temperature"])
}

func TestAbort_ResetAtTickStart(t *testing.T) {
	c := com.New(nil)
	c.Abort("user cancelled")

	aborted, reason := c.ShouldAbort()
	assert.True(t, aborted)
	assert.Equal(t, "user cancelled", reason)

	c.ResetAbortState()
	aborted, _ = c.ShouldAbort()
	assert.False(t, aborted)
}

func TestSectionMerge_StringsConcatenateWithNewline(t *testing.T) {
	c := com.New(nil)
	c.AddSection(com.Section{ID: "sys", Content: "first"})
	c.AddSection(com.Section{ID: "sys", Content: "second"})

	sections := c.Sections()
	assert.Equal(t, "first\nsecond", sections["sys"].Content)
}

func TestRequestRecompile_InvokesCallback(t *testing.T) {
	c := com.New(nil)
	var gotReason string
	c.OnRecompile(func(reason string) { gotReason = reason })

	c.RequestRecompile("too large")

	requested, reason := c.ConsumeRecompileRequest()
	assert.True(t, requested)
	assert.Equal(t, "too large", reason)
	assert.Equal(t, "too large", gotReason)

	requestedAgain, _ := c.ConsumeRecompileRequest()
	assert.False(t, requestedAgain, "consuming clears the flag")
}
