package session_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agenticklabs/agentick/hooks"
	"github.com/agenticklabs/agentick/session"
	"github.com/agenticklabs/agentick/tickengine/engine"
	"github.com/agenticklabs/agentick/tickengine/engine/inmem"
)

// TestExecutionHandle_SendViaEngine exercises the pluggable backend seam
// with the in-memory engine: the same SpawnConfig that Send drives
// directly, driven instead through a registered workflow/activity pair.
func TestExecutionHandle_SendViaEngine(t *testing.T) {
	eng := inmem.New(inmem.Options{})
	registry := engine.NewRegistry()

	require.NoError(t, session.RegisterTickWorkflow(t.Context(), eng, registry))

	root := session.NewExecution("run-1", "sess-1", hooks.NewBus(), nil)
	result, err := root.SendViaEngine(t.Context(), eng, registry, newConfig("root"), "hi")
	require.NoError(t, err)
	require.Equal(t, 1, result.Ticks)
}
