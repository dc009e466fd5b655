package session_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agenticklabs/agentick/com"
	"github.com/agenticklabs/agentick/compiler"
	"github.com/agenticklabs/agentick/hooks"
	"github.com/agenticklabs/agentick/session"
)

func TestHibernateHydrate_RoundTrip(t *testing.T) {
	c1 := compiler.New(compiler.DefaultEstimator)
	comInst := com.New(hooks.NewBus())

	comInst.AddMessage(com.Message{Role: "user", Content: nil}, com.TimelineEntry{Tags: []string{"turn-1"}})
	comInst.AddSection(com.Section{ID: "profile", Content: "be terse"})
	comInst.SetRef("cursor", "abc123")
	comInst.SetState("attempts", 3)
	comInst.AddMetadata(map[string]any{"trace_id": "t-1"})
	comInst.SetModelOptions(map[string]any{"temperature": 0.2})

	root := &leafNode{key: "root"}
	_, err := c1.Compile(root, comInst, compiler.TickState{Tick: 1})
	require.NoError(t, err)
	require.NotEmpty(t, c1.DataCache())

	snap := session.Hibernate(c1, session.HibernateParams{
		SessionID: "sess-1",
		Tick:      1,
		Timeline:  comInst.Timeline(),
		COMState:  comInst.Snapshot(),
		Metadata:  map[string]any{"reason": "idle timeout"},
	})
	require.Equal(t, session.SnapshotVersion, snap.Version)
	require.Equal(t, "sess-1", snap.SessionID)
	require.ElementsMatch(t, c1.DataCache(), snap.DataCache)

	c2 := compiler.New(compiler.DefaultEstimator)
	comState, timeline, err := session.Hydrate(c2, snap)
	require.NoError(t, err)
	require.ElementsMatch(t, c1.DataCache(), c2.DataCache())
	require.Equal(t, comInst.Timeline(), timeline)
	require.Equal(t, comInst.Snapshot(), comState)

	comInst2 := com.New(hooks.NewBus())
	comInst2.Restore(comState, timeline)
	require.Equal(t, comInst.Timeline(), comInst2.Timeline())
	require.Equal(t, comInst.Sections(), comInst2.Sections())
}

func TestHydrate_RejectsIncompatibleVersion(t *testing.T) {
	c := compiler.New(compiler.DefaultEstimator)
	_, _, err := session.Hydrate(c, session.Snapshot{Version: 2})
	require.Error(t, err)
}

func TestExecutionHandle_HibernateHydrateInto(t *testing.T) {
	root := session.NewExecution("run-1", "sess-1", hooks.NewBus(), nil)
	result := root.Send(t.Context(), newConfig("root"), "hi")
	require.Equal(t, 1, result.Ticks)

	snap := root.Hibernate(result.Ticks, nil)
	require.NotZero(t, snap.CreatedAt)

	resumed := session.NewExecution("run-1", "sess-1", hooks.NewBus(), nil)
	require.NoError(t, resumed.HydrateInto(snap))
}
