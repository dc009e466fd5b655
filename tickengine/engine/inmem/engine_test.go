package inmem_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agenticklabs/agentick/tickengine/engine"
	"github.com/agenticklabs/agentick/tickengine/engine/inmem"
)

func TestEngine_RunsWorkflowToCompletion(t *testing.T) {
	e := inmem.New(inmem.Options{})

	require.NoError(t, e.RegisterActivity(t.Context(), engine.ActivityDefinition{
		Name: "double",
		Handler: func(_ context.Context, input any) (any, error) {
			return input.(int) * 2, nil
		},
	}))

	require.NoError(t, e.RegisterWorkflow(t.Context(), engine.WorkflowDefinition{
		Name: "doubler",
		Handler: func(wctx engine.WorkflowContext, input any) (any, error) {
			var doubled int
			if err := wctx.ExecuteActivity(wctx.Context(), engine.ActivityRequest{Name: "double", Input: input}, &doubled); err != nil {
				return nil, err
			}
			return doubled, nil
		},
	}))

	handle, err := e.StartWorkflow(t.Context(), engine.WorkflowStartRequest{ID: "run-1", Workflow: "doubler", Input: 21})
	require.NoError(t, err)

	var result int
	require.NoError(t, handle.Wait(t.Context(), &result))
	require.Equal(t, 42, result)
}

func TestEngine_StartWorkflow_UnknownWorkflow(t *testing.T) {
	e := inmem.New(inmem.Options{})
	_, err := e.StartWorkflow(t.Context(), engine.WorkflowStartRequest{ID: "run-1", Workflow: "missing"})
	require.Error(t, err)
}

func TestEngine_Signal_DeliversToRunningWorkflow(t *testing.T) {
	e := inmem.New(inmem.Options{})

	require.NoError(t, e.RegisterWorkflow(t.Context(), engine.WorkflowDefinition{
		Name: "waits-for-signal",
		Handler: func(wctx engine.WorkflowContext, _ any) (any, error) {
			var payload string
			if err := wctx.SignalChannel("go").Receive(wctx.Context(), &payload); err != nil {
				return nil, err
			}
			return payload, nil
		},
	}))

	handle, err := e.StartWorkflow(t.Context(), engine.WorkflowStartRequest{ID: "run-2", Workflow: "waits-for-signal"})
	require.NoError(t, err)
	require.NoError(t, handle.Signal(t.Context(), "go", "hello"))

	var result string
	require.NoError(t, handle.Wait(t.Context(), &result))
	require.Equal(t, "hello", result)
}

func TestEngine_WorkflowPropagatesActivityError(t *testing.T) {
	e := inmem.New(inmem.Options{})
	boom := errors.New("boom")

	require.NoError(t, e.RegisterActivity(t.Context(), engine.ActivityDefinition{
		Name:    "fails",
		Handler: func(context.Context, any) (any, error) { return nil, boom },
	}))
	require.NoError(t, e.RegisterWorkflow(t.Context(), engine.WorkflowDefinition{
		Name: "calls-failing-activity",
		Handler: func(wctx engine.WorkflowContext, _ any) (any, error) {
			var out any
			return nil, wctx.ExecuteActivity(wctx.Context(), engine.ActivityRequest{Name: "fails"}, &out)
		},
	}))

	handle, err := e.StartWorkflow(t.Context(), engine.WorkflowStartRequest{ID: "run-3", Workflow: "calls-failing-activity"})
	require.NoError(t, err)

	err = handle.Wait(t.Context(), nil)
	require.ErrorIs(t, err, boom)
}
