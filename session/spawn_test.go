package session_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agenticklabs/agentick/compiler"
	"github.com/agenticklabs/agentick/hooks"
	"github.com/agenticklabs/agentick/model"
	"github.com/agenticklabs/agentick/session"
	"github.com/agenticklabs/agentick/stream"
	"github.com/agenticklabs/agentick/toolexec"
	"github.com/agenticklabs/agentick/tools"
)

// leafNode is a Node with no content, just enough to drive one empty tick.
type leafNode struct{ key string }

func (n *leafNode) PositionKey() string                                          { return n.key }
func (n *leafNode) OnMount(*compiler.Context)                                    {}
func (n *leafNode) OnUnmount(*compiler.Context)                                  {}
func (n *leafNode) OnTickStart(*compiler.Context)                                {}
func (n *leafNode) Collect(*compiler.Context, *compiler.Builder)                 {}
func (n *leafNode) OnAfterCompile(*compiler.Context, *compiler.CompiledStructure) {}
func (n *leafNode) Children() []compiler.Node                                    { return nil }

type fakeStreamer struct{ sent bool }

func (s *fakeStreamer) Recv() (model.Chunk, error) {
	if s.sent {
		return model.Chunk{}, io.EOF
	}
	s.sent = true
	return model.Chunk{Type: model.ChunkTypeText, Message: &model.Message{
		Role:  model.ConversationRoleAssistant,
		Parts: []model.Part{model.TextPart{Text: "ok"}},
	}}, nil
}
func (s *fakeStreamer) Close() error             { return nil }
func (s *fakeStreamer) Metadata() map[string]any { return nil }

type fakeClient struct{}

func (fakeClient) Complete(context.Context, *model.Request) (*model.Response, error) {
	return nil, errors.New("not used")
}
func (fakeClient) Stream(context.Context, *model.Request) (model.Streamer, error) {
	return &fakeStreamer{}, nil
}

func newConfig(label string) session.SpawnConfig {
	return session.SpawnConfig{
		Tree:     &leafNode{key: "root"},
		Client:   fakeClient{},
		Executor: toolexec.New(func(tools.Ident) (tools.Tool, bool) { return tools.Tool{}, false }, nil),
		Label:    label,
		MaxTicks: 1,
	}
}

func TestExecutionHandle_SendCompletes(t *testing.T) {
	var events []stream.Event
	root := session.NewExecution("run-1", "sess-1", hooks.NewBus(), func(_ []string, e stream.Event) {
		events = append(events, e)
	})

	result := root.Send(context.Background(), newConfig("root"), "hi")
	require.Equal(t, 1, result.Ticks)
	require.NotEmpty(t, events)
}

func TestExecutionHandle_SpawnTagsChildEventsWithSpawnPath(t *testing.T) {
	var paths [][]string
	root := session.NewExecution("run-1", "sess-1", hooks.NewBus(), func(path []string, e stream.Event) {
		paths = append(paths, append([]string{}, path...))
		_ = e
	})

	child, err := root.Spawn(context.Background(), newConfig("child-a"), "do work")
	require.NoError(t, err)
	res := child.Result()
	require.Equal(t, 1, res.Ticks)

	var sawSpawnPath bool
	for _, p := range paths {
		if len(p) > 0 && p[0] == "child-a" {
			sawSpawnPath = true
		}
	}
	require.True(t, sawSpawnPath, "expected at least one event tagged with the child's spawn path")
}

func TestExecutionHandle_SpawnDepthLimit(t *testing.T) {
	root := session.NewExecution("run-1", "sess-1", hooks.NewBus(), nil)

	cur := root
	for i := 0; i < session.MaxSpawnDepth; i++ {
		child, err := cur.Spawn(context.Background(), newConfig("gen"), "go")
		require.NoError(t, err)
		cur = &child.ExecutionHandle
	}

	_, err := cur.Spawn(context.Background(), newConfig("too-deep"), "go")
	require.Error(t, err)
}

// S4 - parallel spawns: two children started concurrently on independent
// goroutines both complete, and their spawn paths and results don't leak
// into each other. Spawn itself blocks until its child completes, so true
// concurrency requires the caller to wrap the Spawn call in a goroutine
// rather than spawn-then-await sequentially.
func TestExecutionHandle_ParallelSpawnsBothComplete(t *testing.T) {
	var mu sync.Mutex
	var paths [][]string
	root := session.NewExecution("run-1", "sess-1", hooks.NewBus(), func(path []string, e stream.Event) {
		mu.Lock()
		paths = append(paths, append([]string{}, path...))
		mu.Unlock()
		_ = e
	})

	type spawnOutcome struct {
		child *session.ChildHandle
		err   error
	}

	var wg sync.WaitGroup
	outcomes := make([]spawnOutcome, 2)
	labels := []string{"child-a", "child-b"}
	for i, label := range labels {
		wg.Add(1)
		go func(i int, label string) {
			defer wg.Done()
			child, err := root.Spawn(context.Background(), newConfig(label), "do work")
			outcomes[i] = spawnOutcome{child: child, err: err}
		}(i, label)
	}
	wg.Wait()

	for i, outcome := range outcomes {
		require.NoError(t, outcome.err, "spawn %d", i)
		res := outcome.child.Result()
		require.Equal(t, 1, res.Ticks)
	}

	mu.Lock()
	defer mu.Unlock()
	for _, label := range labels {
		var saw bool
		for _, p := range paths {
			if len(p) > 0 && p[0] == label {
				saw = true
				break
			}
		}
		require.True(t, saw, "expected at least one event tagged with spawn path %q", label)
	}
}

func TestExecutionHandle_AbortCascadesToChildren(t *testing.T) {
	root := session.NewExecution("run-1", "sess-1", hooks.NewBus(), nil)

	child, err := root.Spawn(context.Background(), newConfig("child-a"), "do work")
	require.NoError(t, err)

	root.Abort("operator cancelled")

	require.True(t, root.IsAborted())
	require.True(t, child.IsAborted())
}
