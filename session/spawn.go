package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/agenticklabs/agentick/com"
	"github.com/agenticklabs/agentick/compiler"
	"github.com/agenticklabs/agentick/confirmation"
	"github.com/agenticklabs/agentick/hooks"
	"github.com/agenticklabs/agentick/model"
	"github.com/agenticklabs/agentick/stream"
	"github.com/agenticklabs/agentick/tickengine"
	"github.com/agenticklabs/agentick/tickengine/engine"
	"github.com/agenticklabs/agentick/toolexec"
	"github.com/agenticklabs/agentick/tools"
)

// MaxSpawnDepth bounds how deep a spawn tree may nest. A child at depth
// MaxSpawnDepth is allowed; one deeper than that is refused: agents that
// spawn agents that spawn agents must bottom out.
const MaxSpawnDepth = 10

// SpawnConfig names the component (and optional execution overrides) an
// execution spawns as a child run.
type SpawnConfig struct {
	Tree     compiler.Node
	Client   model.Client
	Executor *toolexec.Executor
	Label    string
	MaxTicks int
}

// ExecutionHandle is the caller-facing handle for one render/send
// invocation: the root of a (possibly nested) spawn tree.
type ExecutionHandle struct {
	runID     string
	sessionID string
	path      []string
	depth     int

	com         *com.COM
	compiler    *compiler.Compiler
	coordinator *confirmation.Coordinator
	seq         *int64
	bus         hooks.Bus

	mu       sync.Mutex
	children []*ChildHandle
	aborted  bool

	onEvent func(spawnPath []string, event stream.Event)
}

// ChildHandle is the caller-facing handle for one spawned child execution.
// It embeds an ExecutionHandle so children can themselves spawn
// grandchildren up to MaxSpawnDepth.
type ChildHandle struct {
	ExecutionHandle
	parent *ExecutionHandle
	label  string
	result tickengine.TickResult
	done   chan struct{}
}

// NewExecution starts a fresh root ExecutionHandle: a new COM, a
// session-wide sequence counter, and a fresh confirmation coordinator so
// callIds never collide across independent top-level runs.
func NewExecution(runID, sessionID string, bus hooks.Bus, onEvent func(spawnPath []string, event stream.Event)) *ExecutionHandle {
	return &ExecutionHandle{
		runID:       runID,
		sessionID:   sessionID,
		depth:       0,
		com:         com.New(bus),
		compiler:    compiler.New(compiler.DefaultEstimator),
		coordinator: confirmation.New(),
		seq:         new(int64),
		bus:         bus,
		onEvent:     onEvent,
	}
}

// Send drives one execution to completion (or abort) using the given
// spawn config as the root component and model client.
func (e *ExecutionHandle) Send(ctx context.Context, cfg SpawnConfig, input string) tickengine.TickResult {
	loop := e.buildLoop(cfg, input)
	return loop.Run(ctx, tickengine.Options{MaxTicks: cfg.MaxTicks})
}

// SendViaEngine drives one execution the same way Send does, but through a
// pluggable engine.Engine instead of calling the loop directly. This is how
// a caller opts into a durable backend (engine/temporal) for crash
// resumability: the workflow/activity pair must already be registered on
// eng (RegisterTickWorkflow does this once at startup), and registry is
// the process-local lookup the activity uses to find this handle's loop,
// since a *tickengine.Loop itself can never cross a durable queue.
func (e *ExecutionHandle) SendViaEngine(ctx context.Context, eng engine.Engine, registry *engine.Registry, cfg SpawnConfig, input string) (tickengine.TickResult, error) {
	loop := e.buildLoop(cfg, input)

	key := e.runID
	registry.Register(key, loop)
	defer registry.Unregister(key)

	handle, err := eng.StartWorkflow(ctx, engine.WorkflowStartRequest{
		ID:       key,
		Workflow: engine.WorkflowName,
		Input:    engine.RunInput{LoopKey: key, Options: tickengine.Options{MaxTicks: cfg.MaxTicks}},
	})
	if err != nil {
		return tickengine.TickResult{}, fmt.Errorf("start tick workflow: %w", err)
	}

	var result tickengine.TickResult
	if err := handle.Wait(ctx, &result); err != nil {
		return tickengine.TickResult{}, err
	}
	return result, nil
}

// RegisterTickWorkflow registers the tick workflow and activity that
// SendViaEngine relies on. Call it once per engine instance, before the
// first SendViaEngine call that uses it.
func RegisterTickWorkflow(ctx context.Context, eng engine.Engine, registry *engine.Registry) error {
	if err := eng.RegisterWorkflow(ctx, engine.WorkflowDefinition{Name: engine.WorkflowName, Handler: engine.Workflow}); err != nil {
		return err
	}
	return eng.RegisterActivity(ctx, engine.ActivityDefinition{Name: engine.ActivityName, Handler: engine.NewActivity(registry)})
}

func (e *ExecutionHandle) buildLoop(cfg SpawnConfig, input string) *tickengine.Loop {
	if input != "" {
		e.com.QueueMessage(com.Message{Role: "user", Content: []tools.ContentBlock{{Type: "text", Text: input}}})
	}
	if cfg.Executor != nil {
		cfg.Executor.COM = e.com
	}

	return &tickengine.Loop{
		COM:         e.com,
		Compiler:    e.compiler,
		Client:      cfg.Client,
		Executor:    cfg.Executor,
		Coordinator: e.coordinator,
		Seq:         e.seq,
		RunID:       e.runID,
		SessionID:   e.sessionID,
		Tree:        cfg.Tree,
		Hooks: tickengine.Hooks{
			OnEvent: func(evt stream.Event) {
				e.publish(evt)
			},
		},
	}
}

// Spawn starts a child execution under e. The child gets its own COM (so
// parent and child timelines never interleave) but shares e's confirmation
// coordinator (so confirmations route to the right waiter by callId
// regardless of which node in the tree registered it) and sequence counter
// (so every event across the whole tree gets a strictly increasing
// sequence number). Spawning past MaxSpawnDepth is refused.
func (e *ExecutionHandle) Spawn(ctx context.Context, cfg SpawnConfig, input string) (*ChildHandle, error) {
	if e.depth+1 > MaxSpawnDepth {
		return nil, fmt.Errorf("spawn depth exceeded: max %d", MaxSpawnDepth)
	}

	path := append(append([]string{}, e.path...), cfg.Label)
	child := &ChildHandle{
		ExecutionHandle: ExecutionHandle{
			runID:       e.runID + "/" + cfg.Label,
			sessionID:   e.sessionID,
			path:        path,
			depth:       e.depth + 1,
			com:         com.New(e.bus),
			compiler:    compiler.New(compiler.DefaultEstimator),
			coordinator: e.coordinator,
			seq:         e.seq,
			bus:         e.bus,
			onEvent:     e.onEvent,
		},
		parent: e,
		label:  cfg.Label,
		done:   make(chan struct{}),
	}

	e.mu.Lock()
	e.children = append(e.children, child)
	e.mu.Unlock()

	e.publish(e.syntheticEvent(stream.EventSpawnStart, map[string]any{"label": cfg.Label, "path": path}))

	result := child.Send(ctx, cfg, input)
	child.result = result
	close(child.done)

	e.publish(e.syntheticEvent(stream.EventSpawnEnd, map[string]any{"label": cfg.Label, "path": path, "status": result.Status}))

	return child, nil
}

// Result blocks until the child's spawn completes and returns its result.
func (c *ChildHandle) Result() tickengine.TickResult {
	<-c.done
	return c.result
}

// Abort cascades to every descendant: it cancels all pending confirmations
// on the shared coordinator (so no node in the tree can be left blocked
// waiting on a confirmation that will never resolve) and marks every
// handle in the subtree aborted.
func (e *ExecutionHandle) Abort(reason string) {
	e.mu.Lock()
	e.aborted = true
	e.com.Abort(reason)
	children := append([]*ChildHandle{}, e.children...)
	e.mu.Unlock()

	for _, c := range children {
		c.Abort(reason)
	}
	e.coordinator.CancelAll()
}

// IsAborted reports whether this handle has been aborted.
func (e *ExecutionHandle) IsAborted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.aborted
}

// Hibernate captures this handle's compiler data cache and COM state into a
// Snapshot suitable for durable storage. tick should be the caller's own
// tick counter for this execution; metadata is carried through unchanged.
func (e *ExecutionHandle) Hibernate(tick int, metadata map[string]any) Snapshot {
	return Hibernate(e.compiler, HibernateParams{
		SessionID: e.sessionID,
		Tick:      tick,
		Timeline:  e.com.Timeline(),
		COMState:  e.com.Snapshot(),
		Metadata:  metadata,
	})
}

// HydrateInto restores snap into this handle's compiler and COM. Call this
// on a freshly constructed handle (via NewExecution) before the first
// Send, to resume a previously hibernated execution.
func (e *ExecutionHandle) HydrateInto(snap Snapshot) error {
	state, timeline, err := Hydrate(e.compiler, snap)
	if err != nil {
		return err
	}
	e.com.Restore(state, timeline)
	return nil
}

// publish republishes an event up the tree, prepending this handle's
// spawnPath so a root-level subscriber can tell which node in the tree
// produced it. Lifecycle callbacks (OnTickStart/OnBeforeSend/...) are
// scoped to the handle that registered them and are never forwarded
// across a spawn boundary; only onEvent propagates, since it is the one
// hook a top-level observer needs to reconstruct the whole tree's
// activity.
func (e *ExecutionHandle) publish(evt stream.Event) {
	if e.onEvent != nil {
		e.onEvent(e.path, evt)
	}
}

func (e *ExecutionHandle) syntheticEvent(t stream.EventType, payload any) stream.Event {
	return stream.NewBase(t, e.runID, e.sessionID, payload)
}

// SpawnPathString renders a spawn path the way logs and traces want it:
// dot-separated labels from root to this node.
func SpawnPathString(path []string) string {
	return strings.Join(path, ".")
}
