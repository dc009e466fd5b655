package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/agenticklabs/agentick/tickengine"
)

// WorkflowName is the name a backend registers the tick workflow under.
const WorkflowName = "tickengine.run"

// ActivityName is the name a backend registers the tick activity under.
// The activity is where all the actual (non-deterministic) work happens:
// compiling the COM, calling the model, dispatching tools. The workflow
// itself only starts it and returns its result, so a durable backend only
// needs to replay one activity call to resume a crashed tick.
const ActivityName = "tickengine.run.activity"

// RunInput names which registered Loop to run and with what Options. Loop
// values themselves hold unserializable state (a model.Client, an
// *compiler.Compiler, ...) and can never cross a durable queue, so the
// workflow input is just a lookup key into a process-local Registry that
// both the workflow and activity share.
type RunInput struct {
	LoopKey string
	Options tickengine.Options
}

// Registry maps a lookup key to a concrete *tickengine.Loop so the tick
// activity can find the loop a RunInput refers to. A caller registers a
// loop immediately before calling Engine.StartWorkflow and deregisters it
// once the resulting handle's Wait returns.
type Registry struct {
	mu    sync.Mutex
	loops map[string]*tickengine.Loop
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{loops: make(map[string]*tickengine.Loop)}
}

// Register records loop under key, overwriting any previous entry.
func (r *Registry) Register(key string, loop *tickengine.Loop) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loops[key] = loop
}

// Unregister removes key, if present.
func (r *Registry) Unregister(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.loops, key)
}

func (r *Registry) lookup(key string) (*tickengine.Loop, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	loop, ok := r.loops[key]
	return loop, ok
}

// Workflow is the WorkflowFunc every backend registers under WorkflowName.
// It does nothing but hand the input to ActivityName and return the
// result, which is what makes a crashed tick resumable: the durable
// backend only has to replay this one activity call from history.
func Workflow(wctx WorkflowContext, input any) (any, error) {
	req, ok := input.(RunInput)
	if !ok {
		return nil, fmt.Errorf("tickengine: workflow input must be a RunInput, got %T", input)
	}
	var result tickengine.TickResult
	err := wctx.ExecuteActivity(wctx.Context(), ActivityRequest{Name: ActivityName, Input: req}, &result)
	return result, err
}

// NewActivity returns the ActivityFunc every backend registers under
// ActivityName, closed over the Registry the caller's loops live in.
func NewActivity(registry *Registry) ActivityFunc {
	return func(ctx context.Context, input any) (any, error) {
		req, ok := input.(RunInput)
		if !ok {
			return nil, fmt.Errorf("tickengine: activity input must be a RunInput, got %T", input)
		}
		loop, ok := registry.lookup(req.LoopKey)
		if !ok {
			return nil, fmt.Errorf("tickengine: no loop registered for key %q", req.LoopKey)
		}
		return loop.Run(ctx, req.Options), nil
	}
}
