// Package engine defines the pluggable durable-execution backend seam for
// the tick engine: a generic Engine interface that in-process (inmem) and
// durable (temporal) backends both implement, so a session's tick loop can
// run either as a plain goroutine or as a crash-resumable workflow without
// the caller changing how it drives ticks.
package engine

import (
	"context"
	"time"

	"github.com/agenticklabs/agentick/telemetry"
)

type (
	// Engine abstracts workflow registration and execution so backends
	// (Temporal, in-memory, or a future custom engine) can be swapped
	// without touching the session/spawn layer above it.
	Engine interface {
		// RegisterWorkflow registers a workflow definition with the engine.
		// Call this during startup before StartWorkflow.
		RegisterWorkflow(ctx context.Context, def WorkflowDefinition) error

		// RegisterActivity registers an activity definition with the engine.
		// Activities are short-lived tasks invoked from workflows.
		RegisterActivity(ctx context.Context, def ActivityDefinition) error

		// StartWorkflow initiates a new workflow execution and returns a
		// handle for interacting with it. req.ID must be unique for the
		// engine instance.
		StartWorkflow(ctx context.Context, req WorkflowStartRequest) (WorkflowHandle, error)
	}

	// WorkflowDefinition binds a workflow handler to a logical name and
	// default queue.
	WorkflowDefinition struct {
		Name      string
		TaskQueue string
		Handler   WorkflowFunc
	}

	// WorkflowFunc is the workflow entry point. It must be deterministic:
	// replaying it against the same activity results must produce the same
	// execution sequence, since durable backends replay it from history.
	WorkflowFunc func(ctx WorkflowContext, input any) (any, error)

	// WorkflowContext exposes engine operations to a running workflow.
	// Implementations must keep every operation replay-safe: no direct
	// I/O, no random numbers, no wall-clock reads outside Now().
	WorkflowContext interface {
		Context() context.Context
		WorkflowID() string
		RunID() string

		// ExecuteActivity schedules an activity and blocks for its result.
		ExecuteActivity(ctx context.Context, req ActivityRequest, result any) error
		// ExecuteActivityAsync schedules an activity without blocking.
		ExecuteActivityAsync(ctx context.Context, req ActivityRequest) (Future, error)

		// SignalChannel returns the channel for the named signal, creating
		// it on first use.
		SignalChannel(name string) SignalChannel

		Logger() telemetry.Logger
		Metrics() telemetry.Metrics
		Tracer() telemetry.Tracer

		// Now returns the current time in a replay-safe manner.
		Now() time.Time
	}

	// Future is a pending activity result.
	Future interface {
		Get(ctx context.Context, result any) error
		IsReady() bool
	}

	// ActivityDefinition registers an activity handler with optional
	// per-activity defaults.
	ActivityDefinition struct {
		Name    string
		Handler ActivityFunc
		Options ActivityOptions
	}

	// ActivityFunc performs the activity's side effects (I/O, API calls,
	// tool dispatch). Unlike a WorkflowFunc it is not replayed.
	ActivityFunc func(ctx context.Context, input any) (any, error)

	// ActivityOptions configures retry/timeout behavior for an activity.
	ActivityOptions struct {
		Queue       string
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowStartRequest describes how to launch a workflow execution.
	WorkflowStartRequest struct {
		ID               string
		Workflow         string
		TaskQueue        string
		Input            any
		Memo             map[string]any
		SearchAttributes map[string]any
		RetryPolicy      RetryPolicy
	}

	// ActivityRequest describes one activity invocation from a workflow.
	ActivityRequest struct {
		Name        string
		Input       any
		Queue       string
		RetryPolicy RetryPolicy
		Timeout     time.Duration
	}

	// WorkflowHandle lets a caller interact with a running workflow.
	WorkflowHandle interface {
		// Wait blocks until the workflow completes, populating result.
		Wait(ctx context.Context, result any) error
		// Signal sends an asynchronous message to the workflow.
		Signal(ctx context.Context, name string, payload any) error
		// Cancel requests cancellation of the workflow.
		Cancel(ctx context.Context) error
	}

	// RetryPolicy defines retry semantics shared by workflows and
	// activities. Zero-valued fields mean the engine uses its defaults.
	RetryPolicy struct {
		MaxAttempts        int
		InitialInterval    time.Duration
		BackoffCoefficient float64
	}

	// SignalChannel exposes workflow signal delivery in an engine-agnostic
	// way.
	SignalChannel interface {
		// Receive blocks until a signal arrives and decodes it into dest.
		Receive(ctx context.Context, dest any) error
		// ReceiveAsync attempts a non-blocking receive.
		ReceiveAsync(dest any) bool
	}
)

type wfCtxKey struct{}

// WithWorkflowContext returns a child context carrying wf, so activity
// handlers invoked from it can retrieve the originating WorkflowContext.
func WithWorkflowContext(ctx context.Context, wf WorkflowContext) context.Context {
	return context.WithValue(ctx, wfCtxKey{}, wf)
}

// WorkflowContextFromContext extracts a WorkflowContext from ctx, or nil if
// none was attached.
func WorkflowContextFromContext(ctx context.Context) WorkflowContext {
	if v := ctx.Value(wfCtxKey{}); v != nil {
		if wf, ok := v.(WorkflowContext); ok {
			return wf
		}
	}
	return nil
}
