package temporal

import (
	"context"
	"time"

	"go.temporal.io/sdk/workflow"

	"github.com/agenticklabs/agentick/telemetry"
	"github.com/agenticklabs/agentick/tickengine/engine"
)

// workflowContext implements engine.WorkflowContext over a Temporal
// workflow.Context. Every method that touches workflow state goes through
// the Temporal SDK so replay stays deterministic.
type workflowContext struct {
	eng        *Engine
	ctx        workflow.Context
	workflowID string
	runID      string
	logger     telemetry.Logger
	metrics    telemetry.Metrics
	tracer     telemetry.Tracer
}

func newWorkflowContext(e *Engine, ctx workflow.Context) *workflowContext {
	info := workflow.GetInfo(ctx)
	wf := &workflowContext{
		eng:        e,
		ctx:        ctx,
		workflowID: info.WorkflowExecution.ID,
		runID:      info.WorkflowExecution.RunID,
		logger:     e.logger,
		metrics:    e.metrics,
		tracer:     e.tracer,
	}
	e.trackWorkflowContext(wf.runID, wf)
	return wf
}

func (w *workflowContext) Context() context.Context {
	return engine.WithWorkflowContext(context.Background(), w)
}

func (w *workflowContext) WorkflowID() string { return w.workflowID }
func (w *workflowContext) RunID() string      { return w.runID }

func (w *workflowContext) ExecuteActivity(_ context.Context, req engine.ActivityRequest, result any) error {
	fut, err := w.ExecuteActivityAsync(context.Background(), req)
	if err != nil {
		return err
	}
	return fut.Get(context.Background(), result)
}

func (w *workflowContext) ExecuteActivityAsync(_ context.Context, req engine.ActivityRequest) (engine.Future, error) {
	actx := workflow.WithActivityOptions(w.ctx, w.activityOptionsFor(req))
	fut := workflow.ExecuteActivity(actx, req.Name, req.Input)
	return &future{future: fut, ctx: actx}, nil
}

func (w *workflowContext) SignalChannel(name string) engine.SignalChannel {
	return &signalChannel{ctx: w.ctx, ch: workflow.GetSignalChannel(w.ctx, name)}
}

func (w *workflowContext) Logger() telemetry.Logger   { return w.logger }
func (w *workflowContext) Metrics() telemetry.Metrics { return w.metrics }
func (w *workflowContext) Tracer() telemetry.Tracer   { return w.tracer }
func (w *workflowContext) Now() time.Time             { return workflow.Now(w.ctx) }

func (w *workflowContext) activityOptionsFor(req engine.ActivityRequest) workflow.ActivityOptions {
	defaults := w.eng.activityDefaultsFor(req.Name)

	queue := req.Queue
	if queue == "" {
		queue = defaults.Queue
	}
	if queue == "" {
		queue = w.eng.defaultQueue
	}

	startToClose := req.Timeout
	if startToClose <= 0 {
		startToClose = defaults.Timeout
	}
	if startToClose <= 0 {
		startToClose = time.Minute
	}

	opts := workflow.ActivityOptions{
		TaskQueue:           queue,
		StartToCloseTimeout: startToClose,
	}
	if rp := convertRetryPolicy(mergeRetryPolicies(defaults.RetryPolicy, req.RetryPolicy)); rp != nil {
		opts.RetryPolicy = rp
	}
	return opts
}

func mergeRetryPolicies(base, override engine.RetryPolicy) engine.RetryPolicy {
	result := base
	if override.MaxAttempts != 0 {
		result.MaxAttempts = override.MaxAttempts
	}
	if override.InitialInterval != 0 {
		result.InitialInterval = override.InitialInterval
	}
	if override.BackoffCoefficient != 0 {
		result.BackoffCoefficient = override.BackoffCoefficient
	}
	return result
}

// future adapts a Temporal workflow.Future to engine.Future.
type future struct {
	future workflow.Future
	ctx    workflow.Context
}

func (f *future) Get(_ context.Context, result any) error {
	return f.future.Get(f.ctx, result)
}

func (f *future) IsReady() bool {
	return f.future.IsReady()
}

// signalChannel adapts a Temporal workflow.ReceiveChannel to
// engine.SignalChannel.
type signalChannel struct {
	ctx workflow.Context
	ch  workflow.ReceiveChannel
}

func (s *signalChannel) Receive(_ context.Context, dest any) error {
	s.ch.Receive(s.ctx, dest)
	return nil
}

func (s *signalChannel) ReceiveAsync(dest any) bool {
	return s.ch.ReceiveAsync(dest)
}
