// Package inmem implements engine.Engine without any external dependency:
// every workflow runs as a goroutine in the current process. It exists so a
// single binary can drive the tick engine without standing up Temporal, and
// so tests can exercise the engine.Engine seam cheaply.
package inmem

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/agenticklabs/agentick/telemetry"
	"github.com/agenticklabs/agentick/tickengine/engine"
)

// Engine is a process-local engine.Engine. The zero value is not usable;
// construct one with New.
type Engine struct {
	logger  telemetry.Logger
	metrics telemetry.Metrics
	tracer  telemetry.Tracer

	mu         sync.Mutex
	workflows  map[string]engine.WorkflowDefinition
	activities map[string]registeredActivity
	handles    map[string]*workflowHandle
}

type registeredActivity struct {
	handler engine.ActivityFunc
	options engine.ActivityOptions
}

// Options configures an Engine. Every field is optional; omitted telemetry
// hooks fall back to no-ops.
type Options struct {
	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer
}

// New constructs a ready-to-use in-memory Engine.
func New(opts Options) *Engine {
	logger, metrics, tracer := opts.Logger, opts.Metrics, opts.Tracer
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Engine{
		logger:     logger,
		metrics:    metrics,
		tracer:     tracer,
		workflows:  make(map[string]engine.WorkflowDefinition),
		activities: make(map[string]registeredActivity),
		handles:    make(map[string]*workflowHandle),
	}
}

// RegisterWorkflow records def under its name for later StartWorkflow calls.
func (e *Engine) RegisterWorkflow(_ context.Context, def engine.WorkflowDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("inmem: workflow name is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.workflows[def.Name] = def
	return nil
}

// RegisterActivity records def under its name for ExecuteActivity calls
// made by any running workflow.
func (e *Engine) RegisterActivity(_ context.Context, def engine.ActivityDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("inmem: activity name is required")
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.activities[def.Name] = registeredActivity{handler: def.Handler, options: def.Options}
	return nil
}

// StartWorkflow launches req.Workflow in a new goroutine and returns a
// handle immediately; the workflow keeps running even if the caller never
// waits on the handle.
func (e *Engine) StartWorkflow(ctx context.Context, req engine.WorkflowStartRequest) (engine.WorkflowHandle, error) {
	e.mu.Lock()
	def, ok := e.workflows[req.Workflow]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("inmem: workflow %q is not registered", req.Workflow)
	}
	if req.ID == "" {
		return nil, fmt.Errorf("inmem: workflow start request requires an ID")
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	wctx := &workflowContext{
		engine:   e,
		ctx:      runCtx,
		id:       req.ID,
		runID:    req.ID,
		signals:  make(map[string]*signalChannel),
	}

	h := &workflowHandle{
		id:      req.ID,
		done:    make(chan struct{}),
		wctx:    wctx,
		cancel:  make(chan struct{}),
	}

	e.mu.Lock()
	e.handles[req.ID] = h
	e.mu.Unlock()

	go func() {
		select {
		case <-h.cancel:
		case <-h.done:
		}
		cancelRun()
	}()

	go func() {
		defer close(h.done)
		result, err := def.Handler(wctx, req.Input)
		h.result, h.err = result, err
	}()

	return h, nil
}

type workflowHandle struct {
	id     string
	done   chan struct{}
	cancel chan struct{}
	wctx   *workflowContext

	result any
	err    error
}

func (h *workflowHandle) Wait(ctx context.Context, result any) error {
	select {
	case <-h.done:
	case <-ctx.Done():
		return ctx.Err()
	}
	if h.err != nil {
		return h.err
	}
	return assignResult(result, h.result)
}

func (h *workflowHandle) Signal(_ context.Context, name string, payload any) error {
	h.wctx.signalChannel(name).deliver(payload)
	return nil
}

func (h *workflowHandle) Cancel(context.Context) error {
	select {
	case <-h.cancel:
	default:
		close(h.cancel)
	}
	return nil
}

// workflowContext implements engine.WorkflowContext by running activities
// synchronously in the workflow goroutine and fanning signals out over
// buffered channels.
type workflowContext struct {
	engine *Engine
	ctx    context.Context
	id     string
	runID  string

	mu      sync.Mutex
	signals map[string]*signalChannel
}

func (w *workflowContext) Context() context.Context { return w.ctx }
func (w *workflowContext) WorkflowID() string        { return w.id }
func (w *workflowContext) RunID() string             { return w.runID }

func (w *workflowContext) ExecuteActivity(ctx context.Context, req engine.ActivityRequest, result any) error {
	fut, err := w.ExecuteActivityAsync(ctx, req)
	if err != nil {
		return err
	}
	return fut.Get(ctx, result)
}

func (w *workflowContext) ExecuteActivityAsync(ctx context.Context, req engine.ActivityRequest) (engine.Future, error) {
	w.engine.mu.Lock()
	act, ok := w.engine.activities[req.Name]
	w.engine.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("inmem: activity %q is not registered", req.Name)
	}

	f := &future{ready: make(chan struct{})}
	go func() {
		defer close(f.ready)
		f.result, f.err = act.handler(engine.WithActivityContext(engine.WithWorkflowContext(ctx, w)), req.Input)
	}()
	return f, nil
}

func (w *workflowContext) SignalChannel(name string) engine.SignalChannel {
	return w.signalChannel(name)
}

func (w *workflowContext) signalChannel(name string) *signalChannel {
	w.mu.Lock()
	defer w.mu.Unlock()
	sc, ok := w.signals[name]
	if !ok {
		sc = &signalChannel{ch: make(chan any, 16)}
		w.signals[name] = sc
	}
	return sc
}

func (w *workflowContext) Logger() telemetry.Logger   { return w.engine.logger }
func (w *workflowContext) Metrics() telemetry.Metrics { return w.engine.metrics }
func (w *workflowContext) Tracer() telemetry.Tracer   { return w.engine.tracer }
func (w *workflowContext) Now() time.Time             { return time.Now() }

type signalChannel struct {
	ch chan any
}

func (s *signalChannel) deliver(payload any) {
	select {
	case s.ch <- payload:
	default:
	}
}

func (s *signalChannel) Receive(ctx context.Context, dest any) error {
	select {
	case v := <-s.ch:
		return assignResult(dest, v)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *signalChannel) ReceiveAsync(dest any) bool {
	select {
	case v := <-s.ch:
		return assignResult(dest, v) == nil
	default:
		return false
	}
}

type future struct {
	ready  chan struct{}
	result any
	err    error
}

func (f *future) Get(ctx context.Context, result any) error {
	select {
	case <-f.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	if f.err != nil {
		return f.err
	}
	return assignResult(result, f.result)
}

func (f *future) IsReady() bool {
	select {
	case <-f.ready:
		return true
	default:
		return false
	}
}

// assignResult stores src in the value dst points to when src's type is
// assignable to it, so callers can pass either a pointer to the concrete
// type or a pointer to an interface; any other type is an error.
func assignResult(dst, src any) error {
	if dst == nil || src == nil {
		return nil
	}
	dv := reflect.ValueOf(dst)
	if dv.Kind() != reflect.Ptr || dv.IsNil() {
		return fmt.Errorf("inmem: result destination must be a non-nil pointer")
	}
	sv := reflect.ValueOf(src)
	if !sv.Type().AssignableTo(dv.Elem().Type()) {
		return fmt.Errorf("inmem: cannot assign %s into %s", sv.Type(), dv.Elem().Type())
	}
	dv.Elem().Set(sv)
	return nil
}
