// Package toolexec implements the Tool Executor: confirmation checks,
// per-call dispatch by execution type, sandbox-access recovery, and error
// classification.
package toolexec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/agenticklabs/agentick/com"
	"github.com/agenticklabs/agentick/confirmation"
	"github.com/agenticklabs/agentick/toolerrors"
	"github.com/agenticklabs/agentick/tools"
)

// defaultClientToolTimeout is the wait bound for a CLIENT tool whose
// RequiresResponse is true, per the tool contract.
const defaultClientToolTimeout = 30 * time.Second

// Call is one model-issued tool invocation awaiting dispatch.
type Call struct {
	ID    string
	Name  tools.Ident
	Input any
}

// Result mirrors a successful and a denied/errored outcome identically, so
// downstream consumers never special-case failure.
type Result struct {
	ToolCallID string
	Name       tools.Ident
	Success    bool
	Content    []tools.ContentBlock
	Error      *toolerrors.Error
}

// SandboxAccessError is returned by a handler that needs the coordinator to
// ask for expanded filesystem access before retrying.
type SandboxAccessError struct {
	RequestedPath string
	ResolvedPath  string
	Mode          string
	Recover       func(ctx context.Context, always bool) (cleanup func(), err error)
}

func (e *SandboxAccessError) Error() string {
	return fmt.Sprintf("sandbox access denied: %s (resolved %s, mode %s)", e.RequestedPath, e.ResolvedPath, e.Mode)
}

// ClientToolCoordinator supplies results submitted by a client (UI) for
// CLIENT-type tools that require a response.
type ClientToolCoordinator interface {
	WaitForResult(ctx context.Context, callID string, timeout time.Duration) ([]tools.ContentBlock, error)
}

// Callbacks notify the caller of confirmation lifecycle events as
// processToolWithConfirmation runs.
type Callbacks struct {
	OnConfirmationRequired func(call Call, message string, preview any, metadata map[string]any)
	OnConfirmationResolved func(call Call, approved bool)
}

// ToolLookup resolves a tool by name, first against per-execution state
// (ctx.getTool) and falling back to session/app-level configTools.
type ToolLookup func(name tools.Ident) (tools.Tool, bool)

// Executor dispatches tool calls against a confirmation Coordinator,
// resolving each call's tool compiler-mediated (via COM.GetTool /
// GetToolByAlias, so a <tool> node registered through the component tree
// is dispatchable) before falling back to Lookup and then ConfigTools for
// tools that never go through COM at all.
type Executor struct {
	COM         *com.COM
	Lookup      ToolLookup
	ConfigTools map[tools.Ident]tools.Tool
	Coordinator *confirmation.Coordinator
	ClientTools ClientToolCoordinator
	Parallel    bool

	idempotentMu sync.Mutex
	idempotent   map[string]Result
}

// New returns an Executor backed by lookup and coordinator.
func New(lookup ToolLookup, coordinator *confirmation.Coordinator) *Executor {
	return &Executor{Lookup: lookup, Coordinator: coordinator, ConfigTools: make(map[tools.Ident]tools.Tool)}
}

// Dispatch executes calls sequentially, or concurrently when e.Parallel is
// set; results preserve the input order regardless of completion order.
func (e *Executor) Dispatch(ctx context.Context, calls []Call, cb Callbacks) []Result {
	results := make([]Result, len(calls))
	if !e.Parallel {
		for i, call := range calls {
			results[i] = e.processToolWithConfirmation(ctx, call, cb)
		}
		return results
	}

	var wg sync.WaitGroup
	for i, call := range calls {
		wg.Add(1)
		go func(i int, call Call) {
			defer wg.Done()
			results[i] = e.processToolWithConfirmation(ctx, call, cb)
		}(i, call)
	}
	wg.Wait()
	return results
}

// processToolWithConfirmation implements the full per-call pipeline:
// resolution, idempotency dedup, pre-execution confirmation, routed
// dispatch, sandbox recovery, output validation, and error classification.
func (e *Executor) processToolWithConfirmation(ctx context.Context, call Call, cb Callbacks) Result {
	tool, ok := e.resolveTool(call.Name)
	if !ok {
		return errResult(call, toolerrors.KindToolNotFound, fmt.Sprintf("tool %q is not registered", call.Name), false)
	}

	if err := validateInputAgainstSchema(call.Input, tool.InputSchema.Schema); err != nil {
		return errResult(call, toolerrors.KindValidationError, fmt.Sprintf("input for tool %q failed schema validation: %s", call.Name, err), false)
	}

	key, dedup := idempotencyKey(tool, call)
	if dedup {
		if cached, hit := e.loadIdempotent(key); hit {
			return cached
		}
	}

	result := e.dispatch(ctx, call, tool, cb)

	if dedup && result.Success {
		e.storeIdempotent(key, result)
	}
	return result
}

// dispatch runs confirmation, routed execution, sandbox recovery, and
// content validation for one already-resolved call.
func (e *Executor) dispatch(ctx context.Context, call Call, tool tools.Tool, cb Callbacks) Result {
	if tools.ResolveRequiresConfirmation(tool, call.Input) {
		approved, reason, err := e.confirm(ctx, call, tool, cb, nil)
		if err != nil {
			return errResult(call, toolerrors.KindAbortError, err.Error(), false)
		}
		if !approved {
			_ = reason
			return denialResult(call)
		}
	}

	content, err := e.route(ctx, call, tool)
	if err != nil {
		var sandboxErr *SandboxAccessError
		if errors.As(err, &sandboxErr) && sandboxErr.Recover != nil {
			return e.recoverSandbox(ctx, call, tool, sandboxErr, cb)
		}
		return classify(call, err)
	}

	if kind, err := validateContent(content); err != nil {
		return errResult(call, kind, err.Error(), false)
	}
	return Result{ToolCallID: call.ID, Name: call.Name, Success: true, Content: content}
}

// idempotencyKey reports whether tool declares transcript-scoped
// idempotency via its Tags, and if so a dedup key combining its name and
// canonical JSON input.
func idempotencyKey(tool tools.Tool, call Call) (string, bool) {
	scope, ok, err := tools.IdempotencyScopeFromTags(tool.Tags)
	if err != nil || !ok || scope != tools.IdempotencyScopeTranscript {
		return "", false
	}
	data, err := json.Marshal(call.Input)
	if err != nil {
		return "", false
	}
	return string(call.Name) + "\x00" + string(data), true
}

func (e *Executor) loadIdempotent(key string) (Result, bool) {
	e.idempotentMu.Lock()
	defer e.idempotentMu.Unlock()
	cached, hit := e.idempotent[key]
	return cached, hit
}

func (e *Executor) storeIdempotent(key string, result Result) {
	e.idempotentMu.Lock()
	defer e.idempotentMu.Unlock()
	if e.idempotent == nil {
		e.idempotent = make(map[string]Result)
	}
	e.idempotent[key] = result
}

func (e *Executor) resolveTool(name tools.Ident) (tools.Tool, bool) {
	if e.COM != nil {
		if et, ok := e.COM.GetTool(name); ok {
			return et.Tool, true
		}
		if et, ok := e.COM.GetToolByAlias(name); ok {
			return et.Tool, true
		}
	}
	if e.Lookup != nil {
		if t, ok := e.Lookup(name); ok {
			return t, true
		}
	}
	t, ok := e.ConfigTools[name]
	return t, ok
}

// confirm runs one pre-execution or sandbox-recovery confirmation round:
// compute a preview via tool.Preview (swallowing errors, falling back to
// the raw input), fire OnConfirmationRequired, then wait.
func (e *Executor) confirm(ctx context.Context, call Call, tool tools.Tool, cb Callbacks, metadata map[string]any) (approved bool, reason string, err error) {
	message := tool.ConfirmationMessage
	if message == "" {
		message = fmt.Sprintf("Confirm execution of %q?", tool.Name)
	}
	if cb.OnConfirmationRequired != nil {
		cb.OnConfirmationRequired(call, message, previewInput(call.Input, tool), metadata)
	}

	res, waitErr := e.Coordinator.WaitForConfirmation(ctx, call.ID, call.Name)
	if waitErr != nil {
		return false, "", waitErr
	}
	if cb.OnConfirmationResolved != nil {
		cb.OnConfirmationResolved(call, res.Approved)
	}
	return res.Approved, res.Reason, nil
}

// previewInput renders a confirmation preview via tool.Preview, swallowing
// any error and falling back to input run through marshalInput (or, failing
// that, the raw input itself) when Preview is nil or errors.
func previewInput(input any, tool tools.Tool) any {
	if tool.Preview != nil {
		if preview, err := tool.Preview(input); err == nil {
			return preview
		}
	}
	if normalized, err := marshalInput(input); err == nil {
		return normalized
	}
	return input
}

// route dispatches a confirmed call by tool.Type.
func (e *Executor) route(ctx context.Context, call Call, tool tools.Tool) ([]tools.ContentBlock, error) {
	switch tool.Type {
	case tools.ExecutionTypeServer, tools.ExecutionTypeMCP:
		if tool.Handler == nil {
			return nil, toolerrors.New(toolerrors.KindToolNoHandler, fmt.Sprintf("tool %q has no handler", tool.Name))
		}
		return tool.Handler(ctx, call.Input, tools.RunContext{ToolCallID: call.ID})

	case tools.ExecutionTypeClient:
		if !tool.RequiresResponse {
			return tool.DefaultResult, nil
		}
		timeout := time.Duration(tool.Timeout) * time.Millisecond
		if timeout <= 0 {
			timeout = defaultClientToolTimeout
		}
		if e.ClientTools == nil {
			return nil, toolerrors.New(toolerrors.KindClientToolError, "no client tool coordinator configured")
		}
		content, err := e.ClientTools.WaitForResult(ctx, call.ID, timeout)
		if err != nil {
			return nil, toolerrors.NewWithCause(toolerrors.KindClientToolError, "client tool result timed out or failed", err)
		}
		return content, nil

	case tools.ExecutionTypeProvider:
		return nil, toolerrors.New(toolerrors.KindInvalidExecutionType, "PROVIDER tools are handled inside the model adapter")

	default:
		return nil, toolerrors.New(toolerrors.KindInvalidExecutionType, fmt.Sprintf("unknown execution type %q", tool.Type))
	}
}

// recoverSandbox implements the sandbox-access recovery protocol: confirm,
// recover, retry once, always run cleanup.
func (e *Executor) recoverSandbox(ctx context.Context, call Call, tool tools.Tool, sandboxErr *SandboxAccessError, cb Callbacks) Result {
	metadata := map[string]any{
		"type":          "sandbox_access",
		"requestedPath": sandboxErr.RequestedPath,
		"resolvedPath":  sandboxErr.ResolvedPath,
		"mode":          sandboxErr.Mode,
	}
	message := fmt.Sprintf("%q requests access to %s", tool.Name, sandboxErr.ResolvedPath)
	sandboxTool := tool
	sandboxTool.ConfirmationMessage = message

	approved, _, err := e.confirm(ctx, call, sandboxTool, cb, metadata)
	if err != nil {
		return errResult(call, toolerrors.KindAbortError, err.Error(), false)
	}
	if !approved {
		return denialResult(call)
	}

	cleanup, recoverErr := sandboxErr.Recover(ctx, false)
	if cleanup != nil {
		defer cleanup()
	}
	if recoverErr != nil {
		return errResult(call, toolerrors.KindSandboxAccess, recoverErr.Error(), false)
	}

	content, retryErr := e.route(ctx, call, tool)
	if retryErr != nil {
		var again *SandboxAccessError
		if errors.As(retryErr, &again) {
			return errResult(call, toolerrors.KindSandboxAccess, again.Error(), false)
		}
		return classify(call, retryErr)
	}
	if kind, err := validateContent(content); err != nil {
		return errResult(call, kind, err.Error(), false)
	}
	return Result{ToolCallID: call.ID, Name: call.Name, Success: true, Content: content}
}

// validateInputAgainstSchema checks input against a tool's declared JSON
// schema, if any. A nil or empty schema skips validation entirely: not every
// tool declares one, and an untyped PROVIDER-dispatched tool may never reach
// here with JSON-shaped input at all.
func validateInputAgainstSchema(input any, schema []byte) error {
	if len(schema) == 0 {
		return nil
	}

	var schemaDoc any
	if err := json.Unmarshal(schema, &schemaDoc); err != nil {
		return fmt.Errorf("unmarshal schema: %w", err)
	}

	inputJSON, err := json.Marshal(input)
	if err != nil {
		return fmt.Errorf("marshal input: %w", err)
	}
	var inputDoc any
	if err := json.Unmarshal(inputJSON, &inputDoc); err != nil {
		return fmt.Errorf("unmarshal input: %w", err)
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", schemaDoc); err != nil {
		return fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return fmt.Errorf("compile schema: %w", err)
	}
	return compiled.Validate(inputDoc)
}

// validateContent enforces that a handler returned an array of content
// blocks each carrying a non-empty Type. The two failure modes map to
// distinct toolerrors kinds: a non-array return is KindInvalidReturnType,
// while an array containing a malformed block is KindInvalidContentBlock.
func validateContent(content []tools.ContentBlock) (toolerrors.Kind, error) {
	if content == nil {
		return toolerrors.KindInvalidReturnType, errors.New("handler must return a content block array")
	}
	for i, block := range content {
		if block.Type == "" {
			return toolerrors.KindInvalidContentBlock, fmt.Errorf("content block %d is missing a type", i)
		}
	}
	return "", nil
}

// classify maps an arbitrary handler error onto the toolerrors taxonomy.
func classify(call Call, err error) Result {
	kind := toolerrors.KindUnknownError
	switch {
	case errors.Is(err, context.Canceled):
		kind = toolerrors.KindAbortError
	case errors.Is(err, context.DeadlineExceeded):
		kind = toolerrors.KindTimeoutError
	case isKind(err, toolerrors.KindNetworkError):
		kind = toolerrors.KindNetworkError
	case isKind(err, toolerrors.KindRateLimitError):
		kind = toolerrors.KindRateLimitError
	case isKind(err, toolerrors.KindGuardDenied):
		kind = toolerrors.KindGuardDenied
	case isKind(err, toolerrors.KindAuthError):
		kind = toolerrors.KindAuthError
	case isKind(err, toolerrors.KindValidationError):
		kind = toolerrors.KindValidationError
	case isKind(err, toolerrors.KindApplicationError):
		kind = toolerrors.KindApplicationError
	}
	return errResult(call, kind, err.Error(), toolerrors.Recoverable(kind))
}

func isKind(err error, kind toolerrors.Kind) bool {
	var te *toolerrors.Error
	if errors.As(err, &te) {
		return te.Kind == kind
	}
	return false
}

func errResult(call Call, kind toolerrors.Kind, message string, recoverable bool) Result {
	return Result{
		ToolCallID: call.ID,
		Name:       call.Name,
		Success:    false,
		Content:    []tools.ContentBlock{{Type: "text", Text: message}},
		Error:      &toolerrors.Error{Kind: kind, Message: message, Recoverable: recoverable},
	}
}

func denialResult(call Call) Result {
	const text = "Tool execution was denied by user."
	return Result{
		ToolCallID: call.ID,
		Name:       call.Name,
		Success:    false,
		Content:    []tools.ContentBlock{{Type: "text", Text: text}},
		Error:      &toolerrors.Error{Kind: toolerrors.KindGuardDenied, Message: text, Recoverable: false},
	}
}

// marshalInput normalizes input through a JSON round trip; previewInput uses
// it when tool.Preview is nil or fails, and falls back to the raw input on error.
func marshalInput(input any) (any, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return input, err
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return input, err
	}
	return out, nil
}
