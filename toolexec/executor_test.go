package toolexec_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenticklabs/agentick/com"
	"github.com/agenticklabs/agentick/confirmation"
	"github.com/agenticklabs/agentick/hooks"
	"github.com/agenticklabs/agentick/toolerrors"
	"github.com/agenticklabs/agentick/toolexec"
	"github.com/agenticklabs/agentick/tools"
)

func lookupFrom(ts map[tools.Ident]tools.Tool) toolexec.ToolLookup {
	return func(name tools.Ident) (tools.Tool, bool) {
		t, ok := ts[name]
		return t, ok
	}
}

func TestProcessTool_NotFound(t *testing.T) {
	coord := confirmation.New()
	exec := toolexec.New(lookupFrom(nil), coord)

	results := exec.Dispatch(context.Background(), []toolexec.Call{{ID: "c1", Name: "missing"}}, toolexec.Callbacks{})
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, toolerrors.KindToolNotFound, results[0].Error.Kind)
}

// S1 - confirmation approve.
func TestProcessTool_ConfirmationApprove(t *testing.T) {
	coord := confirmation.New()
	dangerous := tools.Tool{
		Name:                 "dangerous_action",
		Type:                 tools.ExecutionTypeServer,
		RequiresConfirmation: true,
		Handler: func(ctx context.Context, input any, rc tools.RunContext) ([]tools.ContentBlock, error) {
			return []tools.ContentBlock{{Type: "text", Text: "executed on prod"}}, nil
		},
	}
	exec := toolexec.New(lookupFrom(map[tools.Ident]tools.Tool{"dangerous_action": dangerous}), coord)

	var required, resolved int
	go func() {
		time.Sleep(10 * time.Millisecond)
		coord.ResolveConfirmation("call-1", true, false, "")
	}()

	results := exec.Dispatch(context.Background(), []toolexec.Call{{ID: "call-1", Name: "dangerous_action", Input: map[string]any{"target": "prod"}}}, toolexec.Callbacks{
		OnConfirmationRequired: func(call toolexec.Call, message string, preview any, metadata map[string]any) { required++ },
		OnConfirmationResolved: func(call toolexec.Call, approved bool) { resolved++ },
	})

	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	require.Len(t, results[0].Content, 1)
	assert.Equal(t, "executed on prod", results[0].Content[0].Text)
	assert.Equal(t, 1, required)
	assert.Equal(t, 1, resolved)
}

// S2 - confirmation deny.
func TestProcessTool_ConfirmationDeny(t *testing.T) {
	coord := confirmation.New()
	dangerous := tools.Tool{
		Name:                 "dangerous_action",
		Type:                 tools.ExecutionTypeServer,
		RequiresConfirmation: true,
		Handler: func(ctx context.Context, input any, rc tools.RunContext) ([]tools.ContentBlock, error) {
			t.Fatal("handler must not run when confirmation is denied")
			return nil, nil
		},
	}
	exec := toolexec.New(lookupFrom(map[tools.Ident]tools.Tool{"dangerous_action": dangerous}), coord)

	go func() {
		time.Sleep(10 * time.Millisecond)
		coord.ResolveConfirmation("call-2", false, false, "too risky")
	}()

	results := exec.Dispatch(context.Background(), []toolexec.Call{{ID: "call-2", Name: "dangerous_action"}}, toolexec.Callbacks{})

	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, "Tool execution was denied by user.", results[0].Content[0].Text)
}

// S3 - sandbox recovery: first call fails with SandboxAccessError, second
// (post-recovery) succeeds; recover and cleanup each run exactly once.
func TestProcessTool_SandboxRecovery(t *testing.T) {
	coord := confirmation.New()
	attempts := 0
	recoverCalls := 0
	cleanupCalls := 0

	sandboxed := tools.Tool{
		Name: "read_file",
		Type: tools.ExecutionTypeServer,
		Handler: func(ctx context.Context, input any, rc tools.RunContext) ([]tools.ContentBlock, error) {
			attempts++
			if attempts == 1 {
				return nil, &toolexec.SandboxAccessError{
					RequestedPath: "/secret/file.txt",
					ResolvedPath:  "/real/secret/file.txt",
					Mode:          "read",
					Recover: func(ctx context.Context, always bool) (func(), error) {
						recoverCalls++
						return func() { cleanupCalls++ }, nil
					},
				}
			}
			return []tools.ContentBlock{{Type: "text", Text: "file content"}}, nil
		},
	}
	exec := toolexec.New(lookupFrom(map[tools.Ident]tools.Tool{"read_file": sandboxed}), coord)

	go func() {
		time.Sleep(10 * time.Millisecond)
		coord.ResolveConfirmation("call-3", true, false, "")
	}()

	results := exec.Dispatch(context.Background(), []toolexec.Call{{ID: "call-3", Name: "read_file"}}, toolexec.Callbacks{})

	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, 1, recoverCalls)
	assert.Equal(t, 1, cleanupCalls)
	assert.Equal(t, 2, attempts)
}

func TestProcessTool_ClientToolSyncDefault(t *testing.T) {
	coord := confirmation.New()
	clientTool := tools.Tool{
		Name:             "client_render",
		Type:             tools.ExecutionTypeClient,
		RequiresResponse: false,
		DefaultResult:    []tools.ContentBlock{{Type: "text", Text: "queued"}},
	}
	exec := toolexec.New(lookupFrom(map[tools.Ident]tools.Tool{"client_render": clientTool}), coord)

	results := exec.Dispatch(context.Background(), []toolexec.Call{{ID: "call-4", Name: "client_render"}}, toolexec.Callbacks{})
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.Equal(t, "queued", results[0].Content[0].Text)
}

func TestProcessTool_ProviderTypeRejected(t *testing.T) {
	coord := confirmation.New()
	providerTool := tools.Tool{Name: "native_search", Type: tools.ExecutionTypeProvider}
	exec := toolexec.New(lookupFrom(map[tools.Ident]tools.Tool{"native_search": providerTool}), coord)

	results := exec.Dispatch(context.Background(), []toolexec.Call{{ID: "call-5", Name: "native_search"}}, toolexec.Callbacks{})
	require.Len(t, results, 1)
	assert.Equal(t, toolerrors.KindInvalidExecutionType, results[0].Error.Kind)
}

func TestProcessTool_AbortCancelsPendingConfirmation(t *testing.T) {
	coord := confirmation.New()
	blocked := tools.Tool{
		Name:                 "blocked_action",
		Type:                 tools.ExecutionTypeServer,
		RequiresConfirmation: true,
		Handler: func(ctx context.Context, input any, rc tools.RunContext) ([]tools.ContentBlock, error) {
			return nil, errors.New("unreachable")
		},
	}
	exec := toolexec.New(lookupFrom(map[tools.Ident]tools.Tool{"blocked_action": blocked}), coord)

	done := make(chan []toolexec.Result, 1)
	go func() {
		done <- exec.Dispatch(context.Background(), []toolexec.Call{{ID: "call-6", Name: "blocked_action"}}, toolexec.Callbacks{})
	}()

	time.Sleep(10 * time.Millisecond)
	coord.CancelAll()

	results := <-done
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
}

func TestProcessTool_SchemaValidation(t *testing.T) {
	coord := confirmation.New()
	strict := tools.Tool{
		Name: "set_count",
		Type: tools.ExecutionTypeServer,
		InputSchema: tools.TypeSpec{
			Schema: []byte(`{
				"type": "object",
				"properties": {"count": {"type": "integer", "minimum": 0}},
				"required": ["count"],
				"additionalProperties": false
			}`),
		},
		Handler: func(ctx context.Context, input any, rc tools.RunContext) ([]tools.ContentBlock, error) {
			return []tools.ContentBlock{{Type: "text", Text: "ok"}}, nil
		},
	}
	exec := toolexec.New(lookupFrom(map[tools.Ident]tools.Tool{"set_count": strict}), coord)

	results := exec.Dispatch(context.Background(), []toolexec.Call{
		{ID: "c-ok", Name: "set_count", Input: map[string]any{"count": 3}},
		{ID: "c-bad-type", Name: "set_count", Input: map[string]any{"count": -1}},
		{ID: "c-missing", Name: "set_count", Input: map[string]any{}},
	}, toolexec.Callbacks{})

	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.Equal(t, toolerrors.KindValidationError, results[1].Error.Kind)
	assert.False(t, results[2].Success)
	assert.Equal(t, toolerrors.KindValidationError, results[2].Error.Kind)
}

// TestProcessTool_ConfirmationPreview covers the preview step of the
// confirmation flow: a tool with Preview set gets its rendered preview,
// one without falls back to the raw (marshal-normalized) input.
func TestProcessTool_ConfirmationPreview(t *testing.T) {
	coord := confirmation.New()
	withPreview := tools.Tool{
		Name:                 "delete_file",
		Type:                 tools.ExecutionTypeServer,
		RequiresConfirmation: true,
		Preview: func(input any) (any, error) {
			m, _ := input.(map[string]any)
			return fmt.Sprintf("will delete %v", m["path"]), nil
		},
		Handler: func(ctx context.Context, input any, rc tools.RunContext) ([]tools.ContentBlock, error) {
			return []tools.ContentBlock{{Type: "text", Text: "deleted"}}, nil
		},
	}
	withoutPreview := tools.Tool{
		Name:                 "dangerous_action",
		Type:                 tools.ExecutionTypeServer,
		RequiresConfirmation: true,
		Handler: func(ctx context.Context, input any, rc tools.RunContext) ([]tools.ContentBlock, error) {
			return []tools.ContentBlock{{Type: "text", Text: "executed"}}, nil
		},
	}
	exec := toolexec.New(lookupFrom(map[tools.Ident]tools.Tool{
		"delete_file":      withPreview,
		"dangerous_action": withoutPreview,
	}), coord)
	exec.Parallel = false

	var previews []any
	go func() {
		time.Sleep(10 * time.Millisecond)
		coord.ResolveConfirmation("call-preview", true, false, "")
		coord.ResolveConfirmation("call-no-preview", true, false, "")
	}()

	results := exec.Dispatch(context.Background(), []toolexec.Call{
		{ID: "call-preview", Name: "delete_file", Input: map[string]any{"path": "/tmp/x"}},
		{ID: "call-no-preview", Name: "dangerous_action", Input: map[string]any{"target": "prod"}},
	}, toolexec.Callbacks{
		OnConfirmationRequired: func(call toolexec.Call, message string, preview any, metadata map[string]any) {
			previews = append(previews, preview)
		},
	})

	require.Len(t, results, 2)
	assert.True(t, results[0].Success)
	assert.True(t, results[1].Success)
	require.Len(t, previews, 2)
	assert.Equal(t, "will delete /tmp/x", previews[0])
	assert.Equal(t, map[string]any{"target": "prod"}, previews[1])
}

// TestProcessTool_InvalidReturnType covers the non-array return failure
// mode of validateContent.
func TestProcessTool_InvalidReturnType(t *testing.T) {
	coord := confirmation.New()
	broken := tools.Tool{
		Name: "broken_handler",
		Type: tools.ExecutionTypeServer,
		Handler: func(ctx context.Context, input any, rc tools.RunContext) ([]tools.ContentBlock, error) {
			return nil, nil
		},
	}
	exec := toolexec.New(lookupFrom(map[tools.Ident]tools.Tool{"broken_handler": broken}), coord)

	results := exec.Dispatch(context.Background(), []toolexec.Call{{ID: "c1", Name: "broken_handler"}}, toolexec.Callbacks{})

	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, toolerrors.KindInvalidReturnType, results[0].Error.Kind)
}

// TestProcessTool_InvalidContentBlock covers the malformed-block failure
// mode of validateContent, distinct from a non-array return.
func TestProcessTool_InvalidContentBlock(t *testing.T) {
	coord := confirmation.New()
	broken := tools.Tool{
		Name: "untyped_block_handler",
		Type: tools.ExecutionTypeServer,
		Handler: func(ctx context.Context, input any, rc tools.RunContext) ([]tools.ContentBlock, error) {
			return []tools.ContentBlock{{Text: "missing a type"}}, nil
		},
	}
	exec := toolexec.New(lookupFrom(map[tools.Ident]tools.Tool{"untyped_block_handler": broken}), coord)

	results := exec.Dispatch(context.Background(), []toolexec.Call{{ID: "c1", Name: "untyped_block_handler"}}, toolexec.Callbacks{})

	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, toolerrors.KindInvalidContentBlock, results[0].Error.Kind)
}

// TestProcessTool_ResolvesThroughCOMFirst covers the resolution order
// Executor.resolveTool must follow: a tool registered only with COM (the
// way the compiler registers <tool> nodes) dispatches with no Lookup or
// ConfigTools entry at all, and a COM registration takes priority over a
// same-named Lookup entry.
func TestProcessTool_ResolvesThroughCOMFirst(t *testing.T) {
	coord := confirmation.New()
	comInst := com.New(hooks.NewBus())
	comInst.AddTool(tools.Tool{
		Name: "echo",
		Type: tools.ExecutionTypeServer,
		Handler: func(ctx context.Context, input any, rc tools.RunContext) ([]tools.ContentBlock, error) {
			return []tools.ContentBlock{{Type: "text", Text: "from-com"}}, nil
		},
	})

	exec := toolexec.New(lookupFrom(map[tools.Ident]tools.Tool{
		"echo": {
			Name: "echo",
			Type: tools.ExecutionTypeServer,
			Handler: func(ctx context.Context, input any, rc tools.RunContext) ([]tools.ContentBlock, error) {
				return []tools.ContentBlock{{Type: "text", Text: "from-lookup"}}, nil
			},
		},
	}), coord)
	exec.COM = comInst

	results := exec.Dispatch(context.Background(), []toolexec.Call{{ID: "c1", Name: "echo"}}, toolexec.Callbacks{})

	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	require.Len(t, results[0].Content, 1)
	assert.Equal(t, "from-com", results[0].Content[0].Text)
}

// TestProcessTool_IdempotentCallSkipsReexecution covers a tool tagged
// TagIdempotencyTranscript: a second call with identical input is served
// from cache rather than re-invoking the handler or re-running confirmation.
func TestProcessTool_IdempotentCallSkipsReexecution(t *testing.T) {
	coord := confirmation.New()
	calls := 0
	counted := tools.Tool{
		Name: "lookup_price",
		Type: tools.ExecutionTypeServer,
		Tags: []string{tools.TagIdempotencyTranscript},
		Handler: func(ctx context.Context, input any, rc tools.RunContext) ([]tools.ContentBlock, error) {
			calls++
			return []tools.ContentBlock{{Type: "text", Text: "42"}}, nil
		},
	}
	exec := toolexec.New(lookupFrom(map[tools.Ident]tools.Tool{"lookup_price": counted}), coord)

	input := map[string]any{"sku": "abc"}
	first := exec.Dispatch(context.Background(), []toolexec.Call{{ID: "c1", Name: "lookup_price", Input: input}}, toolexec.Callbacks{})
	second := exec.Dispatch(context.Background(), []toolexec.Call{{ID: "c2", Name: "lookup_price", Input: input}}, toolexec.Callbacks{})

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.True(t, first[0].Success)
	assert.True(t, second[0].Success)
	assert.Equal(t, first[0].Content, second[0].Content)
	assert.Equal(t, 1, calls, "handler must run once; the second call is served from the idempotency cache")
}

// TestProcessTool_NonIdempotentCallAlwaysReexecutes is the control case:
// without the idempotency tag, identical calls re-invoke the handler.
func TestProcessTool_NonIdempotentCallAlwaysReexecutes(t *testing.T) {
	coord := confirmation.New()
	calls := 0
	counted := tools.Tool{
		Name: "roll_dice",
		Type: tools.ExecutionTypeServer,
		Handler: func(ctx context.Context, input any, rc tools.RunContext) ([]tools.ContentBlock, error) {
			calls++
			return []tools.ContentBlock{{Type: "text", Text: "4"}}, nil
		},
	}
	exec := toolexec.New(lookupFrom(map[tools.Ident]tools.Tool{"roll_dice": counted}), coord)

	input := map[string]any{}
	exec.Dispatch(context.Background(), []toolexec.Call{{ID: "c1", Name: "roll_dice", Input: input}}, toolexec.Callbacks{})
	exec.Dispatch(context.Background(), []toolexec.Call{{ID: "c2", Name: "roll_dice", Input: input}}, toolexec.Callbacks{})

	assert.Equal(t, 2, calls)
}
