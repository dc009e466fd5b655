package tickengine

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/agenticklabs/agentick/com"
	"github.com/agenticklabs/agentick/compiler"
	"github.com/agenticklabs/agentick/confirmation"
	"github.com/agenticklabs/agentick/model"
	"github.com/agenticklabs/agentick/stream"
	"github.com/agenticklabs/agentick/toolexec"
	"github.com/agenticklabs/agentick/tools"
)

// MaxTicksDefault is applied when a caller's Options.MaxTicks is zero.
const MaxTicksDefault = 1

// Hooks are the lifecycle callbacks a session wires into the loop. Every
// field is optional.
type Hooks struct {
	OnTickStart func(tick int)
	OnBeforeSend func(tick int, req model.Request)
	OnAfterSend  func(tick int, resp stream.ReconstructedMessage)
	OnTickEnd    func(tick int, status com.TickStatus)
	OnEvent      func(event stream.Event)
}

// Options configures one Run call.
type Options struct {
	MaxTicks int
	Parallel bool
}

// TickResult is the outcome of running an execution to completion (or to
// abort).
type TickResult struct {
	Status   com.TickStatus
	Ticks    int
	LastText string
	Err      error
}

// Loop drives the tick algorithm for one execution: compile, send, stream,
// intercept tool calls, dispatch, decide continue/stop. It owns ordering
// guarantee enforcement (tick n fully completes, including OnTickEnd,
// before tick n+1 begins) simply by being single-threaded per call.
type Loop struct {
	COM         *com.COM
	Compiler    *compiler.Compiler
	Client      model.Client
	Executor    *toolexec.Executor
	Coordinator *confirmation.Coordinator
	Hooks       Hooks
	Seq         *int64

	RunID     string
	SessionID string

	// Tree is the root component node the compiler walks every tick.
	Tree compiler.Node
}

// Run executes ticks until the arbitrated status is no longer "continue",
// maxTicks is reached, or ctx is cancelled.
func (l *Loop) Run(ctx context.Context, opts Options) TickResult {
	maxTicks := opts.MaxTicks
	if maxTicks <= 0 {
		maxTicks = MaxTicksDefault
	}

	var lastMessage stream.ReconstructedMessage
	status := com.StatusContinue

	for tick := 1; tick <= maxTicks; tick++ {
		if aborted, reason := l.COM.ShouldAbort(); aborted {
			return TickResult{Status: com.StatusAborted, Ticks: tick - 1, Err: fmt.Errorf("aborted: %s", reason)}
		}
		select {
		case <-ctx.Done():
			return TickResult{Status: com.StatusAborted, Ticks: tick - 1, Err: ctx.Err()}
		default:
		}

		result, err := l.runTick(ctx, tick)
		if err != nil {
			return TickResult{Status: com.StatusAborted, Ticks: tick, Err: err}
		}
		lastMessage = result.message
		status = result.status

		if status != com.StatusContinue {
			return TickResult{Status: status, Ticks: tick, LastText: lastMessage.Text}
		}
		if tick == maxTicks {
			return TickResult{Status: com.StatusCompleted, Ticks: tick, LastText: lastMessage.Text}
		}
	}
	return TickResult{Status: status, Ticks: maxTicks, LastText: lastMessage.Text}
}

type tickOutcome struct {
	message stream.ReconstructedMessage
	status  com.TickStatus
}

// runTick implements the numbered algorithm from the Tick Engine design:
// reset abort state, fire onTickStart, clear+compile the COM, send to the
// model, stream the response while buffering tool calls, dispatch tools,
// fire onAfterSend, and arbitrate the end-of-tick status.
func (l *Loop) runTick(ctx context.Context, tick int) (tickOutcome, error) {
	l.COM.ResetAbortState()

	if l.Hooks.OnTickStart != nil {
		l.Hooks.OnTickStart(tick)
	}

	l.COM.Clear()
	compiled, err := l.Compiler.Compile(l.Tree, l.COM, compiler.TickState{Tick: tick})
	if err != nil {
		return tickOutcome{}, fmt.Errorf("compile: %w", err)
	}

	req := fromCompiledStructure(compiled)
	if l.Hooks.OnBeforeSend != nil {
		l.Hooks.OnBeforeSend(tick, req)
	}

	streamer, err := l.Client.Stream(ctx, &req)
	if err != nil {
		return tickOutcome{}, fmt.Errorf("model stream: %w", err)
	}
	defer streamer.Close()

	acc := stream.NewAccumulator(l.RunID, l.SessionID, tick, l.Seq)
	for {
		chunk, err := streamer.Recv()
		if err != nil {
			break
		}
		delta := fromModelChunk(chunk)
		for _, evt := range acc.Consume(delta) {
			l.publish(evt)
		}
	}

	message := acc.Result()

	if len(message.ToolCalls) > 0 {
		calls := make([]toolexec.Call, len(message.ToolCalls))
		for i, tc := range message.ToolCalls {
			calls[i] = toolexec.Call{ID: tc.ID, Name: tools.Ident(tc.Name), Input: tc.Input}
		}
		l.Executor.Parallel = false
		results := l.Executor.Dispatch(ctx, calls, toolexec.Callbacks{
			OnConfirmationRequired: func(call toolexec.Call, message string, preview any, metadata map[string]any) {
				l.publish(l.syntheticEvent(stream.EventToolConfirmationRequired, map[string]any{"call_id": call.ID, "message": message, "preview": preview, "metadata": metadata}))
			},
			OnConfirmationResolved: func(call toolexec.Call, approved bool) {
				l.publish(l.syntheticEvent(stream.EventToolConfirmationResultEvent, map[string]any{"call_id": call.ID, "approved": approved}))
			},
		})

		for _, r := range results {
			l.publish(l.syntheticEvent(stream.EventToolResultStart, map[string]any{"call_id": r.ToolCallID}))
			l.publish(l.syntheticEvent(stream.EventToolResult, map[string]any{
				"tool_use_id": r.ToolCallID,
				"name":        r.Name,
				"success":     r.Success,
				"content":     r.Content,
			}))
			l.COM.AddMessage(com.Message{Role: "tool", Content: r.Content}, com.TimelineEntry{})
		}
	}

	if l.Hooks.OnAfterSend != nil {
		l.Hooks.OnAfterSend(tick, message)
	}

	defaultStatus := com.StatusCompleted
	if len(message.ToolCalls) > 0 {
		defaultStatus = com.StatusContinue
	}
	status := l.COM.ResolveTickControl(defaultStatus)

	if l.Hooks.OnTickEnd != nil {
		l.Hooks.OnTickEnd(tick, status)
	}

	return tickOutcome{message: message, status: status}, nil
}

func (l *Loop) publish(e stream.Event) {
	if l.Hooks.OnEvent != nil {
		l.Hooks.OnEvent(e)
	}
}

func (l *Loop) syntheticEvent(t stream.EventType, payload any) stream.Event {
	return stream.NewBase(t, l.RunID, l.SessionID, payload)
}

// fromCompiledStructure derives a model.Request from one tick's compiled
// structure: system sections become the leading system message, timeline
// entries become the transcript, and tool definitions map across
// verbatim (provider-facing tools never include audience=user entries
// because the compiler already filtered them).
func fromCompiledStructure(c compiler.CompiledStructure) model.Request {
	req := model.Request{}

	for _, sys := range c.System {
		req.Messages = append(req.Messages, &model.Message{
			Role:  model.ConversationRoleSystem,
			Parts: contentBlocksToParts(sys.Content),
		})
	}
	for _, entry := range c.TimelineEntries {
		req.Messages = append(req.Messages, &model.Message{
			Role:  model.ConversationRole(entry.Message.Role),
			Parts: contentBlocksToParts(entry.Message.Content),
		})
	}
	for _, def := range c.Tools {
		req.Tools = append(req.Tools, &model.ToolDefinition{
			Name:        string(def.Name),
			Description: def.Description,
			InputSchema: def.InputSchema,
		})
	}
	return req
}

func contentBlocksToParts(blocks []tools.ContentBlock) []model.Part {
	out := make([]model.Part, 0, len(blocks))
	for _, b := range blocks {
		if b.Type == "text" || b.Type == "" {
			out = append(out, model.TextPart{Text: b.Text})
		}
	}
	return out
}

// fromModelChunk normalizes a provider-shaped model.Chunk into the
// Accumulator's provider-independent AdapterDelta vocabulary.
func fromModelChunk(c model.Chunk) stream.AdapterDelta {
	switch c.Type {
	case model.ChunkTypeText:
		text := ""
		if c.Message != nil {
			for _, p := range c.Message.Parts {
				if tp, ok := p.(model.TextPart); ok {
					text += tp.Text
				}
			}
		}
		return stream.AdapterDelta{Kind: stream.DeltaText, Text: text}

	case model.ChunkTypeThinking:
		return stream.AdapterDelta{Kind: stream.DeltaReasoning, Text: c.Thinking}

	case model.ChunkTypeToolCall:
		if c.ToolCall == nil {
			return stream.AdapterDelta{Kind: stream.DeltaRaw, Raw: c}
		}
		return stream.AdapterDelta{
			Kind:       stream.DeltaToolCall,
			ToolCallID: c.ToolCall.ID,
			ToolName:   string(c.ToolCall.Name),
			ToolInput:  json.RawMessage(c.ToolCall.Payload),
		}

	case model.ChunkTypeToolCallDelta:
		if c.ToolCallDelta == nil {
			return stream.AdapterDelta{Kind: stream.DeltaRaw, Raw: c}
		}
		return stream.AdapterDelta{
			Kind:           stream.DeltaToolCallDelta,
			ToolCallID:     c.ToolCallDelta.ID,
			ToolName:       string(c.ToolCallDelta.Name),
			ToolInputDelta: c.ToolCallDelta.Delta,
		}

	case model.ChunkTypeUsage:
		if c.UsageDelta == nil {
			return stream.AdapterDelta{Kind: stream.DeltaRaw, Raw: c}
		}
		return stream.AdapterDelta{Kind: stream.DeltaUsage, Usage: stream.UsagePayload{TokenUsage: *c.UsageDelta}}

	case model.ChunkTypeStop:
		return stream.AdapterDelta{Kind: stream.DeltaMessageEnd, StopReason: c.StopReason}

	default:
		return stream.AdapterDelta{Kind: stream.DeltaRaw, Raw: c}
	}
}
