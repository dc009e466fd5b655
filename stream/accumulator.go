package stream

import (
	"sync/atomic"
	"time"
)

// Spec wire event types. These are the lifecycle events the Streaming
// Accumulator and Tick Engine emit; they are distinct from the
// higher-level client profile events declared in stream.go
// (AssistantReply, ToolStart, ...), which a Sink may derive from them.
const (
	EventMessageStart              EventType = "message_start"
	EventContentStart               EventType = "content_start"
	EventContentDelta                EventType = "content_delta"
	EventContentEnd                 EventType = "content_end"
	EventReasoningStart             EventType = "reasoning_start"
	EventReasoningDelta              EventType = "reasoning_delta"
	EventReasoningEnd                EventType = "reasoning_end"
	EventToolCallStart               EventType = "tool_call_start"
	EventToolCallDelta                EventType = "tool_call_delta"
	EventToolCallEnd                 EventType = "tool_call_end"
	EventToolCall                    EventType = "tool_call"
	EventToolResultStart             EventType = "tool_result_start"
	EventToolResult                  EventType = "tool_result"
	EventToolConfirmationRequired    EventType = "tool_confirmation_required"
	EventToolConfirmationResultEvent EventType = "tool_confirmation_result"
	EventSpawnStart                  EventType = "spawn_start"
	EventSpawnEnd                    EventType = "spawn_end"
	EventMessageEnd                  EventType = "message_end"
	EventMessage                     EventType = "message"
	EventError                       EventType = "error"
)

// DeltaKind tags one AdapterDelta variant.
type DeltaKind string

const (
	DeltaText             DeltaKind = "text"
	DeltaReasoning        DeltaKind = "reasoning"
	DeltaToolCallStart    DeltaKind = "tool_call_start"
	DeltaToolCallDelta    DeltaKind = "tool_call_delta"
	DeltaToolCallEnd      DeltaKind = "tool_call_end"
	DeltaToolCall         DeltaKind = "tool_call"
	DeltaMessageStart     DeltaKind = "message_start"
	DeltaMessageEnd       DeltaKind = "message_end"
	DeltaUsage            DeltaKind = "usage"
	DeltaError            DeltaKind = "error"
	DeltaContentMetadata  DeltaKind = "content_metadata"
	DeltaReasoningMetadata DeltaKind = "reasoning_metadata"
	DeltaRaw              DeltaKind = "raw"
)

// AdapterDelta is a normalized, provider-independent stream chunk. Model
// adapters translate their native SSE/chunk shapes into this form; the
// Accumulator never sees provider-specific types.
type AdapterDelta struct {
	Kind DeltaKind

	// Text/Reasoning carry incremental content for DeltaText/DeltaReasoning.
	Text string

	// ToolCallID/ToolName/ToolInputDelta/ToolInput carry tool-call framing.
	ToolCallID      string
	ToolName        string
	ToolInputDelta  string
	ToolInput       any

	// StopReason is populated on DeltaMessageEnd.
	StopReason string

	// Usage is populated on DeltaUsage.
	Usage UsagePayload

	// Err is populated on DeltaError.
	Err error

	// Raw carries provider-native passthrough data for DeltaRaw.
	Raw any
}

// ReconstructedMessage is the final synthetic assistant message an
// Accumulator emits once a message completes: reasoning, text, and
// tool_use blocks in the order they streamed, plus aggregate usage.
type ReconstructedMessage struct {
	Reasoning []string
	Text      string
	ToolCalls []ReconstructedToolCall
	Usage     UsagePayload
	StopReason string
}

// ReconstructedToolCall is one complete tool invocation reconstructed from
// either a streamed tool_call_start/delta/end sequence or a single
// complete tool_call delta.
type ReconstructedToolCall struct {
	ID    string
	Name  string
	Input any
}

// toolCallBuffer accumulates argument JSON fragments for one streaming
// tool call between tool_call_start and tool_call_end.
type toolCallBuffer struct {
	name string
	args string
}

// Accumulator consumes a sequence of AdapterDelta values for one message
// and emits lifecycle-ordered stream Events, enforcing the invariants from
// the streaming accumulator design: message_start/message_end exactly
// once, content_start before any content_delta before content_end, and a
// matching tool_call_start/tool_call_end (or single tool_call) pair per
// streaming call.
type Accumulator struct {
	runID     string
	sessionID string
	tick      int
	seq       *int64

	contentOpen   bool
	reasoningOpen bool

	pendingCalls map[string]*toolCallBuffer
	callOrder    []string

	text         string
	reasoning    []string
	completeCalls []ReconstructedToolCall
	usage        UsagePayload
	stopReason   string

	started bool
	ended   bool
}

// NewAccumulator returns an Accumulator for one message, sharing seq (a
// monotonic session-wide sequence counter) with sibling accumulators so
// every event in a session gets a strictly increasing sequence number.
func NewAccumulator(runID, sessionID string, tick int, seq *int64) *Accumulator {
	return &Accumulator{
		runID:        runID,
		sessionID:    sessionID,
		tick:         tick,
		seq:          seq,
		pendingCalls: make(map[string]*toolCallBuffer),
	}
}

func (a *Accumulator) nextSeq() int64 {
	return atomic.AddInt64(a.seq, 1)
}

func (a *Accumulator) base(t EventType, payload any) Base {
	return NewBase(t, a.runID, a.sessionID, payload)
}

// genericEvent wraps any Base-carrying payload so the Accumulator can
// return a uniform []Event slice without one concrete type per kind.
type genericEvent struct {
	Base
	Sequence  int64
	Tick      int
	Timestamp time.Time
}

func (a *Accumulator) emit(t EventType, payload any) Event {
	return genericEvent{
		Base:      a.base(t, payload),
		Sequence:  a.nextSeq(),
		Tick:      a.tick,
		Timestamp: time.Now(),
	}
}

// Consume processes one AdapterDelta and returns zero or more Events to
// forward upward. Callers must process deltas for one message in arrival
// order; the Accumulator does not buffer across messages.
func (a *Accumulator) Consume(d AdapterDelta) []Event {
	switch d.Kind {
	case DeltaMessageStart:
		if a.started {
			return nil
		}
		a.started = true
		return []Event{a.emit(EventMessageStart, nil)}

	case DeltaText:
		var out []Event
		if !a.contentOpen {
			a.contentOpen = true
			out = append(out, a.emit(EventContentStart, nil))
		}
		a.text += d.Text
		out = append(out, a.emit(EventContentDelta, d.Text))
		return out

	case DeltaReasoning:
		var out []Event
		if !a.reasoningOpen {
			a.reasoningOpen = true
			out = append(out, a.emit(EventReasoningStart, nil))
		}
		a.reasoning = append(a.reasoning, d.Text)
		out = append(out, a.emit(EventReasoningDelta, d.Text))
		return out

	case DeltaToolCallStart:
		a.pendingCalls[d.ToolCallID] = &toolCallBuffer{name: d.ToolName}
		a.callOrder = append(a.callOrder, d.ToolCallID)
		return []Event{a.emit(EventToolCallStart, map[string]string{"id": d.ToolCallID, "name": d.ToolName})}

	case DeltaToolCallDelta:
		if buf, ok := a.pendingCalls[d.ToolCallID]; ok {
			buf.args += d.ToolInputDelta
		}
		return []Event{a.emit(EventToolCallDelta, map[string]string{"id": d.ToolCallID, "delta": d.ToolInputDelta})}

	case DeltaToolCallEnd:
		buf, ok := a.pendingCalls[d.ToolCallID]
		name := d.ToolName
		if ok {
			name = buf.name
		}
		a.completeCalls = append(a.completeCalls, ReconstructedToolCall{ID: d.ToolCallID, Name: name, Input: d.ToolInput})
		delete(a.pendingCalls, d.ToolCallID)
		return []Event{a.emit(EventToolCallEnd, map[string]any{"id": d.ToolCallID, "input": d.ToolInput})}

	case DeltaToolCall:
		a.completeCalls = append(a.completeCalls, ReconstructedToolCall{ID: d.ToolCallID, Name: d.ToolName, Input: d.ToolInput})
		return []Event{a.emit(EventToolCall, map[string]any{"id": d.ToolCallID, "name": d.ToolName, "input": d.ToolInput})}

	case DeltaUsage:
		a.usage = d.Usage
		return []Event{a.emit(EventUsage, d.Usage)}

	case DeltaError:
		return []Event{a.emit(EventError, d.Err.Error())}

	case DeltaContentMetadata, DeltaReasoningMetadata, DeltaRaw:
		return nil

	case DeltaMessageEnd:
		if a.ended {
			return nil
		}
		var out []Event
		if a.contentOpen {
			out = append(out, a.emit(EventContentEnd, nil))
			a.contentOpen = false
		}
		if a.reasoningOpen {
			out = append(out, a.emit(EventReasoningEnd, nil))
			a.reasoningOpen = false
		}
		a.stopReason = d.StopReason
		a.ended = true
		out = append(out, a.emit(EventMessageEnd, nil))
		out = append(out, a.emit(EventMessage, a.Result()))
		return out

	default:
		return nil
	}
}

// Result assembles the final synthetic message once message_end has been
// observed. Safe to call at any point; fields are partial until
// message_end.
func (a *Accumulator) Result() ReconstructedMessage {
	return ReconstructedMessage{
		Reasoning:  a.reasoning,
		Text:       a.text,
		ToolCalls:  a.completeCalls,
		Usage:      a.usage,
		StopReason: a.stopReason,
	}
}

// PendingToolCallIDs reports which streaming tool calls are still open
// (tool_call_start seen, tool_call_end not yet seen), for callers that
// want to assert lifecycle completeness.
func (a *Accumulator) PendingToolCallIDs() []string {
	out := make([]string, 0, len(a.pendingCalls))
	for _, id := range a.callOrder {
		if _, ok := a.pendingCalls[id]; ok {
			out = append(out, id)
		}
	}
	return out
}
