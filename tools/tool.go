package tools

import "context"

type (
	// ExecutionType selects how a tool call is dispatched.
	ExecutionType string

	// Intent classifies what effect invoking a tool has, independent of how
	// it is dispatched. Intent is advisory metadata consumed by policy and
	// UI layers; the executor does not branch on it.
	Intent string

	// Audience controls who observes a tool: the model, a human operator,
	// or both. A tool with AudienceUser is dispatchable but hidden from the
	// provider-facing tool list.
	Audience string

	// ContentBlock is one element of a tool result. Handlers return a slice
	// of these; each must carry a non-empty Type so downstream consumers
	// (renderers, transcript codecs) can dispatch on it without guessing.
	ContentBlock struct {
		Type string         `json:"type"`
		Text string         `json:"text,omitempty"`
		Data map[string]any `json:"data,omitempty"`
	}

	// RunContext is passed to a tool handler for the duration of one call.
	// It exposes only what a handler needs: its own call identity and a
	// place to stash per-call metadata; it intentionally does not expose
	// the full COM so handlers cannot reach into state belonging to other
	// calls in the same dispatch.
	RunContext struct {
		ToolCallID string
		Metadata   map[string]any
	}

	// Handler executes server-side tool logic. It returns structured content
	// blocks or an error; the executor classifies any returned error per the
	// error-kind taxonomy.
	Handler func(ctx context.Context, input any, rc RunContext) ([]ContentBlock, error)

	// Tool is the declarative description of a dispatchable capability, plus
	// its optional server-side handler. COM.addTool stores the full value in
	// `tools` and derives a provider-facing ToolDefinition from it (omitted
	// entirely when Audience is AudienceUser).
	Tool struct {
		Name        Ident
		Description string
		Type        ExecutionType
		Intent      Intent
		Audience    Audience

		InputSchema  TypeSpec
		OutputSchema TypeSpec

		Aliases []Ident

		// Tags carries design-time metadata labels, e.g. TagIdempotencyTranscript;
		// see IdempotencyScopeFromTags.
		Tags []string

		// RequiresResponse applies only to ExecutionTypeClient: when false the
		// executor returns DefaultResult synchronously instead of waiting for
		// a client-submitted result.
		RequiresResponse bool
		DefaultResult    []ContentBlock
		// Timeout bounds a CLIENT tool's wait for a result. Zero uses the
		// executor's default (30s per spec).
		Timeout int64 // milliseconds; 0 = default

		// RequiresConfirmation is either a bool or a func(input any) bool,
		// stored as `any` so callers can set either shape directly.
		RequiresConfirmation any
		ConfirmationMessage  string
		// Preview renders a human-readable confirmation preview of input.
		// Errors are swallowed by the executor, which falls back to the raw
		// input.
		Preview func(input any) (any, error)

		ProviderOptions map[string]any
		MCPConfig       map[string]any

		Handler Handler
	}

	// ToolDefinition is the provider-facing, JSON-schema-shaped projection
	// of a Tool. It never includes tools whose Audience is AudienceUser.
	ToolDefinition struct {
		Name        Ident          `json:"name"`
		Description string         `json:"description"`
		InputSchema map[string]any `json:"input_schema"`
	}
)

const (
	ExecutionTypeServer   ExecutionType = "SERVER"
	ExecutionTypeClient   ExecutionType = "CLIENT"
	ExecutionTypeMCP      ExecutionType = "MCP"
	ExecutionTypeProvider ExecutionType = "PROVIDER"

	IntentRender  Intent = "RENDER"
	IntentAction  Intent = "ACTION"
	IntentCompute Intent = "COMPUTE"

	AudienceModel Audience = "model"
	AudienceUser  Audience = "user"
	AudienceAll   Audience = "all"
)

// ResolveRequiresConfirmation evaluates a Tool's RequiresConfirmation field,
// which may be a plain bool or a func(any) bool, against the given input.
func ResolveRequiresConfirmation(t Tool, input any) bool {
	switch v := t.RequiresConfirmation.(type) {
	case nil:
		return false
	case bool:
		return v
	case func(any) bool:
		return v(input)
	default:
		return false
	}
}
