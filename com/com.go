// Package com implements the Context Object Model: the mutable per-execution
// state accumulator every tick reads from and writes to.
package com

import (
	"context"
	"sort"
	"sync"

	"github.com/agenticklabs/agentick/hooks"
	"github.com/agenticklabs/agentick/tools"
)

// Position identifies where an ephemeral block is spliced into the
// rendered timeline.
type Position string

const (
	PositionStart      Position = "start"
	PositionBeforeUser Position = "before-user"
	PositionAfterUser  Position = "after-user"
	PositionEnd        Position = "end"
)

// Priority controls resolution order among competing control requests.
type Priority int

// TickStatus is the arbitrated outcome of a tick.
type TickStatus string

const (
	StatusContinue  TickStatus = "continue"
	StatusCompleted TickStatus = "completed"
	StatusAborted   TickStatus = "aborted"
)

// ControlRequestKind distinguishes a stop request from a continue request.
type ControlRequestKind string

const (
	ControlStop     ControlRequestKind = "stop"
	ControlContinue ControlRequestKind = "continue"
)

// ControlRequest is queued by requestStop/requestContinue and consumed at
// tick end by resolveTickControl.
type ControlRequest struct {
	Kind     ControlRequestKind
	Priority Priority
	Reason   string
	Status   TickStatus
	OwnerID  string
}

// Message is one timeline or system entry.
type Message struct {
	Role    string
	Content []tools.ContentBlock
}

// TimelineEntry is a compiled, token-annotated, non-system entry.
type TimelineEntry struct {
	Message  Message
	Tags     []string
	Visibility string
	Metadata map[string]any
	Tokens   int
	Semantic string
}

// Section is a mergeable named region of the rendered output (e.g. a system
// prompt fragment). Sections sharing an id merge per the rules documented
// on Section.Merge.
type Section struct {
	ID               string
	Title            string
	Content          any // string, []any, or map[string]any
	Tags             []string
	Visibility       string
	Audience         string
	FormattedContent string
}

// Merge combines other into s per the COM merge rules: strings concatenate
// with a newline, sequences concatenate, maps shallow-merge, mixed types
// become a sequence. Title/Tags/Visibility/Audience/FormattedContent use
// last-writer-wins.
func (s Section) Merge(other Section) Section {
	out := s
	out.Content = mergeContent(s.Content, other.Content)
	if other.Title != "" {
		out.Title = other.Title
	}
	if other.Tags != nil {
		out.Tags = other.Tags
	}
	if other.Visibility != "" {
		out.Visibility = other.Visibility
	}
	if other.Audience != "" {
		out.Audience = other.Audience
	}
	if other.FormattedContent != "" {
		out.FormattedContent = other.FormattedContent
	}
	return out
}

func mergeContent(a, b any) any {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	as, aIsStr := a.(string)
	bs, bIsStr := b.(string)
	if aIsStr && bIsStr {
		return as + "\n" + bs
	}
	am, aIsMap := a.(map[string]any)
	bm, bIsMap := b.(map[string]any)
	if aIsMap && bIsMap {
		out := make(map[string]any, len(am)+len(bm))
		for k, v := range am {
			out[k] = v
		}
		for k, v := range bm {
			out[k] = v
		}
		return out
	}
	aSeq, aIsSeq := asSlice(a)
	bSeq, bIsSeq := asSlice(b)
	if aIsSeq || bIsSeq {
		if !aIsSeq {
			aSeq = []any{a}
		}
		if !bIsSeq {
			bSeq = []any{b}
		}
		return append(append([]any{}, aSeq...), bSeq...)
	}
	return []any{a, b}
}

func asSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

// EphemeralEntry is a transient content block spliced at a declared
// position; cleared every tick.
type EphemeralEntry struct {
	Content  any
	Position Position
	Order    int
	Type     string
	ID       string
}

// ExecutableTool pairs a declared tools.Tool with the canonical name it was
// registered under.
type ExecutableTool struct {
	Name tools.Ident
	Tool tools.Tool
}

// COM is the per-execution mutable state accumulator. It is owned
// exclusively by the execution that created it; external consumers observe
// it via the event bus and must not mutate it directly.
type COM struct {
	mu sync.Mutex

	bus hooks.Bus

	timeline       []TimelineEntry
	systemMessages []Message
	sections       map[string]Section
	ephemeral      []EphemeralEntry

	toolOrder       []tools.Ident
	toolset         map[tools.Ident]ExecutableTool
	toolDefinitions map[tools.Ident]tools.ToolDefinition
	aliasIndex      map[tools.Ident]tools.Ident

	refs     map[string]any
	state    map[string]any
	metadata map[string]any

	controlRequests []ControlRequest

	injectedHistory []TimelineEntry
	queuedMessages  []Message

	shouldAbortFlag bool
	abortReason     string

	modelOptions map[string]any

	recompileRequested bool
	recompileReason    string
	onRecompile        func(reason string)
}

// New returns an empty COM publishing events on bus. bus may be nil, in
// which case events are dropped.
func New(bus hooks.Bus) *COM {
	return &COM{
		bus:             bus,
		sections:        make(map[string]Section),
		toolset:         make(map[tools.Ident]ExecutableTool),
		toolDefinitions: make(map[tools.Ident]tools.ToolDefinition),
		aliasIndex:      make(map[tools.Ident]tools.Ident),
		refs:            make(map[string]any),
		state:           make(map[string]any),
		metadata:        make(map[string]any),
		modelOptions:    make(map[string]any),
	}
}

func (c *COM) emit(kind hooks.Kind, payload any) {
	if c.bus == nil {
		return
	}
	_ = c.bus.Publish(context.Background(), hooks.Event{Kind: kind, Payload: payload})
}

// AddMessage appends msg to the timeline (or to systemMessages, when
// msg.Role == "system") and emits message:added, plus timeline:modified for
// non-system messages.
func (c *COM) AddMessage(msg Message, opts TimelineEntry) {
	c.mu.Lock()
	if msg.Role == "system" {
		c.systemMessages = append(c.systemMessages, msg)
		c.mu.Unlock()
		c.emit(hooks.MessageAdded, msg)
		return
	}
	opts.Message = msg
	c.timeline = append(c.timeline, opts)
	c.mu.Unlock()
	c.emit(hooks.MessageAdded, msg)
	c.emit(hooks.TimelineModified, c.Timeline())
}

// AddSection merges sec into the section with the same id, creating it if
// absent, and emits section:updated.
func (c *COM) AddSection(sec Section) {
	c.mu.Lock()
	existing, ok := c.sections[sec.ID]
	if ok {
		sec = existing.Merge(sec)
	}
	c.sections[sec.ID] = sec
	c.mu.Unlock()
	c.emit(hooks.SectionUpdated, sec)
}

// AddEphemeral appends an ephemeral block at the given position, cleared at
// the next tick start.
func (c *COM) AddEphemeral(content any, position Position, order int, typ, id string) {
	c.mu.Lock()
	c.ephemeral = append(c.ephemeral, EphemeralEntry{Content: content, Position: position, Order: order, Type: typ, ID: id})
	c.mu.Unlock()
}

// AddTool registers tool under name, converting its schema into a
// tools.ToolDefinition unless Audience == AudienceUser. First-registration
// wins on alias collision.
func (c *COM) AddTool(tool tools.Tool) {
	c.mu.Lock()
	name := tool.Name
	if _, exists := c.toolset[name]; !exists {
		c.toolOrder = append(c.toolOrder, name)
	}
	c.toolset[name] = ExecutableTool{Name: name, Tool: tool}

	if tool.Audience != tools.AudienceUser {
		c.toolDefinitions[name] = tools.ToolDefinition{
			Name:        name,
			Description: tool.Description,
			InputSchema: schemaToMap(tool.InputSchema),
		}
	} else {
		delete(c.toolDefinitions, name)
	}

	for _, alias := range tool.Aliases {
		if _, taken := c.aliasIndex[alias]; !taken {
			c.aliasIndex[alias] = name
		}
	}
	c.mu.Unlock()
	c.emit(hooks.ToolRegistered, tool)
}

func schemaToMap(spec tools.TypeSpec) map[string]any {
	if spec.Schema == nil {
		return nil
	}
	return map[string]any{"raw": string(spec.Schema)}
}

// RemoveTool removes a tool and all its aliases.
func (c *COM) RemoveTool(name tools.Ident) {
	c.mu.Lock()
	delete(c.toolset, name)
	delete(c.toolDefinitions, name)
	for alias, target := range c.aliasIndex {
		if target == name {
			delete(c.aliasIndex, alias)
		}
	}
	for i, n := range c.toolOrder {
		if n == name {
			c.toolOrder = append(c.toolOrder[:i], c.toolOrder[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	c.emit(hooks.ToolRemoved, name)
}

// GetTool returns a tool by its canonical name. A tool is dispatchable
// whenever GetTool finds it, regardless of whether it is also visible to
// the model via ToolDefinitions.
func (c *COM) GetTool(name tools.Ident) (ExecutableTool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.toolset[name]
	return t, ok
}

// GetToolByAlias resolves an alias to its canonical tool.
func (c *COM) GetToolByAlias(alias tools.Ident) (ExecutableTool, bool) {
	c.mu.Lock()
	name, ok := c.aliasIndex[alias]
	c.mu.Unlock()
	if !ok {
		return ExecutableTool{}, false
	}
	return c.GetTool(name)
}

// ToolDefinitions returns the provider-facing tool list in registration
// order, excluding any tool whose Audience is AudienceUser.
func (c *COM) ToolDefinitions() []tools.ToolDefinition {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]tools.ToolDefinition, 0, len(c.toolDefinitions))
	for _, name := range c.toolOrder {
		if def, ok := c.toolDefinitions[name]; ok {
			out = append(out, def)
		}
	}
	return out
}

// SetState sets key to value in the persistent state map.
func (c *COM) SetState(key string, value any) {
	c.mu.Lock()
	c.state[key] = value
	c.mu.Unlock()
	c.emit(hooks.StateChanged, map[string]any{"key": key, "value": value})
}

// GetState returns the value stored at key.
func (c *COM) GetState(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.state[key]
	return v, ok
}

// SetStatePartial shallow-merges patch into the state map.
func (c *COM) SetStatePartial(patch map[string]any) {
	c.mu.Lock()
	for k, v := range patch {
		c.state[k] = v
	}
	c.mu.Unlock()
	c.emit(hooks.StateChanged, patch)
}

// AddMetadata shallow-merges patch into the persistent metadata map.
func (c *COM) AddMetadata(patch map[string]any) {
	c.mu.Lock()
	for k, v := range patch {
		c.metadata[k] = v
	}
	c.mu.Unlock()
	c.emit(hooks.MetadataChanged, patch)
}

// RequestStop queues a stop control request, consumed at end of tick by
// ResolveTickControl.
func (c *COM) RequestStop(priority Priority, reason, ownerID string) {
	c.mu.Lock()
	c.controlRequests = append(c.controlRequests, ControlRequest{
		Kind: ControlStop, Priority: priority, Reason: reason, Status: StatusCompleted, OwnerID: ownerID,
	})
	c.mu.Unlock()
}

// RequestContinue queues a continue control request.
func (c *COM) RequestContinue(priority Priority, reason, ownerID string) {
	c.mu.Lock()
	c.controlRequests = append(c.controlRequests, ControlRequest{
		Kind: ControlContinue, Priority: priority, Reason: reason, Status: StatusContinue, OwnerID: ownerID,
	})
	c.mu.Unlock()
}

// ResolveTickControl arbitrates the queued control requests against
// defaultStatus: stop requests win outright (highest priority first); a
// continue request overrides a non-continue default; otherwise the default
// stands. The queue is always cleared.
func (c *COM) ResolveTickControl(defaultStatus TickStatus) TickStatus {
	c.mu.Lock()
	reqs := c.controlRequests
	c.controlRequests = nil
	c.mu.Unlock()

	if len(reqs) == 0 {
		return defaultStatus
	}

	sort.SliceStable(reqs, func(i, j int) bool { return reqs[i].Priority > reqs[j].Priority })

	for _, r := range reqs {
		if r.Kind == ControlStop {
			return r.Status
		}
	}
	if defaultStatus != StatusContinue {
		for _, r := range reqs {
			if r.Kind == ControlContinue {
				return StatusContinue
			}
		}
	}
	return defaultStatus
}

// RequestRecompile flags the current compile pass as unstable. The
// compiler's recompile loop consumes and clears this flag. An optional
// callback set via OnRecompile fires synchronously (a session may wire it
// to a scheduler).
func (c *COM) RequestRecompile(reason string) {
	c.mu.Lock()
	c.recompileRequested = true
	c.recompileReason = reason
	cb := c.onRecompile
	c.mu.Unlock()
	if cb != nil {
		cb(reason)
	}
}

// OnRecompile wires the callback RequestRecompile invokes.
func (c *COM) OnRecompile(cb func(reason string)) {
	c.mu.Lock()
	c.onRecompile = cb
	c.mu.Unlock()
}

// ConsumeRecompileRequest reports and clears whether RequestRecompile was
// called since the last consume.
func (c *COM) ConsumeRecompileRequest() (requested bool, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	requested, reason = c.recompileRequested, c.recompileReason
	c.recompileRequested = false
	c.recompileReason = ""
	return requested, reason
}

// Abort sets shouldAbort and records reason.
func (c *COM) Abort(reason string) {
	c.mu.Lock()
	c.shouldAbortFlag = true
	c.abortReason = reason
	c.mu.Unlock()
}

// ShouldAbort reports whether Abort was called since the last tick reset.
func (c *COM) ShouldAbort() (bool, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.shouldAbortFlag, c.abortReason
}

// ResetAbortState clears the abort flag. Called at the start of every tick.
func (c *COM) ResetAbortState() {
	c.mu.Lock()
	c.shouldAbortFlag = false
	c.abortReason = ""
	c.mu.Unlock()
}

// QueueMessage stashes msg for delivery on a subsequent tick.
func (c *COM) QueueMessage(msg Message) {
	c.mu.Lock()
	c.queuedMessages = append(c.queuedMessages, msg)
	c.mu.Unlock()
}

// GetQueuedMessages returns the messages queued since the last clear.
func (c *COM) GetQueuedMessages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.queuedMessages))
	copy(out, c.queuedMessages)
	return out
}

// ClearQueuedMessages empties the queued-message buffer.
func (c *COM) ClearQueuedMessages() {
	c.mu.Lock()
	c.queuedMessages = nil
	c.mu.Unlock()
}

// SetRef stores a component instance handle, persisted across ticks until
// the owning component unmounts.
func (c *COM) SetRef(name string, value any) {
	c.mu.Lock()
	c.refs[name] = value
	c.mu.Unlock()
}

// GetRef retrieves a stored ref.
func (c *COM) GetRef(name string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.refs[name]
	return v, ok
}

// RemoveRef deletes a ref, called on component unmount.
func (c *COM) RemoveRef(name string) {
	c.mu.Lock()
	delete(c.refs, name)
	c.mu.Unlock()
}

// InjectHistory appends entries to injectedHistory, which the compiler
// merges into the timeline view without duplicating across ticks.
func (c *COM) InjectHistory(entries ...TimelineEntry) {
	c.mu.Lock()
	c.injectedHistory = append(c.injectedHistory, entries...)
	c.mu.Unlock()
}

// InjectedHistory returns the accumulated injected entries.
func (c *COM) InjectedHistory() []TimelineEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TimelineEntry, len(c.injectedHistory))
	copy(out, c.injectedHistory)
	return out
}

// SetModelOptions shallow-merges patch into the persistent model options,
// which survive ticks until ResetModelOptions clears them.
func (c *COM) SetModelOptions(patch map[string]any) {
	c.mu.Lock()
	for k, v := range patch {
		c.modelOptions[k] = v
	}
	c.mu.Unlock()
	c.emit(hooks.ModelChanged, patch)
}

// ResetModelOptions clears all model options.
func (c *COM) ResetModelOptions() {
	c.mu.Lock()
	c.modelOptions = make(map[string]any)
	c.mu.Unlock()
	c.emit(hooks.ModelUnset, nil)
}

// ModelOptions returns a copy of the current model options.
func (c *COM) ModelOptions() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]any, len(c.modelOptions))
	for k, v := range c.modelOptions {
		out[k] = v
	}
	return out
}

// Timeline returns a copy of the non-system timeline entries.
func (c *COM) Timeline() []TimelineEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]TimelineEntry, len(c.timeline))
	copy(out, c.timeline)
	return out
}

// SystemMessages returns a copy of the accumulated system messages.
func (c *COM) SystemMessages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.systemMessages))
	copy(out, c.systemMessages)
	return out
}

// Sections returns a copy of the section map.
func (c *COM) Sections() map[string]Section {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Section, len(c.sections))
	for k, v := range c.sections {
		out[k] = v
	}
	return out
}

// Ephemeral returns a copy of the ephemeral entries accumulated this tick.
func (c *COM) Ephemeral() []EphemeralEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]EphemeralEntry, len(c.ephemeral))
	copy(out, c.ephemeral)
	return out
}

// Clear resets per-tick state for a new compile pass: timeline, sections,
// tools, toolDefinitions, ephemeral, systemMessages, and controlRequests.
// It preserves refs, state, queuedMessages, injectedHistory, and
// modelOptions.
func (c *COM) Clear() {
	c.mu.Lock()
	c.timeline = nil
	c.systemMessages = nil
	c.sections = make(map[string]Section)
	c.ephemeral = nil
	c.toolOrder = nil
	c.toolset = make(map[tools.Ident]ExecutableTool)
	c.toolDefinitions = make(map[tools.Ident]tools.ToolDefinition)
	c.aliasIndex = make(map[tools.Ident]tools.Ident)
	c.controlRequests = nil
	c.mu.Unlock()
	c.emit(hooks.StateCleared, nil)
}

// CommState is the serializable subset of a COM's mutable state: everything
// a hibernated session needs to resume with the same system prompt,
// sections, refs, state, and model options it had when suspended. Tool
// registrations are excluded: ExecutableTool carries a live Go handler that
// cannot round-trip through a snapshot, and tools are re-collected from the
// tree on the first compile after hydrate regardless of mount state.
type CommState struct {
	SystemMessages []Message
	Sections       map[string]Section
	Ephemeral      []EphemeralEntry
	Refs           map[string]any
	State          map[string]any
	Metadata       map[string]any
	ModelOptions   map[string]any
}

// Snapshot captures the COM's serializable state for hibernation. The
// timeline is returned separately by Timeline() since the hibernation
// Snapshot carries it as its own top-level field.
func (c *COM) Snapshot() CommState {
	c.mu.Lock()
	defer c.mu.Unlock()

	systemMessages := make([]Message, len(c.systemMessages))
	copy(systemMessages, c.systemMessages)

	sections := make(map[string]Section, len(c.sections))
	for k, v := range c.sections {
		sections[k] = v
	}

	ephemeral := make([]EphemeralEntry, len(c.ephemeral))
	copy(ephemeral, c.ephemeral)

	refs := make(map[string]any, len(c.refs))
	for k, v := range c.refs {
		refs[k] = v
	}
	state := make(map[string]any, len(c.state))
	for k, v := range c.state {
		state[k] = v
	}
	metadata := make(map[string]any, len(c.metadata))
	for k, v := range c.metadata {
		metadata[k] = v
	}
	modelOptions := make(map[string]any, len(c.modelOptions))
	for k, v := range c.modelOptions {
		modelOptions[k] = v
	}

	return CommState{
		SystemMessages: systemMessages,
		Sections:       sections,
		Ephemeral:      ephemeral,
		Refs:           refs,
		State:          state,
		Metadata:       metadata,
		ModelOptions:   modelOptions,
	}
}

// Restore applies a previously captured CommState to a fresh COM, along
// with the timeline it was hibernated with. It is the caller's
// responsibility to call this on a newly constructed COM before the first
// tick of a resumed session; Restore does not itself emit StateCleared.
func (c *COM) Restore(state CommState, timeline []TimelineEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.timeline = append([]TimelineEntry(nil), timeline...)
	c.systemMessages = append([]Message(nil), state.SystemMessages...)
	c.ephemeral = append([]EphemeralEntry(nil), state.Ephemeral...)

	c.sections = make(map[string]Section, len(state.Sections))
	for k, v := range state.Sections {
		c.sections[k] = v
	}
	c.refs = make(map[string]any, len(state.Refs))
	for k, v := range state.Refs {
		c.refs[k] = v
	}
	c.state = make(map[string]any, len(state.State))
	for k, v := range state.State {
		c.state[k] = v
	}
	c.metadata = make(map[string]any, len(state.Metadata))
	for k, v := range state.Metadata {
		c.metadata[k] = v
	}
	c.modelOptions = make(map[string]any, len(state.ModelOptions))
	for k, v := range state.ModelOptions {
		c.modelOptions[k] = v
	}
}
