// Package compiler turns a declarative component tree into a
// CompiledStructure: stable node identity across ticks, boundary
// (formatter/policy) resolution, token annotation, and a recompile
// stabilization loop.
package compiler

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/agenticklabs/agentick/com"
	"github.com/agenticklabs/agentick/tools"
)

// MaxRecompileIterations bounds the recompile loop; the source this runtime
// is modeled on does not make it configurable, so 8 is chosen here as a
// safety ceiling.
const MaxRecompileIterations = 8

// Formatter renders semantic content for the innermost enclosing
// <formatter> boundary.
type Formatter interface {
	Name() string
}

// Policy is a boundary value that accumulates outer-first as the tree is
// descended (e.g. a token-budget policy).
type Policy interface {
	Name() string
}

// Context is passed to every node during traversal. It exposes the COM
// being built plus the current boundary stacks.
type Context struct {
	COM *com.COM

	formatterStack []Formatter
	policyChain    []Policy

	recompile bool
}

// Formatter returns the innermost formatter on the stack, or nil.
func (c *Context) Formatter() Formatter {
	if len(c.formatterStack) == 0 {
		return nil
	}
	return c.formatterStack[len(c.formatterStack)-1]
}

// Policies returns the full policy chain, outer-first.
func (c *Context) Policies() []Policy {
	out := make([]Policy, len(c.policyChain))
	copy(out, c.policyChain)
	return out
}

// RequestRecompile flags the current pass unstable; the recompile loop
// reruns collect+annotate once more.
func (c *Context) RequestRecompile() { c.recompile = true }

// Node is one position in the component tree. Position identity is the
// caller's responsibility (path-from-root + key); the reconciler uses
// PositionKey to decide whether a node is new, updated, or unmounted.
type Node interface {
	PositionKey() string

	// OnMount fires the first time this position is seen.
	OnMount(ctx *Context)
	// OnUnmount fires when a previously seen position disappears.
	OnUnmount(ctx *Context)
	// OnTickStart fires once per tick for every surviving node, before Collect.
	OnTickStart(ctx *Context)
	// Collect contributes this node's content to the structure under
	// construction (sections, timeline entries, tools, ephemeral).
	Collect(ctx *Context, out *Builder)
	// OnAfterCompile fires after annotation; a node that calls
	// ctx.RequestRecompile() here triggers another collect+annotate pass.
	OnAfterCompile(ctx *Context, compiled *CompiledStructure)

	// Children returns the node's descendants, in render order.
	Children() []Node
}

// Builder accumulates one collect pass's output before token annotation.
type Builder struct {
	System    []com.Message
	Timeline  []com.TimelineEntry
	Sections  map[string]com.Section
	Ephemeral []com.EphemeralEntry
	Tools     []tools.Tool
}

func newBuilder() *Builder {
	return &Builder{Sections: make(map[string]com.Section)}
}

// AddSystem appends a system message.
func (b *Builder) AddSystem(msg com.Message) { b.System = append(b.System, msg) }

// AddTimelineEntry appends a non-system entry.
func (b *Builder) AddTimelineEntry(entry com.TimelineEntry) { b.Timeline = append(b.Timeline, entry) }

// AddSection merges sec into the builder's section map.
func (b *Builder) AddSection(sec com.Section) {
	if existing, ok := b.Sections[sec.ID]; ok {
		sec = existing.Merge(sec)
	}
	b.Sections[sec.ID] = sec
}

// AddEphemeral appends an ephemeral entry.
func (b *Builder) AddEphemeral(e com.EphemeralEntry) { b.Ephemeral = append(b.Ephemeral, e) }

// AddTool registers a tool for this compile pass.
func (b *Builder) AddTool(t tools.Tool) { b.Tools = append(b.Tools, t) }

// TickState carries cross-tick context the compiler needs but does not own.
type TickState struct {
	PreviousInput  any
	Tick           int
	QueuedMessages []com.Message
	StopReason     string
	LastError      error
}

// TokenEstimator estimates the token cost of rendered text. The compiler
// consults the COM for an adapter-supplied estimator and falls back to
// DefaultEstimator.
type TokenEstimator func(text string) int

// DefaultEstimator implements the fallback rule: ceil(chars/4) + 4.
func DefaultEstimator(text string) int {
	return int(math.Ceil(float64(len(text))/4.0)) + 4
}

// CompiledStructure is the compiler's output: a language-agnostic
// description of one tick's rendered content, ready for a model adapter's
// fromEngineState.
type CompiledStructure struct {
	System          []com.Message
	TimelineEntries []com.TimelineEntry
	Tools           []tools.ToolDefinition
	Ephemeral       []com.EphemeralEntry
	Sections        map[string]com.Section
	TotalTokens     int
}

// reconcileState tracks nodes seen across compiles, keyed by PositionKey.
// nodes holds the node last seen at each key so a vanished position can be
// sent OnUnmount; positions restored via RestoreDataCache have no entry.
type reconcileState struct {
	seen  map[string]bool
	nodes map[string]Node
}

// Compiler holds cross-tick reconciliation state for one execution.
type Compiler struct {
	estimator TokenEstimator
	state     reconcileState
}

// New returns a Compiler using estimator, or DefaultEstimator if nil.
func New(estimator TokenEstimator) *Compiler {
	if estimator == nil {
		estimator = DefaultEstimator
	}
	return &Compiler{estimator: estimator, state: reconcileState{seen: make(map[string]bool)}}
}

// DataCache returns the set of position keys the compiler currently
// considers mounted, for hibernation. Order is unspecified.
func (c *Compiler) DataCache() []string {
	keys := make([]string, 0, len(c.state.seen))
	for k := range c.state.seen {
		keys = append(keys, k)
	}
	return keys
}

// RestoreDataCache replaces the compiler's mounted-position cache with
// keys, for hydration. Nodes whose PositionKey is present in keys are
// treated as already mounted on the next Compile call, so OnMount does not
// refire for them.
func (c *Compiler) RestoreDataCache(keys []string) {
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		seen[k] = true
	}
	c.state = reconcileState{seen: seen}
}

// Compile runs the full reconcile -> boundary -> collect -> annotate ->
// recompile pipeline against root and returns the resulting
// CompiledStructure, mutating comInst (tool registration, emitted events) as
// a side effect.
func (c *Compiler) Compile(root Node, comInst *com.COM, tick TickState) (CompiledStructure, error) {
	ctx := &Context{COM: comInst}

	c.reconcile(root, ctx)

	var compiled CompiledStructure
	for iteration := 0; ; iteration++ {
		builder := newBuilder()
		c.collect(root, ctx, builder)
		c.registerTools(comInst, builder.Tools)
		compiled = c.annotate(comInst, builder)

		ctx.recompile = false
		c.afterCompile(root, ctx, &compiled)
		if requested, _ := comInst.ConsumeRecompileRequest(); requested {
			ctx.recompile = true
		}

		if !ctx.recompile {
			break
		}
		if iteration+1 >= MaxRecompileIterations {
			return compiled, fmt.Errorf("compiler: recompile did not stabilize after %d iterations", MaxRecompileIterations)
		}
	}

	return compiled, nil
}

// reconcile walks the tree once, firing OnMount for newly seen positions and
// OnUnmount for positions that vanished since the previous compile.
func (c *Compiler) reconcile(root Node, ctx *Context) {
	current := make(map[string]bool)
	nodes := make(map[string]Node)
	var walk func(n Node)
	walk = func(n Node) {
		key := n.PositionKey()
		current[key] = true
		nodes[key] = n
		if !c.state.seen[key] {
			n.OnMount(ctx)
		}
		n.OnTickStart(ctx)
		for _, child := range n.Children() {
			walk(child)
		}
	}
	walk(root)

	for key, prev := range c.state.nodes {
		if !current[key] {
			prev.OnUnmount(ctx)
		}
	}
	c.state.seen = current
	c.state.nodes = nodes
}

// registerTools feeds every <tool> node collected this pass into comInst,
// compiler-mediated so metadata/JSON-schema conversion happens exactly once
// per compile pass regardless of how many timeline/section nodes also
// touch the same tool name.
func (c *Compiler) registerTools(comInst *com.COM, toolList []tools.Tool) {
	for _, t := range toolList {
		comInst.AddTool(t)
	}
}

func (c *Compiler) collect(n Node, ctx *Context, b *Builder) {
	n.Collect(ctx, b)
	for _, child := range n.Children() {
		c.collect(child, ctx, b)
	}
}

func (c *Compiler) afterCompile(n Node, ctx *Context, compiled *CompiledStructure) {
	n.OnAfterCompile(ctx, compiled)
	for _, child := range n.Children() {
		c.afterCompile(child, ctx, compiled)
	}
}

// annotate applies the token annotation rules from the data model section
// and assembles the final CompiledStructure. Tools is sourced from comInst
// rather than rebuilt from b.Tools, so the provider-facing list always
// reflects registerTools's COM-mediated registration (alias collisions,
// audience filtering, first-registration-wins) rather than this pass's raw
// collection order.
func (c *Compiler) annotate(comInst *com.COM, b *Builder) CompiledStructure {
	total := 0

	entries := make([]com.TimelineEntry, len(b.Timeline))
	for i, e := range b.Timeline {
		e.Tokens = c.entryTokens(e) + 4
		total += e.Tokens
		entries[i] = e
	}

	return CompiledStructure{
		System:          b.System,
		TimelineEntries: entries,
		Tools:           comInst.ToolDefinitions(),
		Ephemeral:       b.Ephemeral,
		Sections:        b.Sections,
		TotalTokens:     total,
	}
}

// entryTokens applies the per-content-block estimation rules: text/code use
// the estimator directly, json uses the estimator over its marshaled form,
// tool_use combines name and input, tool_result recurses, image is a fixed
// cost.
func (c *Compiler) entryTokens(e com.TimelineEntry) int {
	total := 0
	for _, block := range e.Message.Content {
		total += c.blockTokens(block)
	}
	return total
}

func (c *Compiler) blockTokens(block tools.ContentBlock) int {
	switch block.Type {
	case "image":
		return 85
	case "json":
		data, err := json.Marshal(block.Data)
		if err != nil {
			return c.estimator(block.Text)
		}
		return c.estimator(string(data))
	case "tool_use":
		name, _ := block.Data["name"].(string)
		input, _ := json.Marshal(block.Data["input"])
		return c.estimator(name + string(input))
	case "tool_result":
		nested, _ := block.Data["content"].([]tools.ContentBlock)
		sum := 0
		for _, n := range nested {
			sum += c.blockTokens(n)
		}
		return sum
	default: // text, code
		return c.estimator(block.Text)
	}
}
