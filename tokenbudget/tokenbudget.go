// Package tokenbudget implements the pure entry-compaction function the
// compiler and session call to keep a timeline under a model's context
// window.
package tokenbudget

// Strategy selects how Compact evicts entries when a timeline exceeds its
// budget.
type Strategy string

const (
	StrategyNone         Strategy = "none"
	StrategyTruncate     Strategy = "truncate"
	StrategySlidingWindow Strategy = "sliding-window"
	StrategyFn           Strategy = "fn"
)

// Entry is one timeline entry as seen by the budget engine: just enough to
// decide eviction without knowing anything about message shape.
type Entry struct {
	ID     string
	Role   string
	Tokens int
	Value  any
}

// CustomFn implements StrategyFn. It receives the full entry set plus
// current budget state and returns the entries to keep and evict; the
// caller recomputes currentTokens from Kept.
type CustomFn func(entries []Entry, budget Budget, guidance any) (kept, evicted []Entry)

// Budget describes the constraint Compact enforces.
type Budget struct {
	MaxTokens     int
	CurrentTokens int
}

// Options configures one Compact call.
type Options struct {
	MaxTokens     int
	Strategy      Strategy
	Headroom      int
	PreserveRoles []string
	Guidance      any
	Fn            CustomFn
	// OnEvict fires exactly once, only when eviction actually occurred.
	OnEvict func(evicted []Entry)
}

// Result is Compact's output.
type Result struct {
	Kept          []Entry
	Evicted       []Entry
	CurrentTokens int
}

// Compact applies opts.Strategy to entries. Empty input, input already
// within budget, or Strategy == none all return early without invoking the
// strategy or firing OnEvict.
func Compact(entries []Entry, opts Options) Result {
	total := sumTokens(entries)

	if len(entries) == 0 || opts.Strategy == StrategyNone || opts.Strategy == "" {
		return Result{Kept: entries, CurrentTokens: total}
	}
	if total <= opts.MaxTokens-opts.Headroom {
		return Result{Kept: entries, CurrentTokens: total}
	}

	var kept, evicted []Entry
	switch opts.Strategy {
	case StrategyTruncate:
		kept, evicted = truncate(entries, opts)
	case StrategySlidingWindow:
		kept, evicted = slidingWindow(entries, opts)
	case StrategyFn:
		if opts.Fn == nil {
			return Result{Kept: entries, CurrentTokens: total}
		}
		kept, evicted = opts.Fn(entries, Budget{MaxTokens: opts.MaxTokens, CurrentTokens: total}, opts.Guidance)
	default:
		return Result{Kept: entries, CurrentTokens: total}
	}

	if len(evicted) > 0 && opts.OnEvict != nil {
		opts.OnEvict(evicted)
	}
	return Result{Kept: kept, Evicted: evicted, CurrentTokens: sumTokens(kept)}
}

// truncate walks entries newest to oldest, keeping any that still fit the
// remaining budget. Kept entries are returned in original order.
func truncate(entries []Entry, opts Options) (kept, evicted []Entry) {
	budget := opts.MaxTokens - opts.Headroom
	keepMask := make([]bool, len(entries))
	remaining := budget
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.Tokens <= remaining {
			keepMask[i] = true
			remaining -= e.Tokens
		}
	}
	for i, e := range entries {
		if keepMask[i] {
			kept = append(kept, e)
		} else {
			evicted = append(evicted, e)
		}
	}
	return kept, evicted
}

// slidingWindow reserves budget for preserved-role entries, then keeps the
// newest remaining entries that fit, merging both sets back into original
// order.
func slidingWindow(entries []Entry, opts Options) (kept, evicted []Entry) {
	preserve := make(map[string]bool, len(opts.PreserveRoles))
	for _, r := range opts.PreserveRoles {
		preserve[r] = true
	}

	budget := opts.MaxTokens - opts.Headroom
	preservedTokens := 0
	keepMask := make([]bool, len(entries))
	for i, e := range entries {
		if preserve[e.Role] {
			keepMask[i] = true
			preservedTokens += e.Tokens
		}
	}

	remaining := budget - preservedTokens
	for i := len(entries) - 1; i >= 0; i-- {
		if keepMask[i] {
			continue
		}
		e := entries[i]
		if e.Tokens <= remaining {
			keepMask[i] = true
			remaining -= e.Tokens
		}
	}

	for i, e := range entries {
		if keepMask[i] {
			kept = append(kept, e)
		} else {
			evicted = append(evicted, e)
		}
	}
	return kept, evicted
}

func sumTokens(entries []Entry) int {
	total := 0
	for _, e := range entries {
		total += e.Tokens
	}
	return total
}
