package engine

import "context"

type activityCtxKey struct{}

// WithActivityContext marks ctx as belonging to an activity invocation
// rather than a workflow. The engine backends mark every context they pass
// to an activity handler; IsActivityContext reports the mark.
func WithActivityContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, activityCtxKey{}, true)
}

// IsActivityContext reports whether ctx was produced by WithActivityContext.
func IsActivityContext(ctx context.Context) bool {
	v, _ := ctx.Value(activityCtxKey{}).(bool)
	return v
}
