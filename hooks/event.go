package hooks

import "context"

// Kind identifies the category of a COM mutation event. Names mirror the
// verbs exposed by the Context Object Model: a colon separates the
// subsystem from the action, matching the wire vocabulary consumers
// already expect (message:added, tool:registered, ...).
type Kind string

const (
	MessageAdded     Kind = "message:added"
	TimelineModified Kind = "timeline:modified"
	ToolRegistered   Kind = "tool:registered"
	ToolRemoved      Kind = "tool:removed"
	SectionUpdated   Kind = "section:updated"
	StateChanged     Kind = "state:changed"
	StateCleared     Kind = "state:cleared"
	ModelChanged     Kind = "model:changed"
	ModelUnset       Kind = "model:unset"
	MetadataChanged  Kind = "metadata:changed"
	ExecutionMessage Kind = "execution:message"
)

// Event is a single COM mutation notification delivered synchronously to
// every Bus subscriber in the same call that performed the mutation.
// Payload carries the kind-specific data (for example the tools.Tool that was
// just registered, or the state key/value pair that changed) and is left
// untyped because subscribers only care about a handful of kinds each.
type Event struct {
	Kind    Kind
	Payload any
}

// SubscriberFunc adapts a plain function to the Subscriber interface.
type SubscriberFunc func(ctx context.Context, event Event) error

// HandleEvent implements Subscriber.
func (f SubscriberFunc) HandleEvent(ctx context.Context, event Event) error {
	return f(ctx, event)
}
