// Package confirmation implements the pending-confirmation registry a Tool
// Executor consults before dispatching a call that requires user approval.
package confirmation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/agenticklabs/agentick/tools"
)

// State is the lifecycle state of one pending confirmation.
type State string

const (
	StateNone      State = "none"
	StatePending   State = "pending"
	StateApproved  State = "approved"
	StateDenied    State = "denied"
	StateCancelled State = "cancelled"
)

// Result is delivered to the waiter once a pending confirmation resolves.
type Result struct {
	Approved bool
	Always   bool
	Reason   string
}

// ErrCancelled is the error every pending future rejects with when CancelAll
// runs.
var ErrCancelled = errors.New("confirmation: cancelled")

type waiter struct {
	done chan Result
	err  error
	once sync.Once
}

// Coordinator tracks pending confirmations keyed by call id. A callId may
// pass through the NONE -> PENDING -> {APPROVED,DENIED,CANCELLED} machine
// twice in one call's lifetime (pre-execution confirmation, then again for
// sandbox-access recovery); each registration is independent and the
// coordinator never caches a prior decision.
type Coordinator struct {
	mu      sync.Mutex
	pending map[string]*waiter
}

// New returns an empty Coordinator.
func New() *Coordinator {
	return &Coordinator{pending: make(map[string]*waiter)}
}

// WaitForConfirmation registers callId as PENDING and blocks until
// ResolveConfirmation or CancelAll settles it, or ctx is cancelled.
func (c *Coordinator) WaitForConfirmation(ctx context.Context, callID string, _ tools.Ident) (Result, error) {
	if callID == "" {
		return Result{}, errors.New("confirmation: call id is required")
	}
	w := &waiter{done: make(chan Result, 1)}

	c.mu.Lock()
	if _, exists := c.pending[callID]; exists {
		c.mu.Unlock()
		return Result{}, fmt.Errorf("confirmation: call %q already pending", callID)
	}
	c.pending[callID] = w
	c.mu.Unlock()

	select {
	case res := <-w.done:
		return res, w.err
	case <-ctx.Done():
		c.drop(callID)
		return Result{}, ctx.Err()
	}
}

// ResolveConfirmation transitions a PENDING call to APPROVED or DENIED and
// wakes its waiter. It is a no-op (returns false) if callId has no pending
// registration, which happens when a caller resolves twice or resolves a
// call that was already cancelled.
func (c *Coordinator) ResolveConfirmation(callID string, approved, always bool, reason string) bool {
	w := c.takeWaiter(callID)
	if w == nil {
		return false
	}
	w.once.Do(func() {
		w.done <- Result{Approved: approved, Always: always, Reason: reason}
	})
	return true
}

// CancelAll transitions every currently PENDING call to CANCELLED, waking
// each waiter with ErrCancelled. Used when an execution aborts.
func (c *Coordinator) CancelAll() {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]*waiter)
	c.mu.Unlock()

	for _, w := range pending {
		w.once.Do(func() {
			w.err = ErrCancelled
			w.done <- Result{Approved: false, Reason: ErrCancelled.Error()}
		})
	}
}

func (c *Coordinator) takeWaiter(callID string) *waiter {
	c.mu.Lock()
	defer c.mu.Unlock()
	w, ok := c.pending[callID]
	if !ok {
		return nil
	}
	delete(c.pending, callID)
	return w
}

func (c *Coordinator) drop(callID string) {
	c.mu.Lock()
	delete(c.pending, callID)
	c.mu.Unlock()
}
