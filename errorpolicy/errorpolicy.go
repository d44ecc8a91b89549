// Package errorpolicy implements the composed error-handler chain that
// decides what happens when a tool, model call, or step fails (spec.md §4.8,
// §7). The error type itself follows the teacher's toolerrors.ToolError
// shape (a causal chain that survives errors.Is/As and serializes cleanly
// back onto a tool_result event).
package errorpolicy

import (
	"context"
	"errors"
	"fmt"
)

// Error is a structured failure that preserves a causal chain, adapted from
// the teacher's runtime/agent/toolerrors.ToolError.
type Error struct {
	Message string
	Cause   *Error
	// Retryable hints whether a retry policy should consider this failure
	// transient; built-in matchers (rate limit, timeout) set it.
	Retryable bool
}

// New constructs an Error with the given message.
func New(message string) *Error {
	if message == "" {
		message = "error"
	}
	return &Error{Message: message}
}

// NewWithCause wraps cause in an Error chain.
func NewWithCause(message string, cause error) *Error {
	if message == "" && cause != nil {
		message = cause.Error()
	}
	return &Error{Message: message, Cause: FromError(cause)}
}

// FromError converts an arbitrary error into an Error chain, preserving any
// existing Error found via errors.As.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return &Error{Message: err.Error(), Cause: FromError(errors.Unwrap(err))}
}

// Errorf formats a message into a new Error.
func Errorf(format string, args ...any) *Error {
	return New(fmt.Sprintf(format, args...))
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Action is the recovery decision a Handler makes for a failure.
type Action string

// Recognized recovery actions (spec.md §4.8).
const (
	// ActionPass defers to the next handler in the chain; a handler that
	// does not recognize the failure returns this.
	ActionPass Action = "pass"
	// ActionThrow re-raises the failure, ending the chain and propagating
	// it as the invocation's error Outcome.
	ActionThrow Action = "throw"
	// ActionAbort aborts the whole run (not just this invocation).
	ActionAbort Action = "abort"
	// ActionRetry re-attempts the failed operation, honoring Decision.Delay
	// and the caller's retry-attempt budget.
	ActionRetry Action = "retry"
	// ActionFallback substitutes Decision.Value as if the operation had
	// succeeded with that value.
	ActionFallback Action = "fallback"
	// ActionSkip treats the failure as a no-op: the operation is skipped
	// and execution continues as if it were never attempted.
	ActionSkip Action = "skip"
)

// Decision is what a Handler returns: the chosen Action plus any data the
// action needs (a fallback value, a retry delay).
type Decision struct {
	Action Action
	Value  any
	Delay  int64 // milliseconds
}

// Pass is the zero Decision: defer to the next handler.
var Pass = Decision{Action: ActionPass}

// Handler inspects a failure and either recovers from it or defers
// (ActionPass) to the next handler in the chain. attempt is the 1-based
// retry attempt number for the operation that failed.
type Handler interface {
	Handle(ctx context.Context, err error, attempt int) Decision
}

// HandlerFunc adapts a plain function to Handler.
type HandlerFunc func(ctx context.Context, err error, attempt int) Decision

func (f HandlerFunc) Handle(ctx context.Context, err error, attempt int) Decision {
	return f(ctx, err, attempt)
}

// Chain composes handlers in order; the first handler to return anything
// other than ActionPass wins (spec.md §4.8 "first non-pass recovery wins").
// If every handler passes, Chain throws the original error.
type Chain []Handler

// Handle runs the chain, returning the first non-pass Decision, or an
// ActionThrow Decision if every handler passes.
func (c Chain) Handle(ctx context.Context, err error, attempt int) Decision {
	for _, h := range c {
		d := h.Handle(ctx, err, attempt)
		if d.Action != ActionPass {
			return d
		}
	}
	return Decision{Action: ActionThrow}
}
