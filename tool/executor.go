package tool

import (
	"context"
	"encoding/json"

	"github.com/windrose/agentkit/runnable"
	"github.com/windrose/agentkit/session"
)

// Context carries everything an Executor needs for a single call.
type Context struct {
	CallID     string
	Name       string
	Args       json.RawMessage
	Session    *session.Session
	Invocation runnable.InvocationContext
	// Input carries the external tool_input that resolved a pending
	// tool_yield, populated only for the call that Resumer.Resume makes
	// (spec.md §4.4: "resumption path invokes execute and finalize with
	// ctx.input populated"). Nil on every fresh Execute call.
	Input json.RawMessage
	// Dispatch lets an Executor implement call/spawn/dispatch/transfer
	// (spec.md §4.9) by running an arbitrary Runnable without this package
	// depending on the engine. The handoff package builds on exactly this
	// field.
	Dispatch runnable.Runner
}

// Executor implements one tool's runtime behavior. A tool that declares a
// YieldSchema returns tool.Yield from Execute to pause after preparing its
// args; it must also implement Resumer so Invoke has a resume path to call
// once the pending tool_yield's tool_input arrives.
type Executor interface {
	Execute(ctx context.Context, tc *Context) (Outcome, error)
}

// Resumer is implemented by a yielding tool's Executor to complete a call
// that previously returned tool.Yield, once the external tool_input has
// resolved it. Resume is called with tc.Input set to the resolved input
// (already re-validated against the tool's yield schema by the caller) and
// tc.Args holding the originally prepared arguments; it returns the same
// Outcome kinds as Execute (typically Value or Transfer — returning Yield
// again is a tool error, since a call yields at most once).
type Resumer interface {
	Resume(ctx context.Context, tc *Context) (Outcome, error)
}

// ExecutorFunc adapts a plain function to Executor.
type ExecutorFunc func(ctx context.Context, tc *Context) (Outcome, error)

func (f ExecutorFunc) Execute(ctx context.Context, tc *Context) (Outcome, error) {
	return f(ctx, tc)
}

// ResumableExecutorFunc adapts a pair of plain functions to an Executor that
// also implements Resumer, for tools whose yield/resume behavior is simple
// enough not to warrant its own named type.
type ResumableExecutorFunc struct {
	ExecuteFn func(ctx context.Context, tc *Context) (Outcome, error)
	ResumeFn  func(ctx context.Context, tc *Context) (Outcome, error)
}

func (f ResumableExecutorFunc) Execute(ctx context.Context, tc *Context) (Outcome, error) {
	return f.ExecuteFn(ctx, tc)
}

func (f ResumableExecutorFunc) Resume(ctx context.Context, tc *Context) (Outcome, error) {
	return f.ResumeFn(ctx, tc)
}
