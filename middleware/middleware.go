// Package middleware implements the hook composition spec.md §4.7
// describes: before-hooks that can short-circuit an operation, and
// after-hooks that observe (and may transform) its outcome, composed across
// engine-level and agent-level registrations in onion order — outermost
// before-hook runs first, outermost after-hook runs last. The pub/sub
// observation bus the teacher uses for external event fan-out
// (runtime/agent/hooks/bus.go) is a different concern (spec.md's onStream/
// onStep are its closest analogue here); this package is about
// interception, not delivery.
package middleware

import (
	"context"

	"github.com/windrose/agentkit/event"
	"github.com/windrose/agentkit/runnable"
	"github.com/windrose/agentkit/session"
)

// AgentContext is passed to agent-scoped hooks.
type AgentContext struct {
	Invocation runnable.InvocationContext
	Agent      *runnable.Agent
	Session    *session.Session
}

// ModelContext is passed to model-scoped hooks, wrapping the rendered
// request about to be sent (or just received from) a ModelAdapter. Request/
// Response are left untyped (`any`) here so this package does not need to
// depend on modeladapter; agentloop passes the concrete
// modeladapter.Request/Response values through.
type ModelContext struct {
	Invocation runnable.InvocationContext
	Agent      *runnable.Agent
	Session    *session.Session
	Request    any
	Response   any
}

// ToolContext is passed to tool-scoped hooks.
type ToolContext struct {
	Invocation runnable.InvocationContext
	Agent      *runnable.Agent
	Session    *session.Session
	CallID     string
	ToolName   string
	Args       []byte
}

// ToolOutcome is the result an after-tool hook observes or rewrites.
type ToolOutcome struct {
	Result []byte
	Err    error
}

// Result is what a before-hook returns: either "continue" (the zero value)
// or a short-circuit with a substituted value.
type Result struct {
	ShortCircuit bool
	Value        any
	// Transfer, when non-nil, redirects execution to a different Runnable
	// instead of producing Value directly — used by a before-agent hook
	// that implements routing (e.g. a guard that reroutes to a fallback
	// agent).
	Transfer runnable.Runnable
}

// Continue is the zero Result: proceed normally.
var Continue = Result{}

type (
	BeforeAgentHook func(ctx context.Context, ac *AgentContext) (Result, error)
	AfterAgentHook  func(ctx context.Context, ac *AgentContext, outcome runnable.Outcome) (runnable.Outcome, error)

	BeforeModelHook func(ctx context.Context, mc *ModelContext) (Result, error)
	AfterModelHook  func(ctx context.Context, mc *ModelContext) error

	BeforeToolHook func(ctx context.Context, tc *ToolContext) (Result, error)
	AfterToolHook  func(ctx context.Context, tc *ToolContext, outcome ToolOutcome) (ToolOutcome, error)

	// OnStreamHook observes, for side effects like external fan-out, every
	// event an engine.Execute call appended, in ledger order, once that call
	// returns. It must not block for long nor mutate e.
	OnStreamHook func(ctx context.Context, e event.Event)
	// OnStepHook observes each agent-loop model-step boundary.
	OnStepHook func(ctx context.Context, ac *AgentContext, step int)
)

// Set is one layer of hook registrations — either the engine-level set
// supplied once to the engine, or an Agent's own Hooks field.
type Set struct {
	BeforeAgent []BeforeAgentHook
	AfterAgent  []AfterAgentHook
	BeforeModel []BeforeModelHook
	AfterModel  []AfterModelHook
	BeforeTool  []BeforeToolHook
	AfterTool   []AfterToolHook
	OnStream    []OnStreamHook
	OnStep      []OnStepHook
}

// Compose layers sets outer-to-inner (the order they're passed in): the
// resulting Set's Before* slices run outer-first, short-circuiting as soon
// as any hook returns ShortCircuit=true; its After* slices run inner-first,
// so an agent's own after-hook sees the raw outcome before any
// engine-level after-hook gets a chance to transform it further.
func Compose(sets ...Set) Set {
	var out Set
	for _, s := range sets {
		out.BeforeAgent = append(out.BeforeAgent, s.BeforeAgent...)
		out.BeforeModel = append(out.BeforeModel, s.BeforeModel...)
		out.BeforeTool = append(out.BeforeTool, s.BeforeTool...)
		out.OnStream = append(out.OnStream, s.OnStream...)
		out.OnStep = append(out.OnStep, s.OnStep...)
	}
	for i := len(sets) - 1; i >= 0; i-- {
		s := sets[i]
		out.AfterAgent = append(out.AfterAgent, s.AfterAgent...)
		out.AfterModel = append(out.AfterModel, s.AfterModel...)
		out.AfterTool = append(out.AfterTool, s.AfterTool...)
	}
	return out
}

// RunBeforeAgent runs hooks in order, stopping at the first short-circuit
// or error.
func RunBeforeAgent(ctx context.Context, hooks []BeforeAgentHook, ac *AgentContext) (Result, error) {
	for _, h := range hooks {
		r, err := h(ctx, ac)
		if err != nil || r.ShortCircuit {
			return r, err
		}
	}
	return Continue, nil
}

// RunAfterAgent folds every hook's transformation of outcome in slice order.
func RunAfterAgent(ctx context.Context, hooks []AfterAgentHook, ac *AgentContext, outcome runnable.Outcome) (runnable.Outcome, error) {
	for _, h := range hooks {
		var err error
		outcome, err = h(ctx, ac, outcome)
		if err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

// RunBeforeTool runs hooks in order, stopping at the first short-circuit or
// error.
func RunBeforeTool(ctx context.Context, hooks []BeforeToolHook, tc *ToolContext) (Result, error) {
	for _, h := range hooks {
		r, err := h(ctx, tc)
		if err != nil || r.ShortCircuit {
			return r, err
		}
	}
	return Continue, nil
}

// RunAfterTool folds every hook's transformation of outcome in slice order.
func RunAfterTool(ctx context.Context, hooks []AfterToolHook, tc *ToolContext, outcome ToolOutcome) (ToolOutcome, error) {
	for _, h := range hooks {
		var err error
		outcome, err = h(ctx, tc, outcome)
		if err != nil {
			return outcome, err
		}
	}
	return outcome, nil
}

// Emit fans e out to every OnStream hook. Never fails: observation hooks
// are best-effort and must not be able to abort a run.
func Emit(ctx context.Context, hooks []OnStreamHook, e event.Event) {
	for _, h := range hooks {
		h(ctx, e)
	}
}
