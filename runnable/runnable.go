// Package runnable defines the Runnable algebra (spec.md §3.4): the five
// composition primitives — Agent, Step, Sequence, Parallel, Loop — plus the
// shared invocation-boundary contract every runner implements.
//
// Runnable values are immutable and own no mutable state; all mutable
// execution state lives in the Session each invocation appends to. Because
// Sequence/Parallel/Loop must be able to run arbitrary child Runnables
// (including other composites, or Agents several levels down) without this
// package depending on the agent loop or the composite runners themselves,
// the actual dispatch is expressed as the Runner interface: *engine.Engine
// implements Runner and is passed as the dispatch argument to each runner's
// Run function. This keeps the dependency graph acyclic (runnable is a
// leaf with respect to agentloop/runner/engine) while still letting a Loop's
// child be a Parallel whose branches are Agents.
package runnable

import (
	"context"

	"github.com/windrose/agentkit/event"
	"github.com/windrose/agentkit/schema"
	"github.com/windrose/agentkit/session"
)

// Runnable is implemented by Agent, Step, Sequence, Parallel, and Loop. Each
// has a stable Name used for addressing during resume (spec.md §3.4) and an
// InvocationKind tag recorded on its invocation_start event.
type Runnable interface {
	RunnableName() string
	InvocationKind() event.InvocationKind
}

// Outcome is the result of running any Runnable to a stopping point: either
// it completed, or it is interrupted in one of the ways spec.md enumerates.
type Outcome struct {
	Reason event.TerminalReason

	// PendingCallIDs and AwaitingInput mirror invocation_yield (set only
	// when Reason is the zero value and Yielded is true).
	Yielded        bool
	PendingCallIDs []string
	AwaitingInput  bool

	// Err is set when Reason is error.
	Err error

	// HandoffTarget is set when Reason is transferred.
	HandoffTarget Runnable

	// FinalOutput is the agent's final assistant text / step's produced
	// value, when Reason is completed. Composite runners propagate their
	// last child's FinalOutput unless they produce their own (Parallel's
	// merge function, a Step's respond()).
	FinalOutput any

	// Iterations counts agent model-steps or loop iterations, surfaced for
	// tests and callers (spec.md §8 scenarios assert on this).
	Iterations int
}

// Completed builds a completed Outcome.
func Completed(output any) Outcome {
	return Outcome{Reason: event.ReasonCompleted, FinalOutput: output}
}

// Errored builds an error Outcome.
func Errored(err error) Outcome {
	return Outcome{Reason: event.ReasonError, Err: err}
}

// Aborted builds an aborted Outcome.
func Aborted() Outcome {
	return Outcome{Reason: event.ReasonAborted}
}

// MaxStepsReached builds a max_steps Outcome (not an error, spec.md §4.2).
func MaxStepsReached() Outcome {
	return Outcome{Reason: event.ReasonMaxSteps}
}

// Transferred builds a transferred Outcome targeting the given Runnable.
func Transferred(target Runnable) Outcome {
	return Outcome{Reason: event.ReasonTransferred, HandoffTarget: target}
}

// Yielded builds a yielded Outcome (Reason stays zero-value; Yielded is the
// discriminant since "yielded" is not a terminal_reason value on
// invocation_end — a yield does not close the invocation).
func Yielded(pendingCallIDs []string, awaitingInput bool) Outcome {
	return Outcome{Yielded: true, PendingCallIDs: pendingCallIDs, AwaitingInput: awaitingInput}
}

// Terminal reports whether this Outcome closes the invocation (i.e. it is
// not a yield).
func (o Outcome) Terminal() bool { return !o.Yielded }

// InvocationContext carries everything a runner needs to open and close an
// invocation boundary: identity, parent linkage, and the resume descriptor
// (if any) that tells it where a prior run of this Runnable left off.
type InvocationContext struct {
	InvocationID       string
	ParentInvocationID string
	HandoffOrigin      *event.HandoffOrigin
	// Resume is the descriptor computed by the resume package for this
	// specific Runnable, or nil for a fresh invocation.
	Resume any
}

// Runner dispatches execution of an arbitrary Runnable. Composite runners
// (Sequence/Parallel/Loop) and Step's delegate-to-Runnable signal all accept
// a Runner so they never need to import the agent loop or sibling runner
// packages directly.
type Runner interface {
	Run(ctx context.Context, rn Runnable, sess *session.Session, ictx InvocationContext) (Outcome, error)
}

// ToolRef is the composition-time metadata Agent.Tools carries. The
// execution-time behavior (validate/prepare/execute/finalize) is supplied
// separately by tool.Registry so that this package never depends on the
// tool execution engine.
type ToolRef struct {
	Name        string
	Description string
	ArgsSchema  schema.Validator
	// YieldSchema is non-nil when the tool pauses for external input
	// (spec.md §6.4). Its presence is what causes the agent loop to tag a
	// tool_call with yields=true.
	YieldSchema schema.Validator
	Tags        []string
}

// OutputConfig declares how an Agent's final assistant text is parsed into
// structured output (spec.md §4.2 step 5).
type OutputConfig struct {
	Schema schema.Validator
	// StateKey, when non-empty, stores the parsed value under this key in
	// session scope instead of (or in addition to) surfacing it as
	// structured output on the assistant event.
	StateKey string
}

// ModelConfig carries the provider-routing and sampling knobs passed to a
// ModelAdapter for every step (spec.md §6.1). It intentionally stays a flat
// struct of primitives plus an Extra bag rather than a provider-specific
// type, so it can be fingerprint-stable yet still reach provider knobs like
// reasoning effort or thinking budget.
type ModelConfig struct {
	Provider    string
	Model       string
	Temperature float64
	MaxTokens   int
	Extra       map[string]any
}
