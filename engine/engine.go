// Package engine implements the top-level Runner: the one concrete
// implementation of runnable.Runner, switching on Runnable kind to delegate
// to agentloop and the runner/* composition primitives (spec.md §2's
// Runner row). It is the root of the dependency graph — every other
// package in this module is a leaf with respect to it — which is exactly
// what keeps agentloop/runner/* free of import cycles among themselves:
// they each accept a runnable.Runner and never know it is, in fact,
// *Engine recursing back into them.
//
// Engine also owns the two concerns that only make sense at the top of the
// tree: resuming a yielded session via the resume package instead of
// starting fresh, and fanning newly appended ledger events out to
// OnStream hooks after a run settles (spec.md §5's "producers push events
// into an unbounded channel; consumers drain it").
//
// Example usage:
//
//	eng := engine.New(agentloop.Config{Adapter: claudeAdapter, Registry: tools})
//	outcome, err := eng.Execute(ctx, root, sess)
package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/windrose/agentkit/agentloop"
	"github.com/windrose/agentkit/event"
	"github.com/windrose/agentkit/middleware"
	"github.com/windrose/agentkit/resume"
	"github.com/windrose/agentkit/runnable"
	"github.com/windrose/agentkit/runner/looprun"
	"github.com/windrose/agentkit/runner/parallelrun"
	"github.com/windrose/agentkit/runner/seqrun"
	"github.com/windrose/agentkit/runner/steprun"
	"github.com/windrose/agentkit/session"
)

// Engine dispatches every Runnable kind this module defines. The zero value
// is not usable; construct with New.
type Engine struct {
	// AgentConfig supplies the model adapter, tool registry, engine-level
	// hooks, error policy, and telemetry bundle agentloop.Run needs for
	// every Agent invocation anywhere in the tree.
	AgentConfig agentloop.Config
}

// New returns an Engine ready to dispatch against cfg.
func New(cfg agentloop.Config) *Engine {
	return &Engine{AgentConfig: cfg}
}

// Run implements runnable.Runner. Composite runners (seqrun/looprun/
// parallelrun) and steprun are handed the Engine itself as their dispatch
// argument, so a Loop's Body can be a Parallel whose branches are Agents
// without any of those packages importing one another.
func (e *Engine) Run(ctx context.Context, rn runnable.Runnable, sess *session.Session, ictx runnable.InvocationContext) (runnable.Outcome, error) {
	switch v := rn.(type) {
	case *runnable.Agent:
		return agentloop.Run(ctx, v, sess, ictx, e, e.AgentConfig)
	case *runnable.Sequence:
		return seqrun.Run(ctx, v, sess, ictx, e)
	case *runnable.Parallel:
		return parallelrun.Run(ctx, v, sess, ictx, e)
	case *runnable.Loop:
		return looprun.Run(ctx, v, sess, ictx, e)
	case *runnable.Step:
		return steprun.Run(ctx, v, sess, ictx, e)
	default:
		return runnable.Outcome{}, fmt.Errorf("engine: unrecognized runnable kind %T", rn)
	}
}

// Execute is the entry point a host calls to advance a session: it resumes
// the root's prior invocation when the ledger has something to continue
// (spec.md §4.6), or starts a fresh top-level invocation when there is
// nothing to resume — which is also the right behavior for a brand new
// session and for starting the next turn of an otherwise-completed
// conversation, since each top-level call is its own root invocation in the
// same ledger. A real resume error (unresolved tool_input, a structural
// fingerprint mismatch, or a malformed ledger) is returned to the caller
// rather than silently discarded in favor of a fresh start.
//
// Cancelling ctx is this module's top-level abort primitive (spec.md §5):
// it propagates through every suspension point (model call, tool call,
// retry backoff) and the currently-executing invocation closes with
// reason=aborted, which composite runners then propagate upward unchanged.
func (e *Engine) Execute(ctx context.Context, root runnable.Runnable, sess *session.Session) (runnable.Outcome, error) {
	target := root
	ictx := runnable.InvocationContext{InvocationID: event.NewID()}

	plan, err := resume.Compute(sess.Events(), root)
	switch {
	case err == nil:
		target = plan.Runnable
		ictx = plan.Invocation
	case errors.Is(err, resume.ErrNothingToResume):
		// no-op: run root as a fresh top-level invocation
	default:
		return runnable.Outcome{}, err
	}

	before := sess.Len()
	outcome, runErr := e.Run(ctx, target, sess, ictx)
	e.emitNew(ctx, sess, before)
	return outcome, runErr
}

// emitNew fans every event appended since from out to the engine-level
// OnStream hooks, in ledger order. It runs once per Execute call rather
// than once per nested dispatch, since every recursive Engine.Run call
// would otherwise re-observe its descendants' events through every
// ancestor's own diff.
func (e *Engine) emitNew(ctx context.Context, sess *session.Session, from int) {
	if len(e.AgentConfig.Hooks.OnStream) == 0 {
		return
	}
	events := sess.Events()
	if from >= len(events) {
		return
	}
	for _, ev := range events[from:] {
		middleware.Emit(ctx, e.AgentConfig.Hooks.OnStream, ev)
	}
}
