// Package handoff implements the orchestration primitives exposed on tool
// and step contexts (spec.md §4.9): call a sub-agent synchronously, spawn
// one concurrently, or dispatch one fire-and-forget — all against the same
// session, each recording a child invocation tagged with the HandoffOrigin
// that produced it. Transfer needs no dedicated function here: any hook or
// tool already returns a Runnable directly (middleware.Result.Transfer,
// tool.TransferTo) and the runner that receives it is responsible for
// dispatching the target with handoffOrigin={type:"transfer"}.
package handoff

import (
	"context"
	"errors"

	"github.com/windrose/agentkit/event"
	"github.com/windrose/agentkit/runnable"
	"github.com/windrose/agentkit/session"
	"github.com/windrose/agentkit/telemetry"
	"github.com/windrose/agentkit/tool"
)

// ErrSubAgentYielded is returned by Call when the target invocation paused
// for external input. call() is for synchronous completion only; a
// human-in-the-loop pause belongs to a yielding tool, not a sub-agent call.
var ErrSubAgentYielded = errors.New("handoff: call: sub-agent yielded; use a yielding tool for human-in-the-loop pauses instead")

// CallOptions configures a synchronous sub-agent call.
type CallOptions struct {
	// TempState overrides are merged into the session's temp scope before
	// dispatch; since call runs the child on the very same session, the
	// child inherits every existing temp key for free and these overrides
	// layer on top (spec.md §3.2, §4.9).
	TempState map[string]any
}

// CallResult mirrors the outcome of a synchronous sub-agent call.
type CallResult struct {
	Status     event.TerminalReason
	Output     any
	Iterations int
	Err        error
	Transfer   runnable.Runnable
}

// Call synchronously runs target on the same session as tc and blocks
// until it reaches a terminal outcome, returning ErrSubAgentYielded if it
// pauses instead.
func Call(ctx context.Context, tc *tool.Context, target runnable.Runnable, opts CallOptions) (CallResult, error) {
	applyTempOverrides(tc.Session, opts.TempState)

	childICtx := runnable.InvocationContext{
		InvocationID:       event.NewID(),
		ParentInvocationID: tc.Invocation.InvocationID,
		HandoffOrigin: &event.HandoffOrigin{
			Type:               event.HandoffCall,
			ParentInvocationID: tc.Invocation.InvocationID,
			CallID:             tc.CallID,
		},
	}

	outcome, err := tc.Dispatch.Run(ctx, target, tc.Session, childICtx)
	if err != nil {
		return CallResult{}, err
	}
	if outcome.Yielded {
		return CallResult{}, ErrSubAgentYielded
	}
	return CallResult{
		Status:     outcome.Reason,
		Output:     outcome.FinalOutput,
		Iterations: outcome.Iterations,
		Err:        outcome.Err,
		Transfer:   outcome.HandoffTarget,
	}, nil
}

// SpawnOptions configures a concurrent sub-agent spawn.
type SpawnOptions struct {
	TempState map[string]any
}

// Handle lets a caller observe or cancel a spawned sub-invocation.
type Handle struct {
	invocationID string
	done         chan struct{}
	outcome      runnable.Outcome
	err          error
	cancel       context.CancelFunc
}

// InvocationID returns the spawned invocation's ID, stable from the moment
// Spawn returns even before the sub-invocation finishes.
func (h *Handle) InvocationID() string { return h.invocationID }

// Wait blocks until the spawned invocation reaches a terminal outcome (or
// yields) and returns it.
func (h *Handle) Wait() (runnable.Outcome, error) {
	<-h.done
	return h.outcome, h.err
}

// Abort cancels the context the spawned invocation is running under. It
// does not forcibly stop an in-flight tool call that ignores context
// cancellation; it is cooperative, like every other cancellation in this
// module.
func (h *Handle) Abort() { h.cancel() }

// Spawn starts target running concurrently against the same session as tc
// and returns immediately with a Handle. Session.Append is safe for
// concurrent use, so no session cloning is needed here — unlike Parallel,
// a spawned invocation's ledger entries simply interleave with the rest of
// the session in append order rather than needing declaration-order
// merging.
func Spawn(ctx context.Context, tc *tool.Context, target runnable.Runnable, opts SpawnOptions) *Handle {
	applyTempOverrides(tc.Session, opts.TempState)

	spawnCtx, cancel := context.WithCancel(ctx)
	invocationID := event.NewID()
	h := &Handle{invocationID: invocationID, done: make(chan struct{}), cancel: cancel}

	childICtx := runnable.InvocationContext{
		InvocationID:       invocationID,
		ParentInvocationID: tc.Invocation.InvocationID,
		HandoffOrigin: &event.HandoffOrigin{
			Type:               event.HandoffSpawn,
			ParentInvocationID: tc.Invocation.InvocationID,
			CallID:             tc.CallID,
		},
	}

	go func() {
		defer close(h.done)
		h.outcome, h.err = tc.Dispatch.Run(spawnCtx, target, tc.Session, childICtx)
	}()

	return h
}

// DispatchOptions configures a fire-and-forget dispatch.
type DispatchOptions struct {
	TempState map[string]any
}

// Dispatch starts target running against the same session as tc and
// returns its invocation ID immediately, with no back-channel: failures are
// only logged (spec.md §4.9). The sub-invocation runs detached from ctx so
// that the dispatching call returning does not cancel it.
func Dispatch(ctx context.Context, tc *tool.Context, target runnable.Runnable, opts DispatchOptions, tel telemetry.Bundle) string {
	applyTempOverrides(tc.Session, opts.TempState)

	invocationID := event.NewID()
	childICtx := runnable.InvocationContext{
		InvocationID:       invocationID,
		ParentInvocationID: tc.Invocation.InvocationID,
		HandoffOrigin: &event.HandoffOrigin{
			Type:               event.HandoffDispatch,
			ParentInvocationID: tc.Invocation.InvocationID,
			CallID:             tc.CallID,
		},
	}

	go func() {
		detached := context.Background()
		if _, err := tc.Dispatch.Run(detached, target, tc.Session, childICtx); err != nil && tel.Log != nil {
			tel.Log.Error(detached, "handoff: dispatch failed", "invocationId", invocationID, "error", err.Error())
		}
	}()

	return invocationID
}

func applyTempOverrides(sess *session.Session, overrides map[string]any) {
	for k, v := range overrides {
		sess.Set(event.ScopeTemp, event.SourceDirect, k, v)
	}
}
