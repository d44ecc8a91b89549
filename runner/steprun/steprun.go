// Package steprun implements the Step runnable (spec.md §3.4, §4.3): open
// an invocation boundary around a caller-supplied Go function, run it with
// a *Context giving it session/dispatch access, and close the boundary with
// whatever Outcome it returns. It is the one Runnable kind with no teacher
// analogue (the teacher's workflow agents only compose other agents, never
// a bare function) — its invocation-boundary bookkeeping is grounded on the
// same open/close pattern agentloop and the other runner/* packages use.
package steprun

import (
	"context"

	"github.com/windrose/agentkit/event"
	"github.com/windrose/agentkit/runnable"
	"github.com/windrose/agentkit/session"
)

// Context is the env a Step's Run function receives, giving it the same
// session/dispatch access a tool.Context gives an Executor.
type Context struct {
	Session    *session.Session
	Invocation runnable.InvocationContext
	Dispatch   runnable.Runner
}

// Run opens the Step's invocation boundary, calls step.Run, and closes the
// boundary according to the Outcome it returns.
func Run(ctx context.Context, step *runnable.Step, sess *session.Session, ictx runnable.InvocationContext, dispatch runnable.Runner) (runnable.Outcome, error) {
	if ictx.Resume == nil {
		if _, err := sess.Append(event.New(event.KindInvocationStart, ictx.InvocationID, step.Name, event.InvocationStartPayload{
			Kind:               event.InvocationStep,
			ParentInvocationID: ictx.ParentInvocationID,
			HandoffOrigin:      ictx.HandoffOrigin,
			Fingerprint:        runnable.Fingerprint(step),
		})); err != nil {
			return runnable.Outcome{}, err
		}
	} else {
		if _, err := sess.Append(event.New(event.KindInvocationResume, ictx.InvocationID, step.Name, event.InvocationResumePayload{})); err != nil {
			return runnable.Outcome{}, err
		}
	}

	stepCtx := &Context{Session: sess, Invocation: ictx, Dispatch: dispatch}
	outcome, err := step.Run(ctx, stepCtx)
	if err != nil {
		if _, aerr := sess.Append(event.New(event.KindInvocationEnd, ictx.InvocationID, step.Name, event.InvocationEndPayload{Reason: event.ReasonError})); aerr != nil {
			return runnable.Outcome{}, aerr
		}
		return runnable.Errored(err), nil
	}

	if outcome.Yielded {
		if _, err := sess.Append(event.New(event.KindInvocationYield, ictx.InvocationID, step.Name, event.InvocationYieldPayload{
			PendingCallIDs: outcome.PendingCallIDs,
			AwaitingInput:  outcome.AwaitingInput,
		})); err != nil {
			return runnable.Outcome{}, err
		}
		return outcome, nil
	}

	reason := outcome.Reason
	if reason == "" {
		reason = event.ReasonCompleted
	}
	target := ""
	if reason == event.ReasonTransferred && outcome.HandoffTarget != nil {
		target = outcome.HandoffTarget.RunnableName()
	}
	if _, err := sess.Append(event.New(event.KindInvocationEnd, ictx.InvocationID, step.Name, event.InvocationEndPayload{
		Reason: reason, HandoffTarget: target,
	})); err != nil {
		return runnable.Outcome{}, err
	}
	return outcome, nil
}
