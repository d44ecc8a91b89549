// Package seqrun implements the Sequence runnable (spec.md §4.3): run each
// child as its own nested invocation, in order, stopping at the first
// non-completed outcome and otherwise propagating the last child's
// FinalOutput. It is grounded on the teacher's workflowagent package's
// observation that a strict-order pipeline is the degenerate one-pass case
// of its loop primitive (NewSequential delegates to NewLoop with
// MaxIterations=1) — this module keeps Sequence and Loop as distinct
// Runnable kinds per the algebra spec.md §3.4 defines, but the child-by-
// child dispatch loop below follows that same shape.
package seqrun

import (
	"context"

	"github.com/windrose/agentkit/event"
	"github.com/windrose/agentkit/runnable"
	"github.com/windrose/agentkit/session"
)

// Resume is the descriptor the resume package attaches to
// InvocationContext.Resume when re-entering a Sequence that previously
// yielded mid-children. ChildIndex names which child to resume into;
// ChildInvocationID, when set, lets that child reuse its prior invocation
// ID instead of opening a fresh one; Child is forwarded as that child's own
// InvocationContext.Resume.
type Resume struct {
	ChildIndex        int
	ChildInvocationID string
	Child             any
}

// Run dispatches a Sequence's children one at a time via dispatch, which the
// caller (engine) wires to recurse back into arbitrary Runnables including
// nested Agents.
func Run(ctx context.Context, seq *runnable.Sequence, sess *session.Session, ictx runnable.InvocationContext, dispatch runnable.Runner) (runnable.Outcome, error) {
	startIndex := 0
	var childResume any
	var childInvocationID string

	resuming := ictx.Resume != nil
	if !resuming {
		if _, err := sess.Append(event.New(event.KindInvocationStart, ictx.InvocationID, seq.Name, event.InvocationStartPayload{
			Kind:               event.InvocationSequence,
			ParentInvocationID: ictx.ParentInvocationID,
			HandoffOrigin:      ictx.HandoffOrigin,
			Fingerprint:        runnable.Fingerprint(seq),
		})); err != nil {
			return runnable.Outcome{}, err
		}
	} else {
		if r, ok := ictx.Resume.(*Resume); ok {
			startIndex = r.ChildIndex
			childResume = r.Child
			childInvocationID = r.ChildInvocationID
		}
		if _, err := sess.Append(event.New(event.KindInvocationResume, ictx.InvocationID, seq.Name, event.InvocationResumePayload{})); err != nil {
			return runnable.Outcome{}, err
		}
	}

	var last runnable.Outcome
	for i := startIndex; i < len(seq.Children); i++ {
		child := seq.Children[i]

		childICtx := runnable.InvocationContext{
			InvocationID:       event.NewID(),
			ParentInvocationID: ictx.InvocationID,
		}
		if i == startIndex && resuming {
			childICtx.Resume = childResume
			if childInvocationID != "" {
				childICtx.InvocationID = childInvocationID
			}
		}

		outcome, err := dispatch.Run(ctx, child, sess, childICtx)
		if err != nil {
			return runnable.Outcome{}, err
		}

		if outcome.Yielded {
			if _, err := sess.Append(event.New(event.KindInvocationYield, ictx.InvocationID, seq.Name, event.InvocationYieldPayload{
				PendingCallIDs: outcome.PendingCallIDs,
				AwaitingInput:  outcome.AwaitingInput,
			})); err != nil {
				return runnable.Outcome{}, err
			}
			return outcome, nil
		}

		if outcome.Reason != event.ReasonCompleted {
			target := ""
			if outcome.Reason == event.ReasonTransferred && outcome.HandoffTarget != nil {
				target = outcome.HandoffTarget.RunnableName()
			}
			if _, err := sess.Append(event.New(event.KindInvocationEnd, ictx.InvocationID, seq.Name, event.InvocationEndPayload{
				Reason: outcome.Reason, HandoffTarget: target,
			})); err != nil {
				return runnable.Outcome{}, err
			}
			return outcome, nil
		}

		last = outcome
	}

	if _, err := sess.Append(event.New(event.KindInvocationEnd, ictx.InvocationID, seq.Name, event.InvocationEndPayload{Reason: event.ReasonCompleted})); err != nil {
		return runnable.Outcome{}, err
	}
	return runnable.Completed(last.FinalOutput), nil
}
