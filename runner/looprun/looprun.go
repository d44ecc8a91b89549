// Package looprun implements the Loop runnable (spec.md §4.3, §4.5): run
// Body repeatedly, up to MaxIterations times or until Until reports
// satisfied, optionally pausing for host review between iterations. It is
// grounded on the teacher's workflowagent.LoopAgent, which runs its
// sub-agents in sequence per iteration until MaxIterations is exhausted or a
// sub-agent escalates; YieldBetweenIter generalizes that escalate signal
// into an explicit host-reviewable pause rather than a one-way exit.
package looprun

import (
	"context"

	"github.com/windrose/agentkit/event"
	"github.com/windrose/agentkit/runnable"
	"github.com/windrose/agentkit/session"
)

// Resume is the descriptor the resume package attaches to
// InvocationContext.Resume when re-entering a Loop that previously yielded,
// either mid-body or between iterations. Iteration is the 0-based iteration
// to resume into; Child, when the pause was mid-body (not YieldBetweenIter),
// is forwarded as that iteration's Body InvocationContext.Resume.
type Resume struct {
	Iteration         int
	ChildInvocationID string
	Child             any
}

// Run drives a Loop's iterations via dispatch, which the caller (engine)
// wires to recurse back into arbitrary Runnables.
func Run(ctx context.Context, loop *runnable.Loop, sess *session.Session, ictx runnable.InvocationContext, dispatch runnable.Runner) (runnable.Outcome, error) {
	startIter := 0
	var childResume any
	var childInvocationID string

	resuming := ictx.Resume != nil
	if !resuming {
		if _, err := sess.Append(event.New(event.KindInvocationStart, ictx.InvocationID, loop.Name, event.InvocationStartPayload{
			Kind:               event.InvocationLoop,
			ParentInvocationID: ictx.ParentInvocationID,
			HandoffOrigin:      ictx.HandoffOrigin,
			Fingerprint:        runnable.Fingerprint(loop),
		})); err != nil {
			return runnable.Outcome{}, err
		}
	} else {
		if r, ok := ictx.Resume.(*Resume); ok {
			startIter = r.Iteration
			childResume = r.Child
			childInvocationID = r.ChildInvocationID
		}
		if _, err := sess.Append(event.New(event.KindInvocationResume, ictx.InvocationID, loop.Name, event.InvocationResumePayload{})); err != nil {
			return runnable.Outcome{}, err
		}
	}

	var last runnable.Outcome
	for iter := startIter; loop.MaxIterations <= 0 || iter < loop.MaxIterations; iter++ {
		childICtx := runnable.InvocationContext{
			InvocationID:       event.NewID(),
			ParentInvocationID: ictx.InvocationID,
		}
		if iter == startIter && resuming {
			childICtx.Resume = childResume
			if childInvocationID != "" {
				childICtx.InvocationID = childInvocationID
			}
		}

		outcome, err := dispatch.Run(ctx, loop.Body, sess, childICtx)
		if err != nil {
			return runnable.Outcome{}, err
		}

		if outcome.Yielded {
			if _, err := sess.Append(event.New(event.KindInvocationYield, ictx.InvocationID, loop.Name, event.InvocationYieldPayload{
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
			if _, err := sess.Append(event.New(event.KindInvocationEnd, ictx.InvocationID, loop.Name, event.InvocationEndPayload{
				Reason: outcome.Reason, HandoffTarget: target,
			})); err != nil {
				return runnable.Outcome{}, err
			}
			return outcome, nil
		}

		last = outcome
		last.Iterations = iter + 1

		if loop.Until != nil {
			stop, err := loop.Until(iter, outcome)
			if err != nil {
				if _, aerr := sess.Append(event.New(event.KindInvocationEnd, ictx.InvocationID, loop.Name, event.InvocationEndPayload{Reason: event.ReasonError})); aerr != nil {
					return runnable.Outcome{}, aerr
				}
				return runnable.Errored(err), nil
			}
			if stop {
				break
			}
		}

		atLastIteration := loop.MaxIterations > 0 && iter+1 >= loop.MaxIterations
		if loop.YieldBetweenIter && !atLastIteration {
			if _, err := sess.Append(event.New(event.KindInvocationYield, ictx.InvocationID, loop.Name, event.InvocationYieldPayload{
				AwaitingInput: true,
			})); err != nil {
				return runnable.Outcome{}, err
			}
			return runnable.Yielded(nil, true), nil
		}
	}

	if _, err := sess.Append(event.New(event.KindInvocationEnd, ictx.InvocationID, loop.Name, event.InvocationEndPayload{Reason: event.ReasonCompleted})); err != nil {
		return runnable.Outcome{}, err
	}
	out := runnable.Completed(last.FinalOutput)
	out.Iterations = last.Iterations
	return out, nil
}
