// Package parallelrun implements the Parallel runnable (spec.md §4.5): run
// every child concurrently against an isolated clone of the session, then
// merge branch ledgers back into the parent in declaration order once every
// branch reaches a terminal or yielded state. It is grounded on the
// teacher's workflowagent.NewParallel, which fans sub-agents out with
// golang.org/x/sync/errgroup and fans their events back in over a channel;
// this package keeps the errgroup fan-out but replaces the channel/iter.Seq2
// event fan-in with Session.Clone/Merge, since this module's unit of
// isolation is the ledger, not a streamed event sequence.
package parallelrun

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/windrose/agentkit/event"
	"github.com/windrose/agentkit/runnable"
	"github.com/windrose/agentkit/session"
)

type branchResult struct {
	outcome    runnable.Outcome
	branchSess *session.Session
	divergedAt int
}

// Resume carries per-branch resume state for a Parallel invocation that
// yielded with one or more branches still open. The resume package builds
// this together with a par.Children slice already narrowed to the branches
// that are not yet complete (completed branches are simply omitted); Run
// consults Branches, keyed by RunnableName, to decide whether a remaining
// child reuses its recorded invocation ID and forwards its own resume
// descriptor, or starts as a brand new invocation (a branch that never got
// as far as its own invocation_start before the parent yielded).
type Resume struct {
	Branches map[string]BranchResume
}

// BranchResume is one still-open Parallel branch's resume state.
type BranchResume struct {
	ChildInvocationID string
	Child             any
}

// Run dispatches every child of par concurrently via dispatch. A branch
// named in ictx.Resume's Branches map resumes under its original invocation
// ID with its own forwarded resume descriptor; every other branch starts a
// fresh invocation, since branches the resume package found already
// complete have already been dropped from par.Children.
func Run(ctx context.Context, par *runnable.Parallel, sess *session.Session, ictx runnable.InvocationContext, dispatch runnable.Runner) (runnable.Outcome, error) {
	if !isResuming(ictx) {
		if _, err := sess.Append(event.New(event.KindInvocationStart, ictx.InvocationID, par.Name, event.InvocationStartPayload{
			Kind:               event.InvocationParallel,
			ParentInvocationID: ictx.ParentInvocationID,
			HandoffOrigin:      ictx.HandoffOrigin,
			Fingerprint:        runnable.Fingerprint(par),
		})); err != nil {
			return runnable.Outcome{}, err
		}
	} else {
		if _, err := sess.Append(event.New(event.KindInvocationResume, ictx.InvocationID, par.Name, event.InvocationResumePayload{})); err != nil {
			return runnable.Outcome{}, err
		}
	}

	var resumeBranches map[string]BranchResume
	if r, ok := ictx.Resume.(*Resume); ok && r != nil {
		resumeBranches = r.Branches
	}

	branchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make([]branchResult, len(par.Children))
	eg, egCtx := errgroup.WithContext(branchCtx)

	for i, child := range par.Children {
		i, child := i, child
		branchSess := sess.Clone()
		divergedAt := branchSess.Len()
		eg.Go(func() error {
			runCtx := egCtx
			if par.BranchTimeout > 0 {
				var cancelBranch context.CancelFunc
				runCtx, cancelBranch = context.WithTimeout(egCtx, par.BranchTimeout)
				defer cancelBranch()
			}
			childICtx := runnable.InvocationContext{
				InvocationID:       event.NewID(),
				ParentInvocationID: ictx.InvocationID,
			}
			if br, ok := resumeBranches[child.RunnableName()]; ok {
				childICtx.InvocationID = br.ChildInvocationID
				childICtx.Resume = br.Child
			}
			outcome, err := dispatch.Run(runCtx, child, branchSess, childICtx)
			results[i] = branchResult{outcome: outcome, branchSess: branchSess, divergedAt: divergedAt}
			if err != nil {
				return err
			}
			if par.FailFast && outcome.Reason == event.ReasonError {
				return outcome.Err
			}
			return nil
		})
	}

	runErr := eg.Wait()

	// Merge every branch's ledger tail back in declaration order, regardless
	// of completion order, per spec.md §4.5.
	for i := range results {
		if results[i].branchSess != nil {
			sess.Merge(results[i].branchSess, results[i].divergedAt)
		}
	}

	if runErr != nil {
		if _, err := sess.Append(event.New(event.KindInvocationEnd, ictx.InvocationID, par.Name, event.InvocationEndPayload{Reason: event.ReasonError})); err != nil {
			return runnable.Outcome{}, err
		}
		return runnable.Errored(runErr), nil
	}

	outcomes := make([]runnable.Outcome, len(results))
	for i, r := range results {
		outcomes[i] = r.outcome
	}

	var pendingAll []string
	anyYielded := false
	anyAwaitingInput := false
	for _, o := range outcomes {
		if o.Yielded {
			anyYielded = true
			anyAwaitingInput = anyAwaitingInput || o.AwaitingInput
			pendingAll = append(pendingAll, o.PendingCallIDs...)
		}
	}
	if anyYielded {
		if _, err := sess.Append(event.New(event.KindInvocationYield, ictx.InvocationID, par.Name, event.InvocationYieldPayload{
			PendingCallIDs: pendingAll, AwaitingInput: anyAwaitingInput,
		})); err != nil {
			return runnable.Outcome{}, err
		}
		return runnable.Yielded(pendingAll, anyAwaitingInput), nil
	}

	if par.MinSuccessful > 0 {
		successCount := 0
		for _, o := range outcomes {
			if o.Reason == event.ReasonCompleted {
				successCount++
			}
		}
		if successCount < par.MinSuccessful {
			err := fmt.Errorf("parallel %q: only %d/%d branch(es) succeeded, need %d: %s",
				par.Name, successCount, len(outcomes), par.MinSuccessful, failureSummary(outcomes))
			if _, aerr := sess.Append(event.New(event.KindInvocationEnd, ictx.InvocationID, par.Name, event.InvocationEndPayload{Reason: event.ReasonError})); aerr != nil {
				return runnable.Outcome{}, aerr
			}
			return runnable.Errored(err), nil
		}
	} else {
		for _, o := range outcomes {
			if o.Reason != event.ReasonCompleted {
				target := ""
				if o.Reason == event.ReasonTransferred && o.HandoffTarget != nil {
					target = o.HandoffTarget.RunnableName()
				}
				if _, err := sess.Append(event.New(event.KindInvocationEnd, ictx.InvocationID, par.Name, event.InvocationEndPayload{
					Reason: o.Reason, HandoffTarget: target,
				})); err != nil {
					return runnable.Outcome{}, err
				}
				return o, nil
			}
		}
	}

	merge := par.Merge
	if merge == nil {
		merge = defaultMerge
	}
	val, err := merge(outcomes)
	if err != nil {
		if _, aerr := sess.Append(event.New(event.KindInvocationEnd, ictx.InvocationID, par.Name, event.InvocationEndPayload{Reason: event.ReasonError})); aerr != nil {
			return runnable.Outcome{}, aerr
		}
		return runnable.Errored(err), nil
	}

	if _, err := sess.Append(event.New(event.KindInvocationEnd, ictx.InvocationID, par.Name, event.InvocationEndPayload{Reason: event.ReasonCompleted})); err != nil {
		return runnable.Outcome{}, err
	}
	return runnable.Completed(val), nil
}

// failureSummary lists each non-completed branch as "Branch i: <reason>",
// the error-summary format spec.md §4.3/§8 requires when minSuccessful
// isn't met.
func failureSummary(outcomes []runnable.Outcome) string {
	var parts []string
	for i, o := range outcomes {
		if o.Reason == event.ReasonCompleted {
			continue
		}
		reason := string(o.Reason)
		if o.Err != nil {
			reason = o.Err.Error()
		}
		parts = append(parts, fmt.Sprintf("Branch %d: %s", i, reason))
	}
	return strings.Join(parts, "; ")
}

// defaultMerge keeps every branch's FinalOutput in declaration order as a
// []any, matching runnable.MergeFunc's documented nil behavior.
func defaultMerge(outcomes []runnable.Outcome) (any, error) {
	vals := make([]any, len(outcomes))
	for i, o := range outcomes {
		vals[i] = o.FinalOutput
	}
	return vals, nil
}

func isResuming(ictx runnable.InvocationContext) bool {
	return ictx.Resume != nil
}
