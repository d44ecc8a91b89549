// Package resume implements the resume engine (spec.md §4.6): given a
// session's event ledger and the freshly re-instantiated root Runnable,
// compute a resume plan that lets engine re-enter execution exactly where a
// prior run left off. It is the one package allowed to import every runner
// primitive (agentloop, runner/{seqrun,looprun,parallelrun}) since it sits
// above them in the dependency graph, translating the invocation tree into
// each package's own typed Resume descriptor rather than those packages
// knowing about one another.
package resume

import (
	"errors"
	"fmt"

	"github.com/windrose/agentkit/agentloop"
	"github.com/windrose/agentkit/event"
	"github.com/windrose/agentkit/invocation"
	"github.com/windrose/agentkit/runnable"
	"github.com/windrose/agentkit/runner/looprun"
	"github.com/windrose/agentkit/runner/parallelrun"
	"github.com/windrose/agentkit/runner/seqrun"
)

// ErrNothingToResume is returned when the root invocation already reached a
// terminal state, or never yielded at all: there is nothing left to
// continue.
var ErrNothingToResume = errors.New("resume: root invocation has nothing left to resume")

// PendingInputError reports that the ledger has tool_yield calls with no
// matching tool_input yet. The host must resolve every pending call — by
// injecting a tool_input event for each — before resumption is permitted.
type PendingInputError struct {
	CallIDs []string
}

func (e *PendingInputError) Error() string {
	return fmt.Sprintf("resume: %d pending call(s) awaiting tool_input", len(e.CallIDs))
}

// FingerprintMismatchError reports that the re-instantiated runnable no
// longer has the shape recorded when its invocation started: the
// composition changed (children reordered, added, removed, or renamed)
// since the ledger was written.
type FingerprintMismatchError struct {
	InvocationID     string
	RunnableName     string
	Expected, Actual string
}

func (e *FingerprintMismatchError) Error() string {
	return fmt.Sprintf("resume: invocation %s (%s) fingerprint mismatch: recorded %s, current %s",
		e.InvocationID, e.RunnableName, e.Expected, e.Actual)
}

// Plan is the output of Compute: the runnable to dispatch — identical to
// the caller's root except where a Parallel's Children has been narrowed to
// drop already-completed branches — and the InvocationContext carrying the
// resume descriptor chain that lets the root pick up where it left off.
type Plan struct {
	Runnable   runnable.Runnable
	Invocation runnable.InvocationContext
}

// Compute builds a Plan from the session's event ledger and the caller's
// freshly re-instantiated root Runnable (spec.md §4.6). root must be
// structurally identical to the Runnable that produced the ledger, modulo
// the non-structural fields Fingerprint ignores (prompts, schemas, model
// configs, closures); a structural change is reported as a
// FingerprintMismatchError rather than silently resumed.
func Compute(events []event.Event, root runnable.Runnable) (*Plan, error) {
	tree, err := invocation.Build(events)
	if err != nil {
		return nil, err
	}

	// Each top-level call is its own root; only the latest one can resume.
	var rootNode *invocation.Node
	if n := len(tree.Roots); n > 0 {
		rootNode = tree.Roots[n-1]
	}
	if rootNode == nil {
		return nil, ErrNothingToResume
	}
	if isTerminal(rootNode.State) {
		return nil, ErrNothingToResume
	}
	if tree.DeepestYielded() == nil {
		return nil, ErrNothingToResume
	}
	if pending := tree.PendingUnresolved(); len(pending) > 0 {
		return nil, &PendingInputError{CallIDs: pending}
	}

	narrowed, desc, err := build(rootNode, root)
	if err != nil {
		return nil, err
	}

	return &Plan{
		Runnable: narrowed,
		Invocation: runnable.InvocationContext{
			InvocationID: rootNode.InvocationID,
			Resume:       desc,
		},
	}, nil
}

func isTerminal(s invocation.State) bool {
	switch s {
	case invocation.StateCompleted, invocation.StateError, invocation.StateAborted,
		invocation.StateTransferred, invocation.StateMaxSteps:
		return true
	default:
		return false
	}
}

// build walks node (the invocation tree vertex for rn) and the runnable rn
// itself together, finding the single open (not-yet-completed) child at
// each composite level and recursing into it. Rather than first computing
// one "deepest yielded node" path and walking it top-down, it rediscovers
// the open child at every level directly from each node's own Children —
// which also lets a Parallel with several simultaneously yielded branches
// resume every one of them, not just whichever the tree's single-path
// DeepestYielded happened to prefer.
func build(node *invocation.Node, rn runnable.Runnable) (runnable.Runnable, any, error) {
	if node.Fingerprint != "" {
		if actual := runnable.Fingerprint(rn); actual != node.Fingerprint {
			return nil, nil, &FingerprintMismatchError{
				InvocationID: node.InvocationID,
				RunnableName: rn.RunnableName(),
				Expected:     node.Fingerprint,
				Actual:       actual,
			}
		}
	}

	switch v := rn.(type) {
	case *runnable.Agent:
		return v, &agentloop.Resume{YieldIndex: node.YieldIndex}, nil

	case *runnable.Step:
		// steprun has no typed descriptor; a non-nil Resume is itself the
		// signal that tells Run to append invocation_resume instead of
		// invocation_start.
		return v, struct{}{}, nil

	case *runnable.Sequence:
		return buildSequence(v, node)

	case *runnable.Loop:
		return buildLoop(v, node)

	case *runnable.Parallel:
		return buildParallel(v, node)

	default:
		return nil, nil, fmt.Errorf("resume: unrecognized runnable kind %T", rn)
	}
}

func buildSequence(seq *runnable.Sequence, node *invocation.Node) (runnable.Runnable, any, error) {
	idx, childNode := firstOpenChild(node)
	if childNode == nil {
		return nil, nil, fmt.Errorf("resume: sequence %q has no open child to resume", seq.Name)
	}
	if idx >= len(seq.Children) {
		return nil, nil, fmt.Errorf("resume: sequence %q has fewer children (%d) than its recorded invocation (child index %d)", seq.Name, len(seq.Children), idx)
	}
	_, inner, err := build(childNode, seq.Children[idx])
	if err != nil {
		return nil, nil, err
	}
	return seq, &seqrun.Resume{ChildIndex: idx, ChildInvocationID: childNode.InvocationID, Child: inner}, nil
}

func buildLoop(loop *runnable.Loop, node *invocation.Node) (runnable.Runnable, any, error) {
	idx, childNode := firstOpenChild(node)
	if childNode == nil {
		// Every recorded iteration completed; the loop itself yielded
		// between iterations (YieldBetweenIter), so resume starts the next
		// iteration fresh.
		return loop, &looprun.Resume{Iteration: len(node.Children)}, nil
	}
	_, inner, err := build(childNode, loop.Body)
	if err != nil {
		return nil, nil, err
	}
	return loop, &looprun.Resume{Iteration: idx, ChildInvocationID: childNode.InvocationID, Child: inner}, nil
}

func buildParallel(par *runnable.Parallel, node *invocation.Node) (runnable.Runnable, any, error) {
	var children []runnable.Runnable
	branches := make(map[string]parallelrun.BranchResume)
	alreadyCompleted := 0

	for idx, branch := range par.Children {
		var branchNode *invocation.Node
		if idx < len(node.Children) {
			branchNode = node.Children[idx]
		}
		if branchNode == nil {
			// Never got as far as its own invocation_start; keep it in the
			// narrowed set to dispatch fresh, with no resume entry.
			children = append(children, branch)
			continue
		}
		if branchNode.State == invocation.StateCompleted {
			alreadyCompleted++
			continue // done; drop from the re-dispatched set entirely
		}

		children = append(children, branch)
		_, inner, err := build(branchNode, branch)
		if err != nil {
			return nil, nil, err
		}
		branches[branch.RunnableName()] = parallelrun.BranchResume{
			ChildInvocationID: branchNode.InvocationID,
			Child:             inner,
		}
	}

	// MinSuccessful was set against the original branch count; branches
	// dropped here already reached ReasonCompleted, so each one already
	// satisfied the requirement and is subtracted from what the narrowed,
	// re-dispatched set still owes.
	minSuccessful := par.MinSuccessful
	if minSuccessful > 0 {
		minSuccessful -= alreadyCompleted
		if minSuccessful < 0 {
			minSuccessful = 0
		}
	}

	narrowed := &runnable.Parallel{
		Name:          par.Name,
		Children:      children,
		Merge:         par.Merge,
		FailFast:      par.FailFast,
		MinSuccessful: minSuccessful,
		BranchTimeout: par.BranchTimeout,
	}
	return narrowed, &parallelrun.Resume{Branches: branches}, nil
}

// firstOpenChild returns the index and node of the first child that has not
// reached StateCompleted, or (-1, nil) if every recorded child completed.
func firstOpenChild(node *invocation.Node) (int, *invocation.Node) {
	for i, ch := range node.Children {
		if ch.State != invocation.StateCompleted {
			return i, ch
		}
	}
	return -1, nil
}
