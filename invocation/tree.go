// Package invocation reconstructs the invocation tree from a Session's event
// ledger (spec.md §3.3). The tree is a pure projection: given the same
// sequence of events it always rebuilds the same tree, with no hidden state
// carried between calls to Build.
package invocation

import (
	"fmt"

	"github.com/windrose/agentkit/event"
)

// State enumerates the lifecycle states of a single invocation node.
type State string

// Recognized invocation states.
const (
	StateRunning     State = "running"
	StateYielded     State = "yielded"
	StateCompleted   State = "completed"
	StateError       State = "error"
	StateAborted     State = "aborted"
	StateMaxSteps    State = "max_steps"
	StateTransferred State = "transferred"
)

// Call bundles the four events that may exist for a single tool call ID:
// the call itself, an optional yield, an optional external input, and the
// eventual result.
type Call struct {
	Call   event.ToolCallPayload
	CallID string
	Yield  *event.ToolYieldPayload
	Input  *event.ToolInputPayload
	Result *event.ToolResultPayload
}

// Node is one vertex of the invocation tree, derived entirely from the
// invocation_start event that opened it and the events appended under its
// InvocationID afterward.
type Node struct {
	InvocationID       string
	ParentInvocationID string
	Kind               event.InvocationKind
	AgentName          string
	HandoffOrigin      *event.HandoffOrigin
	Fingerprint        string

	State State
	// PendingCallIDs lists tool calls awaiting tool_input while State is
	// StateYielded with at least one pending call. Empty for a
	// conversational loop-yield (AwaitingInput true, no pending calls).
	PendingCallIDs []string
	AwaitingInput  bool
	// YieldIndex is copied from the YieldIndex field of this node's most
	// recent invocation_yield payload, or -1 if the node has never yielded.
	YieldIndex int
	// TerminalReason is set once State reaches a terminal value.
	TerminalReason event.TerminalReason
	HandoffTarget  string

	Calls    map[string]*Call
	Children []*Node

	startIdx int
}

// Tree is the full invocation forest for a session, indexed by invocation
// ID for O(1) lookup, plus the root nodes in ledger order.
type Tree struct {
	Nodes map[string]*Node
	Roots []*Node
}

// Root returns the first root node in ledger order, or nil when the tree
// has none. A session with several top-level calls has one root per call.
func (t *Tree) Root() *Node {
	if len(t.Roots) == 0 {
		return nil
	}
	return t.Roots[0]
}

// Build reconstructs the invocation tree from events in ledger order.
// Non-root nodes always resolve their parent because invocation_start events
// are appended before any event nested under them (spec.md §8 universal
// invariant); Build returns an error if that invariant is violated.
func Build(events []event.Event) (*Tree, error) {
	t := &Tree{Nodes: make(map[string]*Node)}

	for idx, e := range events {
		switch e.Kind {
		case event.KindInvocationStart:
			p, ok := e.Payload.(event.InvocationStartPayload)
			if !ok {
				return nil, fmt.Errorf("invocation_start event %s: malformed payload", e.ID)
			}
			n := &Node{
				InvocationID:       e.InvocationID,
				ParentInvocationID: p.ParentInvocationID,
				Kind:               p.Kind,
				AgentName:          e.AgentName,
				HandoffOrigin:      p.HandoffOrigin,
				Fingerprint:        p.Fingerprint,
				State:              StateRunning,
				YieldIndex:         -1,
				Calls:              make(map[string]*Call),
				startIdx:           idx,
			}
			t.Nodes[n.InvocationID] = n
			if p.ParentInvocationID == "" {
				t.Roots = append(t.Roots, n)
				continue
			}
			parent, ok := t.Nodes[p.ParentInvocationID]
			if !ok {
				return nil, fmt.Errorf("invocation %s: parent %s has no preceding invocation_start", n.InvocationID, p.ParentInvocationID)
			}
			parent.Children = append(parent.Children, n)

		case event.KindInvocationYield:
			n, ok := t.Nodes[e.InvocationID]
			if !ok {
				return nil, fmt.Errorf("invocation_yield for unknown invocation %s", e.InvocationID)
			}
			p, ok := e.Payload.(event.InvocationYieldPayload)
			if !ok {
				return nil, fmt.Errorf("invocation_yield event %s: malformed payload", e.ID)
			}
			n.State = StateYielded
			n.PendingCallIDs = p.PendingCallIDs
			n.AwaitingInput = p.AwaitingInput
			n.YieldIndex = p.YieldIndex

		case event.KindInvocationResume:
			n, ok := t.Nodes[e.InvocationID]
			if !ok {
				return nil, fmt.Errorf("invocation_resume for unknown invocation %s", e.InvocationID)
			}
			n.State = StateRunning
			n.PendingCallIDs = nil
			n.AwaitingInput = false

		case event.KindInvocationEnd:
			n, ok := t.Nodes[e.InvocationID]
			if !ok {
				return nil, fmt.Errorf("invocation_end for unknown invocation %s", e.InvocationID)
			}
			p, ok := e.Payload.(event.InvocationEndPayload)
			if !ok {
				return nil, fmt.Errorf("invocation_end event %s: malformed payload", e.ID)
			}
			n.TerminalReason = p.Reason
			n.HandoffTarget = p.HandoffTarget
			n.PendingCallIDs = nil
			n.AwaitingInput = false
			switch p.Reason {
			case event.ReasonCompleted:
				n.State = StateCompleted
			case event.ReasonError:
				n.State = StateError
			case event.ReasonAborted:
				n.State = StateAborted
			case event.ReasonTransferred:
				n.State = StateTransferred
			case event.ReasonMaxSteps:
				n.State = StateMaxSteps
			}

		case event.KindToolCall:
			n, ok := t.Nodes[e.InvocationID]
			if !ok {
				return nil, fmt.Errorf("tool_call for unknown invocation %s", e.InvocationID)
			}
			p, ok := e.Payload.(event.ToolCallPayload)
			if !ok {
				return nil, fmt.Errorf("tool_call event %s: malformed payload", e.ID)
			}
			n.Calls[p.CallID] = &Call{Call: p, CallID: p.CallID}

		case event.KindToolYield:
			n, ok := t.Nodes[e.InvocationID]
			if !ok {
				return nil, fmt.Errorf("tool_yield for unknown invocation %s", e.InvocationID)
			}
			p, ok := e.Payload.(event.ToolYieldPayload)
			if !ok {
				return nil, fmt.Errorf("tool_yield event %s: malformed payload", e.ID)
			}
			c := n.Calls[p.CallID]
			if c == nil {
				c = &Call{CallID: p.CallID}
				n.Calls[p.CallID] = c
			}
			yp := p
			c.Yield = &yp

		case event.KindToolInput:
			p, ok := e.Payload.(event.ToolInputPayload)
			if !ok {
				return nil, fmt.Errorf("tool_input event %s: malformed payload", e.ID)
			}
			// tool_input is not bound to an invocation; find the owning node
			// by scanning for the call (cheap: calls are rare per session).
			for _, n := range t.Nodes {
				if c, ok := n.Calls[p.CallID]; ok {
					ip := p
					c.Input = &ip
					break
				}
			}

		case event.KindToolResult:
			n, ok := t.Nodes[e.InvocationID]
			if !ok {
				return nil, fmt.Errorf("tool_result for unknown invocation %s", e.InvocationID)
			}
			p, ok := e.Payload.(event.ToolResultPayload)
			if !ok {
				return nil, fmt.Errorf("tool_result event %s: malformed payload", e.ID)
			}
			c := n.Calls[p.CallID]
			if c == nil {
				c = &Call{CallID: p.CallID}
				n.Calls[p.CallID] = c
			}
			rp := p
			c.Result = &rp
		}
	}

	return t, nil
}

// PendingUnresolved returns every call across the whole tree whose tool_yield
// has no matching tool_input, in ledger order of their owning node. The
// resume engine uses this to refuse resumption until the host has resolved
// every outstanding yield (spec.md §4.6 step 4).
func (t *Tree) PendingUnresolved() []string {
	var ids []string
	for _, n := range t.Roots {
		collectPendingUnresolved(n, &ids)
	}
	return ids
}

func collectPendingUnresolved(n *Node, out *[]string) {
	for _, id := range n.PendingCallIDs {
		c := n.Calls[id]
		if c == nil || c.Input == nil {
			*out = append(*out, id)
		}
	}
	for _, ch := range n.Children {
		collectPendingUnresolved(ch, out)
	}
}

// DeepestYielded returns the single deepest node in State yielded, walking
// each root's children in order and preferring the last (most recently
// started) yielded descendant at each level — the path a resume must
// replay. Returns nil if no node is yielded.
func (t *Tree) DeepestYielded() *Node {
	var best *Node
	for _, n := range t.Roots {
		if cand := deepestYielded(n); cand != nil {
			if best == nil || cand.startIdx > best.startIdx {
				best = cand
			}
		}
	}
	return best
}

func deepestYielded(n *Node) *Node {
	var deepest *Node
	for _, ch := range n.Children {
		if cand := deepestYielded(ch); cand != nil {
			deepest = cand
		}
	}
	if deepest != nil {
		return deepest
	}
	if n.State == StateYielded {
		return n
	}
	return nil
}
