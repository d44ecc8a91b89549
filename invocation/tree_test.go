package invocation

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/windrose/agentkit/event"
)

func TestBuildParentChildLinkage(t *testing.T) {
	root := event.New(event.KindInvocationStart, "inv-root", "root-agent", event.InvocationStartPayload{Kind: event.InvocationAgent})
	child := event.New(event.KindInvocationStart, "inv-child", "child-agent", event.InvocationStartPayload{Kind: event.InvocationAgent, ParentInvocationID: "inv-root"})
	rootEnd := event.New(event.KindInvocationEnd, "inv-root", "root-agent", event.InvocationEndPayload{Reason: event.ReasonCompleted})
	childEnd := event.New(event.KindInvocationEnd, "inv-child", "child-agent", event.InvocationEndPayload{Reason: event.ReasonCompleted})

	tree, err := Build([]event.Event{root, child, childEnd, rootEnd})
	require.NoError(t, err)
	require.Len(t, tree.Roots, 1)
	require.Equal(t, "inv-root", tree.Roots[0].InvocationID)
	require.Len(t, tree.Roots[0].Children, 1)
	require.Equal(t, "inv-child", tree.Roots[0].Children[0].InvocationID)
	require.Equal(t, StateCompleted, tree.Roots[0].Children[0].State)
}

func TestBuildRejectsOrphanChild(t *testing.T) {
	child := event.New(event.KindInvocationStart, "inv-child", "child-agent", event.InvocationStartPayload{Kind: event.InvocationAgent, ParentInvocationID: "missing"})
	_, err := Build([]event.Event{child})
	require.Error(t, err)
}

func TestPendingUnresolvedTracksYieldWithoutInput(t *testing.T) {
	start := event.New(event.KindInvocationStart, "inv-1", "a", event.InvocationStartPayload{Kind: event.InvocationAgent})
	call := event.New(event.KindToolCall, "inv-1", "a", event.ToolCallPayload{CallID: "c1", Name: "approve", Yields: true})
	toolYield := event.New(event.KindToolYield, "inv-1", "a", event.ToolYieldPayload{CallID: "c1"})
	invYield := event.New(event.KindInvocationYield, "inv-1", "a", event.InvocationYieldPayload{PendingCallIDs: []string{"c1"}, YieldIndex: 0})

	tree, err := Build([]event.Event{start, call, toolYield, invYield})
	require.NoError(t, err)
	require.Equal(t, []string{"c1"}, tree.PendingUnresolved())

	deepest := tree.DeepestYielded()
	require.NotNil(t, deepest)
	require.Equal(t, "inv-1", deepest.InvocationID)

	input := event.New(event.KindToolInput, "", "", event.ToolInputPayload{CallID: "c1", Input: nil})
	tree, err = Build([]event.Event{start, call, toolYield, invYield, input})
	require.NoError(t, err)
	require.Empty(t, tree.PendingUnresolved())
}

func TestDeepestYieldedPrefersDescendant(t *testing.T) {
	root := event.New(event.KindInvocationStart, "inv-root", "root", event.InvocationStartPayload{Kind: event.InvocationSequence})
	child := event.New(event.KindInvocationStart, "inv-child", "child", event.InvocationStartPayload{Kind: event.InvocationAgent, ParentInvocationID: "inv-root"})
	childYield := event.New(event.KindInvocationYield, "inv-child", "child", event.InvocationYieldPayload{AwaitingInput: true, YieldIndex: 0})
	rootYield := event.New(event.KindInvocationYield, "inv-root", "root", event.InvocationYieldPayload{AwaitingInput: true, YieldIndex: 0})

	tree, err := Build([]event.Event{root, child, childYield, rootYield})
	require.NoError(t, err)
	deepest := tree.DeepestYielded()
	require.Equal(t, "inv-child", deepest.InvocationID)
}
