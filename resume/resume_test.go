package resume

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/windrose/agentkit/agentloop"
	"github.com/windrose/agentkit/event"
	"github.com/windrose/agentkit/runnable"
	"github.com/windrose/agentkit/runner/looprun"
	"github.com/windrose/agentkit/runner/parallelrun"
	"github.com/windrose/agentkit/runner/seqrun"
	"github.com/windrose/agentkit/session"
)

func appendInvocationStart(t *testing.T, sess *session.Session, invocationID, name, parentID string, kind event.InvocationKind, fp string) {
	t.Helper()
	_, err := sess.Append(event.New(event.KindInvocationStart, invocationID, name, event.InvocationStartPayload{
		Kind: kind, ParentInvocationID: parentID, Fingerprint: fp,
	}))
	require.NoError(t, err)
}

func appendInvocationYield(t *testing.T, sess *session.Session, invocationID, name string, pending []string, awaiting bool) {
	t.Helper()
	_, err := sess.Append(event.New(event.KindInvocationYield, invocationID, name, event.InvocationYieldPayload{
		PendingCallIDs: pending, AwaitingInput: awaiting, YieldIndex: 0,
	}))
	require.NoError(t, err)
}

func appendInvocationEnd(t *testing.T, sess *session.Session, invocationID, name string, reason event.TerminalReason) {
	t.Helper()
	_, err := sess.Append(event.New(event.KindInvocationEnd, invocationID, name, event.InvocationEndPayload{Reason: reason}))
	require.NoError(t, err)
}

func appendToolCall(t *testing.T, sess *session.Session, invocationID, name, callID string) {
	t.Helper()
	_, err := sess.Append(event.New(event.KindToolCall, invocationID, name, event.ToolCallPayload{CallID: callID, Name: "ask", Yields: true}))
	require.NoError(t, err)
}

func appendToolYield(t *testing.T, sess *session.Session, invocationID, name, callID string) {
	t.Helper()
	_, err := sess.Append(event.New(event.KindToolYield, invocationID, name, event.ToolYieldPayload{CallID: callID}))
	require.NoError(t, err)
}

func appendToolInput(t *testing.T, sess *session.Session, callID string) {
	t.Helper()
	_, err := sess.Append(event.New(event.KindToolInput, "", "", event.ToolInputPayload{CallID: callID}))
	require.NoError(t, err)
}

func TestComputeReturnsNothingToResumeWhenRootIsCompleted(t *testing.T) {
	agent := &runnable.Agent{Name: "helper"}
	sess := session.New("s1")
	appendInvocationStart(t, sess, "inv1", "helper", "", event.InvocationAgent, runnable.Fingerprint(agent))
	appendInvocationEnd(t, sess, "inv1", "helper", event.ReasonCompleted)

	_, err := Compute(sess.Events(), agent)
	require.ErrorIs(t, err, ErrNothingToResume)
}

func TestComputeBuildsAgentResumeDescriptor(t *testing.T) {
	agent := &runnable.Agent{Name: "helper"}
	sess := session.New("s1")
	appendInvocationStart(t, sess, "inv1", "helper", "", event.InvocationAgent, runnable.Fingerprint(agent))
	appendToolCall(t, sess, "inv1", "helper", "call1")
	appendToolYield(t, sess, "inv1", "helper", "call1")
	appendInvocationYield(t, sess, "inv1", "helper", []string{"call1"}, false)
	appendToolInput(t, sess, "call1")

	plan, err := Compute(sess.Events(), agent)
	require.NoError(t, err)
	require.Equal(t, "inv1", plan.Invocation.InvocationID)
	resume, ok := plan.Invocation.Resume.(*agentloop.Resume)
	require.True(t, ok)
	require.Equal(t, 0, resume.YieldIndex)
}

func TestComputeRejectsPendingUnresolvedCalls(t *testing.T) {
	agent := &runnable.Agent{Name: "helper"}
	sess := session.New("s1")
	appendInvocationStart(t, sess, "inv1", "helper", "", event.InvocationAgent, runnable.Fingerprint(agent))
	appendToolCall(t, sess, "inv1", "helper", "call1")
	appendToolYield(t, sess, "inv1", "helper", "call1")
	appendInvocationYield(t, sess, "inv1", "helper", []string{"call1"}, false)
	// no tool_input appended

	_, err := Compute(sess.Events(), agent)
	var pendingErr *PendingInputError
	require.ErrorAs(t, err, &pendingErr)
	require.Equal(t, []string{"call1"}, pendingErr.CallIDs)
}

func TestComputeRejectsFingerprintMismatch(t *testing.T) {
	agent := &runnable.Agent{Name: "helper"}
	sess := session.New("s1")
	appendInvocationStart(t, sess, "inv1", "helper", "", event.InvocationAgent, "stale-fingerprint")
	appendInvocationYield(t, sess, "inv1", "helper", nil, true)

	_, err := Compute(sess.Events(), agent)
	var mismatch *FingerprintMismatchError
	require.ErrorAs(t, err, &mismatch)
}

func TestComputeBuildsSequenceResumeDescriptor(t *testing.T) {
	agentA := &runnable.Agent{Name: "a"}
	agentB := &runnable.Agent{Name: "b"}
	seq := &runnable.Sequence{Name: "seq", Children: []runnable.Runnable{agentA, agentB}}
	sess := session.New("s1")
	appendInvocationStart(t, sess, "seq1", "seq", "", event.InvocationSequence, runnable.Fingerprint(seq))
	appendInvocationStart(t, sess, "a1", "a", "seq1", event.InvocationAgent, runnable.Fingerprint(agentA))
	appendInvocationEnd(t, sess, "a1", "a", event.ReasonCompleted)
	appendInvocationStart(t, sess, "b1", "b", "seq1", event.InvocationAgent, runnable.Fingerprint(agentB))
	appendInvocationYield(t, sess, "b1", "b", nil, true)

	plan, err := Compute(sess.Events(), seq)
	require.NoError(t, err)
	resume, ok := plan.Invocation.Resume.(*seqrun.Resume)
	require.True(t, ok)
	require.Equal(t, 1, resume.ChildIndex)
	require.Equal(t, "b1", resume.ChildInvocationID)
	_, ok = resume.Child.(*agentloop.Resume)
	require.True(t, ok)
}

func TestComputeBuildsLoopResumeDescriptorBetweenIterations(t *testing.T) {
	body := &runnable.Agent{Name: "iter"}
	loop := &runnable.Loop{Name: "loop", Body: body, MaxIterations: 5, YieldBetweenIter: true}
	sess := session.New("s1")
	appendInvocationStart(t, sess, "loop1", "loop", "", event.InvocationLoop, runnable.Fingerprint(loop))
	appendInvocationStart(t, sess, "iter1", "iter", "loop1", event.InvocationAgent, runnable.Fingerprint(body))
	appendInvocationEnd(t, sess, "iter1", "iter", event.ReasonCompleted)
	appendInvocationYield(t, sess, "loop1", "loop", nil, true)

	plan, err := Compute(sess.Events(), loop)
	require.NoError(t, err)
	resume, ok := plan.Invocation.Resume.(*looprun.Resume)
	require.True(t, ok)
	require.Equal(t, 1, resume.Iteration)
	require.Nil(t, resume.Child)
}

func TestComputeBuildsLoopResumeDescriptorMidIteration(t *testing.T) {
	body := &runnable.Agent{Name: "iter"}
	loop := &runnable.Loop{Name: "loop", Body: body, MaxIterations: 5}
	sess := session.New("s1")
	appendInvocationStart(t, sess, "loop1", "loop", "", event.InvocationLoop, runnable.Fingerprint(loop))
	appendInvocationStart(t, sess, "iter1", "iter", "loop1", event.InvocationAgent, runnable.Fingerprint(body))
	appendInvocationYield(t, sess, "iter1", "iter", nil, true)

	plan, err := Compute(sess.Events(), loop)
	require.NoError(t, err)
	resume, ok := plan.Invocation.Resume.(*looprun.Resume)
	require.True(t, ok)
	require.Equal(t, 0, resume.Iteration)
	require.Equal(t, "iter1", resume.ChildInvocationID)
}

func TestComputeNarrowsParallelToOpenBranchesAndBuildsPerBranchResume(t *testing.T) {
	v1 := &runnable.Agent{Name: "v1"}
	v2 := &runnable.Agent{Name: "v2"}
	v3 := &runnable.Agent{Name: "v3"}
	par := &runnable.Parallel{Name: "par", Children: []runnable.Runnable{v1, v2, v3}}
	sess := session.New("s1")
	appendInvocationStart(t, sess, "par1", "par", "", event.InvocationParallel, runnable.Fingerprint(par))
	appendInvocationStart(t, sess, "v1i", "v1", "par1", event.InvocationAgent, runnable.Fingerprint(v1))
	appendInvocationEnd(t, sess, "v1i", "v1", event.ReasonCompleted)
	appendInvocationStart(t, sess, "v2i", "v2", "par1", event.InvocationAgent, runnable.Fingerprint(v2))
	appendInvocationYield(t, sess, "v2i", "v2", nil, true)
	appendInvocationStart(t, sess, "v3i", "v3", "par1", event.InvocationAgent, runnable.Fingerprint(v3))
	appendInvocationYield(t, sess, "v3i", "v3", nil, true)
	appendInvocationYield(t, sess, "par1", "par", nil, true)

	plan, err := Compute(sess.Events(), par)
	require.NoError(t, err)

	narrowed, ok := plan.Runnable.(*runnable.Parallel)
	require.True(t, ok)
	require.Len(t, narrowed.Children, 2)
	require.Equal(t, "v2", narrowed.Children[0].RunnableName())
	require.Equal(t, "v3", narrowed.Children[1].RunnableName())

	resume, ok := plan.Invocation.Resume.(*parallelrun.Resume)
	require.True(t, ok)
	require.Len(t, resume.Branches, 2)
	require.Equal(t, "v2i", resume.Branches["v2"].ChildInvocationID)
	require.Equal(t, "v3i", resume.Branches["v3"].ChildInvocationID)
}
