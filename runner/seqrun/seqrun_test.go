package seqrun

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/windrose/agentkit/event"
	"github.com/windrose/agentkit/runnable"
	"github.com/windrose/agentkit/session"
)

// stubDispatcher plays back one outcome per RunnableName, in call order, and
// records every invocation it was asked to run.
type stubDispatcher struct {
	outcomes map[string][]runnable.Outcome
	calls    []string
}

func (d *stubDispatcher) Run(_ context.Context, rn runnable.Runnable, sess *session.Session, ictx runnable.InvocationContext) (runnable.Outcome, error) {
	d.calls = append(d.calls, rn.RunnableName())
	queue := d.outcomes[rn.RunnableName()]
	out := queue[0]
	d.outcomes[rn.RunnableName()] = queue[1:]
	sess.Append(event.New(event.KindInvocationEnd, ictx.InvocationID, rn.RunnableName(), event.InvocationEndPayload{Reason: out.Reason}))
	return out, nil
}

type namedStep struct{ name string }

func (s namedStep) RunnableName() string                 { return s.name }
func (s namedStep) InvocationKind() event.InvocationKind { return event.InvocationStep }

func TestRunStopsAtFirstNonCompletedOutcome(t *testing.T) {
	seq := &runnable.Sequence{Name: "pipeline", Children: []runnable.Runnable{
		namedStep{"a"}, namedStep{"b"}, namedStep{"c"},
	}}
	dispatcher := &stubDispatcher{outcomes: map[string][]runnable.Outcome{
		"a": {runnable.Completed("a-out")},
		"b": {runnable.Errored(assertErr)},
		"c": {runnable.Completed("c-out")},
	}}
	sess := session.New("s1")

	outcome, err := Run(context.Background(), seq, sess, runnable.InvocationContext{InvocationID: "seq1"}, dispatcher)
	require.NoError(t, err)
	require.Equal(t, event.ReasonError, outcome.Reason)
	require.Equal(t, []string{"a", "b"}, dispatcher.calls)
}

func TestRunPropagatesLastCompletedOutput(t *testing.T) {
	seq := &runnable.Sequence{Name: "pipeline", Children: []runnable.Runnable{
		namedStep{"a"}, namedStep{"b"},
	}}
	dispatcher := &stubDispatcher{outcomes: map[string][]runnable.Outcome{
		"a": {runnable.Completed("a-out")},
		"b": {runnable.Completed("b-out")},
	}}
	sess := session.New("s1")

	outcome, err := Run(context.Background(), seq, sess, runnable.InvocationContext{InvocationID: "seq1"}, dispatcher)
	require.NoError(t, err)
	require.True(t, outcome.Terminal())
	require.Equal(t, "b-out", outcome.FinalOutput)
}

func TestRunYieldsAndStopsWithoutRunningLaterChildren(t *testing.T) {
	seq := &runnable.Sequence{Name: "pipeline", Children: []runnable.Runnable{
		namedStep{"a"}, namedStep{"b"},
	}}
	dispatcher := &stubDispatcher{outcomes: map[string][]runnable.Outcome{
		"a": {runnable.Yielded([]string{"call1"}, false)},
	}}
	sess := session.New("s1")

	outcome, err := Run(context.Background(), seq, sess, runnable.InvocationContext{InvocationID: "seq1"}, dispatcher)
	require.NoError(t, err)
	require.False(t, outcome.Terminal())
	require.Equal(t, []string{"a"}, dispatcher.calls)
}

func TestRunResumeStartsAtRecordedChildIndex(t *testing.T) {
	seq := &runnable.Sequence{Name: "pipeline", Children: []runnable.Runnable{
		namedStep{"a"}, namedStep{"b"}, namedStep{"c"},
	}}
	dispatcher := &stubDispatcher{outcomes: map[string][]runnable.Outcome{
		"b": {runnable.Completed("b-out")},
		"c": {runnable.Completed("c-out")},
	}}
	sess := session.New("s1")

	outcome, err := Run(context.Background(), seq, sess, runnable.InvocationContext{
		InvocationID: "seq1",
		Resume:       &Resume{ChildIndex: 1},
	}, dispatcher)
	require.NoError(t, err)
	require.True(t, outcome.Terminal())
	require.Equal(t, []string{"b", "c"}, dispatcher.calls)
}

var assertErr = &stubError{"boom"}

type stubError struct{ msg string }

func (e *stubError) Error() string { return e.msg }
