package steprun

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/windrose/agentkit/event"
	"github.com/windrose/agentkit/runnable"
	"github.com/windrose/agentkit/session"
)

func TestRunCompletesAndRecordsInvocationBoundary(t *testing.T) {
	step := &runnable.Step{Name: "charge-card", Run: func(ctx context.Context, env any) (runnable.Outcome, error) {
		sc := env.(*Context)
		require.Equal(t, "inv1", sc.Invocation.InvocationID)
		return runnable.Completed("charged"), nil
	}}
	sess := session.New("s1")

	outcome, err := Run(context.Background(), step, sess, runnable.InvocationContext{InvocationID: "inv1"}, nil)
	require.NoError(t, err)
	require.Equal(t, "charged", outcome.FinalOutput)

	events := sess.Events()
	require.Equal(t, event.KindInvocationStart, events[0].Kind)
	require.Equal(t, event.KindInvocationEnd, events[len(events)-1].Kind)
}

func TestRunPropagatesStepError(t *testing.T) {
	boom := &stepError{"boom"}
	step := &runnable.Step{Name: "flaky", Run: func(context.Context, any) (runnable.Outcome, error) {
		return runnable.Outcome{}, boom
	}}
	sess := session.New("s1")

	outcome, err := Run(context.Background(), step, sess, runnable.InvocationContext{InvocationID: "inv1"}, nil)
	require.NoError(t, err)
	require.Equal(t, event.ReasonError, outcome.Reason)
	require.Equal(t, boom, outcome.Err)
}

func TestRunPropagatesYield(t *testing.T) {
	step := &runnable.Step{Name: "pause", Run: func(context.Context, any) (runnable.Outcome, error) {
		return runnable.Yielded([]string{"call1"}, false), nil
	}}
	sess := session.New("s1")

	outcome, err := Run(context.Background(), step, sess, runnable.InvocationContext{InvocationID: "inv1"}, nil)
	require.NoError(t, err)
	require.False(t, outcome.Terminal())
	require.Equal(t, []string{"call1"}, outcome.PendingCallIDs)
}

type stepError struct{ msg string }

func (e *stepError) Error() string { return e.msg }
