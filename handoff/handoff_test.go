package handoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/windrose/agentkit/event"
	"github.com/windrose/agentkit/runnable"
	"github.com/windrose/agentkit/session"
	"github.com/windrose/agentkit/telemetry"
	"github.com/windrose/agentkit/tool"
)

type stubDispatcher struct {
	outcome runnable.Outcome
	err     error
	delay   time.Duration
	ran     chan runnable.Runnable
}

func (d *stubDispatcher) Run(ctx context.Context, rn runnable.Runnable, sess *session.Session, ictx runnable.InvocationContext) (runnable.Outcome, error) {
	if d.delay > 0 {
		select {
		case <-time.After(d.delay):
		case <-ctx.Done():
			return runnable.Outcome{}, ctx.Err()
		}
	}
	if d.ran != nil {
		d.ran <- rn
	}
	return d.outcome, d.err
}

type namedAgent struct{ name string }

func (a namedAgent) RunnableName() string                 { return a.name }
func (a namedAgent) InvocationKind() event.InvocationKind { return event.InvocationAgent }

func newToolContext(dispatch runnable.Runner, sess *session.Session) *tool.Context {
	return &tool.Context{
		CallID:     "call1",
		Session:    sess,
		Invocation: runnable.InvocationContext{InvocationID: "parent1"},
		Dispatch:   dispatch,
	}
}

func TestCallReturnsCompletedSubAgentOutput(t *testing.T) {
	sess := session.New("s1")
	dispatcher := &stubDispatcher{outcome: runnable.Completed("done")}
	tc := newToolContext(dispatcher, sess)

	result, err := Call(context.Background(), tc, namedAgent{"helper"}, CallOptions{})
	require.NoError(t, err)
	require.Equal(t, event.ReasonCompleted, result.Status)
	require.Equal(t, "done", result.Output)
}

func TestCallFailsWhenSubAgentYields(t *testing.T) {
	sess := session.New("s1")
	dispatcher := &stubDispatcher{outcome: runnable.Yielded([]string{"call9"}, false)}
	tc := newToolContext(dispatcher, sess)

	_, err := Call(context.Background(), tc, namedAgent{"helper"}, CallOptions{})
	require.ErrorIs(t, err, ErrSubAgentYielded)
}

func TestCallAppliesTempStateOverridesBeforeDispatch(t *testing.T) {
	sess := session.New("s1")
	dispatcher := &stubDispatcher{outcome: runnable.Completed("done")}
	tc := newToolContext(dispatcher, sess)

	_, err := Call(context.Background(), tc, namedAgent{"helper"}, CallOptions{TempState: map[string]any{"k": "v"}})
	require.NoError(t, err)

	val, ok := sess.State().Scope(event.ScopeTemp).Get("k")
	require.True(t, ok)
	require.Equal(t, "v", val)
}

func TestSpawnRunsConcurrentlyAndWaitReturnsOutcome(t *testing.T) {
	sess := session.New("s1")
	dispatcher := &stubDispatcher{outcome: runnable.Completed("spawned"), delay: 10 * time.Millisecond}
	tc := newToolContext(dispatcher, sess)

	h := Spawn(context.Background(), tc, namedAgent{"bg"}, SpawnOptions{})
	require.NotEmpty(t, h.InvocationID())

	outcome, err := h.Wait()
	require.NoError(t, err)
	require.Equal(t, "spawned", outcome.FinalOutput)
}

func TestSpawnAbortCancelsTheSpawnedContext(t *testing.T) {
	sess := session.New("s1")
	dispatcher := &stubDispatcher{outcome: runnable.Completed("never"), delay: time.Hour}
	tc := newToolContext(dispatcher, sess)

	h := Spawn(context.Background(), tc, namedAgent{"bg"}, SpawnOptions{})
	h.Abort()

	_, err := h.Wait()
	require.ErrorIs(t, err, context.Canceled)
}

func TestDispatchReturnsInvocationIDImmediatelyAndLogsFailure(t *testing.T) {
	sess := session.New("s1")
	boom := errors.New("boom")
	ran := make(chan runnable.Runnable, 1)
	dispatcher := &stubDispatcher{err: boom, ran: ran}
	tc := newToolContext(dispatcher, sess)

	logger := &capturingLogger{errored: make(chan string, 1)}
	id := Dispatch(context.Background(), tc, namedAgent{"fireforget"}, DispatchOptions{}, telemetry.Bundle{Log: logger})
	require.NotEmpty(t, id)

	select {
	case rn := <-ran:
		require.Equal(t, "fireforget", rn.RunnableName())
	case <-time.After(time.Second):
		t.Fatal("dispatch never ran the target")
	}

	select {
	case msg := <-logger.errored:
		require.Contains(t, msg, "dispatch failed")
	case <-time.After(time.Second):
		t.Fatal("dispatch never logged the failure")
	}
}

type capturingLogger struct {
	errored chan string
}

func (l *capturingLogger) Debug(context.Context, string, ...any) {}
func (l *capturingLogger) Info(context.Context, string, ...any)  {}
func (l *capturingLogger) Warn(context.Context, string, ...any)  {}
func (l *capturingLogger) Error(_ context.Context, msg string, _ ...any) {
	l.errored <- msg
}
