package agentloop

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/windrose/agentkit/errorpolicy"
	"github.com/windrose/agentkit/event"
	"github.com/windrose/agentkit/modeladapter"
	"github.com/windrose/agentkit/runnable"
	"github.com/windrose/agentkit/schema"
	"github.com/windrose/agentkit/session"
	"github.com/windrose/agentkit/telemetry"
	"github.com/windrose/agentkit/tool"
)

// scriptedAdapter returns one canned Response per call, in order.
type scriptedAdapter struct {
	responses []modeladapter.Response
	errs      []error
	calls     int
}

func (a *scriptedAdapter) Complete(context.Context, modeladapter.Request) (modeladapter.Response, error) {
	i := a.calls
	a.calls++
	var err error
	if i < len(a.errs) {
		err = a.errs[i]
	}
	if i < len(a.responses) {
		return a.responses[i], err
	}
	return modeladapter.Response{}, err
}

func (a *scriptedAdapter) Stream(context.Context, modeladapter.Request) (modeladapter.Streamer, error) {
	return nil, modeladapter.ErrStreamingUnsupported
}

func textResponse(text string) modeladapter.Response {
	return modeladapter.Response{Message: modeladapter.Message{Role: modeladapter.RoleAssistant, Parts: []modeladapter.Part{modeladapter.TextPart{Text: text}}}}
}

func toolUseResponse(callID, name string, input []byte) modeladapter.Response {
	return modeladapter.Response{Message: modeladapter.Message{Role: modeladapter.RoleAssistant, Parts: []modeladapter.Part{
		modeladapter.ToolUsePart{ID: callID, Name: name, Input: input},
	}}}
}

func newInvocation() runnable.InvocationContext {
	return runnable.InvocationContext{InvocationID: uuid.NewString()}
}

func TestRunCompletesOnFinalText(t *testing.T) {
	agent := &runnable.Agent{Name: "greeter", Instructions: "be nice"}
	adapter := &scriptedAdapter{responses: []modeladapter.Response{textResponse("hello there")}}
	sess := session.New("s1")

	outcome, err := Run(context.Background(), agent, sess, newInvocation(), nil, Config{Adapter: adapter, Telemetry: telemetry.NewNoopBundle()})
	require.NoError(t, err)
	require.True(t, outcome.Terminal())
	require.Equal(t, "hello there", outcome.FinalOutput)
}

func TestRunExecutesToolThenCompletes(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(tool.Registered{
		Ref: runnable.ToolRef{Name: "lookup"},
		Executor: tool.ExecutorFunc(func(_ context.Context, tc *tool.Context) (tool.Outcome, error) {
			return tool.Value(json.RawMessage(`{"found":true}`)), nil
		}),
	}))

	agent := &runnable.Agent{
		Name:  "researcher",
		Tools: []runnable.ToolRef{{Name: "lookup"}},
	}
	adapter := &scriptedAdapter{responses: []modeladapter.Response{
		toolUseResponse("call1", "lookup", json.RawMessage(`{"q":"x"}`)),
		textResponse("found it"),
	}}
	sess := session.New("s1")

	outcome, err := Run(context.Background(), agent, sess, newInvocation(), nil, Config{Adapter: adapter, Registry: reg, Telemetry: telemetry.NewNoopBundle()})
	require.NoError(t, err)
	require.True(t, outcome.Terminal())
	require.Equal(t, "found it", outcome.FinalOutput)
	require.Equal(t, 2, adapter.calls)
}

func TestRunYieldsOnYieldingTool(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(tool.Registered{
		Ref: runnable.ToolRef{Name: "approve", YieldSchema: schema.Accept},
		Executor: tool.ExecutorFunc(func(_ context.Context, tc *tool.Context) (tool.Outcome, error) {
			return tool.Yield(json.RawMessage(`{"prepared":true}`)), nil
		}),
	}))

	agent := &runnable.Agent{
		Name:  "approver",
		Tools: []runnable.ToolRef{{Name: "approve", YieldSchema: schema.Accept}},
	}
	adapter := &scriptedAdapter{responses: []modeladapter.Response{
		toolUseResponse("call1", "approve", json.RawMessage(`{}`)),
	}}
	sess := session.New("s1")

	outcome, err := Run(context.Background(), agent, sess, newInvocation(), nil, Config{Adapter: adapter, Registry: reg, Telemetry: telemetry.NewNoopBundle()})
	require.NoError(t, err)
	require.False(t, outcome.Terminal())
	require.Equal(t, []string{"call1"}, outcome.PendingCallIDs)
}

func TestRunResumeMaterializesPendingYieldIntoToolResult(t *testing.T) {
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(tool.Registered{
		Ref: runnable.ToolRef{Name: "approve", YieldSchema: schema.Accept},
		Executor: tool.ResumableExecutorFunc{
			ExecuteFn: func(_ context.Context, tc *tool.Context) (tool.Outcome, error) {
				return tool.Yield(json.RawMessage(`{"prepared":true}`)), nil
			},
			ResumeFn: func(_ context.Context, tc *tool.Context) (tool.Outcome, error) {
				return tool.Value(tc.Input), nil
			},
		},
	}))

	agent := &runnable.Agent{
		Name:  "approver",
		Tools: []runnable.ToolRef{{Name: "approve", YieldSchema: schema.Accept}},
	}
	adapter := &scriptedAdapter{responses: []modeladapter.Response{
		toolUseResponse("call1", "approve", json.RawMessage(`{}`)),
		textResponse("approved"),
	}}
	sess := session.New("s1")
	cfg := Config{Adapter: adapter, Registry: reg, Telemetry: telemetry.NewNoopBundle()}
	ictx := newInvocation()

	outcome, err := Run(context.Background(), agent, sess, ictx, nil, cfg)
	require.NoError(t, err)
	require.False(t, outcome.Terminal())
	require.Equal(t, []string{"call1"}, outcome.PendingCallIDs)

	_, err = sess.AddToolInput("call1", json.RawMessage(`{"approved":true}`))
	require.NoError(t, err)

	resumeCtx := runnable.InvocationContext{InvocationID: ictx.InvocationID, Resume: &Resume{YieldIndex: 0}}
	outcome, err = Run(context.Background(), agent, sess, resumeCtx, nil, cfg)
	require.NoError(t, err)
	require.True(t, outcome.Terminal())
	require.Equal(t, "approved", outcome.FinalOutput)

	var resultPayload *event.ToolResultPayload
	for _, e := range sess.Events() {
		if e.Kind == event.KindToolResult {
			p := e.Payload.(event.ToolResultPayload)
			if p.CallID == "call1" {
				resultPayload = &p
			}
		}
	}
	require.NotNil(t, resultPayload)
	require.JSONEq(t, `{"approved":true}`, string(resultPayload.Result))
}

func TestRunStopsAtMaxSteps(t *testing.T) {
	agent := &runnable.Agent{Name: "looper", MaxSteps: 2, Tools: []runnable.ToolRef{{Name: "noop"}}}
	reg := tool.NewRegistry()
	require.NoError(t, reg.Register(tool.Registered{
		Ref: runnable.ToolRef{Name: "noop"},
		Executor: tool.ExecutorFunc(func(_ context.Context, tc *tool.Context) (tool.Outcome, error) {
			return tool.Value(json.RawMessage(`null`)), nil
		}),
	}))
	adapter := &scriptedAdapter{responses: []modeladapter.Response{
		toolUseResponse("call1", "noop", nil),
		toolUseResponse("call2", "noop", nil),
		toolUseResponse("call3", "noop", nil),
	}}
	sess := session.New("s1")

	outcome, err := Run(context.Background(), agent, sess, newInvocation(), nil, Config{Adapter: adapter, Registry: reg, Telemetry: telemetry.NewNoopBundle()})
	require.NoError(t, err)
	require.Equal(t, "max_steps", string(outcome.Reason))
}

func TestRunRetriesModelFailureThenCompletes(t *testing.T) {
	agent := &runnable.Agent{Name: "flaky-model"}
	adapter := &scriptedAdapter{
		errs:      []error{&errorpolicy.Error{Message: "rate limited", Retryable: true}},
		responses: []modeladapter.Response{{}, textResponse("ok now")},
	}
	sess := session.New("s1")

	outcome, err := Run(context.Background(), agent, sess, newInvocation(), nil, Config{
		Adapter:     adapter,
		ErrorPolicy: errorpolicy.Chain{errorpolicy.RetryHandler{MaxAttempts: 2, BaseDelayMs: 1}},
		Telemetry:   telemetry.NewNoopBundle(),
	})
	require.NoError(t, err)
	require.Equal(t, "ok now", outcome.FinalOutput)
}
