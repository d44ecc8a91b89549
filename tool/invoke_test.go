package tool

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/windrose/agentkit/errorpolicy"
	"github.com/windrose/agentkit/event"
	"github.com/windrose/agentkit/runnable"
	"github.com/windrose/agentkit/schema"
	"github.com/windrose/agentkit/session"
	"github.com/windrose/agentkit/telemetry"
)

func schemaRequiringX(t *testing.T) schema.Validator {
	t.Helper()
	v, err := schema.Compile("strict-args", json.RawMessage(`{
		"type": "object",
		"required": ["x"],
		"properties": {"x": {"type": "number"}}
	}`))
	require.NoError(t, err)
	return v
}

func TestInvokeReturnsValueResult(t *testing.T) {
	reg := Registered{
		Ref: runnable.ToolRef{Name: "echo"},
		Executor: ExecutorFunc(func(_ context.Context, tc *Context) (Outcome, error) {
			return Value(tc.Args), nil
		}),
	}
	sess := session.New("s1")
	call := event.ToolCallPayload{CallID: "c1", Name: "echo", Args: json.RawMessage(`{"x":1}`)}

	res, err := Invoke(context.Background(), reg, sess, runnable.InvocationContext{}, "agent", call, nil, telemetry.NewNoopBundle())
	require.NoError(t, err)
	require.NotNil(t, res.ResultPayload)
	require.JSONEq(t, `{"x":1}`, string(res.ResultPayload.Result))
}

func TestInvokeYields(t *testing.T) {
	reg := Registered{
		Ref: runnable.ToolRef{Name: "approve"},
		Executor: ExecutorFunc(func(context.Context, *Context) (Outcome, error) {
			return Yield(json.RawMessage(`{"prepared":true}`)), nil
		}),
	}
	sess := session.New("s1")
	call := event.ToolCallPayload{CallID: "c1", Name: "approve", Yields: true}

	res, err := Invoke(context.Background(), reg, sess, runnable.InvocationContext{}, "agent", call, nil, telemetry.NewNoopBundle())
	require.NoError(t, err)
	require.NotNil(t, res.YieldPayload)
	require.Equal(t, "c1", res.YieldPayload.CallID)
}

func TestInvokeRetriesThenSucceeds(t *testing.T) {
	attempts := 0
	reg := Registered{
		Ref: runnable.ToolRef{Name: "flaky"},
		Executor: ExecutorFunc(func(context.Context, *Context) (Outcome, error) {
			attempts++
			if attempts < 2 {
				return Outcome{}, &errorpolicy.Error{Message: "transient", Retryable: true}
			}
			return Value(json.RawMessage(`"ok"`)), nil
		}),
		MaxRetries:  3,
		ErrorPolicy: errorpolicy.RetryHandler{MaxAttempts: 3, BaseDelayMs: 1},
	}
	sess := session.New("s1")
	call := event.ToolCallPayload{CallID: "c1", Name: "flaky"}

	res, err := Invoke(context.Background(), reg, sess, runnable.InvocationContext{}, "agent", call, nil, telemetry.NewNoopBundle())
	require.NoError(t, err)
	require.Equal(t, 2, attempts)
	require.Equal(t, 1, res.ResultPayload.RetryCount)
}

func TestInvokeThrowsByDefaultWhenNoPolicyMatches(t *testing.T) {
	reg := Registered{
		Ref: runnable.ToolRef{Name: "broken"},
		Executor: ExecutorFunc(func(context.Context, *Context) (Outcome, error) {
			return Outcome{}, errors.New("boom")
		}),
	}
	sess := session.New("s1")
	call := event.ToolCallPayload{CallID: "c1", Name: "broken"}

	res, err := Invoke(context.Background(), reg, sess, runnable.InvocationContext{}, "agent", call, nil, telemetry.NewNoopBundle())
	require.NoError(t, err)
	require.NotNil(t, res.ResultPayload)
	require.Equal(t, "boom", res.ResultPayload.Error)
}

func TestInvokeRejectsInvalidArgsAgainstSchema(t *testing.T) {
	v := schemaRequiringX(t)
	reg := Registered{
		Ref: runnable.ToolRef{Name: "strict", ArgsSchema: v},
		Executor: ExecutorFunc(func(context.Context, *Context) (Outcome, error) {
			t.Fatalf("executor should not run for invalid args")
			return Outcome{}, nil
		}),
	}
	sess := session.New("s1")
	call := event.ToolCallPayload{CallID: "c1", Name: "strict", Args: json.RawMessage(`{}`)}

	res, err := Invoke(context.Background(), reg, sess, runnable.InvocationContext{}, "agent", call, nil, telemetry.NewNoopBundle())
	require.NoError(t, err)
	require.Contains(t, res.ResultPayload.Error, "validation failed")
}
