package middleware

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/windrose/agentkit/runnable"
)

func TestComposeBeforeRunsOuterFirstAndShortCircuits(t *testing.T) {
	var order []string
	outer := Set{BeforeAgent: []BeforeAgentHook{
		func(context.Context, *AgentContext) (Result, error) {
			order = append(order, "outer")
			return Result{ShortCircuit: true, Value: "outer-wins"}, nil
		},
	}}
	inner := Set{BeforeAgent: []BeforeAgentHook{
		func(context.Context, *AgentContext) (Result, error) {
			order = append(order, "inner")
			return Continue, nil
		},
	}}

	composed := Compose(outer, inner)
	r, err := RunBeforeAgent(context.Background(), composed.BeforeAgent, &AgentContext{})
	require.NoError(t, err)
	require.True(t, r.ShortCircuit)
	require.Equal(t, "outer-wins", r.Value)
	require.Equal(t, []string{"outer"}, order)
}

func TestComposeAfterRunsInnerFirst(t *testing.T) {
	var order []string
	outer := Set{AfterAgent: []AfterAgentHook{
		func(_ context.Context, _ *AgentContext, o runnable.Outcome) (runnable.Outcome, error) {
			order = append(order, "outer")
			return o, nil
		},
	}}
	inner := Set{AfterAgent: []AfterAgentHook{
		func(_ context.Context, _ *AgentContext, o runnable.Outcome) (runnable.Outcome, error) {
			order = append(order, "inner")
			return o, nil
		},
	}}

	composed := Compose(outer, inner)
	_, err := RunAfterAgent(context.Background(), composed.AfterAgent, &AgentContext{}, runnable.Completed(nil))
	require.NoError(t, err)
	require.Equal(t, []string{"inner", "outer"}, order)
}
