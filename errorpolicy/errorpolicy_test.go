package errorpolicy

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChainFirstNonPassWins(t *testing.T) {
	chain := Chain{
		HandlerFunc(func(context.Context, error, int) Decision { return Pass }),
		HandlerFunc(func(context.Context, error, int) Decision { return Decision{Action: ActionSkip} }),
		HandlerFunc(func(context.Context, error, int) Decision { return Decision{Action: ActionAbort} }),
	}
	d := chain.Handle(context.Background(), errors.New("boom"), 1)
	require.Equal(t, ActionSkip, d.Action)
}

func TestChainThrowsWhenExhausted(t *testing.T) {
	chain := Chain{HandlerFunc(func(context.Context, error, int) Decision { return Pass })}
	d := chain.Handle(context.Background(), errors.New("boom"), 1)
	require.Equal(t, ActionThrow, d.Action)
}

func TestRetryHandlerRespectsBudgetAndRetryableFlag(t *testing.T) {
	r := RetryHandler{MaxAttempts: 3, BaseDelayMs: 100}

	nonRetryable := New("permanent failure")
	require.Equal(t, ActionPass, r.Handle(context.Background(), nonRetryable, 1).Action)

	retryable := &Error{Message: "transient", Retryable: true}
	d := r.Handle(context.Background(), retryable, 2)
	require.Equal(t, ActionRetry, d.Action)
	require.Equal(t, int64(200), d.Delay)

	require.Equal(t, ActionPass, r.Handle(context.Background(), retryable, 3).Action)
}

func TestRateLimitMatcherMarksRetryable(t *testing.T) {
	err := New("upstream returned 429 too many requests")
	RateLimitMatcher{}.Handle(context.Background(), err, 1)
	require.True(t, err.Retryable)
}

func TestFromErrorPreservesExistingChain(t *testing.T) {
	inner := New("root cause")
	wrapped := NewWithCause("outer", inner)
	require.Same(t, inner, FromError(wrapped).Cause)
	require.ErrorIs(t, wrapped, wrapped)
}
