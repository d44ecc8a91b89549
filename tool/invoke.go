package tool

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/windrose/agentkit/errorpolicy"
	"github.com/windrose/agentkit/event"
	"github.com/windrose/agentkit/runnable"
	"github.com/windrose/agentkit/schema"
	"github.com/windrose/agentkit/session"
	"github.com/windrose/agentkit/telemetry"
)

// AbortError signals that an error handler decided the whole run should
// abort, not just this invocation. Invoke returns it unwrapped so callers
// can errors.As it and translate into runnable.Aborted().
type AbortError struct{ Cause error }

func (e *AbortError) Error() string { return "tool: aborted: " + e.Cause.Error() }
func (e *AbortError) Unwrap() error { return e.Cause }

// Result is the outcome of Invoke: exactly one of ResultPayload,
// YieldPayload, or Transfer is set.
type Result struct {
	ResultPayload *event.ToolResultPayload
	YieldPayload  *event.ToolYieldPayload
	Transfer      runnable.Runnable
}

// Invoke runs one tool call end to end: validate args, execute with
// timeout, apply the composed error-recovery chain on failure, and produce
// either a resolved tool_result, a tool_yield, or a transfer request
// (spec.md §4.4). It never appends events itself — the agent loop owns the
// ledger — so Invoke can be driven identically from a fresh call and from a
// resumed one.
func Invoke(ctx context.Context, reg Registered, sess *session.Session, ictx runnable.InvocationContext, agentName string, call event.ToolCallPayload, dispatch runnable.Runner, tel telemetry.Bundle) (Result, error) {
	validator := reg.Ref.ArgsSchema
	if validator == nil {
		validator = schema.Accept
	}
	var decoded any
	if len(call.Args) > 0 {
		if err := json.Unmarshal(call.Args, &decoded); err != nil {
			return Result{ResultPayload: &event.ToolResultPayload{
				CallID: call.CallID,
				Error:  "invalid arguments: " + err.Error(),
			}}, nil
		}
	}
	if err := validator.Validate(decoded); err != nil {
		return Result{ResultPayload: &event.ToolResultPayload{
			CallID: call.CallID,
			Error:  "argument validation failed: " + err.Error(),
		}}, nil
	}

	maxRetries := reg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	chain := errorpolicy.Chain{}
	if reg.ErrorPolicy != nil {
		chain = append(chain, reg.ErrorPolicy)
	}
	chain = append(chain, errorpolicy.Default)

	tc := &Context{
		CallID:     call.CallID,
		Name:       call.Name,
		Args:       call.Args,
		Session:    sess,
		Invocation: ictx,
		Dispatch:   dispatch,
	}

	return runWithPolicy(ctx, reg, tc, call, maxRetries, chain, tel, reg.Executor.Execute)
}

// InvokeResume completes a call that previously returned tool.Yield, once
// the host has resolved its pending tool_yield with a tool_input
// (spec.md §4.2 step 2, §4.4). preparedArgs is the tool_yield's own
// PreparedArgs (so a resumed tool sees the same args it yielded with, not
// the model's original, unprepared ones); input is the resolved
// tool_input payload, already re-validated by the caller against the
// tool's yield schema. It runs under the same timeout/retry/error-policy
// chain as a fresh Invoke, driving reg.Executor's Resume method instead of
// Execute.
func InvokeResume(ctx context.Context, reg Registered, sess *session.Session, ictx runnable.InvocationContext, agentName string, call event.ToolCallPayload, preparedArgs, input json.RawMessage, dispatch runnable.Runner, tel telemetry.Bundle) (Result, error) {
	resumer, ok := reg.Executor.(Resumer)
	if !ok {
		return Result{ResultPayload: &event.ToolResultPayload{
			CallID: call.CallID,
			Error:  "tool " + call.Name + " yields but its executor does not implement a resume path",
		}}, nil
	}

	maxRetries := reg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	chain := errorpolicy.Chain{}
	if reg.ErrorPolicy != nil {
		chain = append(chain, reg.ErrorPolicy)
	}
	chain = append(chain, errorpolicy.Default)

	tc := &Context{
		CallID:     call.CallID,
		Name:       call.Name,
		Args:       preparedArgs,
		Input:      input,
		Session:    sess,
		Invocation: ictx,
		Dispatch:   dispatch,
	}

	return runWithPolicy(ctx, reg, tc, call, maxRetries, chain, tel, resumer.Resume)
}

// runWithPolicy drives run (either an Executor's Execute or Resume method)
// under reg's timeout and the composed error-recovery chain, translating
// the outcome or failure into a Result. It is the one retry/timeout loop
// both Invoke and InvokeResume share.
func runWithPolicy(ctx context.Context, reg Registered, tc *Context, call event.ToolCallPayload, maxRetries int, chain errorpolicy.Chain, tel telemetry.Bundle, run func(context.Context, *Context) (Outcome, error)) (Result, error) {
	var (
		retryCount int
		timedOut   bool
		started    = time.Now()
	)

	for attempt := 1; ; attempt++ {
		callCtx := ctx
		var cancel context.CancelFunc
		if reg.Timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, reg.Timeout)
		}
		outcome, err := run(callCtx, tc)
		if cancel != nil {
			cancel()
		}
		if err == nil {
			return buildResult(call.CallID, outcome, started, retryCount, timedOut), nil
		}

		if errors.Is(err, context.DeadlineExceeded) {
			timedOut = true
		}
		if tel.Log != nil {
			tel.Log.Warn(ctx, "tool: execution failed", "tool", call.Name, "attempt", attempt, "error", err.Error())
		}

		decision := chain.Handle(ctx, err, attempt)
		switch decision.Action {
		case errorpolicy.ActionRetry:
			retryCount++
			if attempt >= maxRetries {
				return Result{}, err
			}
			select {
			case <-ctx.Done():
				return Result{}, ctx.Err()
			case <-time.After(time.Duration(decision.Delay) * time.Millisecond):
			}
			continue
		case errorpolicy.ActionFallback:
			val, _ := json.Marshal(decision.Value)
			return Result{ResultPayload: &event.ToolResultPayload{
				CallID:     call.CallID,
				Result:     val,
				DurationMs: time.Since(started).Milliseconds(),
				RetryCount: retryCount,
				TimedOut:   timedOut,
			}}, nil
		case errorpolicy.ActionSkip:
			return Result{ResultPayload: &event.ToolResultPayload{
				CallID:     call.CallID,
				Result:     json.RawMessage("null"),
				DurationMs: time.Since(started).Milliseconds(),
				RetryCount: retryCount,
				TimedOut:   timedOut,
			}}, nil
		case errorpolicy.ActionAbort:
			return Result{}, &AbortError{Cause: err}
		default: // ActionThrow or unrecognized
			return Result{ResultPayload: &event.ToolResultPayload{
				CallID:     call.CallID,
				Error:      err.Error(),
				DurationMs: time.Since(started).Milliseconds(),
				RetryCount: retryCount,
				TimedOut:   timedOut,
			}}, nil
		}
	}
}

func buildResult(callID string, outcome Outcome, started time.Time, retryCount int, timedOut bool) Result {
	switch outcome.Kind {
	case OutcomeYield:
		return Result{YieldPayload: &event.ToolYieldPayload{CallID: callID, PreparedArgs: outcome.PreparedArgs}}
	case OutcomeTransfer:
		return Result{Transfer: outcome.Transfer}
	default:
		return Result{ResultPayload: &event.ToolResultPayload{
			CallID:     callID,
			Result:     outcome.Value,
			DurationMs: time.Since(started).Milliseconds(),
			RetryCount: retryCount,
			TimedOut:   timedOut,
		}}
	}
}
