// Package agentloop implements the Agent runnable's reasoning loop (spec.md
// §4.2): render the conversation so far, call the model adapter, execute any
// requested tools, and repeat until the model produces final text, a tool
// transfers control, a tool yields awaiting external input, or MaxSteps is
// reached. It is grounded on the teacher's runtime/agent/runtime execution
// loop (render -> model call -> tool dispatch -> re-render), generalized
// from the teacher's fixed Temporal-activity tool surface to the
// tool.Registry/tool.Invoke contract this module builds on.
package agentloop

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/windrose/agentkit/errorpolicy"
	"github.com/windrose/agentkit/event"
	"github.com/windrose/agentkit/invocation"
	"github.com/windrose/agentkit/middleware"
	"github.com/windrose/agentkit/modeladapter"
	"github.com/windrose/agentkit/runnable"
	"github.com/windrose/agentkit/session"
	"github.com/windrose/agentkit/telemetry"
	"github.com/windrose/agentkit/tool"
)

// DefaultMaxSteps bounds an Agent invocation when neither the Runnable nor
// Config specifies one.
const DefaultMaxSteps = 25

// Config carries everything the loop needs that is not already on the
// Runnable or Session: the model adapter, the tool registry, engine-level
// hooks to compose with the agent's own, the error-recovery chain for model
// call failures, and an observability bundle.
type Config struct {
	Adapter         modeladapter.Adapter
	Registry        *tool.Registry
	Hooks           middleware.Set
	ErrorPolicy     errorpolicy.Chain
	DefaultMaxSteps int
	Telemetry       telemetry.Bundle
}

// Resume is the descriptor the resume package attaches to
// InvocationContext.Resume when re-entering an Agent invocation that
// previously yielded. agentloop only needs to know that it is resuming, not
// the invocation's prior step count — that is recovered by replaying the
// ledger for this invocation's model_start events.
type Resume struct {
	YieldIndex int
}

// Run drives one Agent invocation to its next stopping point: completed,
// errored, aborted, max_steps, transferred, or yielded.
func Run(ctx context.Context, agent *runnable.Agent, sess *session.Session, ictx runnable.InvocationContext, dispatch runnable.Runner, cfg Config) (runnable.Outcome, error) {
	tel := cfg.Telemetry
	if tel.Log == nil {
		tel = telemetry.NewNoopBundle()
	}

	hookSets := []middleware.Set{cfg.Hooks}
	if as, ok := agent.Hooks.(middleware.Set); ok {
		hookSets = append(hookSets, as)
	}
	hooks := middleware.Compose(hookSets...)

	ac := &middleware.AgentContext{Invocation: ictx, Agent: agent, Session: sess}

	resuming := ictx.Resume != nil
	// Snapshot the ledger as resume.Compute last saw it, before this Run
	// appends its own invocation_resume: the invocation tree built from it
	// still has this node in StateYielded with its pending call IDs, which
	// materializePendingYields needs to find the tool_yield/tool_input
	// pairs left outstanding by the run that yielded (spec.md §4.2 step 2).
	eventsAtEntry := sess.Events()
	if !resuming {
		if _, err := sess.Append(event.New(event.KindInvocationStart, ictx.InvocationID, agent.Name, event.InvocationStartPayload{
			Kind:               event.InvocationAgent,
			ParentInvocationID: ictx.ParentInvocationID,
			HandoffOrigin:      ictx.HandoffOrigin,
			Fingerprint:        runnable.Fingerprint(agent),
		})); err != nil {
			return runnable.Outcome{}, err
		}
	} else {
		if r, ok := ictx.Resume.(*Resume); ok {
			if _, err := sess.Append(event.New(event.KindInvocationResume, ictx.InvocationID, agent.Name, event.InvocationResumePayload{YieldIndex: r.YieldIndex})); err != nil {
				return runnable.Outcome{}, err
			}
		}
	}

	if res, err := middleware.RunBeforeAgent(ctx, hooks.BeforeAgent, ac); err != nil {
		return endWithError(sess, ictx, agent.Name, err)
	} else if res.ShortCircuit {
		outcome := runnable.Completed(res.Value)
		if res.Transfer != nil {
			outcome = runnable.Transferred(res.Transfer)
		}
		return finishAgent(ctx, sess, ictx, agent.Name, hooks, ac, outcome)
	}

	maxSteps := agent.MaxSteps
	if maxSteps <= 0 {
		maxSteps = cfg.DefaultMaxSteps
	}
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	toolDefs, toolsByName := encodeTools(agent.Tools)

	if resuming {
		halt, haltOutcome, err := materializePendingYields(ctx, eventsAtEntry, sess, ictx, agent, toolsByName, dispatch, cfg, hooks, tel)
		if err != nil {
			return endWithError(sess, ictx, agent.Name, err)
		}
		if halt {
			return haltOutcome, nil
		}
	}

	step := countModelSteps(sess.Events(), ictx.InvocationID)

	for step < maxSteps {
		select {
		case <-ctx.Done():
			return endWith(sess, ictx, agent.Name, runnable.Outcome{Reason: event.ReasonAborted, Err: ctx.Err()})
		default:
		}

		req := modeladapter.Request{
			Model:       agent.Model.Model,
			Messages:    render(agent, sess.Events(), ictx.InvocationID),
			Temperature: float32(agent.Model.Temperature),
			MaxTokens:   agent.Model.MaxTokens,
			Tools:       toolDefs,
		}

		mc := &middleware.ModelContext{Invocation: ictx, Agent: agent, Session: sess, Request: req}
		if res, err := runBeforeModel(ctx, hooks.BeforeModel, mc); err != nil {
			return endWithError(sess, ictx, agent.Name, err)
		} else if res.ShortCircuit {
			return finishAgent(ctx, sess, ictx, agent.Name, hooks, ac, runnable.Completed(res.Value))
		}

		messagesJSON, _ := json.Marshal(req.Messages)
		toolsJSON, _ := json.Marshal(req.Tools)
		if _, err := sess.Append(event.New(event.KindModelStart, ictx.InvocationID, agent.Name, event.ModelStartPayload{
			Messages:        messagesJSON,
			ToolDescriptors: toolsJSON,
		})); err != nil {
			return runnable.Outcome{}, err
		}

		started := time.Now()
		resp, err := completeWithPolicy(ctx, cfg, req)
		if err != nil {
			if ap, ok := err.(*abortSignal); ok {
				return endWith(sess, ictx, agent.Name, runnable.Outcome{Reason: event.ReasonAborted, Err: ap.Cause})
			}
			return endWithError(sess, ictx, agent.Name, err)
		}

		if _, err := sess.Append(event.New(event.KindModelEnd, ictx.InvocationID, agent.Name, event.ModelEndPayload{
			DurationMs:   time.Since(started).Milliseconds(),
			Usage:        event.TokenUsage{Model: agent.Model.Model, PromptTokens: resp.Usage.InputTokens, CompletionTokens: resp.Usage.OutputTokens, TotalTokens: resp.Usage.TotalTokens},
			FinishReason: resp.StopReason,
		})); err != nil {
			return runnable.Outcome{}, err
		}

		mc.Response = resp
		runAfterModel(ctx, hooks.AfterModel, mc)
		runOnStep(ctx, hooks.OnStep, ac, step)

		text, thinking, toolUses := splitParts(resp.Message)
		for _, th := range thinking {
			sess.Append(event.New(event.KindThought, ictx.InvocationID, agent.Name, event.ThoughtPayload{Text: th}))
		}

		if len(toolUses) == 0 {
			outcome, err := finalizeOutput(sess, ictx, agent, text)
			if err != nil {
				return endWithError(sess, ictx, agent.Name, err)
			}
			outcome.Iterations = step + 1
			return finishAgent(ctx, sess, ictx, agent.Name, hooks, ac, outcome)
		}

		if text != "" {
			sess.Append(event.New(event.KindAssistant, ictx.InvocationID, agent.Name, event.AssistantPayload{Text: text}))
		}

		var pendingYields []string
		for _, use := range toolUses {
			ref, known := toolsByName[use.Name]
			yields := known && ref.YieldSchema != nil

			if _, err := sess.Append(event.New(event.KindToolCall, ictx.InvocationID, agent.Name, event.ToolCallPayload{
				CallID: use.ID, Name: use.Name, Args: use.Input, Yields: yields,
			})); err != nil {
				return runnable.Outcome{}, err
			}

			tc := &middleware.ToolContext{Invocation: ictx, Agent: agent, Session: sess, CallID: use.ID, ToolName: use.Name, Args: use.Input}
			if res, err := middleware.RunBeforeTool(ctx, hooks.BeforeTool, tc); err != nil {
				return endWithError(sess, ictx, agent.Name, err)
			} else if res.ShortCircuit {
				if res.Transfer != nil {
					sess.Append(event.New(event.KindInvocationEnd, ictx.InvocationID, agent.Name, event.InvocationEndPayload{
						Reason: event.ReasonTransferred, HandoffTarget: res.Transfer.RunnableName(),
					}))
					return runnable.Transferred(res.Transfer), nil
				}
				val, _ := json.Marshal(res.Value)
				sess.AddToolResult(ictx.InvocationID, agent.Name, event.ToolResultPayload{CallID: use.ID, Result: val})
				continue
			}

			reg, found := registryOf(cfg).Lookup(use.Name)
			if !found {
				sess.AddToolResult(ictx.InvocationID, agent.Name, event.ToolResultPayload{
					CallID: use.ID, Error: fmt.Sprintf("tool %q is not registered", use.Name),
				})
				continue
			}

			res, err := tool.Invoke(ctx, reg, sess, ictx, agent.Name, event.ToolCallPayload{CallID: use.ID, Name: use.Name, Args: use.Input, Yields: yields}, dispatch, tel)
			if err != nil {
				if ap, ok := err.(*tool.AbortError); ok {
					return endWith(sess, ictx, agent.Name, runnable.Outcome{Reason: event.ReasonAborted, Err: ap.Cause})
				}
				return endWithError(sess, ictx, agent.Name, err)
			}

			switch {
			case res.Transfer != nil:
				sess.Append(event.New(event.KindInvocationEnd, ictx.InvocationID, agent.Name, event.InvocationEndPayload{
					Reason: event.ReasonTransferred, HandoffTarget: res.Transfer.RunnableName(),
				}))
				return runnable.Transferred(res.Transfer), nil
			case res.YieldPayload != nil:
				sess.Append(event.New(event.KindToolYield, ictx.InvocationID, agent.Name, *res.YieldPayload))
				pendingYields = append(pendingYields, use.ID)
			case res.ResultPayload != nil:
				outcome := middleware.ToolOutcome{Result: res.ResultPayload.Result, Err: errString(res.ResultPayload.Error)}
				outcome, err = middleware.RunAfterTool(ctx, hooks.AfterTool, tc, outcome)
				if err != nil {
					return endWithError(sess, ictx, agent.Name, err)
				}
				p := *res.ResultPayload
				p.Result = outcome.Result
				if outcome.Err != nil {
					p.Error = outcome.Err.Error()
				}
				sess.AddToolResult(ictx.InvocationID, agent.Name, p)
			}
		}

		if len(pendingYields) > 0 {
			if _, err := sess.Append(event.New(event.KindInvocationYield, ictx.InvocationID, agent.Name, event.InvocationYieldPayload{
				PendingCallIDs: pendingYields,
			})); err != nil {
				return runnable.Outcome{}, err
			}
			return runnable.Yielded(pendingYields, false), nil
		}

		step++
	}

	if _, err := sess.Append(event.New(event.KindInvocationEnd, ictx.InvocationID, agent.Name, event.InvocationEndPayload{Reason: event.ReasonMaxSteps})); err != nil {
		return runnable.Outcome{}, err
	}
	out := runnable.MaxStepsReached()
	out.Iterations = step
	return out, nil
}

// finishAgent runs after-agent hooks over outcome and closes the invocation
// accordingly. The before-agent short circuit, the before-model short
// circuit and the final-text path go through it; the error, abort,
// transfer, yield and max-steps exits close the invocation without running
// after-agent hooks.
func finishAgent(ctx context.Context, sess *session.Session, ictx runnable.InvocationContext, agentName string, hooks middleware.Set, ac *middleware.AgentContext, outcome runnable.Outcome) (runnable.Outcome, error) {
	outcome, err := middleware.RunAfterAgent(ctx, hooks.AfterAgent, ac, outcome)
	if err != nil {
		return endWithError(sess, ictx, agentName, err)
	}
	reason := outcome.Reason
	target := ""
	if outcome.Reason == event.ReasonTransferred && outcome.HandoffTarget != nil {
		target = outcome.HandoffTarget.RunnableName()
	}
	if reason == "" {
		reason = event.ReasonCompleted
	}
	if _, err := sess.Append(event.New(event.KindInvocationEnd, ictx.InvocationID, agentName, event.InvocationEndPayload{
		Reason: reason, HandoffTarget: target,
	})); err != nil {
		return runnable.Outcome{}, err
	}
	return outcome, nil
}

func endWithError(sess *session.Session, ictx runnable.InvocationContext, agentName string, err error) (runnable.Outcome, error) {
	return endWith(sess, ictx, agentName, runnable.Errored(err))
}

// endWith closes the invocation with outcome's terminal reason and returns
// it. The ledger write is best-effort here: a failure to append the closing
// event does not override the outcome the caller already computed, since
// that outcome (error, abort) is itself the more important signal to
// propagate.
func endWith(sess *session.Session, ictx runnable.InvocationContext, agentName string, outcome runnable.Outcome) (runnable.Outcome, error) {
	sess.Append(event.New(event.KindInvocationEnd, ictx.InvocationID, agentName, event.InvocationEndPayload{Reason: outcome.Reason}))
	return outcome, nil
}

func errString(s string) error {
	if s == "" {
		return nil
	}
	return fmt.Errorf("%s", s)
}

// materializePendingYields implements spec.md §4.2 step 2: before a resumed
// Agent invocation enters its step loop, every tool_yield it left without a
// tool_result must be driven to completion against the tool_input the host
// has since supplied. entryEvents is the ledger exactly as resume.Compute
// last saw it (before this Run's own invocation_resume was appended), so
// the invocation tree it builds still reports this node's pending call IDs
// from its last yield. halt=true means Run must return haltOutcome
// immediately (a resumed call aborted or transferred); otherwise the step
// loop proceeds once every pending call has a tool_result.
func materializePendingYields(ctx context.Context, entryEvents []event.Event, sess *session.Session, ictx runnable.InvocationContext, agent *runnable.Agent, toolsByName map[string]runnable.ToolRef, dispatch runnable.Runner, cfg Config, hooks middleware.Set, tel telemetry.Bundle) (halt bool, haltOutcome runnable.Outcome, err error) {
	tree, err := invocation.Build(entryEvents)
	if err != nil {
		return false, runnable.Outcome{}, err
	}
	node, ok := tree.Nodes[ictx.InvocationID]
	if !ok {
		return false, runnable.Outcome{}, nil
	}

	for _, callID := range node.PendingCallIDs {
		call, ok := node.Calls[callID]
		if !ok || call.Yield == nil || call.Result != nil {
			continue
		}

		ref, known := toolsByName[call.Call.Name]
		reg, found := registryOf(cfg).Lookup(call.Call.Name)
		if !known || !found {
			sess.AddToolResult(ictx.InvocationID, agent.Name, event.ToolResultPayload{
				CallID: callID, Error: fmt.Sprintf("tool %q is not registered", call.Call.Name),
			})
			continue
		}

		var inputPayload json.RawMessage
		if call.Input != nil {
			inputPayload = call.Input.Input
		}
		if ref.YieldSchema != nil {
			var decoded any
			if len(inputPayload) > 0 {
				if uerr := json.Unmarshal(inputPayload, &decoded); uerr != nil {
					sess.AddToolResult(ictx.InvocationID, agent.Name, event.ToolResultPayload{CallID: callID, Error: "invalid tool_input: " + uerr.Error()})
					continue
				}
			}
			if verr := ref.YieldSchema.Validate(decoded); verr != nil {
				sess.AddToolResult(ictx.InvocationID, agent.Name, event.ToolResultPayload{CallID: callID, Error: "tool_input validation failed: " + verr.Error()})
				continue
			}
		}

		res, rerr := tool.InvokeResume(ctx, reg, sess, ictx, agent.Name, call.Call, call.Yield.PreparedArgs, inputPayload, dispatch, tel)
		if rerr != nil {
			if ap, ok := rerr.(*tool.AbortError); ok {
				o, aerr := endWith(sess, ictx, agent.Name, runnable.Outcome{Reason: event.ReasonAborted, Err: ap.Cause})
				return true, o, aerr
			}
			return false, runnable.Outcome{}, rerr
		}

		switch {
		case res.Transfer != nil:
			if _, aerr := sess.Append(event.New(event.KindInvocationEnd, ictx.InvocationID, agent.Name, event.InvocationEndPayload{
				Reason: event.ReasonTransferred, HandoffTarget: res.Transfer.RunnableName(),
			})); aerr != nil {
				return false, runnable.Outcome{}, aerr
			}
			return true, runnable.Transferred(res.Transfer), nil

		case res.YieldPayload != nil:
			// A call is only ever yielded once; a resume path yielding
			// again is a tool-authoring error, not a supported protocol
			// state.
			sess.AddToolResult(ictx.InvocationID, agent.Name, event.ToolResultPayload{
				CallID: callID, Error: fmt.Sprintf("tool %q yielded again on resume, which is not supported", call.Call.Name),
			})

		case res.ResultPayload != nil:
			tc := &middleware.ToolContext{Invocation: ictx, Agent: agent, Session: sess, CallID: callID, ToolName: call.Call.Name, Args: call.Call.Args}
			toolOutcome := middleware.ToolOutcome{Result: res.ResultPayload.Result, Err: errString(res.ResultPayload.Error)}
			toolOutcome, aerr := middleware.RunAfterTool(ctx, hooks.AfterTool, tc, toolOutcome)
			if aerr != nil {
				return false, runnable.Outcome{}, aerr
			}
			p := *res.ResultPayload
			p.Result = toolOutcome.Result
			if toolOutcome.Err != nil {
				p.Error = toolOutcome.Err.Error()
			}
			sess.AddToolResult(ictx.InvocationID, agent.Name, p)
		}
	}

	return false, runnable.Outcome{}, nil
}

// finalizeOutput parses and validates an Agent's structured output (spec.md
// §4.2 step 5), storing it to session state when OutputConfig.StateKey is
// set and appending the closing assistant event.
func finalizeOutput(sess *session.Session, ictx runnable.InvocationContext, agent *runnable.Agent, text string) (runnable.Outcome, error) {
	var structured json.RawMessage
	var finalOutput any = text

	if agent.Output.Schema != nil {
		var decoded any
		if err := json.Unmarshal([]byte(text), &decoded); err != nil {
			return runnable.Outcome{}, fmt.Errorf("agentloop: output is not valid JSON: %w", err)
		}
		if err := agent.Output.Schema.Validate(decoded); err != nil {
			return runnable.Outcome{}, err
		}
		structured = json.RawMessage(text)
		finalOutput = decoded
		if agent.Output.StateKey != "" {
			sess.Set(event.ScopeSession, event.SourceObservation, agent.Output.StateKey, decoded)
		}
	}

	if _, err := sess.Append(event.New(event.KindAssistant, ictx.InvocationID, agent.Name, event.AssistantPayload{
		Text: text, Structured: structured,
	})); err != nil {
		return runnable.Outcome{}, err
	}

	return runnable.Completed(finalOutput), nil
}

type abortSignal struct{ Cause error }

func (a *abortSignal) Error() string { return "agentloop: aborted: " + a.Cause.Error() }

// completeWithPolicy calls the model adapter, applying Config.ErrorPolicy (if
// any) plus a default throw-on-failure handler, mirroring tool.Invoke's
// retry loop so model-call flakiness is recoverable the same way tool-call
// flakiness is.
func completeWithPolicy(ctx context.Context, cfg Config, req modeladapter.Request) (modeladapter.Response, error) {
	chain := append(errorpolicy.Chain{}, cfg.ErrorPolicy...)
	chain = append(chain, errorpolicy.Default)

	for attempt := 1; ; attempt++ {
		resp, err := cfg.Adapter.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		decision := chain.Handle(ctx, err, attempt)
		switch decision.Action {
		case errorpolicy.ActionRetry:
			select {
			case <-ctx.Done():
				return modeladapter.Response{}, ctx.Err()
			case <-time.After(time.Duration(decision.Delay) * time.Millisecond):
			}
			continue
		case errorpolicy.ActionAbort:
			return modeladapter.Response{}, &abortSignal{Cause: err}
		default:
			return modeladapter.Response{}, err
		}
	}
}

func encodeTools(refs []runnable.ToolRef) ([]modeladapter.ToolDefinition, map[string]runnable.ToolRef) {
	defs := make([]modeladapter.ToolDefinition, 0, len(refs))
	byName := make(map[string]runnable.ToolRef, len(refs))
	for _, r := range refs {
		var raw []byte
		if r.ArgsSchema != nil {
			raw = r.ArgsSchema.Raw()
		}
		defs = append(defs, modeladapter.ToolDefinition{Name: r.Name, Description: r.Description, InputSchema: raw})
		byName[r.Name] = r
	}
	return defs, byName
}

func splitParts(msg modeladapter.Message) (text string, thinking []string, toolUses []modeladapter.ToolUsePart) {
	for _, p := range msg.Parts {
		switch part := p.(type) {
		case modeladapter.TextPart:
			text += part.Text
		case modeladapter.ThinkingPart:
			if part.Final {
				thinking = append(thinking, part.Text)
			}
		case modeladapter.ToolUsePart:
			toolUses = append(toolUses, part)
		}
	}
	return text, thinking, toolUses
}

func countModelSteps(events []event.Event, invocationID string) int {
	n := 0
	for _, e := range events {
		if e.Kind == event.KindModelStart && e.InvocationID == invocationID {
			n++
		}
	}
	return n
}

// registryOf exposes Config's tool registry through a helper so Run reads
// slightly more naturally at call sites; it also tolerates a nil Registry
// by returning an empty one rather than panicking on every unresolved tool.
func registryOf(cfg Config) *tool.Registry {
	if cfg.Registry == nil {
		return tool.NewRegistry()
	}
	return cfg.Registry
}

func runBeforeModel(ctx context.Context, hooks []middleware.BeforeModelHook, mc *middleware.ModelContext) (middleware.Result, error) {
	for _, h := range hooks {
		r, err := h(ctx, mc)
		if err != nil || r.ShortCircuit {
			return r, err
		}
	}
	return middleware.Continue, nil
}

func runAfterModel(ctx context.Context, hooks []middleware.AfterModelHook, mc *middleware.ModelContext) {
	for _, h := range hooks {
		h(ctx, mc)
	}
}

func runOnStep(ctx context.Context, hooks []middleware.OnStepHook, ac *middleware.AgentContext, step int) {
	for _, h := range hooks {
		h(ctx, ac, step)
	}
}
