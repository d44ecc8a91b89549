// Package event defines the tagged union of ledger events that a Session
// accumulates as runnables execute. Every domain occurrence worth replaying
// or streaming — a conversation turn, a tool lifecycle step, a state
// mutation, an invocation boundary, a model step — is represented as an
// Event. Event is deliberately a closed, discriminated union (Kind plus a
// typed Payload) rather than an open interface hierarchy: producers never
// invent new kinds, and consumers switch on Kind instead of relying on
// duck-typed payload shapes.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Kind discriminates the Event union. Consumers must switch on Kind before
// type-asserting Payload; an Event's Payload type is determined entirely by
// its Kind.
type Kind string

// Event kinds, grouped by the lifecycle phase in which they are emitted.
const (
	// Conversation events.
	KindSystem         Kind = "system"
	KindUser           Kind = "user"
	KindAssistant      Kind = "assistant"
	KindAssistantDelta Kind = "assistant_delta"
	KindThought        Kind = "thought"
	KindThoughtDelta   Kind = "thought_delta"

	// Tool lifecycle events.
	KindToolCall   Kind = "tool_call"
	KindToolYield  Kind = "tool_yield"
	KindToolInput  Kind = "tool_input"
	KindToolResult Kind = "tool_result"

	// State events.
	KindStateChange Kind = "state_change"

	// Invocation boundary events.
	KindInvocationStart  Kind = "invocation_start"
	KindInvocationEnd    Kind = "invocation_end"
	KindInvocationYield  Kind = "invocation_yield"
	KindInvocationResume Kind = "invocation_resume"

	// Model boundary events.
	KindModelStart Kind = "model_start"
	KindModelEnd   Kind = "model_end"
)

// Transient reports whether events of this kind are stream-only and must
// never be appended to a Session's durable ledger (assistant_delta and
// thought_delta per spec.md §3.1).
func (k Kind) Transient() bool {
	return k == KindAssistantDelta || k == KindThoughtDelta
}

// Event is a single immutable ledger entry. Every Event carries ID and
// CreatedAt; InvocationID and AgentName are populated for every kind except
// user, tool_input, and state_change, which are not bound to a single
// invocation.
type Event struct {
	ID           string
	Kind         Kind
	CreatedAt    time.Time
	InvocationID string
	AgentName    string
	Payload      any
}

// NewID returns a fresh, globally unique event identifier.
func NewID() string { return uuid.NewString() }

// Scope enumerates the scoped-state buckets a state_change event may target.
type Scope string

// Recognized state scopes (spec.md §3.2). Temp is the only scope inherited
// by child invocations on handoff.
const (
	ScopeSession  Scope = "session"
	ScopeUser     Scope = "user"
	ScopePatient  Scope = "patient"
	ScopePractice Scope = "practice"
	ScopeTemp     Scope = "temp"
)

// Source classifies what triggered a state_change event.
type Source string

// Recognized state_change sources.
const (
	// SourceObservation records state derived from model or tool output
	// without an explicit caller-invoked mutation.
	SourceObservation Source = "observation"
	// SourceMutation records an explicit Set/Update/Delete call.
	SourceMutation Source = "mutation"
	// SourceDirect records a value injected directly by a host/caller.
	SourceDirect Source = "direct"
)

// InvocationKind enumerates the Runnable kinds that may open an invocation
// boundary.
type InvocationKind string

// Recognized invocation kinds, one per Runnable variant (spec.md §3.4).
const (
	InvocationAgent    InvocationKind = "agent"
	InvocationStep     InvocationKind = "step"
	InvocationSequence InvocationKind = "sequence"
	InvocationParallel InvocationKind = "parallel"
	InvocationLoop     InvocationKind = "loop"
)

// TerminalReason enumerates why an invocation_end event closed an invocation.
type TerminalReason string

// Recognized terminal reasons.
const (
	ReasonCompleted   TerminalReason = "completed"
	ReasonError       TerminalReason = "error"
	ReasonAborted     TerminalReason = "aborted"
	ReasonTransferred TerminalReason = "transferred"
	ReasonMaxSteps    TerminalReason = "max_steps"
)

// HandoffKind enumerates the orchestration primitives that can originate a
// child invocation (spec.md §4.9).
type HandoffKind string

// Recognized handoff kinds.
const (
	HandoffCall     HandoffKind = "call"
	HandoffSpawn    HandoffKind = "spawn"
	HandoffDispatch HandoffKind = "dispatch"
	HandoffTransfer HandoffKind = "transfer"
)

// HandoffOrigin records how a child invocation was created, carried on the
// invocation_start payload of the child.
type HandoffOrigin struct {
	Type               HandoffKind
	ParentInvocationID string
	// CallID links the handoff to the tool call that requested it, when the
	// handoff originated from a tool (call/spawn/dispatch). Empty for
	// transfer, which originates from a hook or step rather than a tool.
	CallID string
	// FromAgent names the agent that issued a transfer. Empty for
	// call/spawn/dispatch.
	FromAgent string
}

// TokenUsage reports token accounting for a single model step, attributed to
// the model that produced it.
type TokenUsage struct {
	Model           string
	PromptTokens    int
	CompletionTokens int
	TotalTokens     int
}

// --- Payload types, one per Kind ---

type (
	// SystemPayload carries a system prompt/instruction text.
	SystemPayload struct{ Text string }

	// UserPayload carries a user turn's text.
	UserPayload struct{ Text string }

	// AssistantPayload carries an assistant turn's final text and, when the
	// invoking agent declares an output schema, the structured output parsed
	// from it.
	AssistantPayload struct {
		Text       string
		Structured json.RawMessage
	}

	// AssistantDeltaPayload carries an incremental assistant text fragment.
	// Stream-only: never appended to the ledger.
	AssistantDeltaPayload struct{ Text string }

	// ThoughtPayload carries a completed reasoning/thinking block.
	ThoughtPayload struct{ Text string }

	// ThoughtDeltaPayload carries an incremental reasoning fragment.
	// Stream-only: never appended to the ledger.
	ThoughtDeltaPayload struct{ Text string }

	// ToolCallPayload records a tool invocation requested by the model.
	ToolCallPayload struct {
		CallID string
		Name   string
		Args   json.RawMessage
		// Yields is true when the resolved tool declares a yieldSchema; set
		// by the agent loop after resolving the tool, not by the adapter.
		Yields bool
	}

	// ToolYieldPayload records that a yielding tool call has been prepared
	// and is now awaiting external input.
	ToolYieldPayload struct {
		CallID       string
		PreparedArgs json.RawMessage
	}

	// ToolInputPayload records external input injected by the host to
	// unblock a pending tool_yield.
	ToolInputPayload struct {
		CallID string
		Input  json.RawMessage
	}

	// ToolResultPayload records the outcome of a tool call, successful or
	// not. Exactly one of Result/Error is meaningful.
	ToolResultPayload struct {
		CallID     string
		Result     json.RawMessage
		Error      string
		DurationMs int64
		RetryCount int
		TimedOut   bool
	}

	// StateChangePayload records a single scoped-state mutation.
	StateChangePayload struct {
		Scope    Scope
		Source   Source
		Key      string
		OldValue any
		NewValue any
	}

	// InvocationStartPayload opens an invocation boundary.
	InvocationStartPayload struct {
		Kind               InvocationKind
		ParentInvocationID string
		HandoffOrigin      *HandoffOrigin
		// Fingerprint is the structural hash of the runnable tree rooted at
		// this invocation, used by the resume engine (spec.md §4.6 step 6).
		Fingerprint string
	}

	// InvocationEndPayload closes an invocation boundary.
	InvocationEndPayload struct {
		Reason TerminalReason
		// HandoffTarget names the runnable a transferred invocation handed
		// off to. Only meaningful when Reason is transferred.
		HandoffTarget string
	}

	// InvocationYieldPayload records a pause awaiting external input.
	InvocationYieldPayload struct {
		PendingCallIDs []string
		YieldIndex     int
		// AwaitingInput is true for a conversational loop-yield (Loop's
		// yieldsBetweenIterations) that has no pending tool calls.
		AwaitingInput bool
	}

	// InvocationResumePayload records that execution continued past a prior
	// yield.
	InvocationResumePayload struct {
		YieldIndex int
	}

	// ModelStartPayload snapshots the render context sent to the model.
	ModelStartPayload struct {
		// Messages is the canonical JSON encoding of the rendered message
		// history sent to the adapter.
		Messages json.RawMessage
		// ToolDescriptors is the canonical JSON encoding of the tool
		// descriptors offered to the model for this step.
		ToolDescriptors json.RawMessage
		// OutputSchema is the compiled output schema snapshot, if the agent
		// declares one.
		OutputSchema json.RawMessage
	}

	// ModelEndPayload records the outcome of a single model step.
	ModelEndPayload struct {
		DurationMs   int64
		Usage        TokenUsage
		FinishReason string
	}
)

// New constructs an Event with a fresh ID and CreatedAt set to now.
func New(kind Kind, invocationID, agentName string, payload any) Event {
	return Event{
		ID:           NewID(),
		Kind:         kind,
		CreatedAt:    time.Now(),
		InvocationID: invocationID,
		AgentName:    agentName,
		Payload:      payload,
	}
}
