// Package session owns the event ledger and folded state for one
// conversation (spec.md §4.1). A Session is the durable unit an engine Run
// operates against: every invocation appends its events here, and every
// Runnable reads state through it. Session lifecycle (active/ended) is
// grounded in the teacher's session.Status contract; the ledger/state
// ownership and clone-on-branch semantics are this module's own addition
// over that contract.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/windrose/agentkit/event"
	"github.com/windrose/agentkit/invocation"
	"github.com/windrose/agentkit/state"
)

// Status is the lifecycle state of a Session.
type Status string

// Recognized session statuses.
const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Errors returned by Session lifecycle operations.
var (
	ErrEnded = errors.New("session: ended")
)

// Session is the append-only event ledger plus the folded state derived from
// it. All mutation goes through Append; nothing else writes to the ledger.
type Session struct {
	mu sync.Mutex

	id        string
	status    Status
	createdAt time.Time
	endedAt   *time.Time

	events []event.Event
	state  *state.Store
}

// New creates an empty, active Session with the given durable ID.
func New(id string) *Session {
	return &Session{
		id:        id,
		status:    StatusActive,
		createdAt: time.Now(),
		state:     state.NewStore(),
	}
}

// Restore rebuilds a Session from a previously persisted event ledger
// (store.Load), folding state from scratch.
func Restore(id string, createdAt time.Time, events []event.Event) *Session {
	return &Session{
		id:        id,
		status:    StatusActive,
		createdAt: createdAt,
		events:    append([]event.Event(nil), events...),
		state:     state.Fold(events, -1),
	}
}

// ID returns the session's durable identifier.
func (s *Session) ID() string { return s.id }

// Status returns the current lifecycle status.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// DerivedStatus enumerates spec.md §4.1's derived session status, computed
// from the current root invocation's state rather than Session's own
// active/ended lifecycle flag.
type DerivedStatus string

// Recognized derived statuses.
const (
	// DerivedStatusActive covers a root invocation that is running, or
	// yielded purely for conversational review with no pending tool calls.
	DerivedStatusActive DerivedStatus = "active"
	// DerivedStatusAwaitingInput is a yielded root invocation with at least
	// one pending tool call still unresolved by a tool_input.
	DerivedStatusAwaitingInput DerivedStatus = "awaiting_input"
	DerivedStatusCompleted     DerivedStatus = "completed"
	DerivedStatusError         DerivedStatus = "error"
)

// DerivedStatus reconstructs the invocation tree from the ledger and
// reports the status of the most recent top-level invocation: awaiting_input
// when it is yielded with an unresolved pending call, completed/error from
// its terminal reason, and active otherwise (still running, transferred,
// mid max-steps, or yielded with nothing pending). Aborted invocations are
// reported as error, since cancellation is itself a failure outcome for the
// purposes of this status.
func (s *Session) DerivedStatus() (DerivedStatus, error) {
	tree, err := invocation.Build(s.Events())
	if err != nil {
		return "", err
	}
	if len(tree.Roots) == 0 {
		return DerivedStatusActive, nil
	}
	root := tree.Roots[len(tree.Roots)-1]

	switch root.State {
	case invocation.StateYielded:
		if len(root.PendingCallIDs) > 0 {
			return DerivedStatusAwaitingInput, nil
		}
		return DerivedStatusActive, nil
	case invocation.StateCompleted:
		return DerivedStatusCompleted, nil
	case invocation.StateError, invocation.StateAborted:
		return DerivedStatusError, nil
	default:
		return DerivedStatusActive, nil
	}
}

// End marks the session terminal. Idempotent.
func (s *Session) End(at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusEnded {
		return
	}
	s.status = StatusEnded
	t := at
	s.endedAt = &t
}

// EndedAt returns when the session ended, or nil if still active.
func (s *Session) EndedAt() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endedAt
}

// Append records e in the ledger and folds any state_change it carries.
// Transient kinds (assistant_delta, thought_delta) must never reach Append —
// callers route those to the streaming sink only; Append panics if handed
// one, since that would silently corrupt replay.
func (s *Session) Append(e event.Event) (event.Event, error) {
	if e.Kind.Transient() {
		panic("session: attempted to append transient event kind " + string(e.Kind))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == StatusEnded {
		return event.Event{}, ErrEnded
	}
	s.events = append(s.events, e)
	s.state.Apply(e)
	return e, nil
}

// Events returns a copy of the full ledger in append order.
func (s *Session) Events() []event.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]event.Event(nil), s.events...)
}

// Len returns the number of events currently in the ledger.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// State returns the live, folded state store. Reads are safe for concurrent
// use; callers must go through Append (or the Set/Delete helpers below) to
// mutate it.
func (s *Session) State() *state.Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Set appends a state_change event for key in scope and folds it.
func (s *Session) Set(scope event.Scope, source event.Source, key string, value any) (event.Event, error) {
	old, _ := s.State().Scope(scope).Get(key)
	return s.Append(event.New(event.KindStateChange, "", "", state.ChangeEvent(scope, source, key, old, value)))
}

// Delete appends a state_change event removing key from scope.
func (s *Session) Delete(scope event.Scope, source event.Source, key string) (event.Event, error) {
	old, ok := s.State().Scope(scope).Get(key)
	if !ok {
		return event.Event{}, nil
	}
	return s.Append(event.New(event.KindStateChange, "", "", state.ChangeEvent(scope, source, key, old, nil)))
}

// AddUserMessage appends a user conversation turn.
func (s *Session) AddUserMessage(text string) (event.Event, error) {
	return s.Append(event.New(event.KindUser, "", "", event.UserPayload{Text: text}))
}

// AddToolInput appends external input resolving a pending tool_yield.
func (s *Session) AddToolInput(callID string, input []byte) (event.Event, error) {
	return s.Append(event.New(event.KindToolInput, "", "", event.ToolInputPayload{CallID: callID, Input: input}))
}

// AddToolResult appends a tool_result under the given invocation.
func (s *Session) AddToolResult(invocationID, agentName string, p event.ToolResultPayload) (event.Event, error) {
	return s.Append(event.New(event.KindToolResult, invocationID, agentName, p))
}

// PendingYieldingCalls scans the ledger for tool_call events marked
// Yields=true that have no later tool_input for the same CallID — the set a
// host must resolve before a run can resume (spec.md §4.6 step 4). This is a
// cheaper, ledger-only alternative to building the full invocation tree when
// a caller only needs the call IDs.
func (s *Session) PendingYieldingCalls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	resolved := make(map[string]bool)
	var pending []string
	seen := make(map[string]bool)
	for _, e := range s.events {
		switch e.Kind {
		case event.KindToolCall:
			p := e.Payload.(event.ToolCallPayload)
			if p.Yields && !seen[p.CallID] {
				seen[p.CallID] = true
				pending = append(pending, p.CallID)
			}
		case event.KindToolInput:
			p := e.Payload.(event.ToolInputPayload)
			resolved[p.CallID] = true
		}
	}
	out := pending[:0:0]
	for _, id := range pending {
		if !resolved[id] {
			out = append(out, id)
		}
	}
	return out
}

// Clone produces an isolated copy of this Session for a parallel branch:
// its own ledger slice and its own state.Store clone, so branch execution
// never mutates the parent until Merge folds it back (spec.md §4.5).
func (s *Session) Clone() *Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Session{
		id:        s.id,
		status:    s.status,
		createdAt: s.createdAt,
		events:    append([]event.Event(nil), s.events...),
		state:     s.state.Clone(),
	}
}

// Merge appends branch's events that were produced after divergence (i.e.
// every event beyond the first len(s.events) at Clone time) onto s, folding
// their state_change payloads in the same order. The caller is responsible
// for invoking Merge on branches in deterministic order (spec.md §4.5:
// Parallel joins branches in declaration order, not completion order).
func (s *Session) Merge(branch *Session, divergedAt int) {
	branch.mu.Lock()
	tail := append([]event.Event(nil), branch.events[divergedAt:]...)
	branch.mu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range tail {
		s.events = append(s.events, e)
		s.state.Apply(e)
	}
}
