// Package state implements the five scoped-state buckets a Session exposes
// to runnables: session, user, patient, practice, and temp (spec.md §3.2).
// State is never mutated directly; every Set/Delete produces a
// state_change event, and the current value of any key is always the fold
// of every state_change event observed so far. Snapshot provides that fold
// so a Session can reconstruct state as of any point in the ledger, not just
// the tip.
package state

import (
	"github.com/windrose/agentkit/event"
)

// Snapshot is the folded view of one scope's key/value store at a point in
// the ledger. It is a plain map: the Snapshot a Store hands out is the live
// map that Apply edits in place as later events are folded, so a stable
// copy needs Clone. Mutating methods on Session append a state_change
// event rather than editing a Snapshot directly.
type Snapshot map[string]any

// Get returns the value for key and whether it is present.
func (s Snapshot) Get(key string) (any, bool) {
	v, ok := s[key]
	return v, ok
}

// Clone returns a deep-enough copy suitable for an isolated branch: the
// top-level map is copied so appends on one clone never affect another.
// Values themselves are not deep-copied; callers that store mutable
// reference types in state are responsible for not sharing them across
// branches.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Store folds state_change events for all five scopes. A Store is built
// incrementally by Apply as a Session appends events, and from scratch by
// Fold when reconstructing a snapshot at an arbitrary ledger index.
type Store struct {
	scopes map[event.Scope]Snapshot
}

// NewStore returns an empty Store with all five scopes initialized.
func NewStore() *Store {
	st := &Store{scopes: make(map[event.Scope]Snapshot, 5)}
	for _, sc := range []event.Scope{event.ScopeSession, event.ScopeUser, event.ScopePatient, event.ScopePractice, event.ScopeTemp} {
		st.scopes[sc] = Snapshot{}
	}
	return st
}

// Scope returns the folded snapshot for sc. The returned Snapshot is the
// live backing map; callers must not mutate it directly — use Apply or the
// Session's Set/Delete helpers instead.
func (st *Store) Scope(sc event.Scope) Snapshot {
	if s, ok := st.scopes[sc]; ok {
		return s
	}
	s := Snapshot{}
	st.scopes[sc] = s
	return s
}

// Apply folds a single state_change event into the store. Non-state_change
// events are ignored so callers can pass every ledger event through Apply
// uniformly while building a snapshot.
func (st *Store) Apply(e event.Event) {
	if e.Kind != event.KindStateChange {
		return
	}
	p, ok := e.Payload.(event.StateChangePayload)
	if !ok {
		return
	}
	scope := st.Scope(p.Scope)
	if p.NewValue == nil {
		delete(scope, p.Key)
		return
	}
	scope[p.Key] = p.NewValue
}

// Clone returns a Store whose scopes are independent copies of this one,
// suitable for an isolated parallel branch.
func (st *Store) Clone() *Store {
	out := &Store{scopes: make(map[event.Scope]Snapshot, len(st.scopes))}
	for k, v := range st.scopes {
		out.scopes[k] = v.Clone()
	}
	return out
}

// Fold rebuilds a Store by replaying events in order, stopping after the
// first upTo events (upTo < 0 means replay all). It is the primitive the
// resume engine and any time-travel debugging tool use to reconstruct state
// as of an arbitrary point in the ledger.
func Fold(events []event.Event, upTo int) *Store {
	st := NewStore()
	limit := len(events)
	if upTo >= 0 && upTo < limit {
		limit = upTo
	}
	for i := 0; i < limit; i++ {
		st.Apply(events[i])
	}
	return st
}

// ChangeEvent builds the state_change event for setting key to newValue in
// scope, recording oldValue and the mutation source. Session.Set and
// Session.Delete call this and then append the result; it is exported so tests and
// alternative session implementations can construct equivalent events.
func ChangeEvent(scope event.Scope, source event.Source, key string, oldValue, newValue any) event.StateChangePayload {
	return event.StateChangePayload{
		Scope:    scope,
		Source:   source,
		Key:      key,
		OldValue: oldValue,
		NewValue: newValue,
	}
}
