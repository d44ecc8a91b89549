package state

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/windrose/agentkit/event"
)

func TestStoreApplyAndFold(t *testing.T) {
	events := []event.Event{
		event.New(event.KindStateChange, "", "", ChangeEvent(event.ScopeSession, event.SourceMutation, "k", nil, "v1")),
		event.New(event.KindStateChange, "", "", ChangeEvent(event.ScopeSession, event.SourceMutation, "k", "v1", "v2")),
	}

	full := Fold(events, -1)
	v, ok := full.Scope(event.ScopeSession).Get("k")
	require.True(t, ok)
	require.Equal(t, "v2", v)

	partial := Fold(events, 1)
	v, ok = partial.Scope(event.ScopeSession).Get("k")
	require.True(t, ok)
	require.Equal(t, "v1", v)
}

func TestStoreApplyDeleteOnNilValue(t *testing.T) {
	st := NewStore()
	st.Apply(event.New(event.KindStateChange, "", "", ChangeEvent(event.ScopeUser, event.SourceMutation, "k", nil, "v")))
	st.Apply(event.New(event.KindStateChange, "", "", ChangeEvent(event.ScopeUser, event.SourceMutation, "k", "v", nil)))
	_, ok := st.Scope(event.ScopeUser).Get("k")
	require.False(t, ok)
}

func TestCloneIsolatesBranches(t *testing.T) {
	st := NewStore()
	st.Apply(event.New(event.KindStateChange, "", "", ChangeEvent(event.ScopeTemp, event.SourceMutation, "k", nil, "base")))

	clone := st.Clone()
	clone.Apply(event.New(event.KindStateChange, "", "", ChangeEvent(event.ScopeTemp, event.SourceMutation, "k", "base", "branch")))

	v, _ := st.Scope(event.ScopeTemp).Get("k")
	require.Equal(t, "base", v)
	v, _ = clone.Scope(event.ScopeTemp).Get("k")
	require.Equal(t, "branch", v)
}
