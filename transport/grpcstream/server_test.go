package grpcstream

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/windrose/agentkit/event"
)

func TestPublishDeliversOnlyToMatchingSession(t *testing.T) {
	s := NewServer()
	chA := s.register("sess-a")
	defer s.unregister("sess-a", chA)
	chB := s.register("sess-b")
	defer s.unregister("sess-b", chB)

	s.Publish("sess-a", event.Event{Kind: event.KindUser})

	select {
	case ev := <-chA:
		require.Equal(t, event.KindUser, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event on sess-a")
	}

	select {
	case <-chB:
		t.Fatal("sess-b should not have received sess-a's event")
	default:
	}
}

func TestHookForPublishesUnderBoundSessionID(t *testing.T) {
	s := NewServer()
	ch := s.register("sess-1")
	defer s.unregister("sess-1", ch)

	hook := s.HookFor("sess-1")
	hook(nil, event.Event{Kind: event.KindAssistant})

	select {
	case ev := <-ch:
		require.Equal(t, event.KindAssistant, ev.Kind)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestPublishDropsWhenSubscriberBufferIsFull(t *testing.T) {
	s := NewServer()
	ch := s.register("sess-1")
	defer s.unregister("sess-1", ch)

	for i := 0; i < subscriberBuffer+5; i++ {
		s.Publish("sess-1", event.Event{Kind: event.KindToolCall})
	}

	require.Len(t, ch, subscriberBuffer)
}

func TestUnregisterRemovesEmptySessionSet(t *testing.T) {
	s := NewServer()
	ch := s.register("sess-1")
	s.unregister("sess-1", ch)

	s.mu.Lock()
	_, ok := s.subs["sess-1"]
	s.mu.Unlock()
	require.False(t, ok)
}
