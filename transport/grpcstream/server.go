package grpcstream

import (
	"context"
	"encoding/json"
	"sync"

	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/windrose/agentkit/event"
	"github.com/windrose/agentkit/middleware"
)

const subscriberBuffer = 64

// Server fans out a session's events to any number of gRPC subscribers. It
// is registered on a *grpc.Server via ServiceDesc and fed events through the
// middleware.OnStreamHook returned by HookFor — the same tap point
// engine.Execute already drains for every other OnStream observer, so
// wiring this in costs the host nothing beyond appending one hook.
type Server struct {
	mu   sync.Mutex
	subs map[string]map[chan event.Event]struct{}
}

// NewServer returns an empty Server ready to register and publish to.
func NewServer() *Server {
	return &Server{subs: make(map[string]map[chan event.Event]struct{})}
}

// HookFor returns a middleware.OnStreamHook that publishes every event it
// observes to s under sessionID. A host wires one of these into
// agentloop.Config.Hooks.OnStream per session it wants remote subscribers
// to be able to watch; Execute's single top-level emission point (see
// engine.Engine.Execute) means this fires once per event, not once per
// composite nesting level.
func (s *Server) HookFor(sessionID string) middleware.OnStreamHook {
	return func(_ context.Context, e event.Event) {
		s.Publish(sessionID, e)
	}
}

// Subscribe implements EventStreamServer: it registers a subscriber channel
// for the requested session and streams every published event to the
// caller until the stream's context is canceled.
func (s *Server) Subscribe(req *wrapperspb.StringValue, stream EventStream_SubscribeServer) error {
	sessionID := req.GetValue()
	ch := s.register(sessionID)
	defer s.unregister(sessionID, ch)

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			raw, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := stream.Send(wrapperspb.Bytes(raw)); err != nil {
				return err
			}
		}
	}
}

// Publish delivers e to every subscriber currently registered for sessionID.
// When a subscriber's buffer is full, e is silently skipped for that
// subscriber rather than blocking the publisher; the subscriber stays
// registered and receives later events, so a slow consumer misses events
// instead of stalling the engine that is producing them.
func (s *Server) Publish(sessionID string, e event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs[sessionID] {
		select {
		case ch <- e:
		default:
		}
	}
}

func (s *Server) register(sessionID string) chan event.Event {
	ch := make(chan event.Event, subscriberBuffer)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.subs[sessionID] == nil {
		s.subs[sessionID] = make(map[chan event.Event]struct{})
	}
	s.subs[sessionID][ch] = struct{}{}
	return ch
}

func (s *Server) unregister(sessionID string, ch chan event.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set, ok := s.subs[sessionID]; ok {
		delete(set, ch)
		if len(set) == 0 {
			delete(s.subs, sessionID)
		}
	}
	close(ch)
}
