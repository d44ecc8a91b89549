// Package grpcstream exposes a session's event stream over gRPC, so a
// remote host can watch OnStream hook output without sharing a process with
// the engine. There is no generated .proto in this tree — the wire
// messages are google.golang.org/protobuf's own well-known wrapper types
// (wrapperspb.StringValue/BytesValue), and the service/stream descriptors
// below are written by hand in the same shape protoc-gen-go-grpc would
// produce. That sidesteps needing a protoc toolchain while still exercising
// the real grpc.ServiceDesc/StreamDesc wiring and the protobuf runtime
// types, rather than reaching for a bespoke transport. Grounded on the
// teacher's runtime/registry (a generated-gRPC client adapter) and
// runtime/agents/stream/bridge (a hook-bus-to-sink bridge) for the two
// halves this package combines into one transport.
package grpcstream

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/windrose/agentkit/event"
)

const serviceName = "agentkit.eventstream.v1.EventStream"

// EventStreamServer is implemented by a Server to serve the Subscribe RPC.
type EventStreamServer interface {
	Subscribe(*wrapperspb.StringValue, EventStream_SubscribeServer) error
}

// EventStream_SubscribeServer is the server-side handle for a Subscribe call.
type EventStream_SubscribeServer interface {
	Send(*wrapperspb.BytesValue) error
	grpc.ServerStream
}

type eventStreamSubscribeServer struct {
	grpc.ServerStream
}

func (x *eventStreamSubscribeServer) Send(m *wrapperspb.BytesValue) error {
	return x.ServerStream.SendMsg(m)
}

func subscribeHandler(srv any, stream grpc.ServerStream) error {
	m := new(wrapperspb.StringValue)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(EventStreamServer).Subscribe(m, &eventStreamSubscribeServer{stream})
}

// ServiceDesc is the grpc.ServiceDesc a Server registers on a *grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*EventStreamServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Subscribe",
			Handler:       subscribeHandler,
			ServerStreams: true,
		},
	},
	Metadata: "agentkit/transport/grpcstream",
}

// EventStreamClient is the client-side counterpart of EventStreamServer.
type EventStreamClient interface {
	Subscribe(ctx context.Context, sessionID string, opts ...grpc.CallOption) (EventStream_SubscribeClient, error)
}

// EventStream_SubscribeClient is the client-side handle for a Subscribe call.
type EventStream_SubscribeClient interface {
	Recv() (event.Event, error)
	grpc.ClientStream
}

type eventStreamClient struct {
	cc grpc.ClientConnInterface
}

// NewEventStreamClient returns a client for the EventStream service on cc.
func NewEventStreamClient(cc grpc.ClientConnInterface) EventStreamClient {
	return &eventStreamClient{cc: cc}
}

func (c *eventStreamClient) Subscribe(ctx context.Context, sessionID string, opts ...grpc.CallOption) (EventStream_SubscribeClient, error) {
	stream, err := c.cc.NewStream(ctx, &ServiceDesc.Streams[0], "/"+serviceName+"/Subscribe", opts...)
	if err != nil {
		return nil, err
	}
	x := &eventStreamSubscribeClient{stream}
	if err := x.ClientStream.SendMsg(wrapperspb.String(sessionID)); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type eventStreamSubscribeClient struct {
	grpc.ClientStream
}

func (x *eventStreamSubscribeClient) Recv() (event.Event, error) {
	m := new(wrapperspb.BytesValue)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return event.Event{}, err
	}
	var ev event.Event
	if err := json.Unmarshal(m.GetValue(), &ev); err != nil {
		return event.Event{}, fmt.Errorf("grpcstream: decode event: %w", err)
	}
	return ev, nil
}
