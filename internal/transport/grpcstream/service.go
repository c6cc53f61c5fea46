// Package grpcstream carries the agent protocol over a bidirectional gRPC stream.
//
// The service is declared by hand: every frame in either direction is a
// google.protobuf.Value holding one JSON object, so the protocol is the same one
// spoken over WebSocket.
//
//	service Router {
//	  rpc Connect(stream google.protobuf.Value) returns (stream google.protobuf.Value);
//	}
package grpcstream

import (
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	// ServiceName is the fully qualified gRPC service name.
	ServiceName = "mms.v1.Router"
	// ConnectMethod is the full method name of the agent stream.
	ConnectMethod = "/" + ServiceName + "/Connect"
)

// StreamHandler serves one agent stream.
type StreamHandler interface {
	Connect(stream grpc.ServerStream) error
}

// ServiceDesc describes the Router service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*StreamHandler)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Connect",
			Handler:       connectHandler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "mms/v1/router.proto",
}

func connectHandler(srv any, stream grpc.ServerStream) error {
	return srv.(StreamHandler).Connect(stream)
}

// toValue converts any JSON-serializable value to a frame.
func toValue(v any) (*structpb.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	value := &structpb.Value{}
	if err := protojson.Unmarshal(data, value); err != nil {
		return nil, err
	}
	return value, nil
}

// fromValue renders a frame as JSON.
func fromValue(v *structpb.Value) ([]byte, error) {
	return protojson.Marshal(v)
}
