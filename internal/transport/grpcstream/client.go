package grpcstream

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is the agent side of a Connect stream.
type Client struct {
	stream grpc.ClientStream
	cancel context.CancelFunc
}

// NewClient opens a Connect stream on cc.
func NewClient(ctx context.Context, cc grpc.ClientConnInterface) (*Client, error) {
	ctx, cancel := context.WithCancel(ctx)
	stream, err := cc.NewStream(ctx, &ServiceDesc.Streams[0], ConnectMethod)
	if err != nil {
		cancel()
		return nil, err
	}
	return &Client{stream: stream, cancel: cancel}, nil
}

// Send writes one protocol envelope.
func (c *Client) Send(envelope any) error {
	value, err := toValue(envelope)
	if err != nil {
		return err
	}
	return c.stream.SendMsg(value)
}

// Recv blocks for the next push and returns it as JSON.
func (c *Client) Recv() (json.RawMessage, error) {
	value := &structpb.Value{}
	if err := c.stream.RecvMsg(value); err != nil {
		return nil, err
	}
	return fromValue(value)
}

// Close ends the stream.
func (c *Client) Close() error {
	err := c.stream.CloseSend()
	c.cancel()
	return err
}
