package grpcstream

import (
	"context"
	"errors"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/aboamare/mms-router/pkg/agent"
)

// ErrConnectionClosed is returned when sending on a closed stream.
var ErrConnectionClosed = errors.New("stream closed")

// Agent is an agent.Handle backed by a server stream. Pushes are queued and written by the
// stream's handler goroutine.
type Agent struct {
	*agent.Base

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan *structpb.Value
}

func newAgent(ctx context.Context, queueSize int) *Agent {
	ctx, cancel := context.WithCancel(ctx)
	return &Agent{
		Base:   agent.NewBase(""),
		ctx:    ctx,
		cancel: cancel,
		queue:  make(chan *structpb.Value, queueSize),
	}
}

// Send queues msg for the stream. When the queue is full it waits for the stream to drain
// it or for the stream to end.
func (a *Agent) Send(msg any) error {
	if a.ctx.Err() != nil {
		return ErrConnectionClosed
	}
	value, err := toValue(msg)
	if err != nil {
		return err
	}
	select {
	case a.queue <- value:
		return nil
	case <-a.ctx.Done():
		return ErrConnectionClosed
	}
}

// CloseConnection ends the stream. It is idempotent.
func (a *Agent) CloseConnection() error {
	a.cancel()
	return nil
}

var _ agent.Handle = (*Agent)(nil)
