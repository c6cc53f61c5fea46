package router

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/aboamare/mms-router/pkg/agent"
)

// LocalAgent is an in-process agent connection. Everything the router sends is marshalled to
// JSON, kept in a buffer and offered on a channel.
type LocalAgent struct {
	*agent.Base

	connectedAt time.Time
	frames      chan json.RawMessage

	mu     sync.Mutex
	buffer []json.RawMessage
	closed bool
}

// NewLocalAgent creates a local agent with the given connection id (random when empty).
func NewLocalAgent(id string) *LocalAgent {
	return &LocalAgent{
		Base:        agent.NewBase(id),
		connectedAt: time.Now(),
		frames:      make(chan json.RawMessage, 100),
	}
}

// ConnectedAt returns when the agent was created.
func (a *LocalAgent) ConnectedAt() time.Time {
	return a.connectedAt
}

// Send records msg as JSON. A full channel drops the frame from the channel only.
func (a *LocalAgent) Send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrAgentClosed
	}
	a.buffer = append(a.buffer, data)

	select {
	case a.frames <- data:
	default:
	}
	return nil
}

// CloseConnection marks the agent closed and closes its channel. It is idempotent.
func (a *LocalAgent) CloseConnection() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.closed {
		a.closed = true
		close(a.frames)
	}
	return nil
}

// Closed reports whether the connection was closed.
func (a *LocalAgent) Closed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.closed
}

// Received returns a copy of every frame sent to the agent.
func (a *LocalAgent) Received() []json.RawMessage {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]json.RawMessage(nil), a.buffer...)
}

// Frames returns the channel of sent frames.
func (a *LocalAgent) Frames() <-chan json.RawMessage {
	return a.frames
}

var _ agent.Handle = (*LocalAgent)(nil)
