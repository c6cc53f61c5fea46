// Package ws carries the agent protocol over WebSocket connections, one JSON object per text frame.
package ws

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aboamare/mms-router/pkg/agent"
)

// ErrConnectionClosed is returned when sending on a closed connection.
var ErrConnectionClosed = errors.New("websocket connection closed")

const writeWait = 10 * time.Second

// Agent is an agent.Handle backed by a WebSocket connection.
type Agent struct {
	*agent.Base

	conn *websocket.Conn

	mu     sync.Mutex // serializes writes
	closed bool
	alive  bool
}

// NewAgent wraps conn.
func NewAgent(conn *websocket.Conn) *Agent {
	return &Agent{Base: agent.NewBase(""), conn: conn, alive: true}
}

// Send writes msg as a JSON text frame.
func (a *Agent) Send(msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrConnectionClosed
	}
	_ = a.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return a.conn.WriteMessage(websocket.TextMessage, data)
}

// CloseConnection sends a close frame and closes the socket. It is idempotent.
func (a *Agent) CloseConnection() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true
	_ = a.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
	return a.conn.Close()
}

// ping reports false when the previous ping went unanswered; otherwise it sends a new one.
func (a *Agent) ping() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed || !a.alive {
		return false
	}
	a.alive = false
	return a.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)) == nil
}

func (a *Agent) pong() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alive = true
}

var _ agent.Handle = (*Agent)(nil)
